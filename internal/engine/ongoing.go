package engine

import (
	"encoding/json"
	"fmt"

	"github.com/comit-node/rfc003/internal/asset"
	"github.com/comit-node/rfc003/internal/htlc"
	"github.com/comit-node/rfc003/internal/ledger"
	"github.com/comit-node/rfc003/internal/role"
	"github.com/comit-node/rfc003/internal/secret"
)

// OngoingSwap is the union of a SwapRequest and its Accepted response, carrying
// everything needed to derive both legs' HTLC parameters. It exists once a swap
// has left Start; every later state embeds one.
type OngoingSwap[AL ledger.Identity, BL ledger.Identity, AA asset.Asset, BA asset.Asset] struct {
	Role role.Role

	AlphaAsset AA
	BetaAsset  BA

	AlphaRedeem AL // Bob's identity: redeems alpha with the preimage
	AlphaRefund AL // Alice's identity: refunds alpha after expiry
	BetaRedeem  BL // Alice's identity: redeems beta with the preimage
	BetaRefund  BL // Bob's identity: refunds beta after expiry

	AlphaLockDuration ledger.LockDuration
	BetaLockDuration  ledger.LockDuration

	SecretHash secret.Hash
}

// NewOngoingSwap combines a request and Bob's acceptance into the swap both
// sides now share a complete view of.
func NewOngoingSwap[AL ledger.Identity, BL ledger.Identity, AA asset.Asset, BA asset.Asset](
	req SwapRequest[AL, BL, AA, BA],
	resp Accepted[AL, BL],
	r role.Role,
) OngoingSwap[AL, BL, AA, BA] {
	return OngoingSwap[AL, BL, AA, BA]{
		Role:              r,
		AlphaAsset:        req.AlphaAsset,
		BetaAsset:         req.BetaAsset,
		AlphaRedeem:       resp.AlphaRedeem,
		AlphaRefund:       req.AlphaRefund,
		BetaRedeem:        req.BetaRedeem,
		BetaRefund:        resp.BetaRefund,
		AlphaLockDuration: req.AlphaLockDuration,
		BetaLockDuration:  resp.BetaLockDuration,
		SecretHash:        req.SecretHash,
	}
}

// ongoingSwapWire mirrors OngoingSwap with both LockDuration fields carried as
// tagged envelopes, for the same reason swapRequestWire exists in types.go:
// this is what internal/store actually persists inside every State variant's
// JSON checkpoint.
type ongoingSwapWire[AL ledger.Identity, BL ledger.Identity, AA asset.Asset, BA asset.Asset] struct {
	Role role.Role

	AlphaAsset AA
	BetaAsset  BA

	AlphaRedeem AL
	AlphaRefund AL
	BetaRedeem  BL
	BetaRefund  BL

	AlphaLockDuration json.RawMessage
	BetaLockDuration  json.RawMessage

	SecretHash secret.Hash
}

func (s OngoingSwap[AL, BL, AA, BA]) MarshalJSON() ([]byte, error) {
	alphaData, err := ledger.MarshalLockDuration(s.AlphaLockDuration)
	if err != nil {
		return nil, fmt.Errorf("engine: marshal ongoing swap: %w", err)
	}
	betaData, err := ledger.MarshalLockDuration(s.BetaLockDuration)
	if err != nil {
		return nil, fmt.Errorf("engine: marshal ongoing swap: %w", err)
	}
	return json.Marshal(ongoingSwapWire[AL, BL, AA, BA]{
		Role:              s.Role,
		AlphaAsset:        s.AlphaAsset,
		BetaAsset:         s.BetaAsset,
		AlphaRedeem:       s.AlphaRedeem,
		AlphaRefund:       s.AlphaRefund,
		BetaRedeem:        s.BetaRedeem,
		BetaRefund:        s.BetaRefund,
		AlphaLockDuration: alphaData,
		BetaLockDuration:  betaData,
		SecretHash:        s.SecretHash,
	})
}

func (s *OngoingSwap[AL, BL, AA, BA]) UnmarshalJSON(data []byte) error {
	var wire ongoingSwapWire[AL, BL, AA, BA]
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("engine: unmarshal ongoing swap: %w", err)
	}
	alphaDuration, err := ledger.UnmarshalLockDuration(wire.AlphaLockDuration)
	if err != nil {
		return fmt.Errorf("engine: unmarshal ongoing swap: %w", err)
	}
	betaDuration, err := ledger.UnmarshalLockDuration(wire.BetaLockDuration)
	if err != nil {
		return fmt.Errorf("engine: unmarshal ongoing swap: %w", err)
	}
	*s = OngoingSwap[AL, BL, AA, BA]{
		Role:              wire.Role,
		AlphaAsset:        wire.AlphaAsset,
		BetaAsset:         wire.BetaAsset,
		AlphaRedeem:       wire.AlphaRedeem,
		AlphaRefund:       wire.AlphaRefund,
		BetaRedeem:        wire.BetaRedeem,
		BetaRefund:        wire.BetaRefund,
		AlphaLockDuration: alphaDuration,
		BetaLockDuration:  betaDuration,
		SecretHash:        wire.SecretHash,
	}
	return nil
}

// AlphaHtlcParams derives the alpha leg's deterministic HTLC parameters.
func (s OngoingSwap[AL, BL, AA, BA]) AlphaHtlcParams() htlc.Params[AL] {
	return htlc.Params[AL]{
		Asset:      s.AlphaAsset,
		Redeem:     s.AlphaRedeem,
		Refund:     s.AlphaRefund,
		SecretHash: s.SecretHash,
		Expiry:     s.AlphaLockDuration,
	}
}

// BetaHtlcParams derives the beta leg's deterministic HTLC parameters.
func (s OngoingSwap[AL, BL, AA, BA]) BetaHtlcParams() htlc.Params[BL] {
	return htlc.Params[BL]{
		Asset:      s.BetaAsset,
		Redeem:     s.BetaRedeem,
		Refund:     s.BetaRefund,
		SecretHash: s.SecretHash,
		Expiry:     s.BetaLockDuration,
	}
}
