// Package engine implements C8 (the swap state machine) and C9 (pure action
// derivation). A swap is parameterised by its four leg types — the alpha and
// beta ledgers' identity types and the alpha and beta assets — mirroring the
// Rust implementation's OngoingSwap<Role<AL,BL,AA,BA>> (see original_source's
// btc_erc20.rs), rendered in Go as explicit generic parameters rather than
// associated types.
package engine

import (
	"encoding/json"
	"fmt"

	"github.com/comit-node/rfc003/internal/asset"
	"github.com/comit-node/rfc003/internal/ledger"
	"github.com/comit-node/rfc003/internal/role"
	"github.com/comit-node/rfc003/internal/secret"
	"github.com/comit-node/rfc003/internal/swapid"
)

// SwapRequest is the message Alice sends to open a negotiation. The sender
// names their own role's identities; acceptance fixes the remaining two.
type SwapRequest[AL ledger.Identity, BL ledger.Identity, AA asset.Asset, BA asset.Asset] struct {
	ID                swapid.ID
	AlphaLedger       ledger.Kind
	BetaLedger        ledger.Kind
	AlphaAsset        AA
	BetaAsset         BA
	AlphaRefund       AL // Alice's refund identity on the alpha ledger
	BetaRedeem        BL // Alice's redeem identity on the beta ledger
	AlphaLockDuration ledger.LockDuration
	SecretHash        secret.Hash
}

// swapRequestWire mirrors SwapRequest but carries its LockDuration as the
// tagged envelope ledger.MarshalLockDuration/UnmarshalLockDuration produce:
// encoding/json can't decode directly into a LockDuration field since that
// interface has methods (see internal/ledger/wire.go).
type swapRequestWire[AL ledger.Identity, BL ledger.Identity, AA asset.Asset, BA asset.Asset] struct {
	ID                swapid.ID
	AlphaLedger       ledger.Kind
	BetaLedger        ledger.Kind
	AlphaAsset        AA
	BetaAsset         BA
	AlphaRefund       AL
	BetaRedeem        BL
	AlphaLockDuration json.RawMessage
	SecretHash        secret.Hash
}

func (r SwapRequest[AL, BL, AA, BA]) MarshalJSON() ([]byte, error) {
	durationData, err := ledger.MarshalLockDuration(r.AlphaLockDuration)
	if err != nil {
		return nil, fmt.Errorf("engine: marshal swap request: %w", err)
	}
	return json.Marshal(swapRequestWire[AL, BL, AA, BA]{
		ID:                r.ID,
		AlphaLedger:       r.AlphaLedger,
		BetaLedger:        r.BetaLedger,
		AlphaAsset:        r.AlphaAsset,
		BetaAsset:         r.BetaAsset,
		AlphaRefund:       r.AlphaRefund,
		BetaRedeem:        r.BetaRedeem,
		AlphaLockDuration: durationData,
		SecretHash:        r.SecretHash,
	})
}

func (r *SwapRequest[AL, BL, AA, BA]) UnmarshalJSON(data []byte) error {
	var wire swapRequestWire[AL, BL, AA, BA]
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("engine: unmarshal swap request: %w", err)
	}
	duration, err := ledger.UnmarshalLockDuration(wire.AlphaLockDuration)
	if err != nil {
		return fmt.Errorf("engine: unmarshal swap request: %w", err)
	}
	*r = SwapRequest[AL, BL, AA, BA]{
		ID:                wire.ID,
		AlphaLedger:       wire.AlphaLedger,
		BetaLedger:        wire.BetaLedger,
		AlphaAsset:        wire.AlphaAsset,
		BetaAsset:         wire.BetaAsset,
		AlphaRefund:       wire.AlphaRefund,
		BetaRedeem:        wire.BetaRedeem,
		AlphaLockDuration: duration,
		SecretHash:        wire.SecretHash,
	}
	return nil
}

// SwapResponse is Bob's reply: either Accepted, fixing the remaining HTLC
// parameters, or Declined with a reason.
type SwapResponse[AL ledger.Identity, BL ledger.Identity] interface {
	isResponse()
}

// Accepted is Bob's acceptance, naming the identities and lock duration for
// his own leg.
type Accepted[AL ledger.Identity, BL ledger.Identity] struct {
	BetaRefund       BL // Bob's refund identity on the beta ledger
	AlphaRedeem      AL // Bob's redeem identity on the alpha ledger
	BetaLockDuration ledger.LockDuration
}

func (Accepted[AL, BL]) isResponse() {}

type acceptedWire[AL ledger.Identity, BL ledger.Identity] struct {
	BetaRefund       BL
	AlphaRedeem      AL
	BetaLockDuration json.RawMessage
}

func (a Accepted[AL, BL]) MarshalJSON() ([]byte, error) {
	durationData, err := ledger.MarshalLockDuration(a.BetaLockDuration)
	if err != nil {
		return nil, fmt.Errorf("engine: marshal accepted: %w", err)
	}
	return json.Marshal(acceptedWire[AL, BL]{
		BetaRefund:       a.BetaRefund,
		AlphaRedeem:      a.AlphaRedeem,
		BetaLockDuration: durationData,
	})
}

func (a *Accepted[AL, BL]) UnmarshalJSON(data []byte) error {
	var wire acceptedWire[AL, BL]
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("engine: unmarshal accepted: %w", err)
	}
	duration, err := ledger.UnmarshalLockDuration(wire.BetaLockDuration)
	if err != nil {
		return fmt.Errorf("engine: unmarshal accepted: %w", err)
	}
	*a = Accepted[AL, BL]{
		BetaRefund:       wire.BetaRefund,
		AlphaRedeem:      wire.AlphaRedeem,
		BetaLockDuration: duration,
	}
	return nil
}

// Declined is Bob's refusal.
type Declined[AL ledger.Identity, BL ledger.Identity] struct {
	Reason string
}

func (Declined[AL, BL]) isResponse() {}

// Metadata is the flat, role- and type-erased record used for listing and
// indexing; the state machine never reads it back.
type Metadata struct {
	ID              swapid.ID
	Role            role.Role
	AlphaLedgerKind ledger.Kind
	BetaLedgerKind  ledger.Kind
	AlphaAssetKind  string
	BetaAssetKind   string
}
