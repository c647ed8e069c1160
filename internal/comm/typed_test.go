package comm

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/comit-node/rfc003/internal/asset"
	"github.com/comit-node/rfc003/internal/engine"
	"github.com/comit-node/rfc003/internal/htlc"
	"github.com/comit-node/rfc003/internal/ledger"
	"github.com/comit-node/rfc003/internal/secret"
	"github.com/comit-node/rfc003/internal/swapid"
)

func testBitcoinIdentity(t *testing.T) htlc.BitcoinIdentity {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return htlc.BitcoinIdentity{PubKey: priv.PubKey()}
}

func TestReplyAndDecodeRequestRoundTrip(t *testing.T) {
	sec, err := secret.Generate()
	if err != nil {
		t.Fatalf("secret.Generate() error = %v", err)
	}
	req := engine.SwapRequest[htlc.BitcoinIdentity, htlc.EthereumIdentity, asset.BitcoinQuantity, asset.EtherQuantity]{
		ID:                swapid.New(),
		AlphaLedger:       ledger.Bitcoin,
		BetaLedger:        ledger.Ethereum,
		AlphaAsset:        asset.BitcoinQuantity(100000),
		BetaAsset:         asset.NewEtherQuantity(big.NewInt(2_000_000_000_000_000_000)),
		AlphaRefund:       testBitcoinIdentity(t),
		BetaRedeem:        htlc.EthereumIdentity{},
		AlphaLockDuration: ledger.HasExpiredAt(time.Now().Add(time.Hour)),
		SecretHash:        sec.Hash(),
	}

	payload, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	in := InboundRequest{ID: req.ID, Payload: payload}

	decoded, err := DecodeRequest[htlc.BitcoinIdentity, htlc.EthereumIdentity, asset.BitcoinQuantity, asset.EtherQuantity](in)
	if err != nil {
		t.Fatalf("DecodeRequest() error = %v", err)
	}
	if decoded.ID != req.ID {
		t.Errorf("ID = %v, want %v", decoded.ID, req.ID)
	}
	if decoded.AlphaRefund.String() != req.AlphaRefund.String() {
		t.Errorf("AlphaRefund = %v, want %v", decoded.AlphaRefund, req.AlphaRefund)
	}
	if decoded.SecretHash != req.SecretHash {
		t.Errorf("SecretHash mismatch")
	}

	var captured responseEnvelope
	in.Reply = func(ctx context.Context, accepted bool, payload json.RawMessage) error {
		captured = responseEnvelope{Accepted: accepted, Payload: payload}
		return nil
	}

	accept := engine.Accepted[htlc.BitcoinIdentity, htlc.EthereumIdentity]{
		BetaRefund:       htlc.EthereumIdentity{},
		AlphaRedeem:      testBitcoinIdentity(t),
		BetaLockDuration: ledger.HasExpiredAt(time.Now().Add(2 * time.Hour)),
	}
	if err := Reply[htlc.BitcoinIdentity, htlc.EthereumIdentity](context.Background(), in, accept); err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	if !captured.Accepted {
		t.Fatal("Reply() did not mark the response accepted")
	}

	var gotAccept engine.Accepted[htlc.BitcoinIdentity, htlc.EthereumIdentity]
	if err := json.Unmarshal(captured.Payload, &gotAccept); err != nil {
		t.Fatalf("unmarshal accept: %v", err)
	}
	if gotAccept.AlphaRedeem.String() != accept.AlphaRedeem.String() {
		t.Errorf("AlphaRedeem = %v, want %v", gotAccept.AlphaRedeem, accept.AlphaRedeem)
	}
}

func TestReplyDeclined(t *testing.T) {
	var captured responseEnvelope
	in := InboundRequest{
		ID: swapid.New(),
		Reply: func(ctx context.Context, accepted bool, payload json.RawMessage) error {
			captured = responseEnvelope{Accepted: accepted, Payload: payload}
			return nil
		},
	}

	decline := engine.Declined[htlc.BitcoinIdentity, htlc.EthereumIdentity]{Reason: "unsupported asset pair"}
	if err := Reply[htlc.BitcoinIdentity, htlc.EthereumIdentity](context.Background(), in, decline); err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	if captured.Accepted {
		t.Fatal("Reply() marked a decline as accepted")
	}

	var gotDecline engine.Declined[htlc.BitcoinIdentity, htlc.EthereumIdentity]
	if err := json.Unmarshal(captured.Payload, &gotDecline); err != nil {
		t.Fatalf("unmarshal decline: %v", err)
	}
	if gotDecline.Reason != decline.Reason {
		t.Errorf("Reason = %q, want %q", gotDecline.Reason, decline.Reason)
	}
}
