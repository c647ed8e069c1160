// Bitcoin HTLC script construction, adapted from the pre-RFC003 HTLC session code:
// same OP_IF/OP_SHA256/OP_CHECKSEQUENCEVERIFY script shape, same P2WSH address
// derivation, same witness-stack ordering, generalised to take a ledger-agnostic
// Params[BitcoinIdentity] instead of a session-carried sender/receiver pair.
package htlc

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/comit-node/rfc003/internal/asset"
)

// BitcoinIdentity is a compressed secp256k1 public key: the redeem/refund identity
// Bitcoin HTLCs use.
type BitcoinIdentity struct {
	PubKey *btcec.PublicKey
}

func (id BitcoinIdentity) String() string {
	if id.PubKey == nil {
		return ""
	}
	return hex.EncodeToString(id.PubKey.SerializeCompressed())
}

// MarshalJSON encodes the compressed public key as a hex string. btcec.PublicKey
// carries unexported curve-point fields, so the default struct reflection
// encoding can't round-trip it; this is needed wherever a BitcoinIdentity
// crosses the wire (internal/comm's negotiation messages, internal/store's
// checkpoints).
func (id BitcoinIdentity) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON parses a compressed public key from its hex string form.
func (id *BitcoinIdentity) UnmarshalJSON(data []byte) error {
	var hexKey string
	if err := json.Unmarshal(data, &hexKey); err != nil {
		return err
	}
	if hexKey == "" {
		id.PubKey = nil
		return nil
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return fmt.Errorf("htlc: decode bitcoin identity: %w", err)
	}
	pubKey, err := btcec.ParsePubKey(raw)
	if err != nil {
		return fmt.Errorf("htlc: parse bitcoin identity: %w", err)
	}
	id.PubKey = pubKey
	return nil
}

// BitcoinArtifact is the deterministic output of mapping Params to a Bitcoin
// script: the redeem script itself (needed in every spending witness), its P2WSH
// address, and the relative CSV timelock in blocks the refund branch requires.
type BitcoinArtifact struct {
	Script        []byte
	Address       string
	ScriptHash    [32]byte
	TimeoutBlocks uint32
}

// BuildBitcoin derives the deterministic P2WSH HTLC artifact for one leg.
//
// Script structure:
//
//	OP_IF
//	    OP_SHA256 <secret_hash> OP_EQUALVERIFY
//	    <redeem_pubkey> OP_CHECKSIG
//	OP_ELSE
//	    <timeout_blocks> OP_CHECKSEQUENCEVERIFY OP_DROP
//	    <refund_pubkey> OP_CHECKSIG
//	OP_ENDIF
func BuildBitcoin(p Params[BitcoinIdentity], net chaincfg.Params, timeoutBlocks uint32) (*BitcoinArtifact, error) {
	if timeoutBlocks == 0 {
		return nil, fmt.Errorf("htlc: timeout blocks must be greater than 0")
	}
	if timeoutBlocks > 0xFFFF {
		return nil, fmt.Errorf("htlc: timeout blocks exceeds maximum CSV value (65535)")
	}

	redeemBytes := p.Redeem.PubKey.SerializeCompressed()
	refundBytes := p.Refund.PubKey.SerializeCompressed()
	secretHash := p.SecretHash

	builder := txscript.NewScriptBuilder()
	builder.AddOp(txscript.OP_IF)
	builder.AddOp(txscript.OP_SHA256)
	builder.AddData(secretHash[:])
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddData(redeemBytes)
	builder.AddOp(txscript.OP_CHECKSIG)
	builder.AddOp(txscript.OP_ELSE)
	builder.AddInt64(int64(timeoutBlocks))
	builder.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddData(refundBytes)
	builder.AddOp(txscript.OP_CHECKSIG)
	builder.AddOp(txscript.OP_ENDIF)

	script, err := builder.Script()
	if err != nil {
		return nil, fmt.Errorf("htlc: build bitcoin script: %w", err)
	}

	scriptHash := sha256.Sum256(script)
	address, err := btcutil.NewAddressWitnessScriptHash(scriptHash[:], &net)
	if err != nil {
		return nil, fmt.Errorf("htlc: derive p2wsh address: %w", err)
	}

	return &BitcoinArtifact{
		Script:        script,
		Address:       address.EncodeAddress(),
		ScriptHash:    scriptHash,
		TimeoutBlocks: timeoutBlocks,
	}, nil
}

// RedeemWitness builds the witness stack for claiming an HTLC with the secret.
//
// Stack (bottom to top): <signature> <secret> <1> <script>
func RedeemWitness(signature, preimage, script []byte) [][]byte {
	return [][]byte{signature, preimage, {0x01}, script}
}

// RefundWitness builds the witness stack for refunding an HTLC after expiry.
//
// Stack (bottom to top): <signature> <> <script>
func RefundWitness(signature, script []byte) [][]byte {
	return [][]byte{signature, {}, script}
}

// ExtractPreimage parses a redeem transaction's witness and returns the candidate
// preimage at position 1 — the slot RedeemWitness always places it in. The caller
// (internal/events) is responsible for verifying it against the expected hash.
func ExtractPreimage(witness [][]byte) ([]byte, error) {
	if len(witness) < 2 {
		return nil, fmt.Errorf("htlc: witness too short to contain a preimage")
	}
	return witness[1], nil
}

var _ asset.Asset // referenced by Params; keeps the import meaningful to readers
