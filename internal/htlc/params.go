// Package htlc implements C3: the deterministic mapping from HtlcParams to an
// on-ledger artifact (a Bitcoin P2WSH script or an Ethereum/ERC20 contract
// deployment), for every ledger this repo supports.
package htlc

import (
	"github.com/comit-node/rfc003/internal/asset"
	"github.com/comit-node/rfc003/internal/ledger"
	"github.com/comit-node/rfc003/internal/secret"
)

// Params is the immutable tuple that fully determines one leg's HTLC artifact:
// the asset locked, the identity that redeems with the preimage, the identity that
// refunds after expiry, the shared commitment, and the lock duration.
//
// Params[I] is intentionally identity-typed only (not ledger-typed): the concrete
// builders in this package take a Params[I] plus whatever additional per-ledger
// inputs (network, chain id) they need, rather than making Params itself generic
// over the ledger — this keeps the struct serialisable and comparable regardless of
// which concrete ledger it targets.
type Params[I ledger.Identity] struct {
	Asset      asset.Asset
	Redeem     I
	Refund     I
	SecretHash secret.Hash
	Expiry     ledger.LockDuration
}
