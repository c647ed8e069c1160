// Package ledger defines the associated-type contract every concrete chain must
// satisfy (C1), plus the closed registry used at the dispatch boundary (§9 design
// notes: "a generic state-machine engine plus a closed enumeration of supported
// quadruples at the dispatch boundary").
package ledger

import (
	"time"

	"github.com/comit-node/rfc003/internal/chain"
)

// Kind enumerates the concrete ledgers this repo supports. The state machine itself
// is polymorphic over Kind; only the dispatch entry point in internal/dispatch
// enumerates the supported quadruples.
type Kind string

const (
	Bitcoin  Kind = "bitcoin"
	Ethereum Kind = "ethereum"
	Erc20    Kind = "erc20"
	Lightning Kind = "lightning"
)

// LockDuration is an opaque, ledger-specific expiry. Per §9 open question (a), some
// ledgers express it as an absolute timestamp, others as a block count or height;
// the only capability every ledger must provide is HasExpired.
type LockDuration interface {
	HasExpired(now time.Time) bool
}

// Identity is a ledger-specific redeem/refund identity (an address or pubkey hash).
// Two identities on the same ledger must compare deterministically.
type Identity interface {
	comparable
	String() string
}

// Ledger captures everything the engine needs to know about one concrete chain: its
// identity type, its HTLC-location type (the P2WSH address for Bitcoin, the
// contract swap id for Ethereum), its network, and its finality/confirmation policy.
type Ledger[I Identity, Loc any] struct {
	Kind Kind
	Net  chain.Network

	// Confirmations is the depth (§9 open question b) a watcher requires before an
	// event resolves. Configured per deployment, not hard-coded.
	Confirmations uint32

	// PollInterval is how often a watcher built on this ledger re-queries its
	// backend. Polling is an implementation detail (§4.5): it is not part of the
	// LedgerEvents contract itself.
	PollInterval time.Duration
}

// HasExpiredAt is the absolute-timestamp LockDuration most account ledgers use.
type HasExpiredAt time.Time

func (d HasExpiredAt) HasExpired(now time.Time) bool {
	return !now.Before(time.Time(d))
}

// BlockHeightDuration is the absolute-block-height LockDuration Bitcoin-family UTXO
// ledgers use; expiry is checked against the latest observed tip height rather than
// wall time, so HasExpired always reports false here — callers compare heights
// directly via Expired.
type BlockHeightDuration struct {
	ExpiryHeight int64
}

// HasExpired is never true from wall-clock time alone for a block-height duration;
// present only to satisfy LockDuration. Use Expired against an observed tip height.
func (d BlockHeightDuration) HasExpired(time.Time) bool { return false }

// Expired reports whether the given chain tip has passed this duration's height.
func (d BlockHeightDuration) Expired(tipHeight int64) bool {
	return tipHeight >= d.ExpiryHeight
}

// RelativeBlockDuration is a CSV-style relative timelock (blocks since
// confirmation), the form Bitcoin's HTLC refund branch uses.
type RelativeBlockDuration struct {
	Blocks        uint32
	ConfirmedAt   int64
}

func (d RelativeBlockDuration) HasExpired(time.Time) bool { return false }

// Expired reports whether enough blocks have passed since confirmation.
func (d RelativeBlockDuration) Expired(tipHeight int64) bool {
	if d.ConfirmedAt <= 0 {
		return false
	}
	return tipHeight-d.ConfirmedAt >= int64(d.Blocks)
}
