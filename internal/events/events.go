// Package events implements C5: async producers that lift raw ledger observations
// into the four typed protocol events (Deployed, Funded, Redeemed, Refunded), each
// resolving exactly once.
//
// The payload shapes mirror the pre-RFC003 Rust implementation's HtlcFunded/
// HtlcDeployed/HtlcRedeemed/HtlcRefunded traits: a Deployed carries the location a
// watcher subsequently follows, a Funded carries the observed asset (compared
// against the expected one by the engine, not here), a Redeemed carries the
// extracted preimage (verified by the caller, not here).
package events

import (
	"context"
	"time"

	"github.com/comit-node/rfc003/internal/asset"
	"github.com/comit-node/rfc003/internal/ledger"
)

// Deployed is emitted once an HTLC's on-ledger artifact is observed to exist
// (account ledgers only — a UTXO ledger's HTLC is "deployed" the moment it's
// funded, so Bitcoin event sources skip straight to Funded).
type Deployed[T any, Loc any] struct {
	Transaction T
	Location    Loc
}

// Funded is emitted once funding of the HTLC location is observed, to the
// ledger's configured confirmation depth. ObservedAsset is what was actually
// locked; the engine, not the source, compares it with the expected asset.
type Funded[T any] struct {
	Transaction   T
	ObservedAsset asset.Asset
}

// Redeemed is emitted once a transaction spends the HTLC via its secret-reveal
// branch. Preimage is the raw candidate the caller must verify against the agreed
// commitment before trusting it (§4.5: "the caller verifies it against the known
// hash and fails the swap on mismatch").
type Redeemed[T any] struct {
	Transaction T
	Preimage    [32]byte
}

// Refunded is emitted once a transaction spends the HTLC via its timeout branch.
type Refunded[T any] struct {
	Transaction T
}

// Source is the per-(ledger, asset) set of four watchers C5 requires. Every method
// resolves exactly once; cancelling ctx must stop outstanding polling and release
// any registered watch immediately (§4.5, §5).
type Source[I ledger.Identity, T any, Loc any] interface {
	HtlcDeployed(ctx context.Context, loc Loc, startOfSwap time.Time) (*Deployed[T, Loc], error)
	HtlcFunded(ctx context.Context, loc Loc, startOfSwap time.Time) (*Funded[T], error)
	HtlcRedeemed(ctx context.Context, loc Loc, startOfSwap time.Time) (*Redeemed[T], error)
	HtlcRefunded(ctx context.Context, loc Loc, startOfSwap time.Time) (*Refunded[T], error)
}

// ErrWatcherFault wraps a transient query-service failure (§7 error kind 4:
// "retried with backoff indefinitely; the engine must not terminate a swap because
// an external service is unavailable"). Pollers return it instead of a bare error so
// callers can distinguish "keep retrying" from a definitive result.
type ErrWatcherFault struct {
	Cause error
}

func (e *ErrWatcherFault) Error() string { return "events: watcher fault: " + e.Cause.Error() }
func (e *ErrWatcherFault) Unwrap() error  { return e.Cause }
