// Package swaprunner wires C5 (events), C6 (comm), C8 (the state machine), C9
// (action derivation), and C10 (the checkpoint store) into the actual one-task-
// per-swap transition loop: spec.md's data flow ("the state machine awaits events
// from C5 and C6 → each event applies a transition, persists the new state via
// C10, and exposes a new action set via C9"). It lives above internal/engine
// rather than inside it because internal/store already imports internal/engine
// for Metadata/Kind — a driver that also needs internal/store would cycle back.
package swaprunner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/comit-node/rfc003/internal/asset"
	"github.com/comit-node/rfc003/internal/comm"
	"github.com/comit-node/rfc003/internal/engine"
	"github.com/comit-node/rfc003/internal/events"
	"github.com/comit-node/rfc003/internal/ledger"
	"github.com/comit-node/rfc003/internal/role"
	"github.com/comit-node/rfc003/internal/secret"
	"github.com/comit-node/rfc003/internal/store"
	"github.com/comit-node/rfc003/internal/swapid"
	"github.com/comit-node/rfc003/pkg/logging"
)

// Decider is supplied by whichever collaborator presents Start's Accept/Decline
// action to Bob's operator (the RPC/opui surface); the runner blocks on it so the
// transition from Start only ever happens once, driven by one decision.
type Decider[AL ledger.Identity, BL ledger.Identity] func(
	ctx context.Context, req json.RawMessage,
) (engine.Accepted[AL, BL], bool, string)

// Runner drives a single swap's lifecycle. AT/BT are the alpha/beta ledgers'
// transaction types and ALoc/BLoc their location types — threaded here, rather
// than through engine.State as spec.md's data model does, only where a concrete
// events.Source call needs them; State itself keeps locations as `any` (see
// internal/engine/state.go).
type Runner[AL ledger.Identity, BL ledger.Identity, AA asset.Asset, BA asset.Asset, AT any, BT any, ALoc any, BLoc any] struct {
	AlphaSource events.Source[AL, AT, ALoc]
	BetaSource  events.Source[BL, BT, BLoc]
	Store       *store.Store
	Comm        *comm.Comm
	Log         *logging.Logger
}

func New[AL ledger.Identity, BL ledger.Identity, AA asset.Asset, BA asset.Asset, AT any, BT any, ALoc any, BLoc any](
	alpha events.Source[AL, AT, ALoc],
	beta events.Source[BL, BT, BLoc],
	st *store.Store,
	c *comm.Comm,
) *Runner[AL, BL, AA, BA, AT, BT, ALoc, BLoc] {
	return &Runner[AL, BL, AA, BA, AT, BT, ALoc, BLoc]{
		AlphaSource: alpha,
		BetaSource:  beta,
		Store:       st,
		Comm:        c,
		Log:         logging.GetDefault().Component("swaprunner"),
	}
}

func (r *Runner[AL, BL, AA, BA, AT, BT, ALoc, BLoc]) checkpoint(id swapid.ID, meta engine.Metadata, s engine.State[AL, BL, AA, BA], insert bool) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("swaprunner: marshal state %s: %w", s.Kind(), err)
	}
	if insert {
		return r.Store.Insert(id, meta, s.Kind(), data)
	}
	return r.Store.Update(id, s.Kind(), data)
}

// RunAlice drives a swap Alice initiates: persist Start, send the request over
// comm, and on acceptance fall into the shared post-Accepted lifecycle (§4.8's
// "In Start, await response. On Accept, compute both HTLC params and transition
// to Accepted. On Decline, transition to Final(Declined)").
func (r *Runner[AL, BL, AA, BA, AT, BT, ALoc, BLoc]) RunAlice(
	ctx context.Context,
	id swapid.ID,
	meta engine.Metadata,
	req engine.SwapRequest[AL, BL, AA, BA],
	counterparty peer.ID,
	swapTimeout int64,
	startOfSwap time.Time,
	alphaLoc ALoc,
) (engine.FinalState[AL, BL, AA, BA], error) {
	start := engine.Start[AL, BL, AA, BA]{Request: req}
	if err := r.checkpoint(id, meta, start, true); err != nil {
		return engine.FinalState[AL, BL, AA, BA]{}, err
	}

	resp, err := comm.SendRequest[AL, BL, AA, BA](ctx, r.Comm, counterparty, req, swapTimeout)
	if err != nil {
		return engine.FinalState[AL, BL, AA, BA]{}, fmt.Errorf("swaprunner: send request: %w", err)
	}

	switch v := resp.(type) {
	case engine.Declined[AL, BL]:
		final := engine.FinalState[AL, BL, AA, BA]{Outcome: engine.OutcomeDeclinedByCounterparty}
		if err := r.checkpoint(id, meta, final, false); err != nil {
			return final, err
		}
		r.Log.Info("swap declined", "swap_id", id.String(), "reason", v.Reason)
		return final, nil

	case engine.Accepted[AL, BL]:
		ongoing := engine.NewOngoingSwap(req, v, role.Alice)
		return r.runOngoing(ctx, id, meta, ongoing, startOfSwap, alphaLoc)

	default:
		return engine.FinalState[AL, BL, AA, BA]{}, fmt.Errorf("swaprunner: unknown response variant %T", resp)
	}
}

// RunBob drives a swap arriving over comm: persist Start, await the operator's
// decision (delivered through decide, sourced from whatever collaborator exposes
// Start's Accept/Decline action), reply, and on acceptance fall into the shared
// post-Accepted lifecycle.
func (r *Runner[AL, BL, AA, BA, AT, BT, ALoc, BLoc]) RunBob(
	ctx context.Context,
	id swapid.ID,
	meta engine.Metadata,
	in comm.InboundRequest,
	startOfSwap time.Time,
	betaLoc BLoc,
	decide Decider[AL, BL],
) (engine.FinalState[AL, BL, AA, BA], error) {
	req, err := comm.DecodeRequest[AL, BL, AA, BA](in)
	if err != nil {
		return engine.FinalState[AL, BL, AA, BA]{}, err
	}

	start := engine.Start[AL, BL, AA, BA]{Request: req}
	if err := r.checkpoint(id, meta, start, true); err != nil {
		return engine.FinalState[AL, BL, AA, BA]{}, err
	}

	accepted, ok, reason := decide(ctx, in.Payload)
	if !ok {
		final := engine.FinalState[AL, BL, AA, BA]{Outcome: engine.OutcomeDeclinedByCounterparty}
		if err := comm.Reply[AL, BL](ctx, in, engine.Declined[AL, BL]{Reason: reason}); err != nil {
			return final, err
		}
		return final, r.checkpoint(id, meta, final, false)
	}

	if err := comm.Reply[AL, BL](ctx, in, accepted); err != nil {
		return engine.FinalState[AL, BL, AA, BA]{}, err
	}

	ongoing := engine.NewOngoingSwap(req, accepted, role.Bob)
	return r.runOngoing(ctx, id, meta, ongoing, startOfSwap, betaLoc)
}

// runOngoing drives everything from Accepted through Final once both sides agree
// on the swap's parameters: alpha funds first (§4.6: Alice always funds first —
// Bob has no incentive to lock an asset before seeing Alice's), then beta, then
// the redeem/refund race on whichever leg resolves first propagates to the other.
func (r *Runner[AL, BL, AA, BA, AT, BT, ALoc, BLoc]) runOngoing(
	ctx context.Context,
	id swapid.ID,
	meta engine.Metadata,
	ongoing engine.OngoingSwap[AL, BL, AA, BA],
	startOfSwap time.Time,
	alphaLoc ALoc,
) (engine.FinalState[AL, BL, AA, BA], error) {
	accepted := engine.AcceptedState[AL, BL, AA, BA]{Swap: ongoing}
	if err := r.checkpoint(id, meta, accepted, false); err != nil {
		return engine.FinalState[AL, BL, AA, BA]{}, err
	}

	alphaFunded, err := r.AlphaSource.HtlcFunded(ctx, alphaLoc, startOfSwap)
	if err != nil {
		return engine.FinalState[AL, BL, AA, BA]{}, fmt.Errorf("swaprunner: await alpha funded: %w", err)
	}
	fundedState := engine.AlphaFundedState[AL, BL, AA, BA]{Swap: ongoing, AlphaLocation: alphaLoc}
	if err := r.checkpoint(id, meta, fundedState, false); err != nil {
		return engine.FinalState[AL, BL, AA, BA]{}, err
	}
	r.Log.Info("alpha funded", "swap_id", id.String(), "observed_asset", alphaFunded.ObservedAsset)

	// Beta's location for an account ledger isn't known until Deploy; for a
	// UTXO ledger it's derivable from params alone (see events.BitcoinLocation's
	// doc comment) — both cases are represented identically here as a BLoc the
	// caller already has in hand by the time HtlcFunded can be awaited, since
	// deployment itself is a user-signed Action (§6), not something this loop
	// performs. A real collaborator supplies it once its Deploy/Fund action
	// observes the resulting location; stubbed as the zero value otherwise.
	var betaLoc BLoc
	betaFunded, err := r.BetaSource.HtlcFunded(ctx, betaLoc, startOfSwap)
	if err != nil {
		return engine.FinalState[AL, BL, AA, BA]{}, fmt.Errorf("swaprunner: await beta funded: %w", err)
	}
	bothFunded := engine.BothFundedState[AL, BL, AA, BA]{Swap: ongoing, AlphaLocation: alphaLoc, BetaLocation: betaLoc}
	if err := r.checkpoint(id, meta, bothFunded, false); err != nil {
		return engine.FinalState[AL, BL, AA, BA]{}, err
	}
	r.Log.Info("beta funded", "swap_id", id.String(), "observed_asset", betaFunded.ObservedAsset)

	return r.raceSettlement(ctx, id, meta, ongoing, startOfSwap, alphaLoc, betaLoc)
}

// raceSettlement watches both legs concurrently from BothFunded and applies
// whichever resolves first; per invariant 5 (totally ordered, one persisted
// transition at a time) the two results are serialized onto one channel rather
// than persisted from separate goroutines.
func (r *Runner[AL, BL, AA, BA, AT, BT, ALoc, BLoc]) raceSettlement(
	ctx context.Context,
	id swapid.ID,
	meta engine.Metadata,
	ongoing engine.OngoingSwap[AL, BL, AA, BA],
	startOfSwap time.Time,
	alphaLoc ALoc,
	betaLoc BLoc,
) (engine.FinalState[AL, BL, AA, BA], error) {
	type legResult struct {
		leg      string // "alpha" or "beta"
		redeemed bool
		preimage [32]byte
		err      error
	}

	results := make(chan legResult, 2)
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		redeemed, err := r.AlphaSource.HtlcRedeemed(watchCtx, alphaLoc, startOfSwap)
		if err == nil {
			results <- legResult{leg: "alpha", redeemed: true, preimage: redeemed.Preimage}
			return
		}
		if _, rerr := r.AlphaSource.HtlcRefunded(watchCtx, alphaLoc, startOfSwap); rerr == nil {
			results <- legResult{leg: "alpha", redeemed: false}
			return
		}
		results <- legResult{leg: "alpha", err: err}
	}()
	go func() {
		redeemed, err := r.BetaSource.HtlcRedeemed(watchCtx, betaLoc, startOfSwap)
		if err == nil {
			results <- legResult{leg: "beta", redeemed: true, preimage: redeemed.Preimage}
			return
		}
		if _, rerr := r.BetaSource.HtlcRefunded(watchCtx, betaLoc, startOfSwap); rerr == nil {
			results <- legResult{leg: "beta", redeemed: false}
			return
		}
		results <- legResult{leg: "beta", err: err}
	}()

	var first legResult
	select {
	case first = <-results:
	case <-ctx.Done():
		return engine.FinalState[AL, BL, AA, BA]{}, ctx.Err()
	}
	if first.err != nil {
		return engine.FinalState[AL, BL, AA, BA]{}, fmt.Errorf("swaprunner: await settlement: %w", first.err)
	}

	if first.leg == "beta" && first.redeemed {
		revealed, verifyErr := secret.NewHashOnly(ongoing.SecretHash).Reveal(first.preimage)
		if verifyErr != nil {
			// §4.5/§4.8: a mismatched preimage is a protocol failure of this
			// leg specifically; the other leg is left for its own refund path
			// rather than torn down here.
			final := engine.FinalState[AL, BL, AA, BA]{Outcome: engine.OutcomeInvalidSecret, Swap: &ongoing}
			return final, r.checkpoint(id, meta, final, false)
		}
		mid := engine.AlphaFundedBetaRedeemedState[AL, BL, AA, BA]{
			Swap: ongoing, AlphaLocation: alphaLoc, Secret: revealed,
		}
		if err := r.checkpoint(id, meta, mid, false); err != nil {
			return engine.FinalState[AL, BL, AA, BA]{}, err
		}
		cancel()
		alphaSettled, err := r.awaitAlphaSettlement(ctx, alphaLoc, startOfSwap)
		if err != nil {
			return engine.FinalState[AL, BL, AA, BA]{}, err
		}
		outcome := engine.OutcomeAlphaRefundedBetaRedeemed
		if alphaSettled {
			outcome = engine.OutcomeAlphaRedeemedBetaRedeemed
		}
		return r.finalize(id, meta, ongoing, outcome)
	}

	if first.leg == "beta" && !first.redeemed {
		mid := engine.AlphaFundedBetaRefundedState[AL, BL, AA, BA]{Swap: ongoing, AlphaLocation: alphaLoc}
		if err := r.checkpoint(id, meta, mid, false); err != nil {
			return engine.FinalState[AL, BL, AA, BA]{}, err
		}
		cancel()
		return r.finalize(id, meta, ongoing, engine.OutcomeAlphaRefundedBetaRefunded)
	}

	if first.leg == "alpha" && first.redeemed {
		// Already validated: Bob only ever redeems alpha with the preimage he
		// extracted from Alice's beta redeem (confirmed or still in the
		// mempool — §4.7), so there is nothing left to verify here.
		revealed, _ := secret.NewHashOnly(ongoing.SecretHash).Reveal(first.preimage)
		mid := engine.AlphaRedeemedBetaFundedState[AL, BL, AA, BA]{
			Swap: ongoing, BetaLocation: betaLoc, Secret: revealed,
		}
		if err := r.checkpoint(id, meta, mid, false); err != nil {
			return engine.FinalState[AL, BL, AA, BA]{}, err
		}
		cancel()
		betaSettled, err := r.awaitBetaSettlement(ctx, betaLoc, startOfSwap)
		if err != nil {
			return engine.FinalState[AL, BL, AA, BA]{}, err
		}
		outcome := engine.OutcomeAlphaRedeemedBetaRefunded
		if betaSettled {
			outcome = engine.OutcomeAlphaRedeemedBetaRedeemed
		}
		return r.finalize(id, meta, ongoing, outcome)
	}

	// alpha refunded first
	mid := engine.AlphaRefundedBetaFundedState[AL, BL, AA, BA]{Swap: ongoing, BetaLocation: betaLoc}
	if err := r.checkpoint(id, meta, mid, false); err != nil {
		return engine.FinalState[AL, BL, AA, BA]{}, err
	}
	cancel()
	return r.finalize(id, meta, ongoing, engine.OutcomeAlphaRefundedBetaRefunded)
}

func (r *Runner[AL, BL, AA, BA, AT, BT, ALoc, BLoc]) awaitAlphaSettlement(ctx context.Context, loc ALoc, startOfSwap time.Time) (bool, error) {
	if _, err := r.AlphaSource.HtlcRedeemed(ctx, loc, startOfSwap); err == nil {
		return true, nil
	}
	if _, err := r.AlphaSource.HtlcRefunded(ctx, loc, startOfSwap); err == nil {
		return false, nil
	}
	return false, fmt.Errorf("swaprunner: await alpha settlement: no watcher resolved")
}

func (r *Runner[AL, BL, AA, BA, AT, BT, ALoc, BLoc]) awaitBetaSettlement(ctx context.Context, loc BLoc, startOfSwap time.Time) (bool, error) {
	if _, err := r.BetaSource.HtlcRedeemed(ctx, loc, startOfSwap); err == nil {
		return true, nil
	}
	if _, err := r.BetaSource.HtlcRefunded(ctx, loc, startOfSwap); err == nil {
		return false, nil
	}
	return false, fmt.Errorf("swaprunner: await beta settlement: no watcher resolved")
}

func (r *Runner[AL, BL, AA, BA, AT, BT, ALoc, BLoc]) finalize(
	id swapid.ID, meta engine.Metadata, ongoing engine.OngoingSwap[AL, BL, AA, BA], outcome engine.Outcome,
) (engine.FinalState[AL, BL, AA, BA], error) {
	final := engine.FinalState[AL, BL, AA, BA]{Outcome: outcome, Swap: &ongoing}
	if err := r.checkpoint(id, meta, final, false); err != nil {
		return final, err
	}
	r.Log.Info("swap settled", "swap_id", id.String(), "outcome", outcome.String())
	return final, nil
}
