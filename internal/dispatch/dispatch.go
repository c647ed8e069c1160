// Package dispatch is the closed dispatch boundary §9's design notes call for:
// "implementers should use a generic state-machine engine plus a closed
// enumeration of supported quadruples at the dispatch boundary... only the
// dispatch entry-point enumerates variants." internal/engine, internal/htlc,
// internal/events and internal/swaprunner stay fully generic over
// AL/BL/AA/BA; this package is the one place that picks concrete type
// arguments and gives main.go and internal/rpc a plain, non-generic surface
// to drive.
//
// The one quadruple wired up today is Bitcoin (alpha) against native Ether
// (beta). Adding a second supported pair (e.g. Bitcoin/ERC20) means adding a
// second Dispatcher alongside this one and routing SwapRequest.AlphaLedger/
// BetaLedger to whichever instance matches — the type parameters themselves
// never need to change.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/comit-node/rfc003/internal/asset"
	"github.com/comit-node/rfc003/internal/backend"
	"github.com/comit-node/rfc003/internal/comm"
	"github.com/comit-node/rfc003/internal/engine"
	"github.com/comit-node/rfc003/internal/events"
	"github.com/comit-node/rfc003/internal/htlc"
	"github.com/comit-node/rfc003/internal/keystore"
	"github.com/comit-node/rfc003/internal/ledger"
	"github.com/comit-node/rfc003/internal/opui"
	"github.com/comit-node/rfc003/internal/role"
	"github.com/comit-node/rfc003/internal/secret"
	"github.com/comit-node/rfc003/internal/store"
	"github.com/comit-node/rfc003/internal/swapid"
	"github.com/comit-node/rfc003/internal/swaprunner"
	"github.com/comit-node/rfc003/pkg/logging"
)

// Runner is the one concrete instantiation this dispatcher drives: Bitcoin's
// identity/asset/transaction/location types on alpha, Ethereum's on beta.
type Runner = swaprunner.Runner[
	htlc.BitcoinIdentity, htlc.EthereumIdentity,
	asset.BitcoinQuantity, asset.EtherQuantity,
	backend.Transaction, events.EthereumTransaction,
	events.BitcoinLocation, events.EthereumLocation,
]

// AlphaLedgerKind and BetaLedgerKind identify this dispatcher's supported pair, for
// callers (internal/rpc) that need to reject a request naming any other
// ledger pair before it ever reaches SwapRequest decoding.
const (
	AlphaLedgerKind = ledger.Bitcoin
	BetaLedgerKind  = ledger.Ethereum
)

// Summary is the type-erased view of one swap, for listing and lookups that
// don't need the full generic State.
type Summary struct {
	ID        swapid.ID    `json:"id"`
	Role      role.Role    `json:"role"`
	Kind      engine.Kind  `json:"kind"`
	Actions   []string     `json:"actions"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Pending is one Start-state swap awaiting the local operator's Accept/Decline
// decision — the object internal/rpc's accept endpoint resolves.
type Pending struct {
	ID      swapid.ID
	Peer    peer.ID
	Request json.RawMessage
	decide  chan decision
}

type decision struct {
	accept bool
	reason string
}

// Dispatcher owns the one supported quadruple's Runner plus the bookkeeping
// (pending Bob decisions, in-flight swap bookkeeping for listing) that
// main.go's command surface and internal/rpc need on top of it.
type Dispatcher struct {
	runner   *Runner
	store    *store.Store
	keys     *keystore.KeyStore
	comm     *comm.Comm
	hub      *opui.Hub
	log      *logging.Logger
	alphaCSV uint32
	clockNow func() time.Time

	mu      sync.Mutex
	pending map[swapid.ID]*Pending
}

// New builds a Dispatcher over an already-started comm/event-source stack.
// alphaCSV is the relative CSV timelock (in blocks) every Bitcoin alpha leg
// requests; beta's lock duration is fixed, per-swap, by betaLockWindow once
// the local operator accepts.
func New(alphaSource *events.BitcoinSource, betaSource *events.EthereumSource, st *store.Store, c *comm.Comm, keys *keystore.KeyStore, hub *opui.Hub, alphaCSV uint32) *Dispatcher {
	runner := swaprunner.New[
		htlc.BitcoinIdentity, htlc.EthereumIdentity,
		asset.BitcoinQuantity, asset.EtherQuantity,
		backend.Transaction, events.EthereumTransaction,
		events.BitcoinLocation, events.EthereumLocation,
	](alphaSource, betaSource, st, c)

	return &Dispatcher{
		runner:   runner,
		store:    st,
		keys:     keys,
		comm:     c,
		hub:      hub,
		log:      logging.GetDefault().Component("dispatch"),
		alphaCSV: alphaCSV,
		clockNow: time.Now,
		pending:  make(map[swapid.ID]*Pending),
	}
}

// Initiate starts a swap as Alice: alphaSats is the Bitcoin amount Alice
// will fund, betaWei the Ether amount she expects in return, swapTimeout
// bounds how long the underlying transport retries message delivery.
func (d *Dispatcher) Initiate(ctx context.Context, counterparty peer.ID, alphaSats uint64, betaWei *big.Int, swapTimeout int64) (swapid.ID, error) {
	alphaRefund, err := d.keys.NextBitcoinIdentity()
	if err != nil {
		return swapid.ID{}, fmt.Errorf("dispatch: derive alpha refund identity: %w", err)
	}
	betaRedeem, err := d.keys.NextEthereumIdentity()
	if err != nil {
		return swapid.ID{}, fmt.Errorf("dispatch: derive beta redeem identity: %w", err)
	}
	sec, err := secret.Generate()
	if err != nil {
		return swapid.ID{}, fmt.Errorf("dispatch: generate secret: %w", err)
	}

	id := swapid.New()
	req := engine.SwapRequest[htlc.BitcoinIdentity, htlc.EthereumIdentity, asset.BitcoinQuantity, asset.EtherQuantity]{
		ID:                id,
		AlphaLedger:       AlphaLedgerKind,
		BetaLedger:        BetaLedgerKind,
		AlphaAsset:        asset.BitcoinQuantity(alphaSats),
		BetaAsset:         asset.NewEtherQuantity(betaWei),
		AlphaRefund:       alphaRefund,
		BetaRedeem:        betaRedeem,
		AlphaLockDuration: ledger.RelativeBlockDuration{Blocks: d.alphaCSV},
		SecretHash:        sec.Hash(),
	}
	meta := engine.Metadata{
		ID:              id,
		Role:            role.Alice,
		AlphaLedgerKind: AlphaLedgerKind,
		BetaLedgerKind:  BetaLedgerKind,
		AlphaAssetKind:  req.AlphaAsset.String(),
		BetaAssetKind:   req.BetaAsset.String(),
	}

	startOfSwap := d.clockNow()
	go func() {
		final, err := d.runner.RunAlice(ctx, id, meta, req, counterparty, swapTimeout, startOfSwap, events.BitcoinLocation{})
		if err != nil {
			d.log.Error("alice swap failed", "swap_id", id.String(), "error", err)
			return
		}
		d.publish(id, role.Alice, final.Kind())
	}()

	return id, nil
}

// ServeInbound drains comm's inbound queue forever, dispatching each request
// that names this dispatcher's supported quadruple into a fresh RunBob task.
// Requests naming any other ledger pair are declined immediately — a second
// Dispatcher instance is how a second quadruple gets served, not a branch here.
func (d *Dispatcher) ServeInbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-d.comm.Requests():
			go d.handleInbound(ctx, in)
		}
	}
}

func (d *Dispatcher) handleInbound(ctx context.Context, in comm.InboundRequest) {
	req, err := comm.DecodeRequest[htlc.BitcoinIdentity, htlc.EthereumIdentity, asset.BitcoinQuantity, asset.EtherQuantity](in)
	if err != nil {
		d.log.Warn("dropping malformed inbound request", "error", err)
		return
	}
	if req.AlphaLedger != AlphaLedgerKind || req.BetaLedger != BetaLedgerKind {
		_ = in.Reply(ctx, false, mustMarshal(engine.Declined[htlc.BitcoinIdentity, htlc.EthereumIdentity]{
			Reason: fmt.Sprintf("unsupported ledger pair %s/%s", req.AlphaLedger, req.BetaLedger),
		}))
		return
	}

	meta := engine.Metadata{
		ID:              in.ID,
		Role:            role.Bob,
		AlphaLedgerKind: req.AlphaLedger,
		BetaLedgerKind:  req.BetaLedger,
		AlphaAssetKind:  req.AlphaAsset.String(),
		BetaAssetKind:   req.BetaAsset.String(),
	}

	p := &Pending{ID: in.ID, Peer: in.Peer, Request: in.Payload, decide: make(chan decision, 1)}
	d.mu.Lock()
	d.pending[in.ID] = p
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.pending, in.ID)
		d.mu.Unlock()
	}()

	startOfSwap := d.clockNow()
	ctx = context.WithValue(ctx, swapIDKey{}, in.ID)
	final, err := d.runner.RunBob(ctx, in.ID, meta, in, startOfSwap, events.EthereumLocation{}, d.decide)
	if err != nil {
		d.log.Error("bob swap failed", "swap_id", in.ID.String(), "error", err)
		return
	}
	d.publish(in.ID, role.Bob, final.Kind())
}

// decide implements swaprunner.Decider: it blocks until ListPending's caller
// (internal/rpc's accept/decline handler) resolves the matching Pending, then
// fills in the identities and lock duration only the local operator's
// acceptance can fix.
func (d *Dispatcher) decide(ctx context.Context, _ json.RawMessage) (engine.Accepted[htlc.BitcoinIdentity, htlc.EthereumIdentity], bool, string) {
	d.mu.Lock()
	p, ok := d.pending[d.currentInboundID(ctx)]
	d.mu.Unlock()
	if !ok {
		return engine.Accepted[htlc.BitcoinIdentity, htlc.EthereumIdentity]{}, false, "internal: no pending decision record"
	}

	select {
	case dec := <-p.decide:
		if !dec.accept {
			return engine.Accepted[htlc.BitcoinIdentity, htlc.EthereumIdentity]{}, false, dec.reason
		}
	case <-ctx.Done():
		return engine.Accepted[htlc.BitcoinIdentity, htlc.EthereumIdentity]{}, false, "swap expired awaiting operator decision"
	}

	betaRefund, err := d.keys.NextEthereumIdentity()
	if err != nil {
		return engine.Accepted[htlc.BitcoinIdentity, htlc.EthereumIdentity]{}, false, fmt.Sprintf("derive beta refund identity: %v", err)
	}
	alphaRedeem, err := d.keys.NextBitcoinIdentity()
	if err != nil {
		return engine.Accepted[htlc.BitcoinIdentity, htlc.EthereumIdentity]{}, false, fmt.Sprintf("derive alpha redeem identity: %v", err)
	}

	return engine.Accepted[htlc.BitcoinIdentity, htlc.EthereumIdentity]{
		BetaRefund:       betaRefund,
		AlphaRedeem:      alphaRedeem,
		BetaLockDuration: ledger.HasExpiredAt(d.clockNow().Add(betaLockWindow)),
	}, true, ""
}

// betaLockWindow is beta's absolute expiry relative to the decision moment.
// Kept generous relative to alphaCSV's block count (~6 blocks/hour) so Bob's
// refund branch never races Alice's redeem window under normal confirmation
// times; a production deployment would derive both from the same
// negotiated timeout instead of a fixed constant.
const betaLockWindow = 6 * time.Hour

// currentInboundID exists only because swaprunner.Decider's signature doesn't
// thread the swap id through to the decision closure; handleInbound stashes
// it on ctx before calling RunBob so decide can look its Pending back up.
func (d *Dispatcher) currentInboundID(ctx context.Context) swapid.ID {
	id, _ := ctx.Value(swapIDKey{}).(swapid.ID)
	return id
}

type swapIDKey struct{}

// Accept resolves a pending inbound swap's Accept/Decline action in the
// affirmative. ok is false if no such pending decision exists (already
// decided, unknown id, or never negotiated with this dispatcher).
func (d *Dispatcher) Accept(id swapid.ID) bool {
	d.mu.Lock()
	p, ok := d.pending[id]
	d.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case p.decide <- decision{accept: true}:
		return true
	default:
		return false
	}
}

// Decline resolves a pending inbound swap's Accept/Decline action in the
// negative, recording reason in the Declined response sent back to Alice.
func (d *Dispatcher) Decline(id swapid.ID, reason string) bool {
	d.mu.Lock()
	p, ok := d.pending[id]
	d.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case p.decide <- decision{accept: false, reason: reason}:
		return true
	default:
		return false
	}
}

// ListPending returns every inbound swap currently awaiting a local Accept/
// Decline decision, for the operator surface to present.
func (d *Dispatcher) ListPending() []Pending {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Pending, 0, len(d.pending))
	for _, p := range d.pending {
		out = append(out, *p)
	}
	return out
}

func (d *Dispatcher) publish(id swapid.ID, r role.Role, kind engine.Kind) {
	if d.hub == nil {
		return
	}
	acts, err := d.rawActionsFor(id)
	if err != nil {
		d.log.Warn("could not derive actions for swap view", "swap_id", id.String(), "error", err)
	}
	d.hub.Publish(id, r.String(), kind, acts)
}

// decodeState recovers the concrete engine.State this dispatcher's quadruple
// checkpointed, dispatching on the record's Kind the same way internal/store's
// doc comment describes: "the caller ... decodes back into the right State
// variant."
func decodeState(rec *store.Record) (swapState, error) {
	switch rec.Kind {
	case engine.KindStart:
		var s engine.Start[htlc.BitcoinIdentity, htlc.EthereumIdentity, asset.BitcoinQuantity, asset.EtherQuantity]
		err := json.Unmarshal(rec.StateData, &s)
		return s, err
	case engine.KindAccepted:
		var s engine.AcceptedState[htlc.BitcoinIdentity, htlc.EthereumIdentity, asset.BitcoinQuantity, asset.EtherQuantity]
		err := json.Unmarshal(rec.StateData, &s)
		return s, err
	case engine.KindAlphaFunded:
		var s engine.AlphaFundedState[htlc.BitcoinIdentity, htlc.EthereumIdentity, asset.BitcoinQuantity, asset.EtherQuantity]
		err := json.Unmarshal(rec.StateData, &s)
		return s, err
	case engine.KindBothFunded:
		var s engine.BothFundedState[htlc.BitcoinIdentity, htlc.EthereumIdentity, asset.BitcoinQuantity, asset.EtherQuantity]
		err := json.Unmarshal(rec.StateData, &s)
		return s, err
	case engine.KindAlphaFundedBetaRedeemed:
		var s engine.AlphaFundedBetaRedeemedState[htlc.BitcoinIdentity, htlc.EthereumIdentity, asset.BitcoinQuantity, asset.EtherQuantity]
		err := json.Unmarshal(rec.StateData, &s)
		return s, err
	case engine.KindAlphaFundedBetaRefunded:
		var s engine.AlphaFundedBetaRefundedState[htlc.BitcoinIdentity, htlc.EthereumIdentity, asset.BitcoinQuantity, asset.EtherQuantity]
		err := json.Unmarshal(rec.StateData, &s)
		return s, err
	case engine.KindAlphaRedeemedBetaFunded:
		var s engine.AlphaRedeemedBetaFundedState[htlc.BitcoinIdentity, htlc.EthereumIdentity, asset.BitcoinQuantity, asset.EtherQuantity]
		err := json.Unmarshal(rec.StateData, &s)
		return s, err
	case engine.KindAlphaRefundedBetaFunded:
		var s engine.AlphaRefundedBetaFundedState[htlc.BitcoinIdentity, htlc.EthereumIdentity, asset.BitcoinQuantity, asset.EtherQuantity]
		err := json.Unmarshal(rec.StateData, &s)
		return s, err
	case engine.KindFinal:
		var s engine.FinalState[htlc.BitcoinIdentity, htlc.EthereumIdentity, asset.BitcoinQuantity, asset.EtherQuantity]
		err := json.Unmarshal(rec.StateData, &s)
		return s, err
	default:
		return nil, fmt.Errorf("dispatch: unhandled checkpoint kind %s", rec.Kind)
	}
}

// swapState is engine.State[htlc.BitcoinIdentity, htlc.EthereumIdentity,
// asset.BitcoinQuantity, asset.EtherQuantity] under this dispatcher's fixed
// quadruple, named locally so decodeState's signature stays readable.
type swapState = engine.State[htlc.BitcoinIdentity, htlc.EthereumIdentity, asset.BitcoinQuantity, asset.EtherQuantity]

// rawActionsFor returns a swap's legal next actions as engine.Action values,
// for callers (opui.Hub.Publish) that stringify them themselves.
func (d *Dispatcher) rawActionsFor(id swapid.ID) ([]engine.Action, error) {
	rec, err := d.store.Get(id)
	if err != nil {
		return nil, err
	}
	s, err := decodeState(rec)
	if err != nil {
		return nil, err
	}
	return engine.Actions(s, rec.Metadata.Role), nil
}

func (d *Dispatcher) actionsFor(id swapid.ID) ([]string, error) {
	acts, err := d.rawActionsFor(id)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(acts))
	for i, a := range acts {
		names[i] = actionName(a)
	}
	return names, nil
}

func actionName(a engine.Action) string {
	switch a.(type) {
	case engine.Accept:
		return "accept"
	case engine.Decline:
		return "decline"
	case engine.Deploy[htlc.BitcoinIdentity], engine.Deploy[htlc.EthereumIdentity]:
		return "deploy"
	case engine.Fund[htlc.BitcoinIdentity], engine.Fund[htlc.EthereumIdentity]:
		return "fund"
	case engine.Redeem[htlc.BitcoinIdentity], engine.Redeem[htlc.EthereumIdentity]:
		return "redeem"
	case engine.Refund[htlc.BitcoinIdentity], engine.Refund[htlc.EthereumIdentity]:
		return "refund"
	default:
		return fmt.Sprintf("%T", a)
	}
}

// GetSwap returns one swap's current checkpointed kind and legal action set.
func (d *Dispatcher) GetSwap(id swapid.ID) (Summary, error) {
	rec, err := d.store.Get(id)
	if err != nil {
		return Summary{}, err
	}
	s, err := decodeState(rec)
	if err != nil {
		return Summary{}, err
	}
	acts := engine.Actions(s, rec.Metadata.Role)
	names := make([]string, len(acts))
	for i, a := range acts {
		names[i] = actionName(a)
	}
	return Summary{
		ID:        id,
		Role:      rec.Metadata.Role,
		Kind:      rec.Kind,
		Actions:   names,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

// ListSwaps returns every checkpointed swap's summary, most recently updated
// first — the listing §6 names as an exposed interface.
func (d *Dispatcher) ListSwaps() ([]Summary, error) {
	recs, err := d.store.All()
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(recs))
	for _, rec := range recs {
		s, err := decodeState(rec)
		if err != nil {
			d.log.Warn("skipping corrupt checkpoint in listing", "swap_id", rec.ID.String(), "error", err)
			continue
		}
		acts := engine.Actions(s, rec.Metadata.Role)
		names := make([]string, len(acts))
		for i, a := range acts {
			names[i] = actionName(a)
		}
		out = append(out, Summary{
			ID:        rec.ID,
			Role:      rec.Metadata.Role,
			Kind:      rec.Kind,
			Actions:   names,
			UpdatedAt: rec.UpdatedAt,
		})
	}
	return out, nil
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("dispatch: marshal %T: %v", v, err))
	}
	return data
}
