// Package comm implements C6: the negotiation channel Alice uses to send a
// SwapRequest and await Bob's response, and the inbound queue Bob drains to
// discover incoming requests. It does not reimplement P2P delivery: every
// message rides internal/node's existing direct-messaging stack (StreamHandler
// for framing, MessageSender for persisted retry, RetryWorker for the retry
// loop), which already gives exactly-once-per-id delivery via
// internal/storage's outbox/inbox tables. This package only adds the two new
// message types a negotiation needs and the request/response correlation a
// generic swap adds on top of node's fire-and-forget SendDirect.
package comm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/comit-node/rfc003/internal/node"
	"github.com/comit-node/rfc003/internal/swapid"
	"github.com/comit-node/rfc003/pkg/logging"
)

const (
	// MsgSwapRequest carries Alice's SwapRequest[AL,BL,AA,BA], JSON-encoded.
	MsgSwapRequest = "rfc003_swap_request"
	// MsgSwapResponse carries Bob's Accepted[AL,BL] or Declined[AL,BL].
	MsgSwapResponse = "rfc003_swap_response"
)

// requestEnvelope is the type-erased wire form of a SwapRequest; the concrete
// AL/BL/AA/BA types are recovered by the caller from the request's ledger kinds.
type requestEnvelope struct {
	Payload json.RawMessage `json:"payload"`
}

// responseEnvelope is the type-erased wire form of a SwapResponse.
type responseEnvelope struct {
	Accepted bool            `json:"accepted"`
	Payload  json.RawMessage `json:"payload"`
}

// ReplySink lets a handler answer one inbound request exactly once.
type ReplySink func(ctx context.Context, accepted bool, payload json.RawMessage) error

// InboundRequest is one negotiation request awaiting a decision.
type InboundRequest struct {
	ID      swapid.ID
	Peer    peer.ID
	Payload json.RawMessage
	Reply   ReplySink
}

// Comm correlates request/response pairs over internal/node's direct-messaging
// transport. One Comm serves every concurrent negotiation a node is party to.
type Comm struct {
	node *node.Node
	log  *logging.Logger

	mu      sync.Mutex
	pending map[swapid.ID]chan responseEnvelope

	inbound chan InboundRequest
}

// New builds a Comm bound to an already direct-messaging-capable node (i.e.
// n.SetupDirectMessaging has already been called).
func New(n *node.Node) *Comm {
	return &Comm{
		node:    n,
		log:     logging.GetDefault().Component("comm"),
		pending: make(map[swapid.ID]chan responseEnvelope),
		inbound: make(chan InboundRequest, 32),
	}
}

// Start registers this Comm's message types with the node's stream handler.
func (c *Comm) Start() {
	c.node.RegisterDirectHandler(MsgSwapRequest, c.handleRequest)
	c.node.RegisterDirectHandler(MsgSwapResponse, c.handleResponse)
}

// Requests is the queue Bob's engine drains for incoming negotiations.
func (c *Comm) Requests() <-chan InboundRequest {
	return c.inbound
}

func (c *Comm) handleRequest(ctx context.Context, msg *node.SwapMessage) error {
	id, err := swapid.Parse(msg.TradeID)
	if err != nil {
		return fmt.Errorf("comm: request with malformed swap id %q: %w", msg.TradeID, err)
	}
	fromPeer, err := peer.Decode(msg.FromPeer)
	if err != nil {
		return fmt.Errorf("comm: request from malformed peer id %q: %w", msg.FromPeer, err)
	}

	var env requestEnvelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		return fmt.Errorf("comm: malformed request payload: %w", err)
	}

	swapTimeout := msg.SwapTimeout
	req := InboundRequest{
		ID:      id,
		Peer:    fromPeer,
		Payload: env.Payload,
		Reply: func(ctx context.Context, accepted bool, payload json.RawMessage) error {
			resp := responseEnvelope{Accepted: accepted, Payload: payload}
			body, err := json.Marshal(resp)
			if err != nil {
				return fmt.Errorf("comm: marshal response: %w", err)
			}
			return c.node.SendDirect(ctx, fromPeer, id.String(), swapTimeout, &node.SwapMessage{
				Type:        MsgSwapResponse,
				TradeID:     id.String(),
				Payload:     body,
				RequiresAck: true,
			})
		},
	}

	select {
	case c.inbound <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Comm) handleResponse(ctx context.Context, msg *node.SwapMessage) error {
	id, err := swapid.Parse(msg.TradeID)
	if err != nil {
		return fmt.Errorf("comm: response with malformed swap id %q: %w", msg.TradeID, err)
	}

	var env responseEnvelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		return fmt.Errorf("comm: malformed response payload: %w", err)
	}

	c.mu.Lock()
	ch, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		c.log.Warn("response for unknown or already-answered request", "swap_id", id.String())
		return nil
	}

	select {
	case ch <- env:
	default:
		// Already delivered; a retried response is harmless to drop (§5).
	}
	return nil
}

// sendAndAwait sends a type-erased request and blocks until the matching
// response arrives or ctx is cancelled. It is the non-generic primitive the
// typed SendRequest wraps.
func (c *Comm) sendAndAwait(ctx context.Context, peerID peer.ID, id swapid.ID, swapTimeout int64, payload json.RawMessage) (responseEnvelope, error) {
	ch := make(chan responseEnvelope, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	body, err := json.Marshal(requestEnvelope{Payload: payload})
	if err != nil {
		return responseEnvelope{}, fmt.Errorf("comm: marshal request: %w", err)
	}

	if err := c.node.SendDirect(ctx, peerID, id.String(), swapTimeout, &node.SwapMessage{
		Type:        MsgSwapRequest,
		TradeID:     id.String(),
		Payload:     body,
		RequiresAck: true,
	}); err != nil {
		return responseEnvelope{}, err
	}

	select {
	case env := <-ch:
		return env, nil
	case <-ctx.Done():
		return responseEnvelope{}, ctx.Err()
	}
}
