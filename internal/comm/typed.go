package comm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/comit-node/rfc003/internal/asset"
	"github.com/comit-node/rfc003/internal/engine"
	"github.com/comit-node/rfc003/internal/ledger"
)

// SendRequest is Alice's call: send a SwapRequest to peerID and block for Bob's
// decision. swapTimeout bounds how long the underlying transport keeps retrying
// delivery (it stops retrying once the swap itself can no longer complete).
func SendRequest[AL ledger.Identity, BL ledger.Identity, AA asset.Asset, BA asset.Asset](
	ctx context.Context,
	c *Comm,
	peerID peer.ID,
	req engine.SwapRequest[AL, BL, AA, BA],
	swapTimeout int64,
) (engine.SwapResponse[AL, BL], error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("comm: marshal swap request: %w", err)
	}

	env, err := c.sendAndAwait(ctx, peerID, req.ID, swapTimeout, payload)
	if err != nil {
		return nil, err
	}

	if !env.Accepted {
		var declined engine.Declined[AL, BL]
		if err := json.Unmarshal(env.Payload, &declined); err != nil {
			return nil, fmt.Errorf("comm: unmarshal decline: %w", err)
		}
		return declined, nil
	}

	var accepted engine.Accepted[AL, BL]
	if err := json.Unmarshal(env.Payload, &accepted); err != nil {
		return nil, fmt.Errorf("comm: unmarshal accept: %w", err)
	}
	return accepted, nil
}

// DecodeRequest recovers the concrete SwapRequest[AL,BL,AA,BA] from an
// InboundRequest. Bob's engine calls this once it has looked up the ledger
// kinds named in the request and matched them to a supported quadruple.
func DecodeRequest[AL ledger.Identity, BL ledger.Identity, AA asset.Asset, BA asset.Asset](
	in InboundRequest,
) (engine.SwapRequest[AL, BL, AA, BA], error) {
	var req engine.SwapRequest[AL, BL, AA, BA]
	if err := json.Unmarshal(in.Payload, &req); err != nil {
		return req, fmt.Errorf("comm: unmarshal swap request: %w", err)
	}
	return req, nil
}

// Reply answers one InboundRequest with Bob's decision, generic over the same
// quadruple DecodeRequest resolved it to.
func Reply[AL ledger.Identity, BL ledger.Identity](
	ctx context.Context,
	in InboundRequest,
	resp engine.SwapResponse[AL, BL],
) error {
	switch r := resp.(type) {
	case engine.Accepted[AL, BL]:
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("comm: marshal accept: %w", err)
		}
		return in.Reply(ctx, true, payload)
	case engine.Declined[AL, BL]:
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("comm: marshal decline: %w", err)
		}
		return in.Reply(ctx, false, payload)
	default:
		return fmt.Errorf("comm: unknown SwapResponse variant %T", resp)
	}
}
