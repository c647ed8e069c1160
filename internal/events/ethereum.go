// Ethereum/ERC20 event source: wraps internal/contracts/htlc.Client's generated
// log watchers. Unlike a UTXO ledger, an EVM HTLC's deploy and fund happen in the
// same contract call (createSwapNative/createSwapERC20 locks the asset atomically
// with creating the swap record), so HtlcDeployed and HtlcFunded both key off the
// same SwapCreated log and HtlcFunded resolves against the swap's on-chain state
// rather than a second watcher.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/comit-node/rfc003/internal/asset"
	contracthtlc "github.com/comit-node/rfc003/internal/contracts/htlc"
	"github.com/comit-node/rfc003/pkg/logging"
)

// EthereumLocation is the contract-assigned swap id, computed deterministically
// by htlc.BuildEthereum/BuildErc20 before any transaction is sent.
type EthereumLocation struct {
	SwapID [32]byte
}

// EthereumTransaction is the log entry a watcher resolved on, kept instead of a
// full on-chain transaction since the generated bindings only surface receipts.
type EthereumTransaction struct {
	TxHash   common.Hash
	BlockNum uint64
}

// EthereumSource adapts one SwapHTLC deployment's client into a Source. Finality
// is the contract's own, block confirmation depth is not separately modeled here:
// the generated watcher already delivers logs at the node's canonical head.
type EthereumSource struct {
	Client       *contracthtlc.Client
	PollInterval time.Duration
	log          *logging.Logger
}

// NewEthereumSource builds a source bound to one chain's HTLC contract client.
func NewEthereumSource(client *contracthtlc.Client, pollInterval time.Duration) *EthereumSource {
	return &EthereumSource{
		Client:       client,
		PollInterval: pollInterval,
		log:          logging.GetDefault().Component("events.ethereum"),
	}
}

// HtlcDeployed resolves once the contract emits SwapCreated for loc.SwapID.
func (s *EthereumSource) HtlcDeployed(ctx context.Context, loc EthereumLocation, startOfSwap time.Time) (*Deployed[EthereumTransaction, EthereumLocation], error) {
	ch, err := s.Client.WatchSwapCreated(ctx, [][32]byte{loc.SwapID}, nil)
	if err != nil {
		return nil, &ErrWatcherFault{Cause: err}
	}
	select {
	case event := <-ch:
		if event == nil {
			return nil, fmt.Errorf("events: SwapCreated watch channel closed for swap %x", loc.SwapID)
		}
		return &Deployed[EthereumTransaction, EthereumLocation]{
			Transaction: EthereumTransaction{TxHash: event.TxHash, BlockNum: event.BlockNum},
			Location:    loc,
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// HtlcFunded resolves once the swap's on-chain state is Active: createSwap*
// locks the asset in the same call that creates the record, so there is no
// separate funding transaction to wait for once Deployed has fired.
func (s *EthereumSource) HtlcFunded(ctx context.Context, loc EthereumLocation, startOfSwap time.Time) (*Funded[EthereumTransaction], error) {
	return poll(ctx, s.log, s.PollInterval, func(ctx context.Context) (*Funded[EthereumTransaction], error) {
		swap, err := s.Client.GetSwap(ctx, loc.SwapID)
		if err != nil {
			return nil, &ErrWatcherFault{Cause: err}
		}
		if swap.State != contracthtlc.SwapStateActive && swap.State != contracthtlc.SwapStateClaimed && swap.State != contracthtlc.SwapStateRefunded {
			return nil, nil
		}
		observed, err := observedAsset(swap)
		if err != nil {
			return nil, err
		}
		return &Funded[EthereumTransaction]{
			Transaction:   EthereumTransaction{},
			ObservedAsset: observed,
		}, nil
	})
}

// HtlcRedeemed resolves once the contract emits SwapClaimed, surfacing the
// revealed secret straight from the log.
func (s *EthereumSource) HtlcRedeemed(ctx context.Context, loc EthereumLocation, startOfSwap time.Time) (*Redeemed[EthereumTransaction], error) {
	ch, err := s.Client.WatchSwapClaimed(ctx, [][32]byte{loc.SwapID})
	if err != nil {
		return nil, &ErrWatcherFault{Cause: err}
	}
	select {
	case event := <-ch:
		if event == nil {
			return nil, fmt.Errorf("events: SwapClaimed watch channel closed for swap %x", loc.SwapID)
		}
		return &Redeemed[EthereumTransaction]{
			Transaction: EthereumTransaction{TxHash: event.TxHash, BlockNum: event.BlockNum},
			Preimage:    event.Secret,
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// HtlcRefunded resolves once the contract emits SwapRefunded.
func (s *EthereumSource) HtlcRefunded(ctx context.Context, loc EthereumLocation, startOfSwap time.Time) (*Refunded[EthereumTransaction], error) {
	ch, err := s.Client.WatchSwapRefunded(ctx, [][32]byte{loc.SwapID})
	if err != nil {
		return nil, &ErrWatcherFault{Cause: err}
	}
	select {
	case event := <-ch:
		if event == nil {
			return nil, fmt.Errorf("events: SwapRefunded watch channel closed for swap %x", loc.SwapID)
		}
		return &Refunded[EthereumTransaction]{
			Transaction: EthereumTransaction{TxHash: event.TxHash, BlockNum: event.BlockNum},
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func observedAsset(swap *contracthtlc.Swap) (asset.Asset, error) {
	if swap.IsNativeToken() {
		return asset.NewEtherQuantity(swap.Amount), nil
	}
	return asset.NewErc20Quantity("", 0, swap.Token, swap.Amount), nil
}
