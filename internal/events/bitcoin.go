// Bitcoin event source: polls a read-only backend.Backend for the P2WSH HTLC
// address's UTXO set and transaction history. Grounded on the confirmation-depth
// gating and witness-based secret extraction the pre-RFC003 coordinator used
// (coordinator_htlc.go's ExtractSecretFromTx, swap.go's confirmation tracking).
package events

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/comit-node/rfc003/internal/asset"
	"github.com/comit-node/rfc003/internal/backend"
	"github.com/comit-node/rfc003/internal/htlc"
	"github.com/comit-node/rfc003/pkg/logging"
)

// BitcoinLocation is a UTXO ledger's HTLC location: its P2WSH address. Unlike an
// account ledger, a UTXO HTLC's location is derivable from its params alone, so
// the engine constructs this itself rather than waiting on HtlcDeployed.
type BitcoinLocation struct {
	Address string
}

// BitcoinSource polls a single backend for one HTLC's lifecycle events.
type BitcoinSource struct {
	Backend       backend.Backend
	Confirmations int64
	PollInterval  time.Duration
	log           *logging.Logger
}

// NewBitcoinSource builds a source bound to one chain's read-only backend.
func NewBitcoinSource(b backend.Backend, confirmations int64, pollInterval time.Duration) *BitcoinSource {
	return &BitcoinSource{
		Backend:       b,
		Confirmations: confirmations,
		PollInterval:  pollInterval,
		log:           logging.GetDefault().Component("events.bitcoin"),
	}
}

// HtlcDeployed never resolves for a UTXO ledger: there is no separate deploy step
// to observe, the engine skips straight from Accepted to awaiting HtlcFunded.
func (s *BitcoinSource) HtlcDeployed(ctx context.Context, loc BitcoinLocation, startOfSwap time.Time) (*Deployed[backend.Transaction, BitcoinLocation], error) {
	return nil, fmt.Errorf("events: htlc_deployed is not observable for a UTXO ledger")
}

// HtlcFunded resolves once loc.Address holds a UTXO confirmed to the configured depth.
func (s *BitcoinSource) HtlcFunded(ctx context.Context, loc BitcoinLocation, startOfSwap time.Time) (*Funded[backend.Transaction], error) {
	return poll(ctx, s.log, s.PollInterval, func(ctx context.Context) (*Funded[backend.Transaction], error) {
		utxos, err := s.Backend.GetAddressUTXOs(ctx, loc.Address)
		if err != nil {
			return nil, &ErrWatcherFault{Cause: err}
		}
		for _, u := range utxos {
			if u.Confirmations < s.Confirmations {
				continue
			}
			tx, err := s.Backend.GetTransaction(ctx, u.TxID)
			if err != nil {
				return nil, &ErrWatcherFault{Cause: err}
			}
			return &Funded[backend.Transaction]{Transaction: *tx, ObservedAsset: asset.BitcoinQuantity(u.Amount)}, nil
		}
		return nil, nil
	})
}

// HtlcRedeemed resolves once a transaction spends the funding UTXO via the
// secret-reveal witness branch, extracting the candidate preimage.
func (s *BitcoinSource) HtlcRedeemed(ctx context.Context, loc BitcoinLocation, startOfSwap time.Time) (*Redeemed[backend.Transaction], error) {
	return poll(ctx, s.log, s.PollInterval, func(ctx context.Context) (*Redeemed[backend.Transaction], error) {
		tx, witness, ok, err := s.findSpend(ctx, loc.Address)
		if err != nil {
			return nil, err
		}
		if !ok || !isRedeemWitness(witness) {
			return nil, nil
		}
		preimage, err := htlc.ExtractPreimage(witness)
		if err != nil {
			return nil, nil
		}
		var arr [32]byte
		copy(arr[:], preimage)
		return &Redeemed[backend.Transaction]{Transaction: *tx, Preimage: arr}, nil
	})
}

// HtlcRefunded resolves once a transaction spends the funding UTXO via the
// timeout witness branch.
func (s *BitcoinSource) HtlcRefunded(ctx context.Context, loc BitcoinLocation, startOfSwap time.Time) (*Refunded[backend.Transaction], error) {
	return poll(ctx, s.log, s.PollInterval, func(ctx context.Context) (*Refunded[backend.Transaction], error) {
		tx, witness, ok, err := s.findSpend(ctx, loc.Address)
		if err != nil {
			return nil, err
		}
		if !ok || isRedeemWitness(witness) {
			return nil, nil
		}
		return &Refunded[backend.Transaction]{Transaction: *tx}, nil
	})
}

// findSpend looks for a confirmed transaction spending address's funding output,
// returning its decoded witness stack.
func (s *BitcoinSource) findSpend(ctx context.Context, address string) (*backend.Transaction, [][]byte, bool, error) {
	txs, err := s.Backend.GetAddressTxs(ctx, address, "")
	if err != nil {
		return nil, nil, false, &ErrWatcherFault{Cause: err}
	}
	for _, tx := range txs {
		if tx.Confirmations < s.Confirmations {
			continue
		}
		for _, in := range tx.Inputs {
			if in.PrevOut == nil || in.PrevOut.ScriptPubKeyAddr != address || len(in.Witness) == 0 {
				continue
			}
			witness := make([][]byte, 0, len(in.Witness))
			for _, w := range in.Witness {
				raw, err := hex.DecodeString(w)
				if err != nil {
					continue
				}
				witness = append(witness, raw)
			}
			return &tx, witness, true, nil
		}
	}
	return nil, nil, false, nil
}

// isRedeemWitness distinguishes the claim branch (pushes <sig><preimage><1>) from
// the refund branch (pushes <sig><0>) of the HTLC script's witness stack.
func isRedeemWitness(witness [][]byte) bool {
	return len(witness) >= 2 && len(witness[1]) == 32
}
