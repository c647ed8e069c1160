package engine

import (
	"github.com/comit-node/rfc003/internal/asset"
	"github.com/comit-node/rfc003/internal/htlc"
	"github.com/comit-node/rfc003/internal/ledger"
	"github.com/comit-node/rfc003/internal/role"
	"github.com/comit-node/rfc003/internal/secret"
)

// Action is C9's tagged union: every variant fully describes the transaction a
// user must sign, never one the engine broadcasts itself.
type Action interface {
	isAction()
}

// Accept and Decline are only ever available to Bob, only in Start.
type Accept struct{}
type Decline struct{ Reason string }

func (Accept) isAction()  {}
func (Decline) isAction() {}

// Deploy applies to account-ledger legs that separate contract creation from
// funding; Params is the leg this deploys.
type Deploy[I ledger.Identity] struct {
	Params htlc.Params[I]
}

func (Deploy[I]) isAction() {}

// Fund is the send-to-address (UTXO) or send-value (account) transaction that
// locks a leg's asset into its HTLC.
type Fund[I ledger.Identity] struct {
	Params htlc.Params[I]
}

func (Fund[I]) isAction() {}

// Redeem spends an HTLC via its secret-reveal branch. Location is the
// concrete per-ledger location (e.g. events.BitcoinLocation); Preimage is the
// known secret Alice reveals, or the one Bob observed and is now replaying on
// the other leg. BothFunded holds only the secret hash, so Alice's Redeem
// there carries the zero Secret as Preimage (not Known).
type Redeem[I ledger.Identity] struct {
	Params   htlc.Params[I]
	Location any
	Preimage secret.Secret
}

func (Redeem[I]) isAction() {}

// Refund spends an HTLC via its timeout branch. Always returned once a leg is
// funded regardless of whether the timeout has actually passed (§4.9): the
// chain itself rejects a premature submission.
type Refund[I ledger.Identity] struct {
	Params   htlc.Params[I]
	Location any
}

func (Refund[I]) isAction() {}

// AddInvoice is the Lightning-only action of registering an invoice so the
// counterparty has something to pay into.
type AddInvoice struct {
	Hash secret.Hash
}

func (AddInvoice) isAction() {}

// Actions derives the pure, role-dependent action set for one state. It never
// touches the network or a store; everything it needs is already embedded in
// the state it's given (§9: "the action set derivation is pure and needs no
// dependencies beyond the current state").
func Actions[AL ledger.Identity, BL ledger.Identity, AA asset.Asset, BA asset.Asset](
	s State[AL, BL, AA, BA],
	r role.Role,
) []Action {
	// Alice locks and refunds alpha, redeems beta. Bob locks and refunds beta,
	// redeems alpha once Alice's beta redeem reveals the secret (§4.7).
	switch st := s.(type) {
	case Start[AL, BL, AA, BA]:
		if r == role.Bob {
			return []Action{Accept{}, Decline{}}
		}
		return nil

	case AcceptedState[AL, BL, AA, BA]:
		if r == role.Alice {
			fund := Fund[AL]{Params: st.Swap.AlphaHtlcParams()}
			if _, utxo := any(st.Swap.AlphaAsset).(asset.BitcoinQuantity); utxo {
				return []Action{fund}
			}
			return []Action{Deploy[AL]{Params: st.Swap.AlphaHtlcParams()}, fund}
		}
		return nil

	case AlphaDeployedState[AL, BL, AA, BA]:
		if r == role.Alice {
			return []Action{Fund[AL]{Params: st.Swap.AlphaHtlcParams()}}
		}
		return nil

	case AlphaFundedState[AL, BL, AA, BA]:
		if r == role.Bob {
			fund := Fund[BL]{Params: st.Swap.BetaHtlcParams()}
			if _, utxo := any(st.Swap.BetaAsset).(asset.BitcoinQuantity); utxo {
				return []Action{fund}
			}
			return []Action{Deploy[BL]{Params: st.Swap.BetaHtlcParams()}, fund}
		}
		return []Action{Refund[AL]{Params: st.Swap.AlphaHtlcParams(), Location: st.AlphaLocation}}

	case BothFundedState[AL, BL, AA, BA]:
		if r == role.Alice {
			return []Action{
				Redeem[BL]{Params: st.Swap.BetaHtlcParams(), Location: st.BetaLocation},
				Refund[AL]{Params: st.Swap.AlphaHtlcParams(), Location: st.AlphaLocation},
			}
		}
		return []Action{Refund[BL]{Params: st.Swap.BetaHtlcParams(), Location: st.BetaLocation}}

	case AlphaFundedBetaRedeemedState[AL, BL, AA, BA]:
		if r == role.Alice {
			return []Action{Refund[AL]{Params: st.Swap.AlphaHtlcParams(), Location: st.AlphaLocation}}
		}
		return []Action{Redeem[AL]{Params: st.Swap.AlphaHtlcParams(), Location: st.AlphaLocation, Preimage: st.Secret}}

	case AlphaFundedBetaRefundedState[AL, BL, AA, BA]:
		if r == role.Alice {
			return []Action{Refund[AL]{Params: st.Swap.AlphaHtlcParams(), Location: st.AlphaLocation}}
		}
		return nil

	case AlphaRedeemedBetaFundedState[AL, BL, AA, BA]:
		if r == role.Alice {
			return []Action{Redeem[BL]{Params: st.Swap.BetaHtlcParams(), Location: st.BetaLocation, Preimage: st.Secret}}
		}
		return []Action{Refund[BL]{Params: st.Swap.BetaHtlcParams(), Location: st.BetaLocation}}

	case AlphaRefundedBetaFundedState[AL, BL, AA, BA]:
		if r == role.Bob {
			return []Action{Refund[BL]{Params: st.Swap.BetaHtlcParams(), Location: st.BetaLocation}}
		}
		return nil

	default:
		return nil
	}
}
