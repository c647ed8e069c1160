package engine

import (
	"fmt"

	"github.com/comit-node/rfc003/internal/asset"
	"github.com/comit-node/rfc003/internal/ledger"
	"github.com/comit-node/rfc003/internal/secret"
)

// Kind discriminates the states of a swap, KindFinal included.
type Kind int

const (
	KindStart Kind = iota
	KindAccepted
	KindAlphaDeployed
	KindAlphaFunded
	KindBothFunded
	KindAlphaFundedBetaRedeemed
	KindAlphaFundedBetaRefunded
	KindAlphaRedeemedBetaFunded
	KindAlphaRefundedBetaFunded
	KindFinal
)

// ParseKind recovers a Kind from its String() form, for decoding a checkpoint
// row back into its discriminant before dispatching on the JSON payload.
func ParseKind(s string) (Kind, error) {
	for k := KindStart; k <= KindFinal; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("engine: unknown state kind %q", s)
}

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "Start"
	case KindAccepted:
		return "Accepted"
	case KindAlphaDeployed:
		return "AlphaDeployed"
	case KindAlphaFunded:
		return "AlphaFunded"
	case KindBothFunded:
		return "BothFunded"
	case KindAlphaFundedBetaRedeemed:
		return "AlphaFundedBetaRedeemed"
	case KindAlphaFundedBetaRefunded:
		return "AlphaFundedBetaRefunded"
	case KindAlphaRedeemedBetaFunded:
		return "AlphaRedeemedBetaFunded"
	case KindAlphaRefundedBetaFunded:
		return "AlphaRefundedBetaFunded"
	case KindFinal:
		return "Final"
	default:
		return "Unknown"
	}
}

// Outcome enumerates every way a swap can become absorbing. The four settled
// combinations and the three failure modes are both terminal, but only the
// settled combinations represent a completed exchange.
type Outcome int

const (
	OutcomeAlphaRedeemedBetaRedeemed Outcome = iota
	OutcomeAlphaRefundedBetaRefunded
	OutcomeAlphaRefundedBetaRedeemed
	OutcomeAlphaRedeemedBetaRefunded
	OutcomeDeclinedByCounterparty
	OutcomeIncorrectFunding
	OutcomeInvalidSecret
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAlphaRedeemedBetaRedeemed:
		return "AlphaRedeemedBetaRedeemed"
	case OutcomeAlphaRefundedBetaRefunded:
		return "AlphaRefundedBetaRefunded"
	case OutcomeAlphaRefundedBetaRedeemed:
		return "AlphaRefundedBetaRedeemed"
	case OutcomeAlphaRedeemedBetaRefunded:
		return "AlphaRedeemedBetaRefunded"
	case OutcomeDeclinedByCounterparty:
		return "DeclinedByCounterparty"
	case OutcomeIncorrectFunding:
		return "IncorrectFunding"
	case OutcomeInvalidSecret:
		return "InvalidSecret"
	default:
		return "Unknown"
	}
}

// State is the tagged union named SwapStates in the data model: exactly one of
// the concrete types below, recovered with a type switch. Locations are stored
// as `any` holding the concrete per-ledger location (e.g. events.BitcoinLocation,
// events.EthereumLocation) — the heterogeneity this engine is parameterised
// over stops at the identity/asset level, so a seventh and eighth type
// parameter for alpha/beta location types is deliberately not threaded through
// every state; callers that need the concrete type assert it back.
type State[AL ledger.Identity, BL ledger.Identity, AA asset.Asset, BA asset.Asset] interface {
	Kind() Kind
	isState()
}

// Start carries only the request; no response has been received yet.
type Start[AL ledger.Identity, BL ledger.Identity, AA asset.Asset, BA asset.Asset] struct {
	Request SwapRequest[AL, BL, AA, BA]
}

func (Start[AL, BL, AA, BA]) Kind() Kind { return KindStart }
func (Start[AL, BL, AA, BA]) isState()   {}

// AcceptedState is reached once the counterparty accepts; both legs' HTLC
// parameters are now fully determined.
type AcceptedState[AL ledger.Identity, BL ledger.Identity, AA asset.Asset, BA asset.Asset] struct {
	Swap OngoingSwap[AL, BL, AA, BA]
}

func (AcceptedState[AL, BL, AA, BA]) Kind() Kind { return KindAccepted }
func (AcceptedState[AL, BL, AA, BA]) isState()   {}

// AlphaDeployedState applies only to account-ledger alpha legs: the contract
// exists but funding has not yet been observed.
type AlphaDeployedState[AL ledger.Identity, BL ledger.Identity, AA asset.Asset, BA asset.Asset] struct {
	Swap            OngoingSwap[AL, BL, AA, BA]
	AlphaLocation   any
}

func (AlphaDeployedState[AL, BL, AA, BA]) Kind() Kind { return KindAlphaDeployed }
func (AlphaDeployedState[AL, BL, AA, BA]) isState()   {}

// AlphaFundedState is reached once the alpha HTLC holds the expected asset.
type AlphaFundedState[AL ledger.Identity, BL ledger.Identity, AA asset.Asset, BA asset.Asset] struct {
	Swap          OngoingSwap[AL, BL, AA, BA]
	AlphaLocation any
}

func (AlphaFundedState[AL, BL, AA, BA]) Kind() Kind { return KindAlphaFunded }
func (AlphaFundedState[AL, BL, AA, BA]) isState()   {}

// BothFundedState is reached once both legs are funded; both redeem and refund
// are live for both legs from here.
type BothFundedState[AL ledger.Identity, BL ledger.Identity, AA asset.Asset, BA asset.Asset] struct {
	Swap          OngoingSwap[AL, BL, AA, BA]
	AlphaLocation any
	BetaLocation  any
}

func (BothFundedState[AL, BL, AA, BA]) Kind() Kind { return KindBothFunded }
func (BothFundedState[AL, BL, AA, BA]) isState()   {}

// AlphaFundedBetaRedeemedState: beta settled by redeem while alpha is still
// only funded — the secret is now public, so Bob can redeem alpha while Alice
// can still only refund it.
type AlphaFundedBetaRedeemedState[AL ledger.Identity, BL ledger.Identity, AA asset.Asset, BA asset.Asset] struct {
	Swap          OngoingSwap[AL, BL, AA, BA]
	AlphaLocation any
	Secret        secret.Secret
}

func (AlphaFundedBetaRedeemedState[AL, BL, AA, BA]) Kind() Kind {
	return KindAlphaFundedBetaRedeemed
}
func (AlphaFundedBetaRedeemedState[AL, BL, AA, BA]) isState() {}

// AlphaFundedBetaRefundedState: beta was refunded (timed out) while alpha is
// still funded — the only safe action on alpha is refund.
type AlphaFundedBetaRefundedState[AL ledger.Identity, BL ledger.Identity, AA asset.Asset, BA asset.Asset] struct {
	Swap          OngoingSwap[AL, BL, AA, BA]
	AlphaLocation any
}

func (AlphaFundedBetaRefundedState[AL, BL, AA, BA]) Kind() Kind {
	return KindAlphaFundedBetaRefunded
}
func (AlphaFundedBetaRefundedState[AL, BL, AA, BA]) isState() {}

// AlphaRedeemedBetaFundedState: alpha settled by redeem (revealing the
// secret) while beta is still funded — beta's redeemer can now claim.
type AlphaRedeemedBetaFundedState[AL ledger.Identity, BL ledger.Identity, AA asset.Asset, BA asset.Asset] struct {
	Swap         OngoingSwap[AL, BL, AA, BA]
	BetaLocation any
	Secret       secret.Secret
}

func (AlphaRedeemedBetaFundedState[AL, BL, AA, BA]) Kind() Kind {
	return KindAlphaRedeemedBetaFunded
}
func (AlphaRedeemedBetaFundedState[AL, BL, AA, BA]) isState() {}

// AlphaRefundedBetaFundedState: alpha timed out and was refunded while beta
// is still funded — beta's refund is the only safe action.
type AlphaRefundedBetaFundedState[AL ledger.Identity, BL ledger.Identity, AA asset.Asset, BA asset.Asset] struct {
	Swap         OngoingSwap[AL, BL, AA, BA]
	BetaLocation any
}

func (AlphaRefundedBetaFundedState[AL, BL, AA, BA]) Kind() Kind {
	return KindAlphaRefundedBetaFunded
}
func (AlphaRefundedBetaFundedState[AL, BL, AA, BA]) isState() {}

// FinalState is absorbing: once reached, no further transition is legal
// (invariant 5).
type FinalState[AL ledger.Identity, BL ledger.Identity, AA asset.Asset, BA asset.Asset] struct {
	Outcome Outcome
	Swap    *OngoingSwap[AL, BL, AA, BA] // nil only for OutcomeDeclinedByCounterparty
}

func (FinalState[AL, BL, AA, BA]) Kind() Kind { return KindFinal }
func (FinalState[AL, BL, AA, BA]) isState()   {}
