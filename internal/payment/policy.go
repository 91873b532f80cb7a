package payment

import (
	"github.com/bandroomhq/settlement/internal"
)

// Action is a guarded transition a user can attempt on a payment.
type Action string

const (
	ActionConfirm Action = "confirm"
	ActionDispute Action = "dispute"
	ActionResolve Action = "resolve"
)

// RoleFacts are the band-scoped facts about the acting user, looked up once
// by the service and handed to the policy so the decision itself stays pure.
type RoleFacts struct {
	IsTreasurer bool
	IsGovernor  bool
}

// CounterpartyPolicy decides who may attest to a recorded payment. The rule
// it enforces: the party who asserted the payment can never be the party who
// attests it. Every command handler consults this one function instead of
// re-implementing role checks per endpoint.
//
// For confirm/dispute:
//   - initiator recorded as MEMBER: only a treasurer of the band, other than
//     the initiator, may act.
//   - initiator recorded as TREASURER: only the payer the record is about
//     may act.
//
// For resolve: only a governance-role holder for the band.
func CounterpartyPolicy(p *ManualPayment, actorID int64, facts RoleFacts, action Action) error {
	if action == ActionResolve {
		if !facts.IsGovernor {
			return internal.ErrGovernanceRequired
		}
		return nil
	}

	// Being both payer and treasurer grants no self-attestation rights.
	if actorID == p.InitiatorID {
		return internal.ErrSelfConfirmation
	}

	switch p.InitiatorRole {
	case InitiatorRoleMember:
		if !facts.IsTreasurer {
			return internal.ErrNotCounterparty
		}
	case InitiatorRoleTreasurer:
		if actorID != p.PayerID {
			return internal.ErrNotCounterparty
		}
	default:
		return internal.ErrNotCounterparty
	}

	return nil
}
