package payment

import (
	"time"

	"github.com/bandroomhq/settlement/internal"
)

// RecordPaymentDTO is the request payload for recording an off-platform payment.
type RecordPaymentDTO struct {
	PayerID     int64     `json:"payer_id"`
	AmountCents int64     `json:"amount_cents"`
	Method      string    `json:"method"`
	MethodOther string    `json:"method_other,omitempty"`
	PaymentDate time.Time `json:"payment_date"`
	Note        string    `json:"note,omitempty"`
}

func (dto RecordPaymentDTO) Validate() error {
	if dto.AmountCents <= 0 {
		return internal.NewValidationError("amount must be greater than 0", internal.ErrCodeInvalidAmount)
	}
	if dto.PayerID <= 0 {
		return internal.NewValidationError("payer is required", internal.ErrCodeValidationFailed)
	}
	switch dto.Method {
	case MethodBankTransfer, MethodCash, MethodPeerApp:
	case MethodOther:
		if dto.MethodOther == "" {
			return internal.NewValidationError("method description is required for other payment methods", internal.ErrCodeInvalidMethod)
		}
	default:
		return internal.NewValidationError("unknown payment method", internal.ErrCodeInvalidMethod)
	}
	if dto.PaymentDate.IsZero() {
		return internal.NewValidationError("payment date is required", internal.ErrCodeValidationFailed)
	}
	// Claims describe transfers that already happened.
	if dto.PaymentDate.After(time.Now()) {
		return internal.NewValidationError("payment date cannot be in the future", internal.ErrCodeValidationFailed)
	}
	return nil
}

// DisputePaymentDTO is the request payload for disputing a pending payment.
type DisputePaymentDTO struct {
	Reason string `json:"reason"`
}

func (dto DisputePaymentDTO) Validate() error {
	if dto.Reason == "" {
		return internal.NewValidationError("reason is required when disputing a payment", internal.ErrCodeMissingReason)
	}
	return nil
}

// ResolvePaymentDTO is the request payload for a governor resolving a dispute.
type ResolvePaymentDTO struct {
	Outcome string `json:"outcome"`
	Note    string `json:"note,omitempty"`
}

func (dto ResolvePaymentDTO) Validate() error {
	if dto.Outcome != OutcomeConfirmed && dto.Outcome != OutcomeRejected {
		return internal.NewValidationError("outcome must be either 'confirmed' or 'rejected'", internal.ErrCodeInvalidOutcome)
	}
	return nil
}
