package donation

import (
	"github.com/bandroomhq/settlement/internal"
	"github.com/bandroomhq/settlement/internal/payment"
)

// CreateRecurringDTO is the request payload for a donor opening a standing commitment.
type CreateRecurringDTO struct {
	AmountCents int64  `json:"amount_cents"`
	Cadence     string `json:"cadence"`
	Method      string `json:"method"`
}

func (dto CreateRecurringDTO) Validate() error {
	if dto.AmountCents <= 0 {
		return internal.NewValidationError("amount must be greater than 0", internal.ErrCodeInvalidAmount)
	}
	if !ValidCadence(dto.Cadence) {
		return internal.NewValidationError("cadence must be weekly, biweekly, monthly or quarterly", internal.ErrCodeInvalidCadence)
	}
	if !validMethod(dto.Method) {
		return internal.NewValidationError("unknown payment method", internal.ErrCodeInvalidMethod)
	}
	return nil
}

// CreateDonationDTO is the request payload for an ad hoc donation, which
// starts directly at pending.
type CreateDonationDTO struct {
	AmountCents     int64  `json:"amount_cents"`
	Method          string `json:"method"`
	ReferenceNumber string `json:"reference_number,omitempty"`
	DonorNote       string `json:"donor_note,omitempty"`
}

func (dto CreateDonationDTO) Validate() error {
	if dto.AmountCents <= 0 {
		return internal.NewValidationError("amount must be greater than 0", internal.ErrCodeInvalidAmount)
	}
	if !validMethod(dto.Method) {
		return internal.NewValidationError("unknown payment method", internal.ErrCodeInvalidMethod)
	}
	return nil
}

// SubmitDonationDTO carries the donor's attestation that an installment was paid.
type SubmitDonationDTO struct {
	ReferenceNumber string `json:"reference_number,omitempty"`
	DonorNote       string `json:"donor_note,omitempty"`
}

// ConfirmDonationDTO is the treasurer's confirmation payload.
type ConfirmDonationDTO struct {
	Note string `json:"note,omitempty"`
}

// RejectDonationDTO is the treasurer's rejection payload; a reason is mandatory.
type RejectDonationDTO struct {
	Reason string `json:"reason"`
}

func (dto RejectDonationDTO) Validate() error {
	if dto.Reason == "" {
		return internal.NewValidationError("reason is required when rejecting a donation", internal.ErrCodeMissingReason)
	}
	return nil
}

func validMethod(method string) bool {
	switch method {
	case payment.MethodBankTransfer, payment.MethodCash, payment.MethodPeerApp, payment.MethodOther:
		return true
	}
	return false
}
