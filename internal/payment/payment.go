package payment

import (
	"context"
	"time"
)

// Payment statuses. PENDING is the only non-terminal state a human can act
// on; DISPUTED can only be left through governor resolution.
const (
	StatusPending       = "pending"
	StatusConfirmed     = "confirmed"
	StatusAutoConfirmed = "auto_confirmed"
	StatusDisputed      = "disputed"
	StatusRejected      = "rejected"
)

// Roles the initiator of a record can act under.
const (
	InitiatorRoleMember    = "MEMBER"
	InitiatorRoleTreasurer = "TREASURER"
)

// Payment methods for off-platform transfers.
const (
	MethodBankTransfer = "bank_transfer"
	MethodCash         = "cash"
	MethodPeerApp      = "peer_app"
	MethodOther        = "other"
)

// Resolution outcomes a governor may choose for a disputed payment.
const (
	OutcomeConfirmed = "confirmed"
	OutcomeRejected  = "rejected"
)

// ManualPayment is a claim that money moved between a payer and the band
// outside the platform's rails. The engine records and attests the claim;
// it never touches funds. Amount is immutable after creation. The Version
// column is the compare-and-swap key for every status transition.
type ManualPayment struct {
	ID            int64     `json:"id" gorm:"primaryKey"`
	BandID        int64     `json:"band_id" gorm:"column:band_id;not null;index"`
	PayerID       int64     `json:"payer_id" gorm:"column:payer_id;not null"`
	AmountCents   int64     `json:"amount_cents" gorm:"column:amount_cents;not null"`
	Method        string    `json:"method" gorm:"column:method;not null"`
	MethodOther   string    `json:"method_other,omitempty" gorm:"column:method_other"`
	PaymentDate   time.Time `json:"payment_date" gorm:"column:payment_date;type:date"`
	Note          string    `json:"note,omitempty" gorm:"column:note"`
	InitiatorID   int64     `json:"initiator_id" gorm:"column:initiator_id;not null"`
	InitiatorRole string    `json:"initiator_role" gorm:"column:initiator_role;not null"`

	Status  string `json:"status" gorm:"column:status;default:pending;index"`
	Version int64  `json:"version" gorm:"column:version;default:1"`

	AutoConfirmAt *time.Time `json:"auto_confirm_at,omitempty" gorm:"column:auto_confirm_at;index"`

	ConfirmedBy *int64     `json:"confirmed_by,omitempty" gorm:"column:confirmed_by"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty" gorm:"column:confirmed_at"`

	DisputedBy    *int64     `json:"disputed_by,omitempty" gorm:"column:disputed_by"`
	DisputedAt    *time.Time `json:"disputed_at,omitempty" gorm:"column:disputed_at"`
	DisputeReason string     `json:"dispute_reason,omitempty" gorm:"column:dispute_reason"`

	ResolvedBy     *int64     `json:"resolved_by,omitempty" gorm:"column:resolved_by"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty" gorm:"column:resolved_at"`
	ResolutionNote string     `json:"resolution_note,omitempty" gorm:"column:resolution_note"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (ManualPayment) TableName() string {
	return "manual_payments"
}

func (p *ManualPayment) CanBeConfirmed() bool {
	return p.Status == StatusPending
}

func (p *ManualPayment) CanBeDisputed() bool {
	return p.Status == StatusPending
}

func (p *ManualPayment) CanBeResolved() bool {
	return p.Status == StatusDisputed
}

func (p *ManualPayment) IsTerminal() bool {
	switch p.Status {
	case StatusConfirmed, StatusAutoConfirmed, StatusRejected:
		return true
	}
	return false
}

// Repository defines the ledger-store access for manual payments. Every
// status transition goes through UpdateStatusCAS: the write only lands if
// the record still carries the expected status and version.
type Repository interface {
	Create(ctx context.Context, p *ManualPayment) error
	GetByID(ctx context.Context, id int64) (*ManualPayment, error)
	ListByBand(ctx context.Context, bandID int64, status string, limit, offset int) ([]*ManualPayment, error)
	// ListDueForAutoConfirm returns pending payments whose auto-confirm
	// deadline has passed as of now.
	ListDueForAutoConfirm(ctx context.Context, now time.Time, limit int) ([]*ManualPayment, error)
	// ListAwaitingCounterparty returns pending records that await action
	// from the given user: treasurer-initiated records where the user is
	// the payer, plus member-initiated records in bands where the user is
	// a treasurer (excluding the user's own records).
	ListAwaitingCounterparty(ctx context.Context, userID int64, treasurerBands []int64) ([]*ManualPayment, error)
	// UpdateStatusCAS applies updates only if the record still has the
	// given status and version; it reports whether the write won.
	UpdateStatusCAS(ctx context.Context, id int64, fromStatus string, version int64, updates map[string]interface{}) (bool, error)
}
