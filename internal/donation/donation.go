package donation

import (
	"context"
	"time"
)

// Donation statuses. EXPECTED only exists for scheduler-generated
// installments; ad hoc donations start at PENDING.
const (
	StatusExpected  = "expected"
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusMissed    = "missed"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
)

// Donation is one installment, either ad hoc or materialized from a
// recurring commitment. Installments inherit amount and method from the
// commitment at generation time; later edits to the commitment never
// retroactively change them. Version is the compare-and-swap key for
// status transitions.
type Donation struct {
	ID                  int64  `json:"id" gorm:"primaryKey"`
	BandID              int64  `json:"band_id" gorm:"column:band_id;not null;index"`
	DonorID             int64  `json:"donor_id" gorm:"column:donor_id;not null;index"`
	RecurringDonationID *int64 `json:"recurring_donation_id,omitempty" gorm:"column:recurring_donation_id;uniqueIndex:idx_recurring_due"`
	AmountCents         int64  `json:"amount_cents" gorm:"column:amount_cents;not null"`
	Method              string `json:"method" gorm:"column:method;not null"`
	ReferenceNumber     string `json:"reference_number,omitempty" gorm:"column:reference_number"`
	DonorNote           string `json:"donor_note,omitempty" gorm:"column:donor_note"`

	Status  string `json:"status" gorm:"column:status;index"`
	Version int64  `json:"version" gorm:"column:version;default:1"`

	// ExpectedDate doubles as the due-date half of the uniqueness key that
	// keeps installment generation idempotent per (recurring, dueDate).
	ExpectedDate time.Time `json:"expected_date" gorm:"column:expected_date;type:date;uniqueIndex:idx_recurring_due"`

	SubmittedAt *time.Time `json:"submitted_at,omitempty" gorm:"column:submitted_at"`

	ConfirmedBy *int64     `json:"confirmed_by,omitempty" gorm:"column:confirmed_by"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty" gorm:"column:confirmed_at"`
	ConfirmNote string     `json:"confirm_note,omitempty" gorm:"column:confirm_note"`

	RejectedBy   *int64     `json:"rejected_by,omitempty" gorm:"column:rejected_by"`
	RejectedAt   *time.Time `json:"rejected_at,omitempty" gorm:"column:rejected_at"`
	RejectReason string     `json:"reject_reason,omitempty" gorm:"column:reject_reason"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (Donation) TableName() string {
	return "donations"
}

func (d *Donation) CanBeSubmitted() bool {
	return d.Status == StatusExpected
}

func (d *Donation) CanBeConfirmed() bool {
	return d.Status == StatusPending
}

func (d *Donation) CanBeRejected() bool {
	return d.Status == StatusPending
}

func (d *Donation) IsTerminal() bool {
	switch d.Status {
	case StatusConfirmed, StatusRejected, StatusMissed, StatusCancelled:
		return true
	}
	return false
}

// DonorSummary is the aggregate view of one donor's giving.
type DonorSummary struct {
	TotalConfirmedCents int64                `json:"total_confirmed_cents"`
	ActiveRecurring     []*RecurringDonation `json:"active_recurring"`
	UpcomingDue         []*Donation          `json:"upcoming_due"`
}

// Repository defines ledger-store access for donations and recurring
// commitments. Status transitions go through the CAS methods; installment
// creation relies on the (recurring_donation_id, expected_date) uniqueness
// constraint instead of check-then-insert.
type Repository interface {
	Create(ctx context.Context, d *Donation) error
	GetByID(ctx context.Context, id int64) (*Donation, error)
	ListByBand(ctx context.Context, bandID int64, status string, limit, offset int) ([]*Donation, error)
	// CreateInstallment inserts a generated installment, reporting false
	// without error when one already exists for the same (recurring, dueDate).
	CreateInstallment(ctx context.Context, d *Donation) (bool, error)
	// ListOverdueExpected returns expected installments whose submission
	// deadline has passed as of the given cutoff.
	ListOverdueExpected(ctx context.Context, cutoff time.Time, limit int) ([]*Donation, error)
	// CancelOutstanding cancels all expected or pending installments of a
	// recurring commitment.
	CancelOutstanding(ctx context.Context, recurringID int64) error
	UpdateStatusCAS(ctx context.Context, id int64, fromStatus string, version int64, updates map[string]interface{}) (bool, error)

	CreateRecurring(ctx context.Context, rd *RecurringDonation) error
	GetRecurringByID(ctx context.Context, id int64) (*RecurringDonation, error)
	// ListDueRecurring returns active commitments whose next due date is on
	// or before the given day.
	ListDueRecurring(ctx context.Context, today time.Time, limit int) ([]*RecurringDonation, error)
	UpdateRecurringCAS(ctx context.Context, id int64, fromStatus string, version int64, updates map[string]interface{}) (bool, error)
	// IncrementMissCount bumps the consecutive-miss counter and returns the
	// new value.
	IncrementMissCount(ctx context.Context, recurringID int64) (int, error)
	ResetMissCount(ctx context.Context, recurringID int64) error
	AdvanceNextDue(ctx context.Context, recurringID int64, next time.Time) error

	SummaryForDonor(ctx context.Context, donorID int64) (*DonorSummary, error)
}
