package donation

import (
	"time"
)

// Recurring donation statuses.
const (
	RecurringStatusActive        = "active"
	RecurringStatusPaused        = "paused"
	RecurringStatusCancelled     = "cancelled"
	RecurringStatusAutoCancelled = "auto_cancelled"
)

// Cadences a commitment can run on.
const (
	CadenceWeekly    = "weekly"
	CadenceBiweekly  = "biweekly"
	CadenceMonthly   = "monthly"
	CadenceQuarterly = "quarterly"
)

// RecurringDonation is a standing commitment by a donor to give a fixed
// amount on a fixed cadence. Three consecutive missed installments while
// active force it to AUTO_CANCELLED and halt generation.
type RecurringDonation struct {
	ID          int64  `json:"id" gorm:"primaryKey"`
	BandID      int64  `json:"band_id" gorm:"column:band_id;not null;index"`
	DonorID     int64  `json:"donor_id" gorm:"column:donor_id;not null;index"`
	AmountCents int64  `json:"amount_cents" gorm:"column:amount_cents;not null"`
	Cadence     string `json:"cadence" gorm:"column:cadence;not null"`
	Method      string `json:"method" gorm:"column:method;not null"`

	Status  string `json:"status" gorm:"column:status;default:active;index"`
	Version int64  `json:"version" gorm:"column:version;default:1"`

	ConsecutiveMissed int       `json:"consecutive_missed" gorm:"column:consecutive_missed;default:0"`
	NextDueDate       time.Time `json:"next_due_date" gorm:"column:next_due_date;type:date"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (RecurringDonation) TableName() string {
	return "recurring_donations"
}

func (rd *RecurringDonation) CanBePaused() bool {
	return rd.Status == RecurringStatusActive
}

func (rd *RecurringDonation) CanBeResumed() bool {
	return rd.Status == RecurringStatusPaused
}

func (rd *RecurringDonation) CanBeCancelled() bool {
	return rd.Status == RecurringStatusActive || rd.Status == RecurringStatusPaused
}

func (rd *RecurringDonation) IsTerminal() bool {
	return rd.Status == RecurringStatusCancelled || rd.Status == RecurringStatusAutoCancelled
}

// NextCadenceDate advances a due date by one cadence unit.
func NextCadenceDate(cadence string, from time.Time) time.Time {
	switch cadence {
	case CadenceWeekly:
		return from.AddDate(0, 0, 7)
	case CadenceBiweekly:
		return from.AddDate(0, 0, 14)
	case CadenceQuarterly:
		return from.AddDate(0, 3, 0)
	default:
		return from.AddDate(0, 1, 0)
	}
}

func ValidCadence(cadence string) bool {
	switch cadence {
	case CadenceWeekly, CadenceBiweekly, CadenceMonthly, CadenceQuarterly:
		return true
	}
	return false
}
