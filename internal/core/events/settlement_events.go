package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentPendingConfirmation = "payment.pending_confirmation"
	EventTypePaymentDisputed            = "payment.disputed"
	EventTypePaymentResolved            = "payment.resolved"
	EventTypeDonationDue                = "donation.due"
	EventTypeDonationMissed             = "donation.missed"
	EventTypeRecurringAutoCancelled     = "recurring.auto_cancelled"
)

// AllSettlementEventTypes lists every event the engine emits, in one place
// so subscribers like the webhook notifier can register for the full set.
var AllSettlementEventTypes = []string{
	EventTypePaymentPendingConfirmation,
	EventTypePaymentDisputed,
	EventTypePaymentResolved,
	EventTypeDonationDue,
	EventTypeDonationMissed,
	EventTypeRecurringAutoCancelled,
}

type PaymentPendingConfirmationEvent struct {
	BaseEvent
	PaymentID     int64  `json:"payment_id"`
	BandID        int64  `json:"band_id"`
	PayerID       int64  `json:"payer_id"`
	AmountCents   int64  `json:"amount_cents"`
	InitiatorRole string `json:"initiator_role"`
}

func NewPaymentPendingConfirmationEvent(paymentID, bandID, payerID, amountCents int64, initiatorRole string) *PaymentPendingConfirmationEvent {
	return &PaymentPendingConfirmationEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentPendingConfirmation,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id":     paymentID,
				"band_id":        bandID,
				"payer_id":       payerID,
				"amount_cents":   amountCents,
				"initiator_role": initiatorRole,
			},
		},
		PaymentID:     paymentID,
		BandID:        bandID,
		PayerID:       payerID,
		AmountCents:   amountCents,
		InitiatorRole: initiatorRole,
	}
}

type PaymentDisputedEvent struct {
	BaseEvent
	PaymentID  int64  `json:"payment_id"`
	BandID     int64  `json:"band_id"`
	DisputedBy int64  `json:"disputed_by"`
	Reason     string `json:"reason"`
}

func NewPaymentDisputedEvent(paymentID, bandID, disputedBy int64, reason string) *PaymentDisputedEvent {
	return &PaymentDisputedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentDisputed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id":  paymentID,
				"band_id":     bandID,
				"disputed_by": disputedBy,
				"reason":      reason,
			},
		},
		PaymentID:  paymentID,
		BandID:     bandID,
		DisputedBy: disputedBy,
		Reason:     reason,
	}
}

type PaymentResolvedEvent struct {
	BaseEvent
	PaymentID  int64  `json:"payment_id"`
	BandID     int64  `json:"band_id"`
	ResolvedBy int64  `json:"resolved_by"`
	Outcome    string `json:"outcome"`
}

func NewPaymentResolvedEvent(paymentID, bandID, resolvedBy int64, outcome string) *PaymentResolvedEvent {
	return &PaymentResolvedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentResolved,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id":  paymentID,
				"band_id":     bandID,
				"resolved_by": resolvedBy,
				"outcome":     outcome,
			},
		},
		PaymentID:  paymentID,
		BandID:     bandID,
		ResolvedBy: resolvedBy,
		Outcome:    outcome,
	}
}

type DonationDueEvent struct {
	BaseEvent
	DonationID  int64     `json:"donation_id"`
	RecurringID int64     `json:"recurring_id"`
	BandID      int64     `json:"band_id"`
	DonorID     int64     `json:"donor_id"`
	AmountCents int64     `json:"amount_cents"`
	DueDate     time.Time `json:"due_date"`
}

func NewDonationDueEvent(donationID, recurringID, bandID, donorID, amountCents int64, dueDate time.Time) *DonationDueEvent {
	return &DonationDueEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeDonationDue,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"donation_id":  donationID,
				"recurring_id": recurringID,
				"band_id":      bandID,
				"donor_id":     donorID,
				"amount_cents": amountCents,
				"due_date":     dueDate,
			},
		},
		DonationID:  donationID,
		RecurringID: recurringID,
		BandID:      bandID,
		DonorID:     donorID,
		AmountCents: amountCents,
		DueDate:     dueDate,
	}
}

type DonationMissedEvent struct {
	BaseEvent
	DonationID        int64 `json:"donation_id"`
	RecurringID       int64 `json:"recurring_id"`
	BandID            int64 `json:"band_id"`
	DonorID           int64 `json:"donor_id"`
	ConsecutiveMissed int   `json:"consecutive_missed"`
}

func NewDonationMissedEvent(donationID, recurringID, bandID, donorID int64, consecutiveMissed int) *DonationMissedEvent {
	return &DonationMissedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeDonationMissed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"donation_id":        donationID,
				"recurring_id":       recurringID,
				"band_id":            bandID,
				"donor_id":           donorID,
				"consecutive_missed": consecutiveMissed,
			},
		},
		DonationID:        donationID,
		RecurringID:       recurringID,
		BandID:            bandID,
		DonorID:           donorID,
		ConsecutiveMissed: consecutiveMissed,
	}
}

type RecurringAutoCancelledEvent struct {
	BaseEvent
	RecurringID int64 `json:"recurring_id"`
	BandID      int64 `json:"band_id"`
	DonorID     int64 `json:"donor_id"`
	MissedCount int   `json:"missed_count"`
}

func NewRecurringAutoCancelledEvent(recurringID, bandID, donorID int64, missedCount int) *RecurringAutoCancelledEvent {
	return &RecurringAutoCancelledEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeRecurringAutoCancelled,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"recurring_id": recurringID,
				"band_id":      bandID,
				"donor_id":     donorID,
				"missed_count": missedCount,
			},
		},
		RecurringID: recurringID,
		BandID:      bandID,
		DonorID:     donorID,
		MissedCount: missedCount,
	}
}
