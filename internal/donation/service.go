package donation

import (
	"context"
	"log/slog"
	"time"

	"github.com/bandroomhq/settlement/internal"
	"github.com/bandroomhq/settlement/internal/band"
	"github.com/bandroomhq/settlement/internal/core/events"
)

// EventPublisher is the slice of the event bus the service needs.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// Service owns the donation installment lifecycle and the recurring
// commitment transitions. The scheduler hands it an explicit time on every
// tick so behavior stays deterministic under test.
type Service struct {
	repo            Repository
	directory       band.Directory
	publisher       EventPublisher
	logger          *slog.Logger
	submissionGrace time.Duration
	missedThreshold int
}

func NewService(repo Repository, directory band.Directory, publisher EventPublisher, logger *slog.Logger, submissionGrace time.Duration, missedThreshold int) *Service {
	return &Service{
		repo:            repo,
		directory:       directory,
		publisher:       publisher,
		logger:          logger,
		submissionGrace: submissionGrace,
		missedThreshold: missedThreshold,
	}
}

// CreateRecurring opens a standing commitment. The first installment falls
// due one cadence unit after creation.
func (s *Service) CreateRecurring(ctx context.Context, bandID, donorID int64, dto CreateRecurringDTO) (*RecurringDonation, error) {
	if err := dto.Validate(); err != nil {
		s.logger.Error("recurring donation validation failed", "error", err, "band_id", bandID, "donor_id", donorID)
		return nil, err
	}

	now := time.Now()
	rd := &RecurringDonation{
		BandID:      bandID,
		DonorID:     donorID,
		AmountCents: dto.AmountCents,
		Cadence:     dto.Cadence,
		Method:      dto.Method,
		Status:      RecurringStatusActive,
		Version:     1,
		NextDueDate: NextCadenceDate(dto.Cadence, now),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.CreateRecurring(ctx, rd); err != nil {
		s.logger.Error("failed to create recurring donation", "error", err, "band_id", bandID, "donor_id", donorID)
		return nil, internal.NewInternalError("failed to create recurring donation", err)
	}

	s.logger.Info("recurring donation created",
		"recurring_id", rd.ID,
		"band_id", bandID,
		"donor_id", donorID,
		"amount_cents", dto.AmountCents,
		"cadence", dto.Cadence)

	return rd, nil
}

// PauseRecurring stops installment generation without touching the
// consecutive-miss count.
func (s *Service) PauseRecurring(ctx context.Context, bandID, recurringID, actorID int64) (*RecurringDonation, error) {
	rd, err := s.getBandRecurring(ctx, bandID, recurringID)
	if err != nil {
		return nil, err
	}
	if rd.DonorID != actorID {
		return nil, internal.ErrNotDonor
	}
	if !rd.CanBePaused() {
		s.logger.Warn("cannot pause recurring donation in current status", "recurring_id", recurringID, "status", rd.Status)
		return nil, internal.ErrStateConflict
	}

	won, err := s.repo.UpdateRecurringCAS(ctx, rd.ID, RecurringStatusActive, rd.Version, map[string]interface{}{
		"status": RecurringStatusPaused,
	})
	if err != nil {
		return nil, internal.NewInternalError("failed to pause recurring donation", err)
	}
	if !won {
		return nil, internal.ErrStateConflict
	}

	s.logger.Info("recurring donation paused", "recurring_id", recurringID, "donor_id", actorID)
	return s.repo.GetRecurringByID(ctx, rd.ID)
}

// ResumeRecurring reactivates a paused commitment. The next due date is
// recomputed forward from now so the donor is never billed for the pause.
func (s *Service) ResumeRecurring(ctx context.Context, bandID, recurringID, actorID int64) (*RecurringDonation, error) {
	rd, err := s.getBandRecurring(ctx, bandID, recurringID)
	if err != nil {
		return nil, err
	}
	if rd.DonorID != actorID {
		return nil, internal.ErrNotDonor
	}
	if !rd.CanBeResumed() {
		s.logger.Warn("cannot resume recurring donation in current status", "recurring_id", recurringID, "status", rd.Status)
		return nil, internal.ErrStateConflict
	}

	won, err := s.repo.UpdateRecurringCAS(ctx, rd.ID, RecurringStatusPaused, rd.Version, map[string]interface{}{
		"status":        RecurringStatusActive,
		"next_due_date": NextCadenceDate(rd.Cadence, time.Now()),
	})
	if err != nil {
		return nil, internal.NewInternalError("failed to resume recurring donation", err)
	}
	if !won {
		return nil, internal.ErrStateConflict
	}

	s.logger.Info("recurring donation resumed", "recurring_id", recurringID, "donor_id", actorID)
	return s.repo.GetRecurringByID(ctx, rd.ID)
}

// CancelRecurring ends the commitment and cancels any outstanding
// installments still awaiting action.
func (s *Service) CancelRecurring(ctx context.Context, bandID, recurringID, actorID int64) (*RecurringDonation, error) {
	rd, err := s.getBandRecurring(ctx, bandID, recurringID)
	if err != nil {
		return nil, err
	}
	if rd.DonorID != actorID {
		return nil, internal.ErrNotDonor
	}
	if !rd.CanBeCancelled() {
		s.logger.Warn("cannot cancel recurring donation in current status", "recurring_id", recurringID, "status", rd.Status)
		return nil, internal.ErrStateConflict
	}

	won, err := s.repo.UpdateRecurringCAS(ctx, rd.ID, rd.Status, rd.Version, map[string]interface{}{
		"status": RecurringStatusCancelled,
	})
	if err != nil {
		return nil, internal.NewInternalError("failed to cancel recurring donation", err)
	}
	if !won {
		return nil, internal.ErrStateConflict
	}

	if err := s.repo.CancelOutstanding(ctx, rd.ID); err != nil {
		s.logger.Error("failed to cancel outstanding installments", "error", err, "recurring_id", rd.ID)
	}

	s.logger.Info("recurring donation cancelled", "recurring_id", recurringID, "donor_id", actorID)
	return s.repo.GetRecurringByID(ctx, rd.ID)
}

// CreateAdHoc records a one-off donation, starting directly at PENDING with
// the donor's attestation attached.
func (s *Service) CreateAdHoc(ctx context.Context, bandID, donorID int64, dto CreateDonationDTO) (*Donation, error) {
	if err := dto.Validate(); err != nil {
		s.logger.Error("donation validation failed", "error", err, "band_id", bandID, "donor_id", donorID)
		return nil, err
	}

	now := time.Now()
	d := &Donation{
		BandID:          bandID,
		DonorID:         donorID,
		AmountCents:     dto.AmountCents,
		Method:          dto.Method,
		ReferenceNumber: dto.ReferenceNumber,
		DonorNote:       dto.DonorNote,
		Status:          StatusPending,
		Version:         1,
		ExpectedDate:    now,
		SubmittedAt:     &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.Create(ctx, d); err != nil {
		s.logger.Error("failed to create donation", "error", err, "band_id", bandID, "donor_id", donorID)
		return nil, internal.NewInternalError("failed to create donation", err)
	}

	s.logger.Info("ad hoc donation created",
		"donation_id", d.ID,
		"band_id", bandID,
		"donor_id", donorID,
		"amount_cents", dto.AmountCents)

	return d, nil
}

// SubmitPayment is the donor's attestation that an expected installment was
// paid off-platform.
func (s *Service) SubmitPayment(ctx context.Context, bandID, donationID, actorID int64, dto SubmitDonationDTO) (*Donation, error) {
	d, err := s.getBandDonation(ctx, bandID, donationID)
	if err != nil {
		return nil, err
	}
	if d.DonorID != actorID {
		s.logger.Warn("submit denied: actor is not donor of record", "donation_id", donationID, "actor_id", actorID)
		return nil, internal.ErrNotDonor
	}
	if !d.CanBeSubmitted() {
		s.logger.Warn("cannot submit donation in current status", "donation_id", donationID, "status", d.Status)
		return nil, internal.ErrStateConflict
	}

	now := time.Now()
	won, err := s.repo.UpdateStatusCAS(ctx, d.ID, StatusExpected, d.Version, map[string]interface{}{
		"status":           StatusPending,
		"submitted_at":     now,
		"reference_number": dto.ReferenceNumber,
		"donor_note":       dto.DonorNote,
	})
	if err != nil {
		return nil, internal.NewInternalError("failed to submit donation", err)
	}
	if !won {
		return nil, internal.ErrStateConflict
	}

	s.logger.Info("donation payment submitted", "donation_id", donationID, "donor_id", actorID)
	return s.repo.GetByID(ctx, d.ID)
}

// ConfirmDonation is the treasurer's attestation that the money arrived.
// Confirming any installment of a recurring commitment resets its
// consecutive-miss count.
func (s *Service) ConfirmDonation(ctx context.Context, bandID, donationID, actorID int64, dto ConfirmDonationDTO) (*Donation, error) {
	if err := s.requireTreasurer(ctx, bandID, actorID); err != nil {
		return nil, err
	}

	d, err := s.getBandDonation(ctx, bandID, donationID)
	if err != nil {
		return nil, err
	}
	if !d.CanBeConfirmed() {
		s.logger.Warn("cannot confirm donation in current status", "donation_id", donationID, "status", d.Status)
		return nil, internal.ErrStateConflict
	}

	now := time.Now()
	won, err := s.repo.UpdateStatusCAS(ctx, d.ID, StatusPending, d.Version, map[string]interface{}{
		"status":       StatusConfirmed,
		"confirmed_by": actorID,
		"confirmed_at": now,
		"confirm_note": dto.Note,
	})
	if err != nil {
		return nil, internal.NewInternalError("failed to confirm donation", err)
	}
	if !won {
		return nil, internal.ErrStateConflict
	}

	if d.RecurringDonationID != nil {
		if err := s.repo.ResetMissCount(ctx, *d.RecurringDonationID); err != nil {
			s.logger.Error("failed to reset miss count", "error", err, "recurring_id", *d.RecurringDonationID)
		}
	}

	s.logger.Info("donation confirmed", "donation_id", donationID, "confirmed_by", actorID)
	return s.repo.GetByID(ctx, d.ID)
}

// RejectDonation records the treasurer's rejection with a mandatory reason.
func (s *Service) RejectDonation(ctx context.Context, bandID, donationID, actorID int64, dto RejectDonationDTO) (*Donation, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}
	if err := s.requireTreasurer(ctx, bandID, actorID); err != nil {
		return nil, err
	}

	d, err := s.getBandDonation(ctx, bandID, donationID)
	if err != nil {
		return nil, err
	}
	if !d.CanBeRejected() {
		s.logger.Warn("cannot reject donation in current status", "donation_id", donationID, "status", d.Status)
		return nil, internal.ErrStateConflict
	}

	now := time.Now()
	won, err := s.repo.UpdateStatusCAS(ctx, d.ID, StatusPending, d.Version, map[string]interface{}{
		"status":        StatusRejected,
		"rejected_by":   actorID,
		"rejected_at":   now,
		"reject_reason": dto.Reason,
	})
	if err != nil {
		return nil, internal.NewInternalError("failed to reject donation", err)
	}
	if !won {
		return nil, internal.ErrStateConflict
	}

	s.logger.Info("donation rejected", "donation_id", donationID, "rejected_by", actorID, "reason", dto.Reason)
	return s.repo.GetByID(ctx, d.ID)
}

func (s *Service) ListDonations(ctx context.Context, bandID int64, status string, limit, offset int) ([]*Donation, error) {
	donations, err := s.repo.ListByBand(ctx, bandID, status, limit, offset)
	if err != nil {
		s.logger.Error("failed to list donations", "error", err, "band_id", bandID)
		return nil, internal.NewInternalError("failed to list donations", err)
	}
	return donations, nil
}

// DonorSummary aggregates one donor's total confirmed giving, active
// commitments and upcoming due installments.
func (s *Service) DonorSummary(ctx context.Context, donorID int64) (*DonorSummary, error) {
	summary, err := s.repo.SummaryForDonor(ctx, donorID)
	if err != nil {
		s.logger.Error("failed to build donor summary", "error", err, "donor_id", donorID)
		return nil, internal.NewInternalError("failed to build donor summary", err)
	}
	return summary, nil
}

// GenerateInstallments materializes one EXPECTED installment per due active
// commitment, dated at the commitment's due date, then advances the due
// date by one cadence unit. Uniqueness on (recurring, dueDate) makes the
// step idempotent across overlapping scheduler runs.
func (s *Service) GenerateInstallments(ctx context.Context, today time.Time) (int, error) {
	due, err := s.repo.ListDueRecurring(ctx, today, scheduleBatchSize)
	if err != nil {
		s.logger.Error("failed to list due recurring donations", "error", err)
		return 0, err
	}

	generated := 0
	for _, rd := range due {
		nextDue := rd.NextDueDate
		// A commitment that sat unprocessed for several cadences catches up
		// one installment per due date.
		for i := 0; i < maxCatchupInstallments && !nextDue.After(today); i++ {
			recurringID := rd.ID
			now := time.Now()
			d := &Donation{
				BandID:              rd.BandID,
				DonorID:             rd.DonorID,
				RecurringDonationID: &recurringID,
				AmountCents:         rd.AmountCents,
				Method:              rd.Method,
				Status:              StatusExpected,
				Version:             1,
				ExpectedDate:        nextDue,
				CreatedAt:           now,
				UpdatedAt:           now,
			}

			created, err := s.repo.CreateInstallment(ctx, d)
			if err != nil {
				s.logger.Error("failed to create installment", "error", err, "recurring_id", rd.ID, "due_date", nextDue)
				break
			}
			if created {
				generated++
				s.logger.Info("installment generated",
					"donation_id", d.ID,
					"recurring_id", rd.ID,
					"due_date", nextDue)
				if err := s.publisher.Publish(ctx, events.NewDonationDueEvent(d.ID, rd.ID, rd.BandID, rd.DonorID, rd.AmountCents, nextDue)); err != nil {
					s.logger.Error("failed to publish donation due event", "error", err, "donation_id", d.ID)
				}
			}

			nextDue = NextCadenceDate(rd.Cadence, nextDue)
			if err := s.repo.AdvanceNextDue(ctx, rd.ID, nextDue); err != nil {
				s.logger.Error("failed to advance next due date", "error", err, "recurring_id", rd.ID)
				break
			}
		}
	}

	return generated, nil
}

// MarkMissedInstallments transitions expected installments past their
// submission deadline to MISSED, counts consecutive misses on the parent
// commitment, and auto-cancels an active commitment at the threshold.
func (s *Service) MarkMissedInstallments(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.submissionGrace)
	overdue, err := s.repo.ListOverdueExpected(ctx, cutoff, scheduleBatchSize)
	if err != nil {
		s.logger.Error("failed to list overdue installments", "error", err)
		return 0, err
	}

	missed := 0
	for _, d := range overdue {
		won, err := s.repo.UpdateStatusCAS(ctx, d.ID, StatusExpected, d.Version, map[string]interface{}{
			"status": StatusMissed,
		})
		if err != nil {
			s.logger.Error("failed to mark installment missed", "error", err, "donation_id", d.ID)
			continue
		}
		if !won {
			// Submitted or cancelled between the read and the write.
			continue
		}
		missed++

		if d.RecurringDonationID == nil {
			continue
		}
		recurringID := *d.RecurringDonationID

		count, err := s.repo.IncrementMissCount(ctx, recurringID)
		if err != nil {
			s.logger.Error("failed to increment miss count", "error", err, "recurring_id", recurringID)
			continue
		}

		s.logger.Info("installment missed",
			"donation_id", d.ID,
			"recurring_id", recurringID,
			"consecutive_missed", count)

		if err := s.publisher.Publish(ctx, events.NewDonationMissedEvent(d.ID, recurringID, d.BandID, d.DonorID, count)); err != nil {
			s.logger.Error("failed to publish donation missed event", "error", err, "donation_id", d.ID)
		}

		if count >= s.missedThreshold {
			s.autoCancel(ctx, recurringID, count)
		}
	}

	return missed, nil
}

func (s *Service) autoCancel(ctx context.Context, recurringID int64, missedCount int) {
	rd, err := s.repo.GetRecurringByID(ctx, recurringID)
	if err != nil {
		s.logger.Error("failed to load recurring donation for auto-cancel", "error", err, "recurring_id", recurringID)
		return
	}
	if rd.Status != RecurringStatusActive {
		return
	}

	won, err := s.repo.UpdateRecurringCAS(ctx, rd.ID, RecurringStatusActive, rd.Version, map[string]interface{}{
		"status": RecurringStatusAutoCancelled,
	})
	if err != nil {
		s.logger.Error("failed to auto-cancel recurring donation", "error", err, "recurring_id", recurringID)
		return
	}
	if !won {
		return
	}

	if err := s.repo.CancelOutstanding(ctx, rd.ID); err != nil {
		s.logger.Error("failed to cancel outstanding installments", "error", err, "recurring_id", rd.ID)
	}

	s.logger.Info("recurring donation auto-cancelled",
		"recurring_id", rd.ID,
		"missed_count", missedCount)

	if err := s.publisher.Publish(ctx, events.NewRecurringAutoCancelledEvent(rd.ID, rd.BandID, rd.DonorID, missedCount)); err != nil {
		s.logger.Error("failed to publish auto-cancel event", "error", err, "recurring_id", rd.ID)
	}
}

const (
	scheduleBatchSize      = 500
	maxCatchupInstallments = 12
)

func (s *Service) requireTreasurer(ctx context.Context, bandID, actorID int64) error {
	isTreasurer, err := s.directory.HasRole(ctx, bandID, actorID, band.RoleTreasurer)
	if err != nil {
		return internal.NewInternalError("failed to verify role", err)
	}
	if !isTreasurer {
		return internal.ErrTreasurerRequired
	}
	return nil
}

func (s *Service) getBandDonation(ctx context.Context, bandID, donationID int64) (*Donation, error) {
	d, err := s.repo.GetByID(ctx, donationID)
	if err != nil {
		s.logger.Error("donation not found", "error", err, "donation_id", donationID)
		return nil, internal.ErrDonationNotFound
	}
	if d.BandID != bandID {
		return nil, internal.ErrDonationNotFound
	}
	return d, nil
}

func (s *Service) getBandRecurring(ctx context.Context, bandID, recurringID int64) (*RecurringDonation, error) {
	rd, err := s.repo.GetRecurringByID(ctx, recurringID)
	if err != nil {
		s.logger.Error("recurring donation not found", "error", err, "recurring_id", recurringID)
		return nil, internal.ErrRecurringNotFound
	}
	if rd.BandID != bandID {
		return nil, internal.ErrRecurringNotFound
	}
	return rd, nil
}
