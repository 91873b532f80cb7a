package payment

import (
	"context"
	"log/slog"
	"time"

	"github.com/bandroomhq/settlement/internal"
	"github.com/bandroomhq/settlement/internal/band"
	"github.com/bandroomhq/settlement/internal/core/events"
)

// EventPublisher is the slice of the event bus the service needs. Delivery
// failures never roll back a ledger transition.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// Service owns the manual-payment confirmation state machine.
type Service struct {
	repo              Repository
	directory         band.Directory
	publisher         EventPublisher
	logger            *slog.Logger
	autoConfirmWindow time.Duration
}

func NewService(repo Repository, directory band.Directory, publisher EventPublisher, logger *slog.Logger, autoConfirmWindow time.Duration) *Service {
	return &Service{
		repo:              repo,
		directory:         directory,
		publisher:         publisher,
		logger:            logger,
		autoConfirmWindow: autoConfirmWindow,
	}
}

// RecordPayment creates a PENDING record of an off-platform transfer. The
// initiator role is derived from the directory: a treasurer recording a
// payment for another member acts as TREASURER, everyone recording their own
// payment acts as MEMBER. Recording someone else's payment without the
// treasurer responsibility is forbidden.
func (s *Service) RecordPayment(ctx context.Context, bandID, initiatorID int64, dto RecordPaymentDTO) (*ManualPayment, error) {
	if err := dto.Validate(); err != nil {
		s.logger.Error("payment validation failed", "error", err, "band_id", bandID, "initiator_id", initiatorID)
		return nil, err
	}

	isMember, err := s.directory.IsActiveMember(ctx, bandID, dto.PayerID)
	if err != nil {
		s.logger.Error("membership lookup failed", "error", err, "band_id", bandID, "payer_id", dto.PayerID)
		return nil, internal.NewInternalError("failed to verify membership", err)
	}
	if !isMember {
		return nil, internal.ErrNotActiveMember
	}

	initiatorRole := InitiatorRoleMember
	if initiatorID != dto.PayerID {
		isTreasurer, err := s.directory.HasRole(ctx, bandID, initiatorID, band.RoleTreasurer)
		if err != nil {
			s.logger.Error("role lookup failed", "error", err, "band_id", bandID, "initiator_id", initiatorID)
			return nil, internal.NewInternalError("failed to verify role", err)
		}
		if !isTreasurer {
			return nil, internal.ErrTreasurerRequired
		}
		initiatorRole = InitiatorRoleTreasurer
	}

	now := time.Now()
	autoConfirmAt := now.Add(s.autoConfirmWindow)

	p := &ManualPayment{
		BandID:        bandID,
		PayerID:       dto.PayerID,
		AmountCents:   dto.AmountCents,
		Method:        dto.Method,
		MethodOther:   dto.MethodOther,
		PaymentDate:   dto.PaymentDate,
		Note:          dto.Note,
		InitiatorID:   initiatorID,
		InitiatorRole: initiatorRole,
		Status:        StatusPending,
		Version:       1,
		AutoConfirmAt: &autoConfirmAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.Create(ctx, p); err != nil {
		s.logger.Error("failed to create payment", "error", err, "band_id", bandID, "payer_id", dto.PayerID)
		return nil, internal.NewInternalError("failed to record payment", err)
	}

	s.logger.Info("payment recorded",
		"payment_id", p.ID,
		"band_id", bandID,
		"payer_id", dto.PayerID,
		"amount_cents", dto.AmountCents,
		"initiator_role", initiatorRole)

	if err := s.publisher.Publish(ctx, events.NewPaymentPendingConfirmationEvent(p.ID, bandID, p.PayerID, p.AmountCents, initiatorRole)); err != nil {
		s.logger.Error("failed to publish pending confirmation event", "error", err, "payment_id", p.ID)
	}

	return p, nil
}

// ConfirmPayment transitions a PENDING record to CONFIRMED on behalf of the
// counterparty. Losing the race against the sweeper or another confirmer
// surfaces as a conflict, never a silent overwrite.
func (s *Service) ConfirmPayment(ctx context.Context, bandID, paymentID, actorID int64) (*ManualPayment, error) {
	p, err := s.getBandPayment(ctx, bandID, paymentID)
	if err != nil {
		return nil, err
	}

	if !p.CanBeConfirmed() {
		s.logger.Warn("cannot confirm payment in current status",
			"payment_id", paymentID, "status", p.Status)
		if p.IsTerminal() {
			return nil, internal.ErrPaymentAlreadyResolved
		}
		return nil, internal.ErrStateConflict
	}

	facts, err := s.roleFacts(ctx, bandID, actorID)
	if err != nil {
		return nil, err
	}
	if err := CounterpartyPolicy(p, actorID, facts, ActionConfirm); err != nil {
		s.logger.Warn("confirm denied by counterparty policy",
			"payment_id", paymentID, "actor_id", actorID, "initiator_role", p.InitiatorRole)
		return nil, err
	}

	now := time.Now()
	won, err := s.repo.UpdateStatusCAS(ctx, p.ID, StatusPending, p.Version, map[string]interface{}{
		"status":       StatusConfirmed,
		"confirmed_by": actorID,
		"confirmed_at": now,
	})
	if err != nil {
		s.logger.Error("failed to confirm payment", "error", err, "payment_id", paymentID)
		return nil, internal.NewInternalError("failed to confirm payment", err)
	}
	if !won {
		s.logger.Warn("confirm lost transition race", "payment_id", paymentID, "actor_id", actorID)
		return nil, internal.ErrStateConflict
	}

	s.logger.Info("payment confirmed", "payment_id", paymentID, "confirmed_by", actorID)

	return s.repo.GetByID(ctx, p.ID)
}

// DisputePayment transitions a PENDING record to DISPUTED with a mandatory
// reason. The dispute stays open until a governor resolves it.
func (s *Service) DisputePayment(ctx context.Context, bandID, paymentID, actorID int64, dto DisputePaymentDTO) (*ManualPayment, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	p, err := s.getBandPayment(ctx, bandID, paymentID)
	if err != nil {
		return nil, err
	}

	if !p.CanBeDisputed() {
		s.logger.Warn("cannot dispute payment in current status",
			"payment_id", paymentID, "status", p.Status)
		if p.IsTerminal() {
			return nil, internal.ErrPaymentAlreadyResolved
		}
		return nil, internal.ErrStateConflict
	}

	facts, err := s.roleFacts(ctx, bandID, actorID)
	if err != nil {
		return nil, err
	}
	if err := CounterpartyPolicy(p, actorID, facts, ActionDispute); err != nil {
		s.logger.Warn("dispute denied by counterparty policy",
			"payment_id", paymentID, "actor_id", actorID, "initiator_role", p.InitiatorRole)
		return nil, err
	}

	now := time.Now()
	won, err := s.repo.UpdateStatusCAS(ctx, p.ID, StatusPending, p.Version, map[string]interface{}{
		"status":         StatusDisputed,
		"disputed_by":    actorID,
		"disputed_at":    now,
		"dispute_reason": dto.Reason,
	})
	if err != nil {
		s.logger.Error("failed to dispute payment", "error", err, "payment_id", paymentID)
		return nil, internal.NewInternalError("failed to dispute payment", err)
	}
	if !won {
		s.logger.Warn("dispute lost transition race", "payment_id", paymentID, "actor_id", actorID)
		return nil, internal.ErrStateConflict
	}

	s.logger.Info("payment disputed", "payment_id", paymentID, "disputed_by", actorID, "reason", dto.Reason)

	if err := s.publisher.Publish(ctx, events.NewPaymentDisputedEvent(p.ID, bandID, actorID, dto.Reason)); err != nil {
		s.logger.Error("failed to publish disputed event", "error", err, "payment_id", p.ID)
	}

	return s.repo.GetByID(ctx, p.ID)
}

// ResolvePayment closes a DISPUTED record with the governor's chosen
// outcome. It is the only way out of the disputed state.
func (s *Service) ResolvePayment(ctx context.Context, bandID, paymentID, governorID int64, dto ResolvePaymentDTO) (*ManualPayment, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	p, err := s.getBandPayment(ctx, bandID, paymentID)
	if err != nil {
		return nil, err
	}

	if !p.CanBeResolved() {
		s.logger.Warn("cannot resolve payment in current status",
			"payment_id", paymentID, "status", p.Status)
		if p.IsTerminal() {
			return nil, internal.ErrPaymentAlreadyResolved
		}
		return nil, internal.ErrStateConflict
	}

	facts, err := s.roleFacts(ctx, bandID, governorID)
	if err != nil {
		return nil, err
	}
	if err := CounterpartyPolicy(p, governorID, facts, ActionResolve); err != nil {
		s.logger.Warn("resolve denied: governance role required",
			"payment_id", paymentID, "actor_id", governorID)
		return nil, err
	}

	status := StatusConfirmed
	if dto.Outcome == OutcomeRejected {
		status = StatusRejected
	}

	now := time.Now()
	won, err := s.repo.UpdateStatusCAS(ctx, p.ID, StatusDisputed, p.Version, map[string]interface{}{
		"status":          status,
		"resolved_by":     governorID,
		"resolved_at":     now,
		"resolution_note": dto.Note,
	})
	if err != nil {
		s.logger.Error("failed to resolve payment", "error", err, "payment_id", paymentID)
		return nil, internal.NewInternalError("failed to resolve payment", err)
	}
	if !won {
		s.logger.Warn("resolve lost transition race", "payment_id", paymentID, "actor_id", governorID)
		return nil, internal.ErrStateConflict
	}

	s.logger.Info("payment resolved",
		"payment_id", paymentID,
		"resolved_by", governorID,
		"outcome", dto.Outcome)

	if err := s.publisher.Publish(ctx, events.NewPaymentResolvedEvent(p.ID, bandID, governorID, dto.Outcome)); err != nil {
		s.logger.Error("failed to publish resolved event", "error", err, "payment_id", p.ID)
	}

	return s.repo.GetByID(ctx, p.ID)
}

// SweepAutoConfirm transitions every pending payment past its auto-confirm
// deadline to AUTO_CONFIRMED. A record that a human confirmed or disputed
// between the read and the write simply loses the CAS and is skipped; one
// bad record never blocks the batch. Returns the number of records swept.
func (s *Service) SweepAutoConfirm(ctx context.Context, now time.Time) (int, error) {
	due, err := s.repo.ListDueForAutoConfirm(ctx, now, sweepBatchSize)
	if err != nil {
		s.logger.Error("failed to list payments due for auto-confirm", "error", err)
		return 0, err
	}

	swept := 0
	for _, p := range due {
		won, err := s.repo.UpdateStatusCAS(ctx, p.ID, StatusPending, p.Version, map[string]interface{}{
			"status":       StatusAutoConfirmed,
			"confirmed_at": now,
		})
		if err != nil {
			s.logger.Error("auto-confirm write failed", "error", err, "payment_id", p.ID)
			continue
		}
		if !won {
			s.logger.Info("auto-confirm skipped, record transitioned concurrently", "payment_id", p.ID)
			continue
		}
		swept++
		s.logger.Info("payment auto-confirmed", "payment_id", p.ID, "deadline", p.AutoConfirmAt)
	}

	return swept, nil
}

const sweepBatchSize = 500

// GetPayment fetches a payment with its full audit trail. Viewing requires
// active membership in the band.
func (s *Service) GetPayment(ctx context.Context, bandID, paymentID, actorID int64) (*ManualPayment, error) {
	isMember, err := s.directory.IsActiveMember(ctx, bandID, actorID)
	if err != nil {
		return nil, internal.NewInternalError("failed to verify membership", err)
	}
	if !isMember {
		return nil, internal.ErrNotCounterparty
	}
	return s.getBandPayment(ctx, bandID, paymentID)
}

func (s *Service) ListPayments(ctx context.Context, bandID int64, status string, limit, offset int) ([]*ManualPayment, error) {
	payments, err := s.repo.ListByBand(ctx, bandID, status, limit, offset)
	if err != nil {
		s.logger.Error("failed to list payments", "error", err, "band_id", bandID)
		return nil, internal.NewInternalError("failed to list payments", err)
	}
	return payments, nil
}

// PendingConfirmations returns the records currently awaiting the given
// user's counterparty action across all their bands.
func (s *Service) PendingConfirmations(ctx context.Context, userID int64) ([]*ManualPayment, error) {
	treasurerBands, err := s.directory.BandsWithRole(ctx, userID, band.RoleTreasurer)
	if err != nil {
		s.logger.Error("failed to list treasurer bands", "error", err, "user_id", userID)
		return nil, internal.NewInternalError("failed to resolve roles", err)
	}

	payments, err := s.repo.ListAwaitingCounterparty(ctx, userID, treasurerBands)
	if err != nil {
		s.logger.Error("failed to list pending confirmations", "error", err, "user_id", userID)
		return nil, internal.NewInternalError("failed to list pending confirmations", err)
	}
	return payments, nil
}

func (s *Service) getBandPayment(ctx context.Context, bandID, paymentID int64) (*ManualPayment, error) {
	p, err := s.repo.GetByID(ctx, paymentID)
	if err != nil {
		s.logger.Error("payment not found", "error", err, "payment_id", paymentID)
		return nil, internal.ErrPaymentNotFound
	}
	if p.BandID != bandID {
		return nil, internal.ErrPaymentNotFound
	}
	return p, nil
}

func (s *Service) roleFacts(ctx context.Context, bandID, actorID int64) (RoleFacts, error) {
	isTreasurer, err := s.directory.HasRole(ctx, bandID, actorID, band.RoleTreasurer)
	if err != nil {
		return RoleFacts{}, internal.NewInternalError("failed to verify role", err)
	}
	isGovernor, err := s.directory.HasRole(ctx, bandID, actorID, band.RoleGovernance)
	if err != nil {
		return RoleFacts{}, internal.NewInternalError("failed to verify role", err)
	}
	return RoleFacts{IsTreasurer: isTreasurer, IsGovernor: isGovernor}, nil
}
