package payment_test

import (
	"context"
	"log/slog"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/bandroomhq/settlement/internal"
	"github.com/bandroomhq/settlement/internal/core/events"
	"github.com/bandroomhq/settlement/internal/payment"
)

// Mock repository for testing. UpdateStatusCAS mirrors the conditional
// UPDATE in the real repository: the write only lands when status and
// version both match, and the version is bumped.
type mockPaymentRepository struct {
	payments    map[int64]*payment.ManualPayment
	createError error
	casError    error
	nextID      int64
}

func newMockPaymentRepository() *mockPaymentRepository {
	return &mockPaymentRepository{
		payments: make(map[int64]*payment.ManualPayment),
		nextID:   1,
	}
}

func (m *mockPaymentRepository) Create(ctx context.Context, p *payment.ManualPayment) error {
	if m.createError != nil {
		return m.createError
	}
	p.ID = m.nextID
	m.nextID++
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *mockPaymentRepository) GetByID(ctx context.Context, id int64) (*payment.ManualPayment, error) {
	p, exists := m.payments[id]
	if !exists {
		return nil, internal.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockPaymentRepository) ListByBand(ctx context.Context, bandID int64, status string, limit, offset int) ([]*payment.ManualPayment, error) {
	var out []*payment.ManualPayment
	for _, p := range m.payments {
		if p.BandID != bandID {
			continue
		}
		if status != "" && p.Status != status {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockPaymentRepository) ListDueForAutoConfirm(ctx context.Context, now time.Time, limit int) ([]*payment.ManualPayment, error) {
	var out []*payment.ManualPayment
	for _, p := range m.payments {
		if p.Status == payment.StatusPending && p.AutoConfirmAt != nil && !p.AutoConfirmAt.After(now) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockPaymentRepository) ListAwaitingCounterparty(ctx context.Context, userID int64, treasurerBands []int64) ([]*payment.ManualPayment, error) {
	inTreasurerBands := func(bandID int64) bool {
		for _, b := range treasurerBands {
			if b == bandID {
				return true
			}
		}
		return false
	}
	var out []*payment.ManualPayment
	for _, p := range m.payments {
		if p.Status != payment.StatusPending {
			continue
		}
		if p.InitiatorRole == payment.InitiatorRoleTreasurer && p.PayerID == userID {
			cp := *p
			out = append(out, &cp)
			continue
		}
		if p.InitiatorRole == payment.InitiatorRoleMember && inTreasurerBands(p.BandID) && p.InitiatorID != userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockPaymentRepository) UpdateStatusCAS(ctx context.Context, id int64, fromStatus string, version int64, updates map[string]interface{}) (bool, error) {
	if m.casError != nil {
		return false, m.casError
	}
	p, exists := m.payments[id]
	if !exists || p.Status != fromStatus || p.Version != version {
		return false, nil
	}
	p.Version = version + 1
	for key, value := range updates {
		switch key {
		case "status":
			p.Status = value.(string)
		case "confirmed_by":
			v := value.(int64)
			p.ConfirmedBy = &v
		case "confirmed_at":
			v := value.(time.Time)
			p.ConfirmedAt = &v
		case "disputed_by":
			v := value.(int64)
			p.DisputedBy = &v
		case "disputed_at":
			v := value.(time.Time)
			p.DisputedAt = &v
		case "dispute_reason":
			p.DisputeReason = value.(string)
		case "resolved_by":
			v := value.(int64)
			p.ResolvedBy = &v
		case "resolved_at":
			v := value.(time.Time)
			p.ResolvedAt = &v
		case "resolution_note":
			p.ResolutionNote = value.(string)
		}
	}
	p.UpdatedAt = time.Now()
	return true, nil
}

// Mock band directory for testing
type mockDirectory struct {
	members    map[int64]map[int64]bool
	treasurers map[int64]map[int64]bool
	governors  map[int64]map[int64]bool
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{
		members:    make(map[int64]map[int64]bool),
		treasurers: make(map[int64]map[int64]bool),
		governors:  make(map[int64]map[int64]bool),
	}
}

func (m *mockDirectory) addMember(bandID, userID int64) {
	if m.members[bandID] == nil {
		m.members[bandID] = make(map[int64]bool)
	}
	m.members[bandID][userID] = true
}

func (m *mockDirectory) addTreasurer(bandID, userID int64) {
	m.addMember(bandID, userID)
	if m.treasurers[bandID] == nil {
		m.treasurers[bandID] = make(map[int64]bool)
	}
	m.treasurers[bandID][userID] = true
}

func (m *mockDirectory) addGovernor(bandID, userID int64) {
	m.addMember(bandID, userID)
	if m.governors[bandID] == nil {
		m.governors[bandID] = make(map[int64]bool)
	}
	m.governors[bandID][userID] = true
}

func (m *mockDirectory) IsActiveMember(ctx context.Context, bandID, userID int64) (bool, error) {
	return m.members[bandID][userID], nil
}

func (m *mockDirectory) HasRole(ctx context.Context, bandID, userID int64, role string) (bool, error) {
	switch role {
	case "TREASURER":
		return m.treasurers[bandID][userID], nil
	case "GOVERNANCE":
		return m.governors[bandID][userID], nil
	}
	return false, nil
}

func (m *mockDirectory) BandsWithRole(ctx context.Context, userID int64, role string) ([]int64, error) {
	var bands []int64
	source := m.treasurers
	if role == "GOVERNANCE" {
		source = m.governors
	}
	for bandID, users := range source {
		if users[userID] {
			bands = append(bands, bandID)
		}
	}
	return bands, nil
}

// Mock event publisher for testing
type mockPublisher struct {
	published []events.Event
}

func (m *mockPublisher) Publish(ctx context.Context, event events.Event) error {
	m.published = append(m.published, event)
	return nil
}

var _ = Describe("PaymentService", func() {
	var (
		service   *payment.Service
		repo      *mockPaymentRepository
		directory *mockDirectory
		publisher *mockPublisher
		ctx       context.Context
	)

	const (
		bandID      = int64(10)
		memberID    = int64(100)
		treasurerID = int64(200)
		governorID  = int64(300)
	)

	BeforeEach(func() {
		repo = newMockPaymentRepository()
		directory = newMockDirectory()
		publisher = &mockPublisher{}
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		service = payment.NewService(repo, directory, publisher, logger, 72*time.Hour)
		ctx = context.Background()

		directory.addMember(bandID, memberID)
		directory.addTreasurer(bandID, treasurerID)
		directory.addGovernor(bandID, governorID)
	})

	validDTO := func(payerID int64) payment.RecordPaymentDTO {
		return payment.RecordPaymentDTO{
			PayerID:     payerID,
			AmountCents: 50000,
			Method:      payment.MethodBankTransfer,
			PaymentDate: time.Now().AddDate(0, 0, -1),
		}
	}

	Describe("RecordPayment", func() {
		Context("when a member records their own payment", func() {
			It("should create a pending record with the MEMBER role", func() {
				// When
				result, err := service.RecordPayment(ctx, bandID, memberID, validDTO(memberID))

				// Then
				Expect(err).ToNot(HaveOccurred())
				Expect(result.Status).To(Equal(payment.StatusPending))
				Expect(result.InitiatorRole).To(Equal(payment.InitiatorRoleMember))
				Expect(result.Version).To(Equal(int64(1)))
				Expect(result.AutoConfirmAt).ToNot(BeNil())
			})

			It("should set the auto-confirm deadline one window ahead", func() {
				before := time.Now().Add(72 * time.Hour)

				result, err := service.RecordPayment(ctx, bandID, memberID, validDTO(memberID))

				Expect(err).ToNot(HaveOccurred())
				Expect(result.AutoConfirmAt.Before(before)).To(BeFalse())
			})

			It("should publish a pending confirmation event", func() {
				_, err := service.RecordPayment(ctx, bandID, memberID, validDTO(memberID))

				Expect(err).ToNot(HaveOccurred())
				Expect(publisher.published).To(HaveLen(1))
				Expect(publisher.published[0].EventType()).To(Equal(events.EventTypePaymentPendingConfirmation))
			})
		})

		Context("when a treasurer records a payment for another member", func() {
			It("should create a pending record with the TREASURER role", func() {
				result, err := service.RecordPayment(ctx, bandID, treasurerID, validDTO(memberID))

				Expect(err).ToNot(HaveOccurred())
				Expect(result.InitiatorRole).To(Equal(payment.InitiatorRoleTreasurer))
				Expect(result.PayerID).To(Equal(memberID))
			})
		})

		Context("when a treasurer records their own payment", func() {
			It("should record it under the MEMBER role so another treasurer can attest", func() {
				directory.addMember(bandID, treasurerID)

				result, err := service.RecordPayment(ctx, bandID, treasurerID, validDTO(treasurerID))

				Expect(err).ToNot(HaveOccurred())
				Expect(result.InitiatorRole).To(Equal(payment.InitiatorRoleMember))
			})
		})

		Context("when an ordinary member records someone else's payment", func() {
			It("should reject with treasurer required", func() {
				directory.addMember(bandID, 101)

				result, err := service.RecordPayment(ctx, bandID, memberID, validDTO(101))

				Expect(err).To(MatchError(internal.ErrTreasurerRequired))
				Expect(result).To(BeNil())
			})
		})

		Context("when the payer is not an active member", func() {
			It("should reject the record", func() {
				result, err := service.RecordPayment(ctx, bandID, treasurerID, validDTO(999))

				Expect(err).To(MatchError(internal.ErrNotActiveMember))
				Expect(result).To(BeNil())
			})
		})

		Context("when validation fails", func() {
			It("should reject a zero amount", func() {
				dto := validDTO(memberID)
				dto.AmountCents = 0

				_, err := service.RecordPayment(ctx, bandID, memberID, dto)

				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("amount"))
			})

			It("should reject a future payment date", func() {
				dto := validDTO(memberID)
				dto.PaymentDate = time.Now().AddDate(0, 0, 2)

				_, err := service.RecordPayment(ctx, bandID, memberID, dto)

				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("future"))
			})

			It("should require a description for the other method", func() {
				dto := validDTO(memberID)
				dto.Method = payment.MethodOther
				dto.MethodOther = ""

				_, err := service.RecordPayment(ctx, bandID, memberID, dto)

				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("ConfirmPayment", func() {
		var recorded *payment.ManualPayment

		BeforeEach(func() {
			var err error
			recorded, err = service.RecordPayment(ctx, bandID, memberID, validDTO(memberID))
			Expect(err).ToNot(HaveOccurred())
		})

		It("should let a treasurer confirm a member-recorded payment", func() {
			result, err := service.ConfirmPayment(ctx, bandID, recorded.ID, treasurerID)

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Status).To(Equal(payment.StatusConfirmed))
			Expect(*result.ConfirmedBy).To(Equal(treasurerID))
			Expect(result.Version).To(Equal(int64(2)))
		})

		It("should reject the initiator confirming their own record", func() {
			_, err := service.ConfirmPayment(ctx, bandID, recorded.ID, memberID)

			Expect(err).To(MatchError(internal.ErrSelfConfirmation))
		})

		It("should reject a second confirmation of a confirmed payment", func() {
			_, err := service.ConfirmPayment(ctx, bandID, recorded.ID, treasurerID)
			Expect(err).ToNot(HaveOccurred())

			_, err = service.ConfirmPayment(ctx, bandID, recorded.ID, treasurerID)
			Expect(err).To(MatchError(internal.ErrPaymentAlreadyResolved))
		})

		It("should return not found for a payment of another band", func() {
			_, err := service.ConfirmPayment(ctx, bandID+1, recorded.ID, treasurerID)

			Expect(err).To(MatchError(internal.ErrPaymentNotFound))
		})

		Context("when the record transitions concurrently", func() {
			It("should surface a conflict instead of overwriting", func() {
				// another actor wins the race after the read
				won, err := repo.UpdateStatusCAS(ctx, recorded.ID, payment.StatusPending, 1, map[string]interface{}{
					"status": payment.StatusDisputed,
				})
				Expect(err).ToNot(HaveOccurred())
				Expect(won).To(BeTrue())

				_, err = service.ConfirmPayment(ctx, bandID, recorded.ID, treasurerID)
				Expect(err).To(MatchError(internal.ErrStateConflict))
			})
		})
	})

	Describe("DisputePayment", func() {
		var recorded *payment.ManualPayment

		BeforeEach(func() {
			var err error
			recorded, err = service.RecordPayment(ctx, bandID, treasurerID, validDTO(memberID))
			Expect(err).ToNot(HaveOccurred())
		})

		It("should let the payer dispute a treasurer-recorded payment", func() {
			result, err := service.DisputePayment(ctx, bandID, recorded.ID, memberID, payment.DisputePaymentDTO{Reason: "never sent this"})

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Status).To(Equal(payment.StatusDisputed))
			Expect(result.DisputeReason).To(Equal("never sent this"))
		})

		It("should require a reason", func() {
			_, err := service.DisputePayment(ctx, bandID, recorded.ID, memberID, payment.DisputePaymentDTO{})

			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("reason"))
		})

		It("should publish a disputed event", func() {
			published := len(publisher.published)

			_, err := service.DisputePayment(ctx, bandID, recorded.ID, memberID, payment.DisputePaymentDTO{Reason: "wrong amount"})

			Expect(err).ToNot(HaveOccurred())
			Expect(publisher.published).To(HaveLen(published + 1))
			Expect(publisher.published[published].EventType()).To(Equal(events.EventTypePaymentDisputed))
		})
	})

	Describe("ResolvePayment", func() {
		var disputed *payment.ManualPayment

		BeforeEach(func() {
			recorded, err := service.RecordPayment(ctx, bandID, treasurerID, validDTO(memberID))
			Expect(err).ToNot(HaveOccurred())
			disputed, err = service.DisputePayment(ctx, bandID, recorded.ID, memberID, payment.DisputePaymentDTO{Reason: "duplicate"})
			Expect(err).ToNot(HaveOccurred())
		})

		It("should let a governor resolve to rejected", func() {
			result, err := service.ResolvePayment(ctx, bandID, disputed.ID, governorID, payment.ResolvePaymentDTO{
				Outcome: payment.OutcomeRejected,
				Note:    "duplicate of an earlier record",
			})

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Status).To(Equal(payment.StatusRejected))
			Expect(*result.ResolvedBy).To(Equal(governorID))
			Expect(result.ResolutionNote).To(Equal("duplicate of an earlier record"))
		})

		It("should let a governor resolve to confirmed", func() {
			result, err := service.ResolvePayment(ctx, bandID, disputed.ID, governorID, payment.ResolvePaymentDTO{Outcome: payment.OutcomeConfirmed})

			Expect(err).ToNot(HaveOccurred())
			Expect(result.Status).To(Equal(payment.StatusConfirmed))
		})

		It("should reject a non-governor", func() {
			_, err := service.ResolvePayment(ctx, bandID, disputed.ID, treasurerID, payment.ResolvePaymentDTO{Outcome: payment.OutcomeConfirmed})

			Expect(err).To(MatchError(internal.ErrGovernanceRequired))
		})

		It("should reject an unknown outcome", func() {
			_, err := service.ResolvePayment(ctx, bandID, disputed.ID, governorID, payment.ResolvePaymentDTO{Outcome: "maybe"})

			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("outcome"))
		})

		It("should reject resolving an already resolved payment", func() {
			_, err := service.ResolvePayment(ctx, bandID, disputed.ID, governorID, payment.ResolvePaymentDTO{Outcome: payment.OutcomeRejected})
			Expect(err).ToNot(HaveOccurred())

			_, err = service.ResolvePayment(ctx, bandID, disputed.ID, governorID, payment.ResolvePaymentDTO{Outcome: payment.OutcomeConfirmed})
			Expect(err).To(MatchError(internal.ErrPaymentAlreadyResolved))
		})
	})

	Describe("SweepAutoConfirm", func() {
		It("should auto-confirm pending payments past their deadline", func() {
			recorded, err := service.RecordPayment(ctx, bandID, memberID, validDTO(memberID))
			Expect(err).ToNot(HaveOccurred())

			swept, err := service.SweepAutoConfirm(ctx, time.Now().Add(73*time.Hour))

			Expect(err).ToNot(HaveOccurred())
			Expect(swept).To(Equal(1))

			result, err := repo.GetByID(ctx, recorded.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(result.Status).To(Equal(payment.StatusAutoConfirmed))
		})

		It("should leave payments inside the window untouched", func() {
			recorded, err := service.RecordPayment(ctx, bandID, memberID, validDTO(memberID))
			Expect(err).ToNot(HaveOccurred())

			swept, err := service.SweepAutoConfirm(ctx, time.Now().Add(time.Hour))

			Expect(err).ToNot(HaveOccurred())
			Expect(swept).To(Equal(0))

			result, err := repo.GetByID(ctx, recorded.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(result.Status).To(Equal(payment.StatusPending))
		})

		It("should be idempotent across repeated runs", func() {
			_, err := service.RecordPayment(ctx, bandID, memberID, validDTO(memberID))
			Expect(err).ToNot(HaveOccurred())

			deadline := time.Now().Add(73 * time.Hour)

			first, err := service.SweepAutoConfirm(ctx, deadline)
			Expect(err).ToNot(HaveOccurred())
			Expect(first).To(Equal(1))

			second, err := service.SweepAutoConfirm(ctx, deadline)
			Expect(err).ToNot(HaveOccurred())
			Expect(second).To(Equal(0))
		})

		It("should skip records a human transitioned concurrently", func() {
			recorded, err := service.RecordPayment(ctx, bandID, treasurerID, validDTO(memberID))
			Expect(err).ToNot(HaveOccurred())

			_, err = service.DisputePayment(ctx, bandID, recorded.ID, memberID, payment.DisputePaymentDTO{Reason: "not mine"})
			Expect(err).ToNot(HaveOccurred())

			swept, err := service.SweepAutoConfirm(ctx, time.Now().Add(73*time.Hour))

			Expect(err).ToNot(HaveOccurred())
			Expect(swept).To(Equal(0))

			result, err := repo.GetByID(ctx, recorded.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(result.Status).To(Equal(payment.StatusDisputed))
		})
	})

	Describe("PendingConfirmations", func() {
		It("should return treasurer-recorded payments awaiting the payer", func() {
			recorded, err := service.RecordPayment(ctx, bandID, treasurerID, validDTO(memberID))
			Expect(err).ToNot(HaveOccurred())

			pending, err := service.PendingConfirmations(ctx, memberID)

			Expect(err).ToNot(HaveOccurred())
			Expect(pending).To(HaveLen(1))
			Expect(pending[0].ID).To(Equal(recorded.ID))
		})

		It("should return member-recorded payments awaiting a treasurer", func() {
			recorded, err := service.RecordPayment(ctx, bandID, memberID, validDTO(memberID))
			Expect(err).ToNot(HaveOccurred())

			pending, err := service.PendingConfirmations(ctx, treasurerID)

			Expect(err).ToNot(HaveOccurred())
			Expect(pending).To(HaveLen(1))
			Expect(pending[0].ID).To(Equal(recorded.ID))
		})

		It("should never show a user their own records", func() {
			_, err := service.RecordPayment(ctx, bandID, memberID, validDTO(memberID))
			Expect(err).ToNot(HaveOccurred())

			pending, err := service.PendingConfirmations(ctx, memberID)

			Expect(err).ToNot(HaveOccurred())
			Expect(pending).To(BeEmpty())
		})
	})
})
