package donation_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/bandroomhq/settlement/internal"
	"github.com/bandroomhq/settlement/internal/core/events"
	"github.com/bandroomhq/settlement/internal/donation"
	"github.com/bandroomhq/settlement/internal/payment"
)

func TestDonation(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Donation Module Suite")
}

// Mock repository for testing. The CAS methods and CreateInstallment mirror
// the conditional-write semantics of the real repository.
type mockDonationRepository struct {
	donations     map[int64]*donation.Donation
	recurring     map[int64]*donation.RecurringDonation
	nextID        int64
	nextRecurring int64
}

func newMockDonationRepository() *mockDonationRepository {
	return &mockDonationRepository{
		donations:     make(map[int64]*donation.Donation),
		recurring:     make(map[int64]*donation.RecurringDonation),
		nextID:        1,
		nextRecurring: 1,
	}
}

func (m *mockDonationRepository) Create(ctx context.Context, d *donation.Donation) error {
	d.ID = m.nextID
	m.nextID++
	cp := *d
	m.donations[d.ID] = &cp
	return nil
}

func (m *mockDonationRepository) GetByID(ctx context.Context, id int64) (*donation.Donation, error) {
	d, exists := m.donations[id]
	if !exists {
		return nil, internal.ErrDonationNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *mockDonationRepository) ListByBand(ctx context.Context, bandID int64, status string, limit, offset int) ([]*donation.Donation, error) {
	var out []*donation.Donation
	for _, d := range m.donations {
		if d.BandID != bandID {
			continue
		}
		if status != "" && d.Status != status {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockDonationRepository) CreateInstallment(ctx context.Context, d *donation.Donation) (bool, error) {
	for _, existing := range m.donations {
		if existing.RecurringDonationID != nil && d.RecurringDonationID != nil &&
			*existing.RecurringDonationID == *d.RecurringDonationID &&
			existing.ExpectedDate.Equal(d.ExpectedDate) {
			return false, nil
		}
	}
	d.ID = m.nextID
	m.nextID++
	cp := *d
	m.donations[d.ID] = &cp
	return true, nil
}

func (m *mockDonationRepository) ListOverdueExpected(ctx context.Context, cutoff time.Time, limit int) ([]*donation.Donation, error) {
	var out []*donation.Donation
	for _, d := range m.donations {
		if d.Status == donation.StatusExpected && !d.ExpectedDate.After(cutoff) {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockDonationRepository) CancelOutstanding(ctx context.Context, recurringID int64) error {
	for _, d := range m.donations {
		if d.RecurringDonationID != nil && *d.RecurringDonationID == recurringID &&
			(d.Status == donation.StatusExpected || d.Status == donation.StatusPending) {
			d.Status = donation.StatusCancelled
			d.Version++
		}
	}
	return nil
}

func (m *mockDonationRepository) UpdateStatusCAS(ctx context.Context, id int64, fromStatus string, version int64, updates map[string]interface{}) (bool, error) {
	d, exists := m.donations[id]
	if !exists || d.Status != fromStatus || d.Version != version {
		return false, nil
	}
	d.Version = version + 1
	for key, value := range updates {
		switch key {
		case "status":
			d.Status = value.(string)
		case "submitted_at":
			v := value.(time.Time)
			d.SubmittedAt = &v
		case "reference_number":
			d.ReferenceNumber = value.(string)
		case "donor_note":
			d.DonorNote = value.(string)
		case "confirmed_by":
			v := value.(int64)
			d.ConfirmedBy = &v
		case "confirmed_at":
			v := value.(time.Time)
			d.ConfirmedAt = &v
		case "confirm_note":
			d.ConfirmNote = value.(string)
		case "rejected_by":
			v := value.(int64)
			d.RejectedBy = &v
		case "rejected_at":
			v := value.(time.Time)
			d.RejectedAt = &v
		case "reject_reason":
			d.RejectReason = value.(string)
		}
	}
	return true, nil
}

func (m *mockDonationRepository) CreateRecurring(ctx context.Context, rd *donation.RecurringDonation) error {
	rd.ID = m.nextRecurring
	m.nextRecurring++
	cp := *rd
	m.recurring[rd.ID] = &cp
	return nil
}

func (m *mockDonationRepository) GetRecurringByID(ctx context.Context, id int64) (*donation.RecurringDonation, error) {
	rd, exists := m.recurring[id]
	if !exists {
		return nil, internal.ErrRecurringNotFound
	}
	cp := *rd
	return &cp, nil
}

func (m *mockDonationRepository) ListDueRecurring(ctx context.Context, today time.Time, limit int) ([]*donation.RecurringDonation, error) {
	var out []*donation.RecurringDonation
	for _, rd := range m.recurring {
		if rd.Status == donation.RecurringStatusActive && !rd.NextDueDate.After(today) {
			cp := *rd
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockDonationRepository) UpdateRecurringCAS(ctx context.Context, id int64, fromStatus string, version int64, updates map[string]interface{}) (bool, error) {
	rd, exists := m.recurring[id]
	if !exists || rd.Status != fromStatus || rd.Version != version {
		return false, nil
	}
	rd.Version = version + 1
	for key, value := range updates {
		switch key {
		case "status":
			rd.Status = value.(string)
		case "next_due_date":
			rd.NextDueDate = value.(time.Time)
		}
	}
	return true, nil
}

func (m *mockDonationRepository) IncrementMissCount(ctx context.Context, recurringID int64) (int, error) {
	rd, exists := m.recurring[recurringID]
	if !exists {
		return 0, internal.ErrRecurringNotFound
	}
	rd.ConsecutiveMissed++
	return rd.ConsecutiveMissed, nil
}

func (m *mockDonationRepository) ResetMissCount(ctx context.Context, recurringID int64) error {
	rd, exists := m.recurring[recurringID]
	if !exists {
		return internal.ErrRecurringNotFound
	}
	rd.ConsecutiveMissed = 0
	return nil
}

func (m *mockDonationRepository) AdvanceNextDue(ctx context.Context, recurringID int64, next time.Time) error {
	rd, exists := m.recurring[recurringID]
	if !exists {
		return internal.ErrRecurringNotFound
	}
	rd.NextDueDate = next
	return nil
}

func (m *mockDonationRepository) SummaryForDonor(ctx context.Context, donorID int64) (*donation.DonorSummary, error) {
	summary := &donation.DonorSummary{}
	for _, d := range m.donations {
		if d.DonorID != donorID {
			continue
		}
		if d.Status == donation.StatusConfirmed {
			summary.TotalConfirmedCents += d.AmountCents
		}
		if d.Status == donation.StatusExpected {
			cp := *d
			summary.UpcomingDue = append(summary.UpcomingDue, &cp)
		}
	}
	for _, rd := range m.recurring {
		if rd.DonorID == donorID && rd.Status == donation.RecurringStatusActive {
			cp := *rd
			summary.ActiveRecurring = append(summary.ActiveRecurring, &cp)
		}
	}
	return summary, nil
}

// Mock band directory for testing
type mockDirectory struct {
	treasurers map[int64]map[int64]bool
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{treasurers: make(map[int64]map[int64]bool)}
}

func (m *mockDirectory) addTreasurer(bandID, userID int64) {
	if m.treasurers[bandID] == nil {
		m.treasurers[bandID] = make(map[int64]bool)
	}
	m.treasurers[bandID][userID] = true
}

func (m *mockDirectory) IsActiveMember(ctx context.Context, bandID, userID int64) (bool, error) {
	return true, nil
}

func (m *mockDirectory) HasRole(ctx context.Context, bandID, userID int64, role string) (bool, error) {
	if role == "TREASURER" {
		return m.treasurers[bandID][userID], nil
	}
	return false, nil
}

func (m *mockDirectory) BandsWithRole(ctx context.Context, userID int64, role string) ([]int64, error) {
	var bands []int64
	for bandID, users := range m.treasurers {
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

func (m *mockPublisher) eventTypes() []string {
	types := make([]string, 0, len(m.published))
	for _, e := range m.published {
		types = append(types, e.EventType())
	}
	return types
}

var _ = Describe("DonationService", func() {
	var (
		service   *donation.Service
		repo      *mockDonationRepository
		directory *mockDirectory
		publisher *mockPublisher
		ctx       context.Context
	)

	const (
		bandID      = int64(10)
		donorID     = int64(100)
		treasurerID = int64(200)

		grace     = 7 * 24 * time.Hour
		threshold = 3
	)

	BeforeEach(func() {
		repo = newMockDonationRepository()
		directory = newMockDirectory()
		publisher = &mockPublisher{}
		logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		service = donation.NewService(repo, directory, publisher, logger, grace, threshold)
		ctx = context.Background()

		directory.addTreasurer(bandID, treasurerID)
	})

	Describe("CreateRecurring", func() {
		It("should create an active commitment due one cadence ahead", func() {
			rd, err := service.CreateRecurring(ctx, bandID, donorID, donation.CreateRecurringDTO{
				AmountCents: 100000,
				Cadence:     donation.CadenceMonthly,
				Method:      payment.MethodBankTransfer,
			})

			Expect(err).ToNot(HaveOccurred())
			Expect(rd.Status).To(Equal(donation.RecurringStatusActive))
			Expect(rd.ConsecutiveMissed).To(Equal(0))
			Expect(rd.NextDueDate.After(time.Now())).To(BeTrue())
		})

		It("should reject an unknown cadence", func() {
			_, err := service.CreateRecurring(ctx, bandID, donorID, donation.CreateRecurringDTO{
				AmountCents: 100000,
				Cadence:     "yearly",
				Method:      payment.MethodBankTransfer,
			})

			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("cadence"))
		})

		It("should reject a zero amount", func() {
			_, err := service.CreateRecurring(ctx, bandID, donorID, donation.CreateRecurringDTO{
				Cadence: donation.CadenceWeekly,
				Method:  payment.MethodCash,
			})

			Expect(err).To(HaveOccurred())
		})
	})

	Describe("recurring transitions", func() {
		var rd *donation.RecurringDonation

		BeforeEach(func() {
			var err error
			rd, err = service.CreateRecurring(ctx, bandID, donorID, donation.CreateRecurringDTO{
				AmountCents: 100000,
				Cadence:     donation.CadenceMonthly,
				Method:      payment.MethodBankTransfer,
			})
			Expect(err).ToNot(HaveOccurred())
		})

		It("should pause and resume", func() {
			paused, err := service.PauseRecurring(ctx, bandID, rd.ID, donorID)
			Expect(err).ToNot(HaveOccurred())
			Expect(paused.Status).To(Equal(donation.RecurringStatusPaused))

			resumed, err := service.ResumeRecurring(ctx, bandID, rd.ID, donorID)
			Expect(err).ToNot(HaveOccurred())
			Expect(resumed.Status).To(Equal(donation.RecurringStatusActive))
		})

		It("should reject pause by anyone but the donor", func() {
			_, err := service.PauseRecurring(ctx, bandID, rd.ID, treasurerID)
			Expect(err).To(MatchError(internal.ErrNotDonor))
		})

		It("should reject resuming an active commitment", func() {
			_, err := service.ResumeRecurring(ctx, bandID, rd.ID, donorID)
			Expect(err).To(MatchError(internal.ErrStateConflict))
		})

		It("should cancel and void outstanding installments", func() {
			// materialize one installment first
			generated, err := service.GenerateInstallments(ctx, rd.NextDueDate)
			Expect(err).ToNot(HaveOccurred())
			Expect(generated).To(Equal(1))

			cancelled, err := service.CancelRecurring(ctx, bandID, rd.ID, donorID)
			Expect(err).ToNot(HaveOccurred())
			Expect(cancelled.Status).To(Equal(donation.RecurringStatusCancelled))

			installments, err := repo.ListByBand(ctx, bandID, donation.StatusCancelled, 10, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(installments).To(HaveLen(1))
		})

		It("should reject cancelling twice", func() {
			_, err := service.CancelRecurring(ctx, bandID, rd.ID, donorID)
			Expect(err).ToNot(HaveOccurred())

			_, err = service.CancelRecurring(ctx, bandID, rd.ID, donorID)
			Expect(err).To(MatchError(internal.ErrStateConflict))
		})
	})

	Describe("CreateAdHoc", func() {
		It("should start directly at pending with the attestation attached", func() {
			d, err := service.CreateAdHoc(ctx, bandID, donorID, donation.CreateDonationDTO{
				AmountCents:     25000,
				Method:          payment.MethodCash,
				ReferenceNumber: "ref-1",
			})

			Expect(err).ToNot(HaveOccurred())
			Expect(d.Status).To(Equal(donation.StatusPending))
			Expect(d.SubmittedAt).ToNot(BeNil())
			Expect(d.RecurringDonationID).To(BeNil())
		})
	})

	Describe("installment lifecycle", func() {
		var (
			rd  *donation.RecurringDonation
			due time.Time
		)

		BeforeEach(func() {
			var err error
			rd, err = service.CreateRecurring(ctx, bandID, donorID, donation.CreateRecurringDTO{
				AmountCents: 100000,
				Cadence:     donation.CadenceMonthly,
				Method:      payment.MethodBankTransfer,
			})
			Expect(err).ToNot(HaveOccurred())
			due = rd.NextDueDate
		})

		It("should generate exactly one installment per due date", func() {
			generated, err := service.GenerateInstallments(ctx, due)
			Expect(err).ToNot(HaveOccurred())
			Expect(generated).To(Equal(1))

			// overlapping run finds nothing new
			again, err := service.GenerateInstallments(ctx, due)
			Expect(err).ToNot(HaveOccurred())
			Expect(again).To(Equal(0))

			installments, err := repo.ListByBand(ctx, bandID, donation.StatusExpected, 10, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(installments).To(HaveLen(1))
			Expect(installments[0].AmountCents).To(Equal(rd.AmountCents))
		})

		It("should publish a due event per generated installment", func() {
			_, err := service.GenerateInstallments(ctx, due)
			Expect(err).ToNot(HaveOccurred())
			Expect(publisher.eventTypes()).To(ContainElement(events.EventTypeDonationDue))
		})

		It("should catch up one installment per missed cadence", func() {
			// three months behind
			generated, err := service.GenerateInstallments(ctx, due.AddDate(0, 2, 0))
			Expect(err).ToNot(HaveOccurred())
			Expect(generated).To(Equal(3))
		})

		It("should skip paused commitments", func() {
			_, err := service.PauseRecurring(ctx, bandID, rd.ID, donorID)
			Expect(err).ToNot(HaveOccurred())

			generated, err := service.GenerateInstallments(ctx, due)
			Expect(err).ToNot(HaveOccurred())
			Expect(generated).To(Equal(0))
		})

		It("should walk submit and confirm, resetting the miss count", func() {
			_, err := repo.IncrementMissCount(ctx, rd.ID)
			Expect(err).ToNot(HaveOccurred())

			_, err = service.GenerateInstallments(ctx, due)
			Expect(err).ToNot(HaveOccurred())

			installments, err := repo.ListByBand(ctx, bandID, donation.StatusExpected, 10, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(installments).To(HaveLen(1))
			installment := installments[0]

			submitted, err := service.SubmitPayment(ctx, bandID, installment.ID, donorID, donation.SubmitDonationDTO{ReferenceNumber: "trx-9"})
			Expect(err).ToNot(HaveOccurred())
			Expect(submitted.Status).To(Equal(donation.StatusPending))

			confirmed, err := service.ConfirmDonation(ctx, bandID, installment.ID, treasurerID, donation.ConfirmDonationDTO{Note: "received"})
			Expect(err).ToNot(HaveOccurred())
			Expect(confirmed.Status).To(Equal(donation.StatusConfirmed))

			fresh, err := repo.GetRecurringByID(ctx, rd.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(fresh.ConsecutiveMissed).To(Equal(0))
		})

		It("should reject submit by anyone but the donor", func() {
			_, err := service.GenerateInstallments(ctx, due)
			Expect(err).ToNot(HaveOccurred())

			installments, err := repo.ListByBand(ctx, bandID, donation.StatusExpected, 10, 0)
			Expect(err).ToNot(HaveOccurred())

			_, err = service.SubmitPayment(ctx, bandID, installments[0].ID, treasurerID, donation.SubmitDonationDTO{})
			Expect(err).To(MatchError(internal.ErrNotDonor))
		})

		It("should require the treasurer role to confirm", func() {
			d, err := service.CreateAdHoc(ctx, bandID, donorID, donation.CreateDonationDTO{
				AmountCents: 25000,
				Method:      payment.MethodCash,
			})
			Expect(err).ToNot(HaveOccurred())

			_, err = service.ConfirmDonation(ctx, bandID, d.ID, donorID, donation.ConfirmDonationDTO{})
			Expect(err).To(MatchError(internal.ErrTreasurerRequired))
		})

		It("should require a reason to reject", func() {
			d, err := service.CreateAdHoc(ctx, bandID, donorID, donation.CreateDonationDTO{
				AmountCents: 25000,
				Method:      payment.MethodCash,
			})
			Expect(err).ToNot(HaveOccurred())

			_, err = service.RejectDonation(ctx, bandID, d.ID, treasurerID, donation.RejectDonationDTO{})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("reason"))

			rejected, err := service.RejectDonation(ctx, bandID, d.ID, treasurerID, donation.RejectDonationDTO{Reason: "no funds arrived"})
			Expect(err).ToNot(HaveOccurred())
			Expect(rejected.Status).To(Equal(donation.StatusRejected))
		})
	})

	Describe("MarkMissedInstallments", func() {
		var rd *donation.RecurringDonation

		// generateAndMiss materializes the next installment and pushes the
		// clock past its grace window.
		generateAndMiss := func() int {
			fresh, err := repo.GetRecurringByID(ctx, rd.ID)
			Expect(err).ToNot(HaveOccurred())
			due := fresh.NextDueDate

			_, err = service.GenerateInstallments(ctx, due)
			Expect(err).ToNot(HaveOccurred())

			missed, err := service.MarkMissedInstallments(ctx, due.Add(grace).Add(time.Hour))
			Expect(err).ToNot(HaveOccurred())
			return missed
		}

		BeforeEach(func() {
			var err error
			rd, err = service.CreateRecurring(ctx, bandID, donorID, donation.CreateRecurringDTO{
				AmountCents: 100000,
				Cadence:     donation.CadenceMonthly,
				Method:      payment.MethodBankTransfer,
			})
			Expect(err).ToNot(HaveOccurred())
		})

		It("should leave installments inside the grace window untouched", func() {
			_, err := service.GenerateInstallments(ctx, rd.NextDueDate)
			Expect(err).ToNot(HaveOccurred())

			missed, err := service.MarkMissedInstallments(ctx, rd.NextDueDate.Add(grace/2))
			Expect(err).ToNot(HaveOccurred())
			Expect(missed).To(Equal(0))
		})

		It("should mark an overdue installment missed and count it", func() {
			missed := generateAndMiss()
			Expect(missed).To(Equal(1))

			fresh, err := repo.GetRecurringByID(ctx, rd.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(fresh.ConsecutiveMissed).To(Equal(1))
			Expect(fresh.Status).To(Equal(donation.RecurringStatusActive))
			Expect(publisher.eventTypes()).To(ContainElement(events.EventTypeDonationMissed))
		})

		It("should auto-cancel after three consecutive misses", func() {
			for i := 0; i < 3; i++ {
				generateAndMiss()
			}

			fresh, err := repo.GetRecurringByID(ctx, rd.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(fresh.Status).To(Equal(donation.RecurringStatusAutoCancelled))
			Expect(publisher.eventTypes()).To(ContainElement(events.EventTypeRecurringAutoCancelled))
		})

		It("should survive misses interrupted by a confirmation", func() {
			// two misses
			generateAndMiss()
			generateAndMiss()

			// third installment is paid and confirmed, resetting the count
			fresh, err := repo.GetRecurringByID(ctx, rd.ID)
			Expect(err).ToNot(HaveOccurred())
			_, err = service.GenerateInstallments(ctx, fresh.NextDueDate)
			Expect(err).ToNot(HaveOccurred())

			installments, err := repo.ListByBand(ctx, bandID, donation.StatusExpected, 10, 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(installments).To(HaveLen(1))

			_, err = service.SubmitPayment(ctx, bandID, installments[0].ID, donorID, donation.SubmitDonationDTO{})
			Expect(err).ToNot(HaveOccurred())
			_, err = service.ConfirmDonation(ctx, bandID, installments[0].ID, treasurerID, donation.ConfirmDonationDTO{})
			Expect(err).ToNot(HaveOccurred())

			// three more misses are needed to cancel
			generateAndMiss()
			generateAndMiss()

			fresh, err = repo.GetRecurringByID(ctx, rd.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(fresh.Status).To(Equal(donation.RecurringStatusActive))
			Expect(fresh.ConsecutiveMissed).To(Equal(2))

			generateAndMiss()

			fresh, err = repo.GetRecurringByID(ctx, rd.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(fresh.Status).To(Equal(donation.RecurringStatusAutoCancelled))
		})

		It("should not count a missed ad hoc donation against any commitment", func() {
			d, err := service.CreateAdHoc(ctx, bandID, donorID, donation.CreateDonationDTO{
				AmountCents: 25000,
				Method:      payment.MethodCash,
			})
			Expect(err).ToNot(HaveOccurred())
			// ad hoc donations are pending, never expected, so the miss
			// scan does not touch them
			missed, err := service.MarkMissedInstallments(ctx, time.Now().Add(grace*2))
			Expect(err).ToNot(HaveOccurred())
			Expect(missed).To(Equal(0))

			fresh, err := repo.GetByID(ctx, d.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(fresh.Status).To(Equal(donation.StatusPending))
		})
	})

	Describe("DonorSummary", func() {
		It("should aggregate confirmed totals, active commitments and upcoming installments", func() {
			rd, err := service.CreateRecurring(ctx, bandID, donorID, donation.CreateRecurringDTO{
				AmountCents: 100000,
				Cadence:     donation.CadenceMonthly,
				Method:      payment.MethodBankTransfer,
			})
			Expect(err).ToNot(HaveOccurred())

			_, err = service.GenerateInstallments(ctx, rd.NextDueDate)
			Expect(err).ToNot(HaveOccurred())

			adHoc, err := service.CreateAdHoc(ctx, bandID, donorID, donation.CreateDonationDTO{
				AmountCents: 40000,
				Method:      payment.MethodCash,
			})
			Expect(err).ToNot(HaveOccurred())
			_, err = service.ConfirmDonation(ctx, bandID, adHoc.ID, treasurerID, donation.ConfirmDonationDTO{})
			Expect(err).ToNot(HaveOccurred())

			summary, err := service.DonorSummary(ctx, donorID)
			Expect(err).ToNot(HaveOccurred())
			Expect(summary.TotalConfirmedCents).To(Equal(int64(40000)))
			Expect(summary.ActiveRecurring).To(HaveLen(1))
			Expect(summary.UpcomingDue).To(HaveLen(1))
		})
	})
})
