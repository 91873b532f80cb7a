package postgres

import (
	"context"
	"time"

	"github.com/bandroomhq/settlement/internal"
	"github.com/bandroomhq/settlement/internal/donation"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DonationRepository implements the donation.Repository interface using GORM
type DonationRepository struct {
	db *gorm.DB
}

// NewDonationRepository creates a new donation repository
func NewDonationRepository(db *gorm.DB) donation.Repository {
	return &DonationRepository{db: db}
}

func (r *DonationRepository) Create(ctx context.Context, d *donation.Donation) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *DonationRepository) GetByID(ctx context.Context, id int64) (*donation.Donation, error) {
	var d donation.Donation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&d).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, internal.ErrDonationNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *DonationRepository) ListByBand(ctx context.Context, bandID int64, status string, limit, offset int) ([]*donation.Donation, error) {
	var donations []*donation.Donation
	q := r.db.WithContext(ctx).Where("band_id = ?", bandID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&donations).Error
	return donations, err
}

// CreateInstallment inserts a generated installment, relying on the unique
// index over (recurring_donation_id, expected_date) rather than
// check-then-insert so concurrent scheduler runs cannot duplicate a due
// date. A conflicting insert is reported as created=false, not an error.
func (r *DonationRepository) CreateInstallment(ctx context.Context, d *donation.Donation) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "recurring_donation_id"}, {Name: "expected_date"}},
		DoNothing: true,
	}).Create(d)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *DonationRepository) ListOverdueExpected(ctx context.Context, cutoff time.Time, limit int) ([]*donation.Donation, error) {
	var donations []*donation.Donation
	err := r.db.WithContext(ctx).
		Where("status = ? AND expected_date < ?", donation.StatusExpected, cutoff).
		Order("expected_date ASC").
		Limit(limit).
		Find(&donations).Error
	return donations, err
}

func (r *DonationRepository) CancelOutstanding(ctx context.Context, recurringID int64) error {
	return r.db.WithContext(ctx).Model(&donation.Donation{}).
		Where("recurring_donation_id = ? AND status IN ?", recurringID, []string{donation.StatusExpected, donation.StatusPending}).
		Updates(map[string]interface{}{
			"status":     donation.StatusCancelled,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		}).Error
}

func (r *DonationRepository) UpdateStatusCAS(ctx context.Context, id int64, fromStatus string, version int64, updates map[string]interface{}) (bool, error) {
	updates["version"] = version + 1
	updates["updated_at"] = time.Now()

	res := r.db.WithContext(ctx).Model(&donation.Donation{}).
		Where("id = ? AND status = ? AND version = ?", id, fromStatus, version).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *DonationRepository) CreateRecurring(ctx context.Context, rd *donation.RecurringDonation) error {
	return r.db.WithContext(ctx).Create(rd).Error
}

func (r *DonationRepository) GetRecurringByID(ctx context.Context, id int64) (*donation.RecurringDonation, error) {
	var rd donation.RecurringDonation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rd).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, internal.ErrRecurringNotFound
		}
		return nil, err
	}
	return &rd, nil
}

func (r *DonationRepository) ListDueRecurring(ctx context.Context, today time.Time, limit int) ([]*donation.RecurringDonation, error) {
	var recurring []*donation.RecurringDonation
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_due_date <= ?", donation.RecurringStatusActive, today).
		Order("next_due_date ASC").
		Limit(limit).
		Find(&recurring).Error
	return recurring, err
}

func (r *DonationRepository) UpdateRecurringCAS(ctx context.Context, id int64, fromStatus string, version int64, updates map[string]interface{}) (bool, error) {
	updates["version"] = version + 1
	updates["updated_at"] = time.Now()

	res := r.db.WithContext(ctx).Model(&donation.RecurringDonation{}).
		Where("id = ? AND status = ? AND version = ?", id, fromStatus, version).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *DonationRepository) IncrementMissCount(ctx context.Context, recurringID int64) (int, error) {
	err := r.db.WithContext(ctx).Model(&donation.RecurringDonation{}).
		Where("id = ?", recurringID).
		Updates(map[string]interface{}{
			"consecutive_missed": gorm.Expr("consecutive_missed + 1"),
			"updated_at":         time.Now(),
		}).Error
	if err != nil {
		return 0, err
	}

	var count int
	err = r.db.WithContext(ctx).Model(&donation.RecurringDonation{}).
		Where("id = ?", recurringID).
		Pluck("consecutive_missed", &count).Error
	return count, err
}

func (r *DonationRepository) ResetMissCount(ctx context.Context, recurringID int64) error {
	return r.db.WithContext(ctx).Model(&donation.RecurringDonation{}).
		Where("id = ?", recurringID).
		Updates(map[string]interface{}{
			"consecutive_missed": 0,
			"updated_at":         time.Now(),
		}).Error
}

func (r *DonationRepository) AdvanceNextDue(ctx context.Context, recurringID int64, next time.Time) error {
	return r.db.WithContext(ctx).Model(&donation.RecurringDonation{}).
		Where("id = ?", recurringID).
		Updates(map[string]interface{}{
			"next_due_date": next,
			"updated_at":    time.Now(),
		}).Error
}

func (r *DonationRepository) SummaryForDonor(ctx context.Context, donorID int64) (*donation.DonorSummary, error) {
	summary := &donation.DonorSummary{}

	err := r.db.WithContext(ctx).Model(&donation.Donation{}).
		Where("donor_id = ? AND status = ?", donorID, donation.StatusConfirmed).
		Select("COALESCE(SUM(amount_cents), 0)").
		Scan(&summary.TotalConfirmedCents).Error
	if err != nil {
		return nil, err
	}

	err = r.db.WithContext(ctx).
		Where("donor_id = ? AND status = ?", donorID, donation.RecurringStatusActive).
		Order("next_due_date ASC").
		Find(&summary.ActiveRecurring).Error
	if err != nil {
		return nil, err
	}

	err = r.db.WithContext(ctx).
		Where("donor_id = ? AND status = ?", donorID, donation.StatusExpected).
		Order("expected_date ASC").
		Find(&summary.UpcomingDue).Error
	if err != nil {
		return nil, err
	}

	return summary, nil
}
