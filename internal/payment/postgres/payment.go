package postgres

import (
	"context"
	"time"

	"github.com/bandroomhq/settlement/internal"
	"github.com/bandroomhq/settlement/internal/payment"
	"gorm.io/gorm"
)

// PaymentRepository implements the payment.Repository interface using GORM
type PaymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a new manual payment repository
func NewPaymentRepository(db *gorm.DB) payment.Repository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, p *payment.ManualPayment) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *PaymentRepository) GetByID(ctx context.Context, id int64) (*payment.ManualPayment, error) {
	var p payment.ManualPayment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, internal.ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) ListByBand(ctx context.Context, bandID int64, status string, limit, offset int) ([]*payment.ManualPayment, error) {
	var payments []*payment.ManualPayment
	q := r.db.WithContext(ctx).Where("band_id = ?", bandID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&payments).Error
	return payments, err
}

func (r *PaymentRepository) ListDueForAutoConfirm(ctx context.Context, now time.Time, limit int) ([]*payment.ManualPayment, error) {
	var payments []*payment.ManualPayment
	err := r.db.WithContext(ctx).
		Where("status = ? AND auto_confirm_at <= ?", payment.StatusPending, now).
		Order("auto_confirm_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

func (r *PaymentRepository) ListAwaitingCounterparty(ctx context.Context, userID int64, treasurerBands []int64) ([]*payment.ManualPayment, error) {
	var payments []*payment.ManualPayment
	q := r.db.WithContext(ctx).Where("status = ?", payment.StatusPending)

	// Treasurer-initiated records await the payer; member-initiated records
	// await any other treasurer of the band.
	if len(treasurerBands) > 0 {
		q = q.Where(
			r.db.Where("initiator_role = ? AND payer_id = ?", payment.InitiatorRoleTreasurer, userID).
				Or("initiator_role = ? AND band_id IN ? AND initiator_id <> ?", payment.InitiatorRoleMember, treasurerBands, userID),
		)
	} else {
		q = q.Where("initiator_role = ? AND payer_id = ?", payment.InitiatorRoleTreasurer, userID)
	}

	err := q.Order("created_at ASC").Find(&payments).Error
	return payments, err
}

// UpdateStatusCAS performs the guarded transition write: the row is updated
// only if it still carries the expected status and version, and the version
// is bumped in the same statement. RowsAffected == 0 means the caller lost
// the race.
func (r *PaymentRepository) UpdateStatusCAS(ctx context.Context, id int64, fromStatus string, version int64, updates map[string]interface{}) (bool, error) {
	updates["version"] = version + 1
	updates["updated_at"] = time.Now()

	res := r.db.WithContext(ctx).Model(&payment.ManualPayment{}).
		Where("id = ? AND status = ? AND version = ?", id, fromStatus, version).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
