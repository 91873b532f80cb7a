package postgres

import (
	"context"

	"github.com/bandroomhq/settlement/internal/receipt"
	"gorm.io/gorm"
)

// ReceiptRepository implements the receipt.Repository interface using GORM
type ReceiptRepository struct {
	db *gorm.DB
}

// NewReceiptRepository creates a new receipt repository
func NewReceiptRepository(db *gorm.DB) receipt.Repository {
	return &ReceiptRepository{db: db}
}

func (r *ReceiptRepository) Create(ctx context.Context, rc *receipt.Receipt) error {
	return r.db.WithContext(ctx).Create(rc).Error
}

func (r *ReceiptRepository) ListByPayment(ctx context.Context, paymentID int64) ([]*receipt.Receipt, error) {
	var receipts []*receipt.Receipt
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Find(&receipts).Error
	return receipts, err
}
