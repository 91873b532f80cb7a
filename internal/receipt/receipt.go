package receipt

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bandroomhq/settlement/internal"
)

// Receipt is a reference to an externally stored file backing a manual
// payment. The engine only keeps the reference, never the bytes.
type Receipt struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	PaymentID  int64     `json:"payment_id" gorm:"column:payment_id;not null;index"`
	FileURL    string    `json:"file_url" gorm:"column:file_url;not null"`
	FileName   string    `json:"file_name" gorm:"column:file_name"`
	UploadedBy int64     `json:"uploaded_by" gorm:"column:uploaded_by"`
	CreatedAt  time.Time `json:"created_at" gorm:"column:created_at"`
}

func (Receipt) TableName() string {
	return "payment_receipts"
}

type AttachReceiptDTO struct {
	FileURL  string `json:"file_url"`
	FileName string `json:"file_name,omitempty"`
}

func (dto AttachReceiptDTO) Validate() error {
	if dto.FileURL == "" {
		return internal.NewValidationError("file_url is required", internal.ErrCodeValidationFailed)
	}
	return nil
}

type Repository interface {
	Create(ctx context.Context, rc *Receipt) error
	ListByPayment(ctx context.Context, paymentID int64) ([]*Receipt, error)
}

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func (s *Service) Attach(ctx context.Context, paymentID, uploaderID int64, dto AttachReceiptDTO) (*Receipt, error) {
	if err := dto.Validate(); err != nil {
		return nil, err
	}

	rc := &Receipt{
		ID:         uuid.New().String(),
		PaymentID:  paymentID,
		FileURL:    dto.FileURL,
		FileName:   dto.FileName,
		UploadedBy: uploaderID,
		CreatedAt:  time.Now(),
	}

	if err := s.repo.Create(ctx, rc); err != nil {
		s.logger.Error("failed to attach receipt", "error", err, "payment_id", paymentID)
		return nil, internal.NewInternalError("failed to attach receipt", err)
	}

	s.logger.Info("receipt attached", "receipt_id", rc.ID, "payment_id", paymentID, "uploaded_by", uploaderID)
	return rc, nil
}

func (s *Service) List(ctx context.Context, paymentID int64) ([]*Receipt, error) {
	receipts, err := s.repo.ListByPayment(ctx, paymentID)
	if err != nil {
		s.logger.Error("failed to list receipts", "error", err, "payment_id", paymentID)
		return nil, internal.NewInternalError("failed to list receipts", err)
	}
	return receipts, nil
}
