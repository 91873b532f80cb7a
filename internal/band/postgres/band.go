package postgres

import (
	"context"

	"github.com/bandroomhq/settlement/internal/band"
	"gorm.io/gorm"
)

// BandDirectory implements the band.Directory interface using GORM
type BandDirectory struct {
	db *gorm.DB
}

// NewBandDirectory creates a new band directory
func NewBandDirectory(db *gorm.DB) band.Directory {
	return &BandDirectory{db: db}
}

func (r *BandDirectory) IsActiveMember(ctx context.Context, bandID, userID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&band.Membership{}).
		Where("band_id = ? AND user_id = ? AND is_active = ?", bandID, userID, true).
		Count(&count).Error
	return count > 0, err
}

func (r *BandDirectory) HasRole(ctx context.Context, bandID, userID int64, role string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&band.Membership{}).
		Where("band_id = ? AND user_id = ? AND role = ? AND is_active = ?", bandID, userID, role, true).
		Count(&count).Error
	return count > 0, err
}

func (r *BandDirectory) BandsWithRole(ctx context.Context, userID int64, role string) ([]int64, error) {
	var bandIDs []int64
	err := r.db.WithContext(ctx).Model(&band.Membership{}).
		Where("user_id = ? AND role = ? AND is_active = ?", userID, role, true).
		Pluck("band_id", &bandIDs).Error
	return bandIDs, err
}
