package band

import (
	"context"
	"time"
)

// Roles the settlement engine cares about. The member directory itself is
// owned by another service; this package only reads role facts.
const (
	RoleTreasurer  = "TREASURER"
	RoleGovernance = "GOVERNANCE"
)

// Membership is one user's standing in a band, including any
// responsibilities they hold.
type Membership struct {
	ID       int64     `json:"id" gorm:"primaryKey"`
	BandID   int64     `json:"band_id" gorm:"column:band_id;not null;uniqueIndex:idx_band_user"`
	UserID   int64     `json:"user_id" gorm:"column:user_id;not null;uniqueIndex:idx_band_user"`
	Role     string    `json:"role" gorm:"column:role"`
	IsActive bool      `json:"is_active" gorm:"column:is_active;default:true"`
	JoinedAt time.Time `json:"joined_at" gorm:"column:joined_at"`
}

func (Membership) TableName() string {
	return "band_members"
}

// Directory answers role and membership questions for command guards.
type Directory interface {
	IsActiveMember(ctx context.Context, bandID, userID int64) (bool, error)
	HasRole(ctx context.Context, bandID, userID int64, role string) (bool, error)
	// BandsWithRole lists the bands in which the user holds the given role,
	// used to collect the records awaiting that user's counterparty action.
	BandsWithRole(ctx context.Context, userID int64, role string) ([]int64, error)
}
