package models

import "time"

// BoosterAllocation is the optional secondary prize attached to a
// competition: a quantity of booster boxes claimable exactly once by the
// declared winner.
type BoosterAllocation struct {
	CompetitionID uint       `json:"competition_id" gorm:"primaryKey"`
	Quantity      uint64     `json:"quantity" gorm:"not null;default:0"`
	Claimed       bool       `json:"claimed" gorm:"not null;default:false"`
	ClaimedBy     string     `json:"claimed_by,omitempty" gorm:"type:varchar(64)"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}
