package models

import "time"

// CompetitionMetadata is the display name/description pair for a competition.
// The core stores and returns these strings without interpreting them.
type CompetitionMetadata struct {
	CompetitionID uint      `json:"competition_id" gorm:"primaryKey"`
	Name          string    `json:"name" gorm:"not null"`
	Slug          string    `json:"slug" gorm:"index"`
	Description   string    `json:"description" gorm:"type:text"`
	ImageURL      string    `json:"image_url,omitempty"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
