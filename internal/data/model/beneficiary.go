package model

import (
	"time"
)

// Beneficiary mirrors the profile service's artist record; this engine only
// reads it to validate and price charges.
type Beneficiary struct {
	BeneficiaryID string    `gorm:"primaryKey;type:varchar(36)"`
	DisplayName   string    `gorm:"type:varchar(128)"`
	Tier          string    `gorm:"type:varchar(8);not null;default:'free'"`
	Active        bool      `gorm:"not null;default:true"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// TableName sets the table name.
func (Beneficiary) TableName() string {
	return "beneficiary"
}
