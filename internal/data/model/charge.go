package model

import (
	"time"

	"payment-engine/internal/constants"
)

// Charge status constants (aliases of the shared constants for consistency)
const (
	ChargeStatusPending  = constants.ChargeStatusPending
	ChargeStatusApproved = constants.ChargeStatusApproved
	ChargeStatusRejected = constants.ChargeStatusRejected
	ChargeStatusExpired  = constants.ChargeStatusExpired
)

// Charge is the ledger table. ExternalChargeID is nullable because the row
// is written before the provider call returns an id.
type Charge struct {
	ChargeID          string     `gorm:"primaryKey;type:varchar(36)"`
	ExternalChargeID  *string    `gorm:"type:varchar(64);uniqueIndex"`
	ExternalReference string     `gorm:"type:varchar(32);uniqueIndex;not null"`
	IdempotencyKey    string     `gorm:"type:varchar(64);uniqueIndex;not null"`
	Provider          string     `gorm:"type:varchar(16)"`
	Method            string     `gorm:"type:varchar(16);not null"`
	GrossAmount       float64    `gorm:"type:decimal(10,2);not null"`
	FeeAmount         float64    `gorm:"type:decimal(10,2);not null"`
	NetAmount         float64    `gorm:"type:decimal(10,2);not null"`
	PayerRef          string     `gorm:"type:varchar(64)"`
	SessionToken      string     `gorm:"type:varchar(64)"`
	BeneficiaryRef    string     `gorm:"type:varchar(36);not null;index"`
	BeneficiaryTier   string     `gorm:"type:varchar(8);not null"`
	Status            string     `gorm:"type:enum('pending','approved','rejected','expired');not null;default:'pending';index"`
	PixPayload        string     `gorm:"type:text"`
	RedirectURL       string     `gorm:"type:varchar(512)"`
	CreatedAt         time.Time  `gorm:"autoCreateTime"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime"`
	ExpiresAt         *time.Time `gorm:"index"`
	ArchivedAt        *time.Time
}

// TableName sets the table name.
func (Charge) TableName() string {
	return "charge"
}
