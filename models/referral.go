package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReferralRecord is the local snapshot of one referred user as reported by a
// partner affiliate program. (Source, UserID) is the identity; a record is
// created the first time an identity is seen and never deleted by the sync.
type ReferralRecord struct {
	ID          string  `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Source      string  `gorm:"type:varchar(32);not null;uniqueIndex:idx_referral_identity,priority:1;index:idx_referral_rank,priority:1" json:"source"`
	UserID      string  `gorm:"type:varchar(128);not null;uniqueIndex:idx_referral_identity,priority:2" json:"userId"`
	DisplayName *string `json:"displayName"`

	XP               float64         `gorm:"not null;default:0;index:idx_referral_rank,priority:2,sort:desc" json:"xp"`
	WagerAmount      decimal.Decimal `gorm:"type:numeric(20,8);not null;default:0" json:"wagerAmount"`
	DepositAmount    decimal.Decimal `gorm:"type:numeric(20,8);not null;default:0" json:"depositAmount"`
	CommissionAmount decimal.Decimal `gorm:"type:numeric(20,8);not null;default:0" json:"commissionAmount"`

	// ReferredAt is the partner's acquisition time in epoch millis. Set on
	// first sight; later items only replace it with an explicit value.
	ReferredAt *int64 `gorm:"index" json:"referredAt"`

	CreatedAt time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (ReferralRecord) TableName() string { return "referral_records" }
