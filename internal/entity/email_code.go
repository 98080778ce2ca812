package entity

import "time"

// EmailCode backs the legacy mail-a-six-digit-code verification path. The
// code itself is never stored, only its hash.
type EmailCode struct {
	ID     uint   `gorm:"primaryKey;autoIncrement"`
	UserID string `gorm:"type:varchar(20);not null;index"`
	User   User   `gorm:"constraint:OnDelete:CASCADE"`

	Email     string `gorm:"type:varchar(64);not null;index"`
	CodeHash  string `gorm:"type:text;not null"`
	RequestID string `gorm:"type:varchar(8);not null"`

	ExpiresAt time.Time
	UsedAt    *time.Time

	CreatedAt time.Time
}
