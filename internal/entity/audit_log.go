package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AuditAction string

const (
	AuditVerified        AuditAction = "verified"
	AuditReplayRecovered AuditAction = "replay_recovered"
	AuditExchangeFailed  AuditAction = "exchange_failed"
	AuditRoleSyncDenied  AuditAction = "role_sync_denied"
	AuditEmailCodeSent   AuditAction = "email_code_sent"
)

type AuditLog struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	UserID *string     `gorm:"type:varchar(20);index"`
	Action AuditAction `gorm:"type:varchar(32);not null"`

	Metadata datatypes.JSON

	CreatedAt time.Time
}

// BeforeCreate assigns the id client-side so the schema works on mysql and
// sqlite, neither of which has gen_random_uuid().
func (l *AuditLog) BeforeCreate(*gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
