package entity

import "time"

type Classification string

const (
	ClassificationUnknown       Classification = "unknown"
	ClassificationNonAffiliated Classification = "non-affiliated"
	ClassificationStudent       Classification = "student"
	ClassificationStaff         Classification = "staff"
)

// User keys on the Discord snowflake, stored as a string to survive JSON
// round-trips without precision loss.
type User struct {
	ID         string `gorm:"type:varchar(20);primaryKey"`
	DiscordTag string `gorm:"type:varchar(64);not null"`

	Email          *string        `gorm:"type:varchar(64)"`
	Name           *string        `gorm:"type:varchar(64)"`
	Classification Classification `gorm:"type:varchar(16);default:'unknown';not null"`
	LabUsername    *string        `gorm:"type:varchar(64)"`

	FirstSeenAt time.Time
	VerifiedAt  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	Sessions []OAuthSession `gorm:"foreignKey:UserID"`
}

func (u *User) Verified() bool {
	return u.Classification != ClassificationUnknown && u.Email != nil
}
