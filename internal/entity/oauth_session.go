package entity

import "time"

// OAuthSession correlates a callback redirect with the user who initiated
// verification. Rows are append/update-only: a consumed session keeps its
// code and token so a replayed callback can be answered from the store.
type OAuthSession struct {
	State  string `gorm:"type:char(16);primaryKey"`
	UserID string `gorm:"type:varchar(20);not null;index"`
	User   User   `gorm:"constraint:OnDelete:CASCADE"`

	AuthorizationCode *string `gorm:"type:varchar(2048);index"`
	AccessToken       *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *OAuthSession) Pending() bool {
	return s.AuthorizationCode == nil
}
