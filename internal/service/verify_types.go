package service

import (
	"context"
	"time"
)

type VerifyConfig struct {
	EmailCodeTTL      time.Duration
	EmailResendWindow time.Duration
	// SessionTTL of zero keeps sessions resolvable forever, matching the
	// append-only store design.
	SessionTTL time.Duration
}

// OAuthExchanger wraps the identity provider. Exchange returns
// ErrCodeAlreadyRedeemed when the provider reports the code as consumed,
// which the orchestrator treats as a replay, not a failure.
type OAuthExchanger interface {
	AuthorizeURL(state string) string
	Exchange(ctx context.Context, code string) (string, error)
}

// RolePlatform is the capability surface for platform-side side effects.
// All calls are idempotent and safe to repeat.
type RolePlatform interface {
	IsMember(ctx context.Context, guildID string, userID string) (bool, error)
	AddRole(ctx context.Context, guildID string, userID string, roleID string) error
	RemoveRole(ctx context.Context, guildID string, userID string, roleID string) error
	SetNickname(ctx context.Context, guildID string, userID string, nick string) error
	Announce(ctx context.Context, channelID string, message string) error
}

type GuildRoles struct {
	StudentRole          string
	StudentRoleRemove    string
	InstructorRole       string
	InstructorRoleRemove string
	LogChannel           string
}

// RoleConfig is the per-deployment lookup table. A missing guild or a
// zero-value role id means "no action".
type RoleConfig interface {
	GuildIDs() []string
	Guild(guildID string) (GuildRoles, bool)
}

type EmailSender interface {
	SendVerificationCode(ctx context.Context, email string, discordTag string, code string, requestID string) error
}

// LabDirectory answers whether a secondary-system (ialab) username exists.
type LabDirectory interface {
	IsValidUser(ctx context.Context, username string) (bool, error)
}

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}
