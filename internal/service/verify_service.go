package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"dsuauth/internal/entity"
	"dsuauth/internal/repository"
	"dsuauth/internal/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

const MsgVerified = "Verified! You can close this tab and head back to Discord."

const createSessionAttempts = 3

var eligibleEmailPattern = regexp.MustCompile(`^\w+(\.\w+)*@(trojans\.|pluto\.)?dsu\.edu$`)

type VerifyService struct {
	users      repository.UserRepository
	sessions   repository.SessionRepository
	emailCodes repository.EmailCodeRepository
	auditLogs  repository.AuditLogRepository

	exchanger    OAuthExchanger
	platform     RolePlatform
	roles        RoleConfig
	emailSender  EmailSender
	labDirectory LabDirectory
	clock        Clock
	logger       logrus.FieldLogger
	config       VerifyConfig

	// mu serializes read-modify-write sequences against the store so they
	// behave atomically under concurrent callbacks. It is never held across
	// the provider exchange.
	mu sync.Mutex
}

func NewVerifyService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	emailCodes repository.EmailCodeRepository,
	auditLogs repository.AuditLogRepository,
	exchanger OAuthExchanger,
	platform RolePlatform,
	roles RoleConfig,
	emailSender EmailSender,
	labDirectory LabDirectory,
	clock Clock,
	logger logrus.FieldLogger,
	config VerifyConfig,
) *VerifyService {
	return &VerifyService{
		users:        users,
		sessions:     sessions,
		emailCodes:   emailCodes,
		auditLogs:    auditLogs,
		exchanger:    exchanger,
		platform:     platform,
		roles:        roles,
		emailSender:  emailSender,
		labDirectory: labDirectory,
		clock:        clock,
		logger:       logger,
		config:       config,
	}
}

// RecordSighting refreshes the cached tag whenever the user is seen on the
// platform (join, message, command).
func (s *VerifyService) RecordSighting(ctx context.Context, userID string, tag string) error {
	if userID == "" || tag == "" {
		return ErrInvalidInput
	}
	if err := s.users.UpsertSighting(ctx, userID, tag, s.now()); err != nil {
		return storeErr(err)
	}
	return nil
}

// Start opens a verification session and returns the provider authorization
// URL carrying the session token as the state parameter.
func (s *VerifyService) Start(ctx context.Context, userID string, tag string) (string, error) {
	if userID == "" {
		return "", ErrInvalidInput
	}
	if tag != "" {
		if err := s.users.UpsertSighting(ctx, userID, tag, s.now()); err != nil {
			return "", storeErr(err)
		}
	}

	var state string
	for attempt := 0; ; attempt++ {
		token, err := utils.GenerateStateToken()
		if err != nil {
			return "", err
		}
		createErr := s.sessions.Create(ctx, &entity.OAuthSession{State: token, UserID: userID})
		if createErr == nil {
			state = token
			break
		}
		if attempt+1 >= createSessionAttempts {
			return "", storeErr(createErr)
		}
	}

	s.log().WithFields(logrus.Fields{
		"user_id": userID,
		"state":   statePrefix(state),
	}).Info("verification started")
	return s.exchanger.AuthorizeURL(state), nil
}

// Verify drives a callback through exchange, classification, persistence
// and role sync. Unknown state, failed exchange and malformed claims all
// collapse into ErrInvalidSession so the browser-visible message leaks
// nothing about which step failed.
func (s *VerifyService) Verify(ctx context.Context, state string, code string) (string, error) {
	session, err := s.sessions.FindByState(ctx, state)
	if err != nil {
		return "", storeErr(err)
	}
	if session == nil || s.sessionExpired(session) {
		return "", ErrInvalidSession
	}

	logger := s.log().WithFields(logrus.Fields{
		"user_id": session.UserID,
		"state":   statePrefix(state),
	})

	// The exchange is a slow remote call; the store lock is not held here.
	token, err := s.exchanger.Exchange(ctx, code)
	switch {
	case errors.Is(err, ErrCodeAlreadyRedeemed):
		previous, lookupErr := s.sessions.FindByCode(ctx, code)
		if lookupErr != nil {
			return "", storeErr(lookupErr)
		}
		if previous == nil || previous.AccessToken == nil {
			logger.Warn("replayed code with no stored token")
			return "", ErrInvalidSession
		}
		token = *previous.AccessToken
		s.audit(ctx, session.UserID, entity.AuditReplayRecovered, map[string]any{"state": statePrefix(state)})
		logger.Info("replay recovered from stored token")
	case err != nil:
		logger.WithError(err).Warn("token exchange failed")
		s.audit(ctx, session.UserID, entity.AuditExchangeFailed, map[string]any{"state": statePrefix(state)})
		return "", ErrInvalidSession
	}

	claims, err := DecodeTokenClaims(token)
	if err != nil {
		logger.WithError(err).Warn("undecodable token claims")
		return "", ErrInvalidSession
	}

	classification := Classify(claims.Email)

	// Session update before user update: a crash in between leaves the
	// session carrying code and token, enough to recover on a retried
	// callback.
	s.mu.Lock()
	if err := s.sessions.RecordExchange(ctx, state, code, token); err != nil {
		s.mu.Unlock()
		return "", storeErr(err)
	}
	if err := s.users.ApplyVerification(ctx, session.UserID, claims.Email, claims.Name, classification, s.now()); err != nil {
		s.mu.Unlock()
		return "", storeErr(err)
	}
	s.mu.Unlock()

	s.audit(ctx, session.UserID, entity.AuditVerified, map[string]any{
		"email":          claims.Email,
		"classification": classification,
	})
	logger.WithFields(logrus.Fields{
		"email":          claims.Email,
		"classification": classification,
	}).Info("verified")

	s.syncRoles(ctx, session.UserID, claims.Email, claims.Name, classification)
	return MsgVerified, nil
}

// RequestEmailCode runs the legacy mail-a-code path: a six-digit code sent
// to an institutional address, valid for a bounded window.
func (s *VerifyService) RequestEmailCode(ctx context.Context, userID string, tag string, email string) (string, error) {
	if userID == "" || email == "" {
		return "", ErrInvalidInput
	}
	if s.emailSender == nil {
		return "", ErrNotConfigured
	}
	email = utils.NormalizeEmail(email)
	if !eligibleEmailPattern.MatchString(email) {
		return "", ErrEmailNotEligible
	}
	if tag != "" {
		if err := s.users.UpsertSighting(ctx, userID, tag, s.now()); err != nil {
			return "", storeErr(err)
		}
	}

	last, err := s.emailCodes.LastRequestedAt(ctx, email)
	if err != nil {
		return "", storeErr(err)
	}
	if last != nil && s.now().Sub(*last) < s.resendWindow() {
		return "", ErrEmailThrottled
	}

	code, err := utils.GenerateEmailCode()
	if err != nil {
		return "", err
	}
	requestID, err := utils.GenerateRequestID()
	if err != nil {
		return "", err
	}

	record := &entity.EmailCode{
		UserID:    userID,
		Email:     email,
		CodeHash:  utils.HashCode(code),
		RequestID: requestID,
		ExpiresAt: s.now().Add(s.emailCodeTTL()),
	}
	if err := s.emailCodes.Create(ctx, record); err != nil {
		return "", storeErr(err)
	}

	if err := s.emailSender.SendVerificationCode(ctx, email, tag, code, requestID); err != nil {
		return "", err
	}

	s.audit(ctx, userID, entity.AuditEmailCodeSent, map[string]any{"request_id": requestID})
	return requestID, nil
}

// VerifyEmailCode finishes the legacy path, landing on the same
// classify/persist/sync tail as the OAuth flow.
func (s *VerifyService) VerifyEmailCode(ctx context.Context, userID string, code string) (string, error) {
	if userID == "" || code == "" {
		return "", ErrInvalidInput
	}

	record, err := s.emailCodes.FindValid(ctx, userID, utils.HashCode(code), s.now())
	if err != nil {
		return "", storeErr(err)
	}
	if record == nil {
		return "", ErrInvalidEmailCode
	}

	classification := Classify(record.Email)
	name := utils.DeriveName(record.Email)

	s.mu.Lock()
	if err := s.emailCodes.MarkUsed(ctx, record.ID, s.now()); err != nil {
		s.mu.Unlock()
		return "", storeErr(err)
	}
	if err := s.users.ApplyVerification(ctx, userID, record.Email, name, classification, s.now()); err != nil {
		s.mu.Unlock()
		return "", storeErr(err)
	}
	s.mu.Unlock()

	s.audit(ctx, userID, entity.AuditVerified, map[string]any{
		"email":          record.Email,
		"classification": classification,
		"path":           "email_code",
	})

	s.syncRoles(ctx, userID, record.Email, name, classification)
	return MsgVerified, nil
}

func (s *VerifyService) SetLabUsername(ctx context.Context, userID string, username string) error {
	if userID == "" || username == "" {
		return ErrInvalidInput
	}
	if s.labDirectory == nil {
		return ErrNotConfigured
	}
	valid, err := s.labDirectory.IsValidUser(ctx, username)
	if err != nil {
		return err
	}
	if !valid {
		return ErrUnknownLabUser
	}
	if err := s.users.UpdateLabUsername(ctx, userID, username); err != nil {
		return storeErr(err)
	}
	return nil
}

func (s *VerifyService) GetUser(ctx context.Context, userID string) (*entity.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (s *VerifyService) ListUsers(ctx context.Context, limit, offset int) ([]entity.User, error) {
	users, err := s.users.List(ctx, limit, offset)
	if err != nil {
		return nil, storeErr(err)
	}
	return users, nil
}

// syncRoles converges role and nickname state on every configured guild the
// user is a member of. Per-guild failures are logged and isolated; they
// never fail the verification that triggered them.
func (s *VerifyService) syncRoles(ctx context.Context, userID string, email string, name string, classification entity.Classification) {
	if s.platform == nil || s.roles == nil {
		return
	}
	for _, guildID := range s.roles.GuildIDs() {
		guild, ok := s.roles.Guild(guildID)
		if !ok {
			continue
		}
		member, err := s.platform.IsMember(ctx, guildID, userID)
		if err != nil {
			s.logSyncFailure(ctx, userID, guildID, "membership check", err)
			continue
		}
		if !member {
			continue
		}
		s.syncGuild(ctx, userID, email, name, classification, guildID, guild)
	}
}

func (s *VerifyService) syncGuild(ctx context.Context, userID string, email string, name string, classification entity.Classification, guildID string, guild GuildRoles) {
	add, remove := rolesFor(classification, guild)
	if add != "" {
		if err := s.platform.AddRole(ctx, guildID, userID, add); err != nil {
			s.logSyncFailure(ctx, userID, guildID, "add role", err)
		}
	}
	if remove != "" {
		if err := s.platform.RemoveRole(ctx, guildID, userID, remove); err != nil {
			s.logSyncFailure(ctx, userID, guildID, "remove role", err)
		}
	}
	if name != "" {
		if err := s.platform.SetNickname(ctx, guildID, userID, name); err != nil {
			s.logSyncFailure(ctx, userID, guildID, "set nickname", err)
		}
	}
	if guild.LogChannel != "" {
		message := fmt.Sprintf("%s %s email %s linked <@%s>",
			utils.Capitalize(string(classification)), name, email, userID)
		if err := s.platform.Announce(ctx, guild.LogChannel, message); err != nil {
			s.logSyncFailure(ctx, userID, guildID, "announce", err)
		}
	}
}

func rolesFor(classification entity.Classification, guild GuildRoles) (add string, remove string) {
	switch classification {
	case entity.ClassificationStudent:
		return guild.StudentRole, guild.StudentRoleRemove
	case entity.ClassificationStaff:
		return guild.InstructorRole, guild.InstructorRoleRemove
	}
	return "", ""
}

func (s *VerifyService) logSyncFailure(ctx context.Context, userID string, guildID string, step string, err error) {
	s.log().WithError(err).WithFields(logrus.Fields{
		"user_id":  userID,
		"guild_id": guildID,
		"step":     step,
	}).Warn("role sync failure")
	if errors.Is(err, ErrRoleSyncDenied) {
		s.audit(ctx, userID, entity.AuditRoleSyncDenied, map[string]any{
			"guild_id": guildID,
			"step":     step,
		})
	}
}

func (s *VerifyService) sessionExpired(session *entity.OAuthSession) bool {
	if s.config.SessionTTL <= 0 {
		return false
	}
	return s.now().Sub(session.CreatedAt) > s.config.SessionTTL
}

func (s *VerifyService) audit(ctx context.Context, userID string, action entity.AuditAction, metadata map[string]any) {
	if s.auditLogs == nil {
		return
	}
	var payload datatypes.JSON
	if metadata != nil {
		if bytes, err := json.Marshal(metadata); err == nil {
			payload = datatypes.JSON(bytes)
		}
	}
	entry := &entity.AuditLog{Action: action, Metadata: payload}
	if userID != "" {
		entry.UserID = &userID
	}
	if err := s.auditLogs.Log(ctx, entry); err != nil {
		s.log().WithError(err).Warn("audit append failed")
	}
}

func (s *VerifyService) now() time.Time {
	if s.clock == nil {
		return time.Now()
	}
	return s.clock.Now()
}

func (s *VerifyService) log() logrus.FieldLogger {
	if s.logger == nil {
		return logrus.StandardLogger()
	}
	return s.logger
}

func (s *VerifyService) emailCodeTTL() time.Duration {
	if s.config.EmailCodeTTL > 0 {
		return s.config.EmailCodeTTL
	}
	return 30 * time.Minute
}

func (s *VerifyService) resendWindow() time.Duration {
	if s.config.EmailResendWindow > 0 {
		return s.config.EmailResendWindow
	}
	return 10 * time.Minute
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func statePrefix(state string) string {
	if len(state) <= 4 {
		return state
	}
	return state[:4]
}
