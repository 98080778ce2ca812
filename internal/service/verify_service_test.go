package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"testing"
	"time"

	"dsuauth/internal/entity"
	"dsuauth/internal/repository"

	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type fakeExchanger struct {
	calls    int
	exchange func(code string) (string, error)
}

func (f *fakeExchanger) AuthorizeURL(state string) string {
	return "https://login.example/authorize?state=" + state
}

func (f *fakeExchanger) Exchange(_ context.Context, code string) (string, error) {
	f.calls++
	return f.exchange(code)
}

type fakePlatform struct {
	members   map[string]bool
	addErr    map[string]error
	added     []string
	removed   []string
	nicknames map[string]string
	announced []string
}

func newFakePlatform(memberOf ...string) *fakePlatform {
	members := make(map[string]bool)
	for _, guildID := range memberOf {
		members[guildID] = true
	}
	return &fakePlatform{members: members, nicknames: make(map[string]string)}
}

func (f *fakePlatform) IsMember(_ context.Context, guildID string, _ string) (bool, error) {
	return f.members[guildID], nil
}

func (f *fakePlatform) AddRole(_ context.Context, guildID string, _ string, roleID string) error {
	if err := f.addErr[guildID]; err != nil {
		return err
	}
	f.added = append(f.added, guildID+"/"+roleID)
	return nil
}

func (f *fakePlatform) RemoveRole(_ context.Context, guildID string, _ string, roleID string) error {
	f.removed = append(f.removed, guildID+"/"+roleID)
	return nil
}

func (f *fakePlatform) SetNickname(_ context.Context, guildID string, _ string, nick string) error {
	f.nicknames[guildID] = nick
	return nil
}

func (f *fakePlatform) Announce(_ context.Context, channelID string, message string) error {
	f.announced = append(f.announced, channelID+": "+message)
	return nil
}

type staticRoles struct {
	order  []string
	guilds map[string]GuildRoles
}

func (s staticRoles) GuildIDs() []string { return s.order }

func (s staticRoles) Guild(guildID string) (GuildRoles, bool) {
	guild, ok := s.guilds[guildID]
	return guild, ok
}

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

type fakeSender struct {
	email string
	code  string
	sends int
}

func (f *fakeSender) SendVerificationCode(_ context.Context, email string, _ string, code string, _ string) error {
	f.email = email
	f.code = code
	f.sends++
	return nil
}

type fakeDirectory struct {
	valid map[string]bool
}

func (f *fakeDirectory) IsValidUser(_ context.Context, username string) (bool, error) {
	return f.valid[username], nil
}

type fixture struct {
	svc       *VerifyService
	users     repository.UserRepository
	sessions  repository.SessionRepository
	exchanger *fakeExchanger
	platform  *fakePlatform
	clock     *fakeClock
	sender    *fakeSender
	directory *fakeDirectory
}

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test"))
	require.NoError(t, err)
	return token
}

func newFixture(t *testing.T, config VerifyConfig) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&entity.User{},
		&entity.OAuthSession{},
		&entity.EmailCode{},
		&entity.AuditLog{},
	))

	studentToken := signedToken(t, jwt.MapClaims{
		"unique_name": "john.doe@trojans.dsu.edu",
		"name":        "John Doe",
	})
	exchanger := &fakeExchanger{
		exchange: func(string) (string, error) { return studentToken, nil },
	}
	platform := newFakePlatform("guild-1")
	roles := staticRoles{
		order: []string{"guild-1"},
		guilds: map[string]GuildRoles{
			"guild-1": {StudentRole: "role-student", InstructorRole: "role-staff", LogChannel: "chan-log"},
		},
	}
	clock := &fakeClock{now: time.Now()}
	sender := &fakeSender{}
	directory := &fakeDirectory{valid: map[string]bool{"jdoe": true}}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	svc := NewVerifyService(
		repository.NewUserRepository(db),
		repository.NewSessionRepository(db),
		repository.NewEmailCodeRepository(db),
		repository.NewAuditLogRepository(db),
		exchanger,
		platform,
		roles,
		sender,
		directory,
		clock,
		logger,
		config,
	)
	return &fixture{
		svc:       svc,
		users:     repository.NewUserRepository(db),
		sessions:  repository.NewSessionRepository(db),
		exchanger: exchanger,
		platform:  platform,
		clock:     clock,
		sender:    sender,
		directory: directory,
	}
}

func startVerification(t *testing.T, f *fixture, userID string, tag string) string {
	t.Helper()
	authorizeURL, err := f.svc.Start(context.Background(), userID, tag)
	require.NoError(t, err)
	parsed, err := url.Parse(authorizeURL)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.Len(t, state, 16)
	return state
}

func TestStartCreatesSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, VerifyConfig{})

	state := startVerification(t, f, "111", "john#0")

	session, err := f.sessions.FindByState(ctx, state)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "111", session.UserID)
	assert.True(t, session.Pending())

	user, err := f.users.FindByID(ctx, "111")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "john#0", user.DiscordTag)
	assert.False(t, user.Verified())
}

func TestStartIssuesDistinctStates(t *testing.T) {
	f := newFixture(t, VerifyConfig{})

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		seen[startVerification(t, f, "111", "john#0")] = true
	}
	assert.Len(t, seen, 20)
}

func TestVerifyUnknownState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, VerifyConfig{})

	_, err := f.svc.Verify(ctx, "0000000000000000", "some-code")
	assert.ErrorIs(t, err, ErrInvalidSession)
	assert.Zero(t, f.exchanger.calls, "no exchange may happen for an unknown state")

	users, err := f.svc.ListUsers(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestVerifySuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, VerifyConfig{})

	state := startVerification(t, f, "111", "john#0")

	message, err := f.svc.Verify(ctx, state, "code-1")
	require.NoError(t, err)
	assert.Equal(t, MsgVerified, message)

	user, err := f.users.FindByID(ctx, "111")
	require.NoError(t, err)
	require.NotNil(t, user)
	require.NotNil(t, user.Email)
	assert.Equal(t, "john.doe@trojans.dsu.edu", *user.Email)
	require.NotNil(t, user.Name)
	assert.Equal(t, "John Doe", *user.Name)
	assert.Equal(t, entity.ClassificationStudent, user.Classification)
	assert.True(t, user.Verified())

	session, err := f.sessions.FindByState(ctx, state)
	require.NoError(t, err)
	require.NotNil(t, session.AccessToken)
	assert.False(t, session.Pending())

	assert.Equal(t, []string{"guild-1/role-student"}, f.platform.added)
	assert.Equal(t, "John Doe", f.platform.nicknames["guild-1"])
	require.Len(t, f.platform.announced, 1)
	assert.Equal(t, "chan-log: Student John Doe email john.doe@trojans.dsu.edu linked <@111>", f.platform.announced[0])
}

func TestVerifyReplayRecoversStoredToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, VerifyConfig{})

	token := signedToken(t, jwt.MapClaims{"unique_name": "john.doe@trojans.dsu.edu", "name": "John Doe"})
	redeemed := false
	f.exchanger.exchange = func(string) (string, error) {
		if redeemed {
			return "", ErrCodeAlreadyRedeemed
		}
		redeemed = true
		return token, nil
	}

	state := startVerification(t, f, "111", "john#0")

	first, err := f.svc.Verify(ctx, state, "code-1")
	require.NoError(t, err)
	assert.Equal(t, MsgVerified, first)

	// The provider now refuses the code, but the first redemption left the
	// token on the session.
	second, err := f.svc.Verify(ctx, state, "code-1")
	require.NoError(t, err)
	assert.Equal(t, MsgVerified, second)
	assert.Equal(t, 2, f.exchanger.calls)

	user, err := f.users.FindByID(ctx, "111")
	require.NoError(t, err)
	assert.True(t, user.Verified())
}

func TestVerifyReplayWithoutStoredToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, VerifyConfig{})

	f.exchanger.exchange = func(string) (string, error) { return "", ErrCodeAlreadyRedeemed }

	state := startVerification(t, f, "111", "john#0")

	_, err := f.svc.Verify(ctx, state, "code-1")
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestVerifyExchangeFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, VerifyConfig{})

	f.exchanger.exchange = func(string) (string, error) { return "", errors.New("provider down") }

	state := startVerification(t, f, "111", "john#0")

	_, err := f.svc.Verify(ctx, state, "code-1")
	assert.ErrorIs(t, err, ErrInvalidSession)

	user, err := f.users.FindByID(ctx, "111")
	require.NoError(t, err)
	assert.False(t, user.Verified())
}

func TestVerifyExpiredSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, VerifyConfig{SessionTTL: 10 * time.Minute})

	state := startVerification(t, f, "111", "john#0")
	f.clock.Advance(11 * time.Minute)

	_, err := f.svc.Verify(ctx, state, "code-1")
	assert.ErrorIs(t, err, ErrInvalidSession)
	assert.Zero(t, f.exchanger.calls)
}

func TestVerifyRoleSyncFailureDoesNotFailVerification(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, VerifyConfig{})

	f.platform.members["guild-2"] = true
	f.platform.addErr = map[string]error{
		"guild-1": fmt.Errorf("%w: add role: status 403", ErrRoleSyncDenied),
	}
	roles := staticRoles{
		order: []string{"guild-1", "guild-2"},
		guilds: map[string]GuildRoles{
			"guild-1": {StudentRole: "role-a"},
			"guild-2": {StudentRole: "role-b"},
		},
	}
	f.svc.roles = roles

	message, err := f.svc.Verify(ctx, startVerification(t, f, "111", "john#0"), "code-1")
	require.NoError(t, err)
	assert.Equal(t, MsgVerified, message)

	// The failing guild is skipped, the other still converges.
	assert.Equal(t, []string{"guild-2/role-b"}, f.platform.added)

	user, err := f.users.FindByID(ctx, "111")
	require.NoError(t, err)
	assert.True(t, user.Verified())
}

func TestVerifyNonAffiliatedGetsNoRoles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, VerifyConfig{})

	f.exchanger.exchange = func(string) (string, error) {
		return signedToken(t, jwt.MapClaims{"unique_name": "jane@gmail.com", "name": "Jane"}), nil
	}

	message, err := f.svc.Verify(ctx, startVerification(t, f, "222", "jane#0"), "code-1")
	require.NoError(t, err)
	assert.Equal(t, MsgVerified, message)

	user, err := f.users.FindByID(ctx, "222")
	require.NoError(t, err)
	assert.Equal(t, entity.ClassificationNonAffiliated, user.Classification)
	assert.Empty(t, f.platform.added)
}

func TestRequestEmailCodeEligibility(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, VerifyConfig{})

	_, err := f.svc.RequestEmailCode(ctx, "111", "john#0", "john.doe@gmail.com")
	assert.ErrorIs(t, err, ErrEmailNotEligible)

	_, err = f.svc.RequestEmailCode(ctx, "111", "john#0", "john.doe@dsu.edu.evil.com")
	assert.ErrorIs(t, err, ErrEmailNotEligible)

	requestID, err := f.svc.RequestEmailCode(ctx, "111", "john#0", "John.Doe@DSU.edu")
	require.NoError(t, err)
	assert.Len(t, requestID, 5)
	assert.Equal(t, "john.doe@dsu.edu", f.sender.email)
	assert.Regexp(t, `^\d{6}$`, f.sender.code)
}

func TestRequestEmailCodeThrottled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, VerifyConfig{EmailResendWindow: 10 * time.Minute})

	_, err := f.svc.RequestEmailCode(ctx, "111", "john#0", "john.doe@dsu.edu")
	require.NoError(t, err)

	_, err = f.svc.RequestEmailCode(ctx, "111", "john#0", "john.doe@dsu.edu")
	assert.ErrorIs(t, err, ErrEmailThrottled)
	assert.Equal(t, 1, f.sender.sends)

	f.clock.Advance(11 * time.Minute)
	_, err = f.svc.RequestEmailCode(ctx, "111", "john#0", "john.doe@dsu.edu")
	require.NoError(t, err)
	assert.Equal(t, 2, f.sender.sends)
}

func TestVerifyEmailCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, VerifyConfig{EmailCodeTTL: 30 * time.Minute})

	_, err := f.svc.RequestEmailCode(ctx, "111", "john#0", "john.doe@dsu.edu")
	require.NoError(t, err)

	_, err = f.svc.VerifyEmailCode(ctx, "111", "000000")
	if f.sender.code == "000000" {
		t.Skip("generated code collided with the guess")
	}
	assert.ErrorIs(t, err, ErrInvalidEmailCode)

	message, err := f.svc.VerifyEmailCode(ctx, "111", f.sender.code)
	require.NoError(t, err)
	assert.Equal(t, MsgVerified, message)

	user, err := f.users.FindByID(ctx, "111")
	require.NoError(t, err)
	require.NotNil(t, user.Email)
	assert.Equal(t, "john.doe@dsu.edu", *user.Email)
	assert.Equal(t, entity.ClassificationStaff, user.Classification)
	require.NotNil(t, user.Name)
	assert.Equal(t, "John Doe", *user.Name)

	// Codes are single use.
	_, err = f.svc.VerifyEmailCode(ctx, "111", f.sender.code)
	assert.ErrorIs(t, err, ErrInvalidEmailCode)
}

func TestVerifyEmailCodeExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, VerifyConfig{EmailCodeTTL: 30 * time.Minute})

	_, err := f.svc.RequestEmailCode(ctx, "111", "john#0", "john.doe@dsu.edu")
	require.NoError(t, err)

	f.clock.Advance(31 * time.Minute)
	_, err = f.svc.VerifyEmailCode(ctx, "111", f.sender.code)
	assert.ErrorIs(t, err, ErrInvalidEmailCode)
}

func TestRequestEmailCodeWithoutSender(t *testing.T) {
	f := newFixture(t, VerifyConfig{})
	f.svc.emailSender = nil

	_, err := f.svc.RequestEmailCode(context.Background(), "111", "john#0", "john.doe@dsu.edu")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSetLabUsername(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, VerifyConfig{})

	require.NoError(t, f.svc.RecordSighting(ctx, "111", "john#0"))

	require.NoError(t, f.svc.SetLabUsername(ctx, "111", "jdoe"))
	user, err := f.users.FindByID(ctx, "111")
	require.NoError(t, err)
	require.NotNil(t, user.LabUsername)
	assert.Equal(t, "jdoe", *user.LabUsername)

	err = f.svc.SetLabUsername(ctx, "111", "nobody")
	assert.ErrorIs(t, err, ErrUnknownLabUser)

	f.svc.labDirectory = nil
	err = f.svc.SetLabUsername(ctx, "111", "jdoe")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestGetUserNotFound(t *testing.T) {
	f := newFixture(t, VerifyConfig{})

	_, err := f.svc.GetUser(context.Background(), "999")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
