package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/openscholar/journal-api/internal/models"
	"github.com/openscholar/journal-api/internal/repository"
	appErrors "github.com/openscholar/journal-api/pkg/errors"
	"github.com/openscholar/journal-api/pkg/security"
)

type memUsers struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[string]*models.User)}
}

func (m *memUsers) add(u *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memUsers) FindByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memUsers) Create(_ context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = "user-" + u.Email
	}
	m.add(u)
	return nil
}

func (m *memUsers) MarkVerified(_ context.Context, id string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.IsVerified = true
	}
	return nil
}

func (m *memUsers) UpdateLastLogin(_ context.Context, _ string, _ time.Time) error { return nil }

func (m *memUsers) UpdatePassword(_ context.Context, id, hash string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.PasswordHash = hash
	}
	return nil
}

func (m *memUsers) SetResetToken(_ context.Context, id, tok string, expiry time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.ResetToken = &tok
		u.ResetTokenExpiry = &expiry
	}
	return nil
}

func (m *memUsers) FindByResetToken(_ context.Context, tok string, now time.Time) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ResetToken != nil && *u.ResetToken == tok && u.ResetTokenExpiry != nil && !u.ResetTokenExpiry.Before(now) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memUsers) ClearResetToken(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.ResetToken = nil
		u.ResetTokenExpiry = nil
	}
	return nil
}

// memTokens mirrors the conditional rotation semantics of the SQL store: a
// record can be consumed exactly once, no matter how many goroutines race.
type memTokens struct {
	mu      sync.Mutex
	records map[string]*models.RefreshToken
}

func newMemTokens() *memTokens {
	return &memTokens{records: make(map[string]*models.RefreshToken)}
}

func (m *memTokens) Create(_ context.Context, rec *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *memTokens) FindByID(_ context.Context, id string) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memTokens) Revoke(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok && !rec.Revoked {
		rec.Revoked = true
		rec.RevokedAt = &at
	}
	return nil
}

func (m *memTokens) RevokeAllForUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, rec := range m.records {
		if rec.UserID == userID && !rec.Revoked {
			rec.Revoked = true
			rec.RevokedAt = &now
		}
	}
	return nil
}

func (m *memTokens) Rotate(_ context.Context, consumedID string, next *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[consumedID]
	if !ok || rec.Revoked {
		return repository.ErrAlreadyRotated
	}
	now := time.Now().UTC()
	rec.Revoked = true
	rec.RevokedAt = &now
	cp := *next
	m.records[next.ID] = &cp
	return nil
}

type memBlacklist struct {
	mu      sync.Mutex
	entries map[string]time.Duration
	failure error
}

func newMemBlacklist() *memBlacklist {
	return &memBlacklist{entries: make(map[string]time.Duration)}
}

func (m *memBlacklist) Add(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return m.failure
	}
	m.entries[key] = ttl
	return nil
}

func (m *memBlacklist) Contains(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return false, m.failure
	}
	_, ok := m.entries[key]
	return ok, nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (m *memAudit) Create(_ context.Context, log *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *log)
	return nil
}

type memNotifier struct {
	mu           sync.Mutex
	verification []string
	resets       []string
}

func (m *memNotifier) SendVerificationEmail(_ context.Context, _, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verification = append(m.verification, token)
	return nil
}

func (m *memNotifier) SendPasswordResetEmail(_ context.Context, _, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets = append(m.resets, token)
	return nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type authFixture struct {
	svc       *AuthService
	users     *memUsers
	tokens    *memTokens
	blacklist *memBlacklist
	audit     *memAudit
	notifier  *memNotifier
	clock     *fakeClock
	hasher    *security.Hasher
}

const testPassword = "correct-horse-battery"

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	f := &authFixture{
		users:     newMemUsers(),
		tokens:    newMemTokens(),
		blacklist: newMemBlacklist(),
		audit:     &memAudit{},
		notifier:  &memNotifier{},
		clock:     &fakeClock{t: time.Now().UTC()},
		hasher:    security.NewHasher(bcrypt.MinCost),
	}

	hash, err := f.hasher.Hash(testPassword)
	require.NoError(t, err)
	f.users.add(&models.User{
		ID:           "u1",
		Email:        "ana@example.com",
		PasswordHash: hash,
		FirstName:    "Ana",
		LastName:     "Reyes",
		Role:         models.RoleAuthor,
		IsVerified:   true,
	})

	f.svc = NewAuthService(AuthDeps{
		Users:     f.users,
		Tokens:    f.tokens,
		Blacklist: f.blacklist,
		Audit:     f.audit,
		Notifier:  f.notifier,
		Hasher:    f.hasher,
	}, AuthConfig{
		AccessSecret:  "access-secret-for-tests",
		AccessExpiry:  time.Hour,
		RefreshSecret: "refresh-secret-for-tests",
		RefreshExpiry: 7 * 24 * time.Hour,
		Issuer:        "journal-api-test",
		Clock:         f.clock.Now,
	})
	return f
}

func (f *authFixture) login(t *testing.T) *models.LoginResponse {
	t.Helper()
	resp, err := f.svc.Login(context.Background(), models.LoginRequest{
		Email:    "ana@example.com",
		Password: testPassword,
	})
	require.NoError(t, err)
	return resp
}

func TestLoginIssuesUsablePair(t *testing.T) {
	f := newAuthFixture(t)

	resp := f.login(t)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, "ana@example.com", resp.User.Email)

	principal, err := f.svc.ValidateAccess(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", principal.SubjectID)
	assert.Equal(t, models.RoleAuthor, principal.Role)
	assert.NotEmpty(t, principal.JTI)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newAuthFixture(t)

	unverifiedHash, err := f.hasher.Hash(testPassword)
	require.NoError(t, err)
	f.users.add(&models.User{
		ID:           "u2",
		Email:        "pending@example.com",
		PasswordHash: unverifiedHash,
		Role:         models.RoleStudent,
		IsVerified:   false,
	})

	cases := []struct {
		name string
		req  models.LoginRequest
	}{
		{"unknown email", models.LoginRequest{Email: "nobody@example.com", Password: testPassword}},
		{"wrong password", models.LoginRequest{Email: "ana@example.com", Password: "not-the-password"}},
		{"unverified account", models.LoginRequest{Email: "pending@example.com", Password: testPassword}},
	}

	var messages []string
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Login(context.Background(), tc.req)
			require.Error(t, err)
			assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))
			messages = append(messages, appErrors.FromError(err).Message)
		})
	}

	// The wire shape never hints at which check failed.
	for _, msg := range messages {
		assert.Equal(t, messages[0], msg)
	}
}

func TestRefreshRotatesAndConsumes(t *testing.T) {
	f := newAuthFixture(t)
	resp := f.login(t)

	rotated, err := f.svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: resp.RefreshToken})
	require.NoError(t, err)
	assert.NotEmpty(t, rotated.AccessToken)
	assert.NotEqual(t, resp.RefreshToken, rotated.RefreshToken)

	// The consumed token is gone for good.
	_, err = f.svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: resp.RefreshToken})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidRefresh))

	// The successor keeps working.
	principal, err := f.svc.ValidateAccess(context.Background(), rotated.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", principal.SubjectID)
}

func TestConcurrentRefreshHasSingleWinner(t *testing.T) {
	f := newAuthFixture(t)
	resp := f.login(t)

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: resp.RefreshToken})
		}(i)
	}
	wg.Wait()

	var winners, losers int
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case appErrors.Is(err, appErrors.ErrInvalidRefresh):
			losers++
		default:
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, attempts-1, losers)
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	f := newAuthFixture(t)
	resp := f.login(t)

	_, err := f.svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: resp.AccessToken})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidRefresh))
}

func TestRefreshRejectsExpiredToken(t *testing.T) {
	f := newAuthFixture(t)
	resp := f.login(t)

	f.clock.Advance(7*24*time.Hour + time.Second)

	_, err := f.svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: resp.RefreshToken})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidRefresh))
}

func TestRefreshWhenStoreDown(t *testing.T) {
	f := newAuthFixture(t)
	resp := f.login(t)

	// Drop the persisted record and replace the store with one that errors.
	f.svc.tokens = failingTokenStore{}

	_, err := f.svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: resp.RefreshToken})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrStoreUnavailable))
}

type failingTokenStore struct{}

func (failingTokenStore) Create(context.Context, *models.RefreshToken) error { return sql.ErrConnDone }
func (failingTokenStore) FindByID(context.Context, string) (*models.RefreshToken, error) {
	return nil, sql.ErrConnDone
}
func (failingTokenStore) Revoke(context.Context, string, time.Time) error { return sql.ErrConnDone }
func (failingTokenStore) RevokeAllForUser(context.Context, string) error  { return sql.ErrConnDone }
func (failingTokenStore) Rotate(context.Context, string, *models.RefreshToken) error {
	return sql.ErrConnDone
}

func TestLogoutBlacklistsRemainingLifetime(t *testing.T) {
	f := newAuthFixture(t)
	resp := f.login(t)

	f.clock.Advance(20 * time.Minute)
	f.svc.Logout(context.Background(), resp.AccessToken, resp.RefreshToken, "127.0.0.1", "test-agent")

	_, err := f.svc.ValidateAccess(context.Background(), resp.AccessToken)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))

	// TTL never exceeds what is left on the token.
	f.blacklist.mu.Lock()
	defer f.blacklist.mu.Unlock()
	require.Len(t, f.blacklist.entries, 1)
	for _, ttl := range f.blacklist.entries {
		assert.LessOrEqual(t, ttl, 40*time.Minute)
		assert.Greater(t, ttl, time.Duration(0))
	}
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	f := newAuthFixture(t)
	resp := f.login(t)

	f.svc.Logout(context.Background(), resp.AccessToken, resp.RefreshToken, "", "")

	_, err := f.svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: resp.RefreshToken})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidRefresh))
}

func TestLogoutSurvivesBlacklistOutage(t *testing.T) {
	f := newAuthFixture(t)
	resp := f.login(t)

	f.blacklist.failure = sql.ErrConnDone

	// Best effort: the outage is logged and swallowed.
	f.svc.Logout(context.Background(), resp.AccessToken, "", "", "")
}

func TestLogoutWithGarbageTokensIsANoop(t *testing.T) {
	f := newAuthFixture(t)

	f.svc.Logout(context.Background(), "not-a-jwt", "also-not-a-jwt", "", "")

	f.blacklist.mu.Lock()
	defer f.blacklist.mu.Unlock()
	assert.Empty(t, f.blacklist.entries)
}

func TestValidateAccessExpiry(t *testing.T) {
	f := newAuthFixture(t)
	resp := f.login(t)

	f.clock.Advance(time.Hour + time.Second)

	_, err := f.svc.ValidateAccess(context.Background(), resp.AccessToken)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}

func TestValidateAccessFailsClosedOnBlacklistOutage(t *testing.T) {
	f := newAuthFixture(t)
	resp := f.login(t)

	f.blacklist.failure = sql.ErrConnDone

	_, err := f.svc.ValidateAccess(context.Background(), resp.AccessToken)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrStoreUnavailable))
}

func TestValidateAccessRejectsRefreshToken(t *testing.T) {
	f := newAuthFixture(t)
	resp := f.login(t)

	_, err := f.svc.ValidateAccess(context.Background(), resp.RefreshToken)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}

func TestRegisterAndVerifyFlow(t *testing.T) {
	f := newAuthFixture(t)

	resp, err := f.svc.Register(context.Background(), models.RegisterRequest{
		Email:     "new@example.com",
		Password:  "a-long-password",
		FirstName: "New",
		LastName:  "Author",
		Role:      models.RoleAuthor,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.UserID)
	require.Len(t, f.notifier.verification, 1)

	// Unverified accounts cannot log in yet.
	_, err = f.svc.Login(context.Background(), models.LoginRequest{Email: "new@example.com", Password: "a-long-password"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))

	require.NoError(t, f.svc.VerifyEmail(context.Background(), f.notifier.verification[0]))
	// Verification is idempotent.
	require.NoError(t, f.svc.VerifyEmail(context.Background(), f.notifier.verification[0]))

	_, err = f.svc.Login(context.Background(), models.LoginRequest{Email: "new@example.com", Password: "a-long-password"})
	require.NoError(t, err)
}

func TestRegisterRejectsPrivilegedRole(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Register(context.Background(), models.RegisterRequest{
		Email:     "boss@example.com",
		Password:  "a-long-password",
		FirstName: "Would-Be",
		LastName:  "Admin",
		Role:      models.RoleAdmin,
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Register(context.Background(), models.RegisterRequest{
		Email:     "ana@example.com",
		Password:  "a-long-password",
		FirstName: "Ana",
		LastName:  "Again",
		Role:      models.RoleAuthor,
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestPasswordResetFlowEndsSessions(t *testing.T) {
	f := newAuthFixture(t)
	resp := f.login(t)

	require.NoError(t, f.svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Email: "ana@example.com"}))
	require.Len(t, f.notifier.resets, 1)

	err := f.svc.ResetPassword(context.Background(), models.ResetPasswordRequest{
		Token:       f.notifier.resets[0],
		NewPassword: "a-brand-new-password",
	})
	require.NoError(t, err)

	// Old refresh tokens are dead, the new password works.
	_, err = f.svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: resp.RefreshToken})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidRefresh))

	_, err = f.svc.Login(context.Background(), models.LoginRequest{Email: "ana@example.com", Password: "a-brand-new-password"})
	require.NoError(t, err)
}

func TestResetPasswordRejectsStaleToken(t *testing.T) {
	f := newAuthFixture(t)

	require.NoError(t, f.svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Email: "ana@example.com"}))
	f.clock.Advance(2 * time.Hour)

	err := f.svc.ResetPassword(context.Background(), models.ResetPasswordRequest{
		Token:       f.notifier.resets[0],
		NewPassword: "a-brand-new-password",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestChangePassword(t *testing.T) {
	f := newAuthFixture(t)
	resp := f.login(t)

	err := f.svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{
		OldPassword: "wrong-old-password",
		NewPassword: "a-brand-new-password",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))

	err = f.svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{
		OldPassword: testPassword,
		NewPassword: "a-brand-new-password",
	})
	require.NoError(t, err)

	// All refresh tokens issued before the change are revoked.
	_, err = f.svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: resp.RefreshToken})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidRefresh))
}

func TestAuditTrailRecordsSessionEvents(t *testing.T) {
	f := newAuthFixture(t)
	resp := f.login(t)

	_, err := f.svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: resp.RefreshToken})
	require.NoError(t, err)
	f.svc.Logout(context.Background(), resp.AccessToken, "", "", "")

	f.audit.mu.Lock()
	defer f.audit.mu.Unlock()
	var actions []string
	for _, entry := range f.audit.entries {
		actions = append(actions, entry.Action)
	}
	assert.Equal(t, []string{models.AuditActionLogin, models.AuditActionTokenRefresh, models.AuditActionLogout}, actions)
}
