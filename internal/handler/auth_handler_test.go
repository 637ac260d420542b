package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/openscholar/journal-api/internal/middleware"
	"github.com/openscholar/journal-api/internal/models"
	"github.com/openscholar/journal-api/internal/repository"
	"github.com/openscholar/journal-api/internal/service"
	"github.com/openscholar/journal-api/pkg/security"
)

type userStoreMock struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func (m *userStoreMock) FindByEmail(_ context.Context, email string) (*models.User, error) {
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

func (m *userStoreMock) FindByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *userStoreMock) Create(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *userStoreMock) MarkVerified(_ context.Context, id string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.IsVerified = true
	}
	return nil
}

func (m *userStoreMock) UpdateLastLogin(_ context.Context, _ string, _ time.Time) error { return nil }
func (m *userStoreMock) UpdatePassword(_ context.Context, _, _ string, _ time.Time) error {
	return nil
}
func (m *userStoreMock) SetResetToken(_ context.Context, _, _ string, _ time.Time) error { return nil }
func (m *userStoreMock) FindByResetToken(_ context.Context, _ string, _ time.Time) (*models.User, error) {
	return nil, sql.ErrNoRows
}
func (m *userStoreMock) ClearResetToken(_ context.Context, _ string) error { return nil }

type tokenStoreMock struct {
	mu      sync.Mutex
	records map[string]*models.RefreshToken
}

func (m *tokenStoreMock) Create(_ context.Context, rec *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *tokenStoreMock) FindByID(_ context.Context, id string) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *tokenStoreMock) Revoke(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[id]; ok && !rec.Revoked {
		rec.Revoked = true
		rec.RevokedAt = &at
	}
	return nil
}

func (m *tokenStoreMock) RevokeAllForUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, rec := range m.records {
		if rec.UserID == userID {
			rec.Revoked = true
			rec.RevokedAt = &now
		}
	}
	return nil
}

func (m *tokenStoreMock) Rotate(_ context.Context, consumedID string, next *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[consumedID]
	if !ok || rec.Revoked {
		return repository.ErrAlreadyRotated
	}
	rec.Revoked = true
	cp := *next
	m.records[next.ID] = &cp
	return nil
}

type blacklistMock struct {
	mu      sync.Mutex
	entries map[string]time.Duration
}

func (m *blacklistMock) Add(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = ttl
	return nil
}

func (m *blacklistMock) Contains(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok, nil
}

type userGetterMock struct {
	users *userStoreMock
}

func (m *userGetterMock) Get(ctx context.Context, id string) (*models.UserInfo, error) {
	u, err := m.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	info := u.PublicView()
	return &info, nil
}

func newAuthRouter(t *testing.T) (*gin.Engine, *userStoreMock) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hasher := security.NewHasher(bcrypt.MinCost)
	hash, err := hasher.Hash("correct-horse-battery")
	require.NoError(t, err)

	users := &userStoreMock{users: map[string]*models.User{
		"u1": {
			ID:           "u1",
			Email:        "ana@example.com",
			PasswordHash: hash,
			FirstName:    "Ana",
			LastName:     "Reyes",
			Role:         models.RoleAuthor,
			IsVerified:   true,
		},
	}}

	authSvc := service.NewAuthService(service.AuthDeps{
		Users:     users,
		Tokens:    &tokenStoreMock{records: make(map[string]*models.RefreshToken)},
		Blacklist: &blacklistMock{entries: make(map[string]time.Duration)},
		Hasher:    hasher,
	}, service.AuthConfig{
		AccessSecret:  "access-secret-for-tests",
		AccessExpiry:  time.Hour,
		RefreshSecret: "refresh-secret-for-tests",
		RefreshExpiry: 24 * time.Hour,
		Issuer:        "journal-api-test",
	})

	authHandler := NewAuthHandler(authSvc, &userGetterMock{users: users})

	router := gin.New()
	auth := router.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", authHandler.Logout)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}
	return router, users
}

func doJSON(router *gin.Engine, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func loginPair(t *testing.T, router *gin.Engine) models.LoginResponse {
	t.Helper()
	w := doJSON(router, http.MethodPost, "/auth/login", "", gin.H{
		"email":    "ana@example.com",
		"password": "correct-horse-battery",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.LoginResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &resp))
	return resp
}

func TestLoginEndpoint(t *testing.T) {
	router, _ := newAuthRouter(t)

	pair := loginPair(t, router)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "ana@example.com", pair.User.Email)

	w := doJSON(router, http.MethodGet, "/auth/me", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var info models.UserInfo
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &info))
	assert.Equal(t, "u1", info.ID)
}

func TestLoginEndpointWrongPassword(t *testing.T) {
	router, _ := newAuthRouter(t)

	w := doJSON(router, http.MethodPost, "/auth/login", "", gin.H{
		"email":    "ana@example.com",
		"password": "nope",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_CREDENTIALS", env.Error.Code)
}

func TestLoginEndpointMalformedBody(t *testing.T) {
	router, _ := newAuthRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader([]byte(`not-json`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRefreshEndpointIsSingleUse(t *testing.T) {
	router, _ := newAuthRouter(t)
	pair := loginPair(t, router)

	w := doJSON(router, http.MethodPost, "/auth/refresh", "", gin.H{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodPost, "/auth/refresh", "", gin.H{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	env := decodeEnvelope(t, w)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_REFRESH", env.Error.Code)
}

func TestLogoutEndpointEndsSession(t *testing.T) {
	router, _ := newAuthRouter(t)
	pair := loginPair(t, router)

	w := doJSON(router, http.MethodPost, "/auth/logout", pair.AccessToken, gin.H{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusNoContent, w.Code)

	// The blacklisted access token no longer passes the guard.
	w = doJSON(router, http.MethodGet, "/auth/me", pair.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// The revoked refresh token can no longer rotate.
	w = doJSON(router, http.MethodPost, "/auth/refresh", "", gin.H{"refresh_token": pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogoutEndpointAlwaysSucceeds(t *testing.T) {
	router, _ := newAuthRouter(t)

	w := doJSON(router, http.MethodPost, "/auth/logout", "garbage-token", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestMeRequiresBearer(t *testing.T) {
	router, _ := newAuthRouter(t)

	w := doJSON(router, http.MethodGet, "/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
