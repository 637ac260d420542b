package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openscholar/journal-api/internal/models"
	"github.com/openscholar/journal-api/internal/repository"
	"github.com/openscholar/journal-api/internal/token"
	appErrors "github.com/openscholar/journal-api/pkg/errors"
	"github.com/openscholar/journal-api/pkg/security"
)

type authUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	MarkVerified(ctx context.Context, id string, ts time.Time) error
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	SetResetToken(ctx context.Context, id, resetToken string, expiry time.Time) error
	FindByResetToken(ctx context.Context, resetToken string, now time.Time) (*models.User, error)
	ClearResetToken(ctx context.Context, id string) error
}

type refreshTokenStore interface {
	Create(ctx context.Context, record *models.RefreshToken) error
	FindByID(ctx context.Context, id string) (*models.RefreshToken, error)
	Revoke(ctx context.Context, id string, revokedAt time.Time) error
	RevokeAllForUser(ctx context.Context, userID string) error
	Rotate(ctx context.Context, consumedID string, next *models.RefreshToken) error
}

type tokenBlacklist interface {
	Add(ctx context.Context, key string, ttl time.Duration) error
	Contains(ctx context.Context, key string) (bool, error)
}

type auditStore interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

// Notifier delivers account emails out of band. Failures are the sink's
// problem; the session flows never wait on delivery.
type Notifier interface {
	SendVerificationEmail(ctx context.Context, to, verifyToken string) error
	SendPasswordResetEmail(ctx context.Context, to, resetToken string) error
}

// AuthConfig defines configuration for the session flows.
type AuthConfig struct {
	AccessSecret  string
	AccessExpiry  time.Duration
	RefreshSecret string
	RefreshExpiry time.Duration
	Issuer        string
	VerifyExpiry  time.Duration
	ResetExpiry   time.Duration
	Clock         func() time.Time
}

// AuthService owns the session lifecycle: issuing, rotating, revoking and
// blacklisting tokens. It holds no session state of its own; every
// validation re-reads the backing stores so revocation is visible to the
// very next request.
type AuthService struct {
	users     authUserRepository
	tokens    refreshTokenStore
	blacklist tokenBlacklist
	audit     auditStore
	notifier  Notifier
	hasher    *security.Hasher
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService

	accessCodec  *token.Codec
	refreshCodec *token.Codec
	verifyCodec  *token.Codec

	config AuthConfig
	now    func() time.Time
}

// AuthDeps bundles the collaborators required by AuthService.
type AuthDeps struct {
	Users     authUserRepository
	Tokens    refreshTokenStore
	Blacklist tokenBlacklist
	Audit     auditStore
	Notifier  Notifier
	Hasher    *security.Hasher
	Validator *validator.Validate
	Logger    *zap.Logger
	Metrics   *MetricsService
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(deps AuthDeps, config AuthConfig) *AuthService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if deps.Hasher == nil {
		deps.Hasher = security.NewHasher(0)
	}
	if config.VerifyExpiry <= 0 {
		config.VerifyExpiry = 15 * time.Minute
	}
	if config.ResetExpiry <= 0 {
		config.ResetExpiry = time.Hour
	}
	now := config.Clock
	if now == nil {
		now = time.Now
	}

	clock := token.WithClock(now)
	return &AuthService{
		users:        deps.Users,
		tokens:       deps.Tokens,
		blacklist:    deps.Blacklist,
		audit:        deps.Audit,
		notifier:     deps.Notifier,
		hasher:       deps.Hasher,
		validator:    deps.Validator,
		logger:       deps.Logger,
		metrics:      deps.Metrics,
		accessCodec:  token.NewCodec(config.AccessSecret, config.Issuer, token.KindAccess, clock),
		refreshCodec: token.NewCodec(config.RefreshSecret, config.Issuer, token.KindRefresh, clock),
		verifyCodec:  token.NewCodec(config.AccessSecret, config.Issuer, token.KindVerify, clock),
		config:       config,
		now:          now,
	}
}

// Login authenticates a user and returns an issued token pair. A missing
// account, an unverified account and a wrong password all surface as the
// same generic credential error; the distinction lives only in the logs.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("login rejected: unknown email", zap.String("email", req.Email))
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if !user.IsVerified {
		s.logger.Warn("login rejected: account not verified", zap.String("user_id", user.ID))
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	if !s.hasher.Compare(req.Password, user.PasswordHash) {
		s.logger.Warn("login rejected: password mismatch", zap.String("user_id", user.ID))
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	issuedAt := s.now().UTC()
	accessToken, accessExp, err := s.accessCodec.Issue(user.ID, string(user.Role), uuid.NewString(), s.config.AccessExpiry)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	refreshToken, refreshExp, err := s.issueRefresh(ctx, user.ID, req.IP, req.UserAgent)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, issuedAt); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	s.recordAudit(ctx, &user.ID, models.AuditActionLogin, map[string]string{"status": "success"}, req.IP, req.UserAgent)
	if s.metrics != nil {
		s.metrics.IncSessionIssued()
	}

	return &models.LoginResponse{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		ExpiresIn:        int64(accessExp.Sub(issuedAt).Seconds()),
		RefreshExpiresIn: int64(refreshExp.Sub(issuedAt).Seconds()),
		IssuedAt:         issuedAt,
		User:             user.PublicView(),
	}, nil
}

// issueRefresh mints a refresh token and persists its record. The record is
// written before the raw token is handed out: a persist failure means no
// token reaches the caller, so no orphan issuance is possible.
func (s *AuthService) issueRefresh(ctx context.Context, userID, ip, userAgent string) (string, time.Time, error) {
	jti := uuid.NewString()
	raw, expiresAt, err := s.refreshCodec.Issue(userID, "", jti, s.config.RefreshExpiry)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}

	tokenHash, err := s.hasher.HashToken(raw)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash refresh token")
	}

	record := &models.RefreshToken{
		ID:        jti,
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: s.now().UTC(),
		IPAddress: ip,
		UserAgent: userAgent,
	}
	if err := s.tokens.Create(ctx, record); err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to persist refresh token")
	}
	return raw, expiresAt, nil
}

// Refresh exchanges a valid refresh token for a new pair, consuming the old
// record. Refresh tokens are single use: of N concurrent calls with the
// same token, exactly one wins the conditional rotation; the rest fail.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshRequest) (*models.RefreshResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	claims, err := s.refreshCodec.Verify(req.RefreshToken)
	if err != nil {
		s.logger.Warn("refresh rejected: token verification failed", zap.Error(err))
		return nil, appErrors.Clone(appErrors.ErrInvalidRefresh, "")
	}

	record, err := s.tokens.FindByID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("refresh rejected: record not found", zap.String("jti", claims.ID))
			return nil, appErrors.Clone(appErrors.ErrInvalidRefresh, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to load refresh token")
	}

	now := s.now().UTC()
	switch {
	case record.Revoked:
		// A revoked record presented again is a replay candidate.
		s.logger.Warn("refresh rejected: token already consumed", zap.String("jti", claims.ID), zap.String("user_id", record.UserID))
		return nil, appErrors.Clone(appErrors.ErrInvalidRefresh, "")
	case record.UserID != claims.Subject:
		s.logger.Warn("refresh rejected: subject mismatch", zap.String("jti", claims.ID))
		return nil, appErrors.Clone(appErrors.ErrInvalidRefresh, "")
	case now.After(record.ExpiresAt):
		s.logger.Warn("refresh rejected: record expired", zap.String("jti", claims.ID))
		return nil, appErrors.Clone(appErrors.ErrInvalidRefresh, "")
	}

	if !s.hasher.CompareToken(req.RefreshToken, record.TokenHash) {
		s.logger.Warn("refresh rejected: secret mismatch", zap.String("jti", claims.ID))
		return nil, appErrors.Clone(appErrors.ErrInvalidRefresh, "")
	}

	user, err := s.users.FindByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("refresh rejected: subject no longer exists", zap.String("user_id", record.UserID))
			return nil, appErrors.Clone(appErrors.ErrInvalidRefresh, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	accessToken, accessExp, err := s.accessCodec.Issue(user.ID, string(user.Role), uuid.NewString(), s.config.AccessExpiry)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	nextJTI := uuid.NewString()
	nextRaw, nextExp, err := s.refreshCodec.Issue(user.ID, "", nextJTI, s.config.RefreshExpiry)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}
	nextHash, err := s.hasher.HashToken(nextRaw)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash refresh token")
	}

	next := &models.RefreshToken{
		ID:        nextJTI,
		UserID:    user.ID,
		TokenHash: nextHash,
		ExpiresAt: nextExp,
		CreatedAt: now,
		IPAddress: req.IP,
		UserAgent: req.UserAgent,
	}
	if err := s.tokens.Rotate(ctx, record.ID, next); err != nil {
		if errors.Is(err, repository.ErrAlreadyRotated) {
			if s.metrics != nil {
				s.metrics.IncRotationConflict()
			}
			s.logger.Warn("refresh rejected: lost rotation race", zap.String("jti", record.ID))
			return nil, appErrors.Clone(appErrors.ErrInvalidRefresh, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "failed to rotate refresh token")
	}

	s.recordAudit(ctx, &user.ID, models.AuditActionTokenRefresh, map[string]string{"consumed": record.ID, "issued": nextJTI}, req.IP, req.UserAgent)
	if s.metrics != nil {
		s.metrics.IncRotation()
	}

	return &models.RefreshResponse{
		AccessToken:      accessToken,
		RefreshToken:     nextRaw,
		ExpiresIn:        int64(accessExp.Sub(now).Seconds()),
		RefreshExpiresIn: int64(nextExp.Sub(now).Seconds()),
		IssuedAt:         now,
	}, nil
}

// Logout blacklists the remaining lifetime of the access token and revokes
// the refresh record when one is supplied. The operation always succeeds:
// a cache or store failure here is logged and deliberately discarded, since
// the token's natural expiry is the fallback safety net.
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshToken, ip, userAgent string) {
	var userID *string

	claims := s.accessCodec.Decode(accessToken)
	if claims != nil && claims.ExpiresAt != nil {
		if claims.Subject != "" {
			sub := claims.Subject
			userID = &sub
		}
		remaining := claims.ExpiresAt.Time.Sub(s.now())
		if remaining > 0 {
			key := claims.ID
			if key == "" {
				key = fallbackKey(accessToken)
			}
			if err := s.blacklist.Add(ctx, key, remaining); err != nil {
				s.logger.Warn("failed to blacklist access token", zap.Error(err))
			}
		}
	}

	if refreshToken != "" {
		if rc, err := s.refreshCodec.Verify(refreshToken); err != nil {
			s.logger.Warn("logout: refresh token not revocable", zap.Error(err))
		} else if err := s.tokens.Revoke(ctx, rc.ID, s.now().UTC()); err != nil {
			s.logger.Warn("logout: failed to revoke refresh token", zap.Error(err))
		}
	}

	s.recordAudit(ctx, userID, models.AuditActionLogout, map[string]string{"status": "success"}, ip, userAgent)
}

// ValidateAccess verifies an access token and consults the blacklist. It is
// the sole constructor of an authenticated Principal.
func (s *AuthService) ValidateAccess(ctx context.Context, accessToken string) (*models.Principal, error) {
	claims, err := s.accessCodec.Verify(accessToken)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}

	keys := []string{fallbackKey(accessToken)}
	if claims.ID != "" {
		keys = []string{claims.ID, keys[0]}
	}
	for _, key := range keys {
		revoked, err := s.blacklist.Contains(ctx, key)
		if err != nil {
			// Fail closed: an unreachable blacklist must not admit tokens.
			return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "blacklist unavailable")
		}
		if revoked {
			if s.metrics != nil {
				s.metrics.IncBlacklistHit()
			}
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "token revoked")
		}
	}

	return &models.Principal{
		SubjectID: claims.Subject,
		Role:      models.UserRole(claims.Role),
		JTI:       claims.ID,
	}, nil
}

// Register creates an unverified account and sends a verification link.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (*models.RegisterResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}
	if !models.IsPublicRole(req.Role) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "the selected role is not available")
	}

	if _, err := s.users.FindByEmail(ctx, req.Email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already in use")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email")
	}

	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Email:        req.Email,
		PasswordHash: passwordHash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         req.Role,
		IsVerified:   false,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	verifyToken, _, err := s.verifyCodec.Issue(user.ID, "", uuid.NewString(), s.config.VerifyExpiry)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create verification token")
	}
	if s.notifier != nil {
		if err := s.notifier.SendVerificationEmail(ctx, user.Email, verifyToken); err != nil {
			s.logger.Warn("failed to queue verification email", zap.Error(err))
		}
	}

	s.recordAudit(ctx, &user.ID, models.AuditActionRegister, map[string]string{"role": string(req.Role)}, "", "")

	return &models.RegisterResponse{
		UserID:  user.ID,
		Message: "account created; a verification email is on its way",
	}, nil
}

// VerifyEmail activates the account referenced by a verification token.
// Verifying an already active account is a no-op.
func (s *AuthService) VerifyEmail(ctx context.Context, verifyToken string) error {
	claims, err := s.verifyCodec.Verify(verifyToken)
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, "verification token invalid or expired")
	}

	user, err := s.users.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if user.IsVerified {
		return nil
	}

	if err := s.users.MarkVerified(ctx, user.ID, s.now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify account")
	}

	s.recordAudit(ctx, &user.ID, models.AuditActionEmailVerified, nil, "", "")
	return nil
}

// ForgotPassword stores a reset secret and mails a reset link.
func (s *AuthService) ForgotPassword(ctx context.Context, req models.ForgotPasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid forgot password payload")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("password reset requested for unknown email", zap.String("email", req.Email))
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	secret, err := randomSecret()
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate reset token")
	}

	if err := s.users.SetResetToken(ctx, user.ID, secret, s.now().UTC().Add(s.config.ResetExpiry)); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store reset token")
	}

	if s.notifier != nil {
		if err := s.notifier.SendPasswordResetEmail(ctx, user.Email, secret); err != nil {
			s.logger.Warn("failed to queue password reset email", zap.Error(err))
		}
	}
	return nil
}

// ResetPassword completes the reset flow and revokes all outstanding
// refresh tokens for the account.
func (s *AuthService) ResetPassword(ctx context.Context, req models.ResetPasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reset password payload")
	}

	user, err := s.users.FindByResetToken(ctx, req.Token, s.now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "reset token invalid or expired")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	newHash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	if err := s.users.UpdatePassword(ctx, user.ID, newHash, s.now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}
	if err := s.users.ClearResetToken(ctx, user.ID); err != nil {
		s.logger.Warn("failed to clear reset token", zap.Error(err))
	}
	if err := s.tokens.RevokeAllForUser(ctx, user.ID); err != nil {
		s.logger.Warn("failed to revoke refresh tokens after reset", zap.Error(err))
	}

	s.recordAudit(ctx, &user.ID, models.AuditActionPasswordReset, nil, "", "")
	return nil
}

// ChangePassword updates the caller's password and ends all their sessions.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change password payload")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if !s.hasher.Compare(req.OldPassword, user.PasswordHash) {
		return appErrors.Clone(appErrors.ErrForbidden, "old password does not match")
	}

	newHash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	if err := s.users.UpdatePassword(ctx, userID, newHash, s.now().UTC()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}
	if err := s.tokens.RevokeAllForUser(ctx, userID); err != nil {
		s.logger.Warn("failed to revoke refresh tokens after password change", zap.Error(err))
	}

	s.recordAudit(ctx, &userID, models.AuditActionPasswordChange, nil, "", "")
	return nil
}

func (s *AuthService) recordAudit(ctx context.Context, userID *string, action string, details map[string]string, ip, userAgent string) {
	if s.audit == nil {
		return
	}
	var payload []byte
	if details != nil {
		payload, _ = json.Marshal(details)
	}
	entry := &models.AuditLog{
		UserID:    userID,
		Action:    action,
		Resource:  "auth",
		Details:   payload,
		IPAddress: ip,
		UserAgent: userAgent,
	}
	if userID != nil {
		entry.ResourceID = userID
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

// fallbackKey derives a deterministic blacklist key for tokens whose claims
// carry no jti.
func fallbackKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
