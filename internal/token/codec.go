package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind tags a token as belonging to the access or refresh flow.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
	// KindVerify tokens carry email verification links; they are never
	// accepted by the access or refresh codecs.
	KindVerify Kind = "verify"
)

var (
	// ErrTokenExpired marks a well-formed, correctly signed token past its
	// expiry. Callers distinguish it from tampering.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid covers bad signatures, malformed tokens and kind
	// mismatches.
	ErrTokenInvalid = errors.New("token invalid")
)

// Claims is the payload carried by every issued token.
type Claims struct {
	Role string `json:"role,omitempty"`
	Kind Kind   `json:"kind"`
	jwt.RegisteredClaims
}

// Codec signs and verifies compact HS256 tokens of a single kind.
// The clock is injectable so expiry behaviour is deterministic in tests.
type Codec struct {
	secret []byte
	issuer string
	kind   Kind
	now    func() time.Time
}

// Option customises a Codec.
type Option func(*Codec)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCodec builds a codec bound to one signing secret and token kind.
func NewCodec(secret, issuer string, kind Kind, opts ...Option) *Codec {
	c := &Codec{
		secret: []byte(secret),
		issuer: issuer,
		kind:   kind,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Issue signs a token for the subject with the provided role and unique
// token identifier, valid for ttl from the codec's current time.
func (c *Codec) Issue(subject, role, jti string, ttl time.Duration) (string, time.Time, error) {
	issuedAt := c.now().UTC()
	expiresAt := issuedAt.Add(ttl)
	claims := &Claims{
		Role: role,
		Kind: c.kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subject,
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks the signature, expiry and kind tag, returning the claims.
// Expired-but-otherwise-valid tokens fail with ErrTokenExpired; everything
// else fails with ErrTokenInvalid.
func (c *Codec) Verify(raw string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Kind != c.kind {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Decode parses the claims without verifying the signature. It exists only
// for opportunistic bookkeeping such as blacklist TTL computation and must
// never feed a trust decision. Returns nil when the token cannot be parsed.
func (c *Codec) Decode(raw string) *Claims {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil
	}
	return claims
}
