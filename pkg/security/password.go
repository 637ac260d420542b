package security

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// Hasher wraps bcrypt with a configurable cost. The same primitive protects
// login passwords and stored refresh-token secrets.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher, falling back to bcrypt's default cost when the
// provided value is out of range.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash produces a salted one-way digest of the plaintext.
func (h *Hasher) Hash(plaintext string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

// Compare reports whether the plaintext matches the stored digest.
func (h *Hasher) Compare(plaintext, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}

// HashToken digests an opaque token string. Signed tokens exceed bcrypt's
// 72-byte input limit, so the raw value is reduced with SHA-256 first.
func (h *Hasher) HashToken(raw string) (string, error) {
	return h.Hash(tokenDigest(raw))
}

// CompareToken reports whether the raw token matches the stored digest.
func (h *Hasher) CompareToken(raw, digest string) bool {
	return h.Compare(tokenDigest(raw), digest)
}

func tokenDigest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
