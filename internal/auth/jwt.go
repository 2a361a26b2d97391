package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/maruel/ksid"
	"github.com/soc-club/presensi/internal/models"
)

const issuer = "presensi"

var (
	errSigningMethod = errors.New("unexpected signing method")
	errInvalidToken  = errors.New("invalid token")
	errRevoked       = errors.New("token revoked")
)

// Claims is the payload of an API bearer token.
type Claims struct {
	Role models.Role `json:"role"`
	jwt.RegisteredClaims
}

// UserID returns the subject as a user id.
func (c *Claims) UserID() (ksid.ID, error) {
	return ksid.Parse(c.Subject)
}

// Issuer signs and verifies API bearer tokens. Revoked tokens are remembered
// until they expire.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
}

// NewIssuer returns an Issuer signing with HS256.
func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	return &Issuer{secret: secret, ttl: ttl, now: time.Now, revoked: map[string]time.Time{}}
}

// Issue returns a signed token for u and its expiry.
func (i *Issuer) Issue(u *models.User) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	claims := Claims{
		Role: u.Role(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   u.ID.String(),
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return s, exp, nil
}

// Parse validates a token and returns its claims.
func (i *Issuer) Parse(tokenStr string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errSigningMethod
		}
		return i.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errInvalidToken
	}
	i.mu.Lock()
	_, revoked := i.revoked[claims.ID]
	i.mu.Unlock()
	if revoked {
		return nil, errRevoked
	}
	return claims, nil
}

// Revoke rejects the token with the given claims until it expires.
func (i *Issuer) Revoke(c *Claims) {
	if c.ExpiresAt == nil {
		return
	}
	now := i.now()
	i.mu.Lock()
	defer i.mu.Unlock()
	for id, exp := range i.revoked {
		if exp.Before(now) {
			delete(i.revoked, id)
		}
	}
	i.revoked[c.ID] = c.ExpiresAt.Time
}
