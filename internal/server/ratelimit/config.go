package ratelimit

import (
	"net/http"
	"time"
)

// Tier is a named limiter.
type Tier struct {
	Name    string
	Limiter *Limiter
}

// Config holds the limiters applied to public endpoints. Authenticated
// endpoints are not limited.
type Config struct {
	Login       Tier
	TokenLookup Tier
}

// NewConfig returns limiters allowing loginPerMin login attempts and
// lookupPerMin token lookups per minute per client IP. Zero disables a tier.
func NewConfig(loginPerMin, lookupPerMin int) *Config {
	return &Config{
		Login:       newTier("login", loginPerMin),
		TokenLookup: newTier("token", lookupPerMin),
	}
}

func newTier(name string, perMin int) Tier {
	t := Tier{Name: name}
	if perMin > 0 {
		t.Limiter = NewLimiter(perMin, time.Minute, perMin)
	}
	return t
}

// Match returns the tier for a request, or nil when it is not limited.
func (c *Config) Match(method, path string) *Tier {
	switch {
	case method == http.MethodPost && (path == "/api/auth/admin/login" || path == "/api/auth/member/login"):
		return &c.Login
	case method == http.MethodGet && path == "/api/token":
		return &c.TokenLookup
	default:
		return nil
	}
}

// Check consumes a token for r if its route is limited. It writes the rate
// limit headers and reports whether the request may proceed.
func (c *Config) Check(w http.ResponseWriter, r *http.Request) bool {
	tier := c.Match(r.Method, r.URL.Path)
	if tier == nil || tier.Limiter == nil {
		return true
	}
	res := tier.Limiter.Allow(Key(tier.Name, ClientIP(r)))
	WriteHeaders(w, res)
	return res.Allowed
}

// Close stops all limiters.
func (c *Config) Close() {
	for _, t := range []Tier{c.Login, c.TokenLookup} {
		if t.Limiter != nil {
			t.Limiter.Close()
		}
	}
}
