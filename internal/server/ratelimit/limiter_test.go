package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiter_Allow(t *testing.T) {
	l := NewLimiter(5, time.Minute, 5)
	defer l.Close()

	for i := range 5 {
		res := l.Allow("k")
		if !res.Allowed {
			t.Fatalf("request %d refused", i+1)
		}
		if res.Limit != 5 {
			t.Errorf("Limit = %d", res.Limit)
		}
	}
	res := l.Allow("k")
	if res.Allowed {
		t.Fatal("6th request allowed")
	}
	if res.RetryAfter < time.Second {
		t.Errorf("RetryAfter = %v", res.RetryAfter)
	}
	if res.Remaining != 0 {
		t.Errorf("Remaining = %d", res.Remaining)
	}
}

func TestLimiter_KeysIndependent(t *testing.T) {
	l := NewLimiter(2, time.Minute, 2)
	defer l.Close()
	l.Allow("a")
	l.Allow("a")
	if l.Allow("a").Allowed {
		t.Fatal("a should be limited")
	}
	if !l.Allow("b").Allowed {
		t.Fatal("b should not be limited")
	}
	if l.Len() != 2 {
		t.Errorf("Len() = %d", l.Len())
	}
}

func TestLimiter_Evict(t *testing.T) {
	l := NewLimiter(60, time.Minute, 10)
	defer l.Close()
	l.Allow("idle")
	l.evict(time.Now().Add(time.Hour))
	if l.Len() != 0 {
		t.Errorf("Len() = %d after evict", l.Len())
	}
}

func TestLimiter_CloseTwice(t *testing.T) {
	l := NewLimiter(1, time.Minute, 1)
	l.Close()
	l.Close()
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		header map[string]string
		want   string
	}{
		{"ipv4", "10.0.0.1:1234", nil, "10.0.0.1"},
		{"ipv6", "[::1]:8080", nil, "::1"},
		{"forwarded", "10.0.0.1:1", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1"}, "1.2.3.4"},
		{"real ip", "10.0.0.1:1", map[string]string{"X-Real-IP": "5.6.7.8"}, "5.6.7.8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			if got := ClientIP(r); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfig_Match(t *testing.T) {
	c := NewConfig(10, 30)
	defer c.Close()
	tests := []struct {
		method, path, want string
	}{
		{"POST", "/api/auth/admin/login", "login"},
		{"POST", "/api/auth/member/login", "login"},
		{"GET", "/api/token", "token"},
		{"GET", "/api/health", ""},
		{"GET", "/api/auth/admin/login", ""},
		{"POST", "/api/attendance/check-in", ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			tier := c.Match(tt.method, tt.path)
			got := ""
			if tier != nil {
				got = tier.Name
			}
			if got != tt.want {
				t.Errorf("Match() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfig_Check(t *testing.T) {
	c := NewConfig(1, 1)
	defer c.Close()
	r := httptest.NewRequest(http.MethodPost, "/api/auth/member/login", nil)
	w := httptest.NewRecorder()
	if !c.Check(w, r) {
		t.Fatal("first login refused")
	}
	if w.Header().Get("X-RateLimit-Limit") != "1" {
		t.Errorf("X-RateLimit-Limit = %q", w.Header().Get("X-RateLimit-Limit"))
	}
	w = httptest.NewRecorder()
	if c.Check(w, r) {
		t.Fatal("second login allowed")
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	// Other routes are not counted.
	if !c.Check(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/health", nil)) {
		t.Error("health refused")
	}
}

func TestConfig_Disabled(t *testing.T) {
	c := NewConfig(0, 1)
	defer c.Close()
	r := httptest.NewRequest(http.MethodPost, "/api/auth/admin/login", nil)
	for range 20 {
		if !c.Check(httptest.NewRecorder(), r) {
			t.Fatal("disabled tier refused a request")
		}
	}
}
