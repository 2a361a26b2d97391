// Package server exposes the attendance system over HTTP.
package server

import (
	"net/http"

	"github.com/soc-club/presensi/internal/config"
	apierrors "github.com/soc-club/presensi/internal/errors"
	"github.com/soc-club/presensi/internal/models"
	"github.com/soc-club/presensi/internal/server/handlers"
	"github.com/soc-club/presensi/internal/server/ratelimit"
)

// Server routes API requests to the handlers.
type Server struct {
	svc     *handlers.Services
	cfg     *config.Config
	limits  *ratelimit.Config
	metrics *Metrics
	handler http.Handler
}

// New returns a Server. metrics is shared with the attendance service so that
// events are counted; nil creates a private registry. Call Close when done.
func New(svc *handlers.Services, cfg *config.Config, metrics *Metrics) *Server {
	if metrics == nil {
		metrics = NewMetrics()
	}
	s := &Server{
		svc:     svc,
		cfg:     cfg,
		limits:  ratelimit.NewConfig(cfg.RateLimits.LoginPerMin, cfg.RateLimits.TokenLookupPerMin),
		metrics: metrics,
	}
	if svc.Hub != nil {
		metrics.Gauge("live_clients", "Connected live dashboard clients.", svc.Hub.Len)
	}
	s.handler = instrument(metrics, s.routes())
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close stops the rate limiters.
func (s *Server) Close() {
	s.limits.Close()
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	authH := handlers.NewAuthHandler(s.svc)
	userH := handlers.NewUserHandler(s.svc)
	attH := handlers.NewAttendanceHandler(s.svc)
	healthH := handlers.NewHealthHandler(s.svc)

	// Health and metrics
	mux.Handle("GET /api/health", Wrap(s, healthH.Health))
	mux.Handle("GET /metrics", s.metrics.Handler())

	// Auth
	mux.Handle("POST /api/auth/admin/login", Wrap(s, authH.AdminLogin))
	mux.Handle("POST /api/auth/member/login", Wrap(s, authH.MemberLogin))
	mux.Handle("POST /api/auth/logout", WrapAuth(s, "", authH.Logout))
	mux.Handle("GET /api/auth/session", WrapAuth(s, "", authH.Session))
	mux.Handle("GET /api/auth/me", WrapAuth(s, "", authH.Me))

	// Public token checker
	mux.Handle("GET /api/token", Wrap(s, userH.LookupToken))

	// User management
	mux.Handle("GET /api/users", WrapAuth(s, models.RoleAdmin, userH.List))
	mux.Handle("POST /api/users", WrapAuth(s, models.RoleAdmin, userH.Create))
	mux.Handle("GET /api/users/summary", WrapAuth(s, models.RoleAdmin, userH.FieldSummary))
	mux.Handle("POST /api/users/import", WrapAuthRaw(s, models.RoleAdmin, userH.Import))
	mux.Handle("PATCH /api/users/{id}", WrapAuth(s, models.RoleAdmin, userH.Update))
	mux.Handle("DELETE /api/users/{id}", WrapAuth(s, models.RoleAdmin, userH.Delete))
	mux.Handle("POST /api/users/{id}/token", WrapAuth(s, models.RoleAdmin, userH.RegenerateToken))

	// Member attendance
	mux.Handle("GET /api/attendance/today", WrapAuth(s, models.RoleMember, attH.Today))
	mux.Handle("POST /api/attendance/check-in", WrapAuth(s, models.RoleMember, attH.CheckIn))
	mux.Handle("POST /api/attendance/check-out", WrapAuth(s, models.RoleMember, attH.CheckOut))

	// Admin attendance
	mux.Handle("GET /api/attendance", WrapAuth(s, models.RoleAdmin, attH.List))
	mux.Handle("GET /api/attendance/summary", WrapAuth(s, models.RoleAdmin, attH.Summary))
	mux.Handle("POST /api/attendance/mark", WrapAuth(s, models.RoleAdmin, attH.Mark))
	mux.Handle("GET /api/attendance/export", WrapAuthRaw(s, models.RoleAdmin, attH.Export))
	mux.Handle("GET /api/attendance/live", WrapAuthRaw(s, models.RoleAdmin, attH.Live))

	mux.Handle("/api/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteError[any](r.Context(), w, nil, apierrors.NotFound("Endpoint"))
	}))
	return mux
}
