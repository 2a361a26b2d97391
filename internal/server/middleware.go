package server

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	apierrors "github.com/soc-club/presensi/internal/errors"
	"github.com/soc-club/presensi/internal/models"
	"github.com/soc-club/presensi/internal/server/handlers"
	"github.com/soc-club/presensi/internal/server/ratelimit"
)

// authenticate validates the bearer token, loads its user and checks role.
// The returned context carries the token claims.
//
// The token is read from the Authorization header, or from the access_token
// query parameter on WebSocket upgrades since browsers cannot set headers
// there.
func (s *Server) authenticate(r *http.Request, role models.Role) (*models.User, context.Context, error) {
	ctx := r.Context()
	tokenString := bearerToken(r)
	if tokenString == "" {
		return nil, ctx, apierrors.Unauthorized("")
	}
	claims, err := s.svc.Issuer.Parse(tokenString)
	if err != nil {
		return nil, ctx, apierrors.Unauthorized("Invalid token").Wrap(err)
	}
	id, err := claims.UserID()
	if err != nil {
		return nil, ctx, apierrors.Unauthorized("Invalid user ID in token").Wrap(err)
	}
	user, err := s.svc.Auth.GetUser(ctx, id)
	if err != nil {
		return nil, ctx, apierrors.Unauthorized("User not found").Wrap(err)
	}
	if role != "" && user.Role() != role {
		return nil, ctx, apierrors.Forbidden("Forbidden: " + string(role) + " only")
	}
	ctx = handlers.WithClaims(ctx, claims)
	return user, ctx, nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(tok)
	}
	if websocket.IsWebSocketUpgrade(r) {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

// statusWriter records the status code written by a handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Hijack hands the connection to the WebSocket upgrader.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacking not supported")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// instrument logs each request and records it in the metrics. Panics are
// turned into a 500.
func instrument(m *Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				slog.ErrorContext(r.Context(), "Handler panic", "method", r.Method, "path", r.URL.Path, "panic", v)
				if sw.status == 0 {
					handlers.WriteError[any](r.Context(), sw, nil, apierrors.Internal("Internal server error"))
				}
			}
			if sw.status == 0 {
				sw.status = http.StatusOK
			}
			d := time.Since(start)
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			m.observe(r.Method, route, sw.status, d)
			slog.DebugContext(r.Context(), "http", "method", r.Method, "path", r.URL.Path, "status", sw.status, "dur", d.Round(time.Millisecond), "ip", ratelimit.ClientIP(r))
		}()
		next.ServeHTTP(sw, r)
	})
}
