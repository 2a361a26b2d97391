// Package handlers implements the HTTP API endpoints.
//
// Typed handlers have the signature func(ctx, [*models.User,] *Request)
// (*Response, error) and are adapted to http.Handler by the server package,
// which decodes the request, validates it and writes the {data, error}
// envelope. Raw handlers stream files or upgrade to WebSocket.
package handlers

import (
	"context"
	"net/http"

	"github.com/maruel/ksid"
	"github.com/soc-club/presensi/internal/attendance"
	"github.com/soc-club/presensi/internal/auth"
	apierrors "github.com/soc-club/presensi/internal/errors"
	"github.com/soc-club/presensi/internal/live"
	"github.com/soc-club/presensi/internal/models"
)

// Services holds the dependencies shared by all handlers.
type Services struct {
	Auth       *auth.Manager
	Issuer     *auth.Issuer
	Attendance *attendance.Service
	Hub        *live.Hub
	// Store names the key-value backend, reported by the health check.
	Store string
	// Healthy probes the key-value backend. Nil means always healthy.
	Healthy func(context.Context) bool
	Version string
}

// RawFunc handles a request for an authenticated user and writes the response
// itself. A returned error is written as an envelope only when nothing was
// written yet.
type RawFunc func(w http.ResponseWriter, r *http.Request, user *models.User) error

// EmptyRequest is the request of endpoints without input.
type EmptyRequest struct{}

type claimsKey struct{}

// WithClaims returns ctx carrying the verified token claims.
func WithClaims(ctx context.Context, c *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFrom returns the token claims of the request, or nil.
func ClaimsFrom(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsKey{}).(*auth.Claims)
	return c
}

func parseID(s string) (ksid.ID, error) {
	id, err := ksid.Parse(s)
	if err != nil || id.IsZero() {
		return 0, apierrors.InvalidFormat("id")
	}
	return id, nil
}
