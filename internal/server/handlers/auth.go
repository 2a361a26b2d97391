package handlers

import (
	"context"
	"time"

	"github.com/soc-club/presensi/internal/auth"
	apierrors "github.com/soc-club/presensi/internal/errors"
	"github.com/soc-club/presensi/internal/models"
)

// AuthHandler handles login, logout and session queries.
type AuthHandler struct {
	auth   *auth.Manager
	issuer *auth.Issuer
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(svc *Services) *AuthHandler {
	return &AuthHandler{auth: svc.Auth, issuer: svc.Issuer}
}

// AdminLoginRequest is a request to log in as an administrator.
type AdminLoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=256"`
}

// MemberLoginRequest is a request to log in as a member. Blank credentials
// are rejected by the credential check, not by validation, so that every
// failure reads the same.
type MemberLoginRequest struct {
	NISN  string `json:"nisn" validate:"max=32"`
	Token string `json:"token" validate:"max=32"`
}

// LoginResponse carries the bearer token for subsequent requests.
type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// SessionResponse describes the caller's session.
type SessionResponse struct {
	User      *models.User `json:"user"`
	ExpiresAt time.Time    `json:"expires_at,omitzero"`
}

// LogoutResponse is returned by Logout.
type LogoutResponse struct {
	OK bool `json:"ok"`
}

// AdminLogin verifies admin credentials and issues a token.
func (h *AuthHandler) AdminLogin(ctx context.Context, req *AdminLoginRequest) (*LoginResponse, error) {
	u, err := h.auth.VerifyAdmin(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}
	return h.issue(u)
}

// MemberLogin verifies a member's NISN and token and issues a token.
func (h *AuthHandler) MemberLogin(ctx context.Context, req *MemberLoginRequest) (*LoginResponse, error) {
	u, err := h.auth.VerifyMember(ctx, req.NISN, req.Token)
	if err != nil {
		return nil, err
	}
	return h.issue(u.Public())
}

func (h *AuthHandler) issue(u *models.User) (*LoginResponse, error) {
	tok, exp, err := h.issuer.Issue(u)
	if err != nil {
		return nil, apierrors.InternalWithError("Failed to generate token", err)
	}
	return &LoginResponse{Token: tok, ExpiresAt: exp, User: u}, nil
}

// Logout revokes the caller's token.
func (h *AuthHandler) Logout(ctx context.Context, _ *models.User, _ *EmptyRequest) (*LogoutResponse, error) {
	if c := ClaimsFrom(ctx); c != nil {
		h.issuer.Revoke(c)
	}
	return &LogoutResponse{OK: true}, nil
}

// Session returns the caller and the expiry of their token.
func (h *AuthHandler) Session(ctx context.Context, user *models.User, _ *EmptyRequest) (*SessionResponse, error) {
	resp := &SessionResponse{User: user}
	if c := ClaimsFrom(ctx); c != nil && c.ExpiresAt != nil {
		resp.ExpiresAt = c.ExpiresAt.Time
	}
	return resp, nil
}

// Me returns the caller.
func (h *AuthHandler) Me(_ context.Context, user *models.User, _ *EmptyRequest) (*models.User, error) {
	return user, nil
}
