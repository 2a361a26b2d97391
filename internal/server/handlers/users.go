package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/soc-club/presensi/internal/auth"
	apierrors "github.com/soc-club/presensi/internal/errors"
	"github.com/soc-club/presensi/internal/models"
	"github.com/soc-club/presensi/internal/query"
	"github.com/soc-club/presensi/internal/roster"
)

// maxRosterBytes bounds an uploaded roster file.
const maxRosterBytes = 10 << 20

// UserHandler handles member management by admins and the public token
// checker.
type UserHandler struct {
	auth *auth.Manager
}

// NewUserHandler creates a new user handler.
func NewUserHandler(svc *Services) *UserHandler {
	return &UserHandler{auth: svc.Auth}
}

// ListUsersRequest filters the user list.
type ListUsersRequest struct {
	Search string `query:"search" validate:"max=100"`
}

// ListUsersResponse is the user list, sorted by name.
type ListUsersResponse struct {
	Users []*models.User `json:"users"`
}

// CreateUserRequest registers a member.
type CreateUserRequest struct {
	FullName string `json:"full_name" validate:"required,max=100"`
	NISN     string `json:"nisn" validate:"required,max=32"`
	Field    string `json:"field" validate:"max=32"`
}

// UserIDRequest addresses one user.
type UserIDRequest struct {
	ID string `path:"id" validate:"required"`
}

// UpdateUserRequest edits a user. Absent fields are left unchanged.
type UpdateUserRequest struct {
	ID       string  `path:"id" validate:"required"`
	FullName *string `json:"full_name" validate:"omitempty,min=1,max=100"`
	Email    *string `json:"email" validate:"omitempty,email,max=254"`
	Field    *string `json:"field" validate:"omitempty,max=32"`
}

// FieldSummaryResponse counts members per field.
type FieldSummaryResponse struct {
	Fields []auth.FieldCount `json:"fields"`
	Total  int               `json:"total"`
}

// TokenLookupRequest is the public token checker query.
type TokenLookupRequest struct {
	NISN string `query:"nisn" validate:"max=32"`
}

// TokenLookupResponse is what the token checker reveals.
type TokenLookupResponse struct {
	FullName string       `json:"full_name"`
	NISN     string       `json:"nisn"`
	Token    string       `json:"token"`
	Field    models.Field `json:"field"`
}

// List returns all users matching the search.
func (h *UserHandler) List(ctx context.Context, _ *models.User, req *ListUsersRequest) (*ListUsersResponse, error) {
	users, err := h.auth.ListUsers(ctx, req.Search)
	if err != nil {
		return nil, err
	}
	return &ListUsersResponse{Users: users}, nil
}

// Create registers a member and returns it with its token.
func (h *UserHandler) Create(ctx context.Context, _ *models.User, req *CreateUserRequest) (*models.User, error) {
	in := auth.NewMember{FullName: req.FullName, NISN: req.NISN}
	if req.Field != "" {
		f, err := models.ParseField(req.Field)
		if err != nil {
			return nil, apierrors.InvalidFormat("field").Wrap(err)
		}
		in.Field = f
	}
	return h.auth.CreateUser(ctx, in)
}

// Update applies the present fields to a user.
func (h *UserHandler) Update(ctx context.Context, _ *models.User, req *UpdateUserRequest) (*models.User, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return nil, err
	}
	p := &models.UserPatch{FullName: req.FullName, Email: req.Email}
	if req.Field != nil {
		f, err := models.ParseField(*req.Field)
		if err != nil {
			return nil, apierrors.InvalidFormat("field").Wrap(err)
		}
		p.Field = &f
	}
	if p.Empty() {
		return nil, apierrors.BadRequest("Nothing to update")
	}
	return h.auth.UpdateUser(ctx, id, p)
}

// Delete removes a user. When nothing matched, the count is returned along
// with the error.
func (h *UserHandler) Delete(ctx context.Context, admin *models.User, req *UserIDRequest) (*query.DeleteResult, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return nil, err
	}
	if id == admin.ID {
		return nil, apierrors.BadRequest("Cannot delete your own account")
	}
	res, err := h.auth.DeleteUser(ctx, id)
	return &res, err
}

// RegenerateToken issues a fresh token to a member.
func (h *UserHandler) RegenerateToken(ctx context.Context, _ *models.User, req *UserIDRequest) (*models.User, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return nil, err
	}
	return h.auth.RegenerateToken(ctx, id)
}

// FieldSummary counts members per field.
func (h *UserHandler) FieldSummary(ctx context.Context, _ *models.User, _ *EmptyRequest) (*FieldSummaryResponse, error) {
	counts, err := h.auth.FieldSummary(ctx)
	if err != nil {
		return nil, err
	}
	resp := &FieldSummaryResponse{Fields: counts}
	for _, c := range counts {
		resp.Total += c.Count
	}
	return resp, nil
}

// LookupToken returns the token of a member by NISN. It is public and rate
// limited.
func (h *UserHandler) LookupToken(ctx context.Context, req *TokenLookupRequest) (*TokenLookupResponse, error) {
	u, err := h.auth.LookupToken(ctx, req.NISN)
	if err != nil {
		return nil, err
	}
	m := u.Member()
	return &TokenLookupResponse{FullName: u.FullName, NISN: m.NISN, Token: m.Token, Field: m.Field}, nil
}

// Import creates members from an uploaded roster in the "file" form field.
// Rows that fail are reported without stopping the import.
func (h *UserHandler) Import(w http.ResponseWriter, r *http.Request, _ *models.User) error {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, maxRosterBytes)
	if err := r.ParseMultipartForm(maxRosterBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return apierrors.BadRequest("Expected a multipart form").Wrap(err)
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return apierrors.MissingField("file")
	}
	defer func() { _ = f.Close() }()
	res, err := roster.ImportFile(ctx, h.auth, f, hdr.Filename)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return apierrors.BadRequest(fmt.Sprintf("Invalid roster: %v", err)).Wrap(err)
	}
	slog.InfoContext(ctx, "users: roster imported", "file", hdr.Filename, "created", len(res.Created), "failed", len(res.Failed))
	return WriteData(w, http.StatusOK, res)
}
