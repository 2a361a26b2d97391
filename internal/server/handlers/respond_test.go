package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/soc-club/presensi/internal/attendance"
	"github.com/soc-club/presensi/internal/auth"
	apierrors "github.com/soc-club/presensi/internal/errors"
	"github.com/soc-club/presensi/internal/models"
	"github.com/soc-club/presensi/internal/query"
	"github.com/soc-club/presensi/internal/storage"
)

func TestToAPIError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   apierrors.ErrorCode
		msg    string
	}{
		{"api error", apierrors.Forbidden("no"), http.StatusForbidden, apierrors.ErrForbidden, "no"},
		{"admin credentials", auth.ErrInvalidAdminCredentials, http.StatusUnauthorized, apierrors.ErrUnauthorized, "Invalid admin credentials"},
		{"member credentials", auth.ErrInvalidMemberCredentials, http.StatusUnauthorized, apierrors.ErrUnauthorized, "NISN atau Token salah"},
		{"token not found", auth.ErrTokenNotFound, http.StatusNotFound, apierrors.ErrNotFound, auth.ErrTokenNotFound.Error()},
		{"duplicate nisn", auth.ErrUserExists, http.StatusConflict, apierrors.ErrConflict, "User with this NISN already exists"},
		{"wrapped duplicate", fmt.Errorf("insert: %w", storage.ErrDuplicateEmail), http.StatusConflict, apierrors.ErrConflict, "insert: email already exists"},
		{"duplicate token", storage.ErrDuplicateToken, http.StatusConflict, apierrors.ErrConflict, "token already in use"},
		{"checked in", attendance.ErrAlreadyCheckedIn, http.StatusConflict, apierrors.ErrConflict, "already checked in today"},
		{"multiple rows", query.ErrMultipleRows, http.StatusConflict, apierrors.ErrMultipleRows, "Multiple rows returned for single()"},
		{"nothing deleted", &query.NotFoundError{Noun: "user"}, http.StatusNotFound, apierrors.ErrNotFound, "No user found to delete"},
		{"validation", fmt.Errorf("%w: %q", models.ErrInvalidStatus, "X"), http.StatusBadRequest, apierrors.ErrValidationFailed, `invalid status: "X"`},
		{"body too large", &http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge, apierrors.ErrPayloadTooLarge, "Request body too large"},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, apierrors.ErrInternal, "Internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToAPIError(tt.err)
			if got.StatusCode() != tt.status {
				t.Errorf("StatusCode() = %d, want %d", got.StatusCode(), tt.status)
			}
			if got.Code() != tt.code {
				t.Errorf("Code() = %q, want %q", got.Code(), tt.code)
			}
			if got.Message() != tt.msg {
				t.Errorf("Message() = %q, want %q", got.Message(), tt.msg)
			}
		})
	}
}

func TestWriteError_KeepsData(t *testing.T) {
	w := httptest.NewRecorder()
	res := &query.DeleteResult{}
	WriteError(t.Context(), w, res, &query.NotFoundError{Noun: "user"})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d", w.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	data, _ := got["data"].(map[string]any)
	if data["count"] != float64(0) {
		t.Errorf("data = %v", got["data"])
	}
	e, _ := got["error"].(map[string]any)
	if e["message"] != "No user found to delete" || e["code"] != "NOT_FOUND" {
		t.Errorf("error = %v", got["error"])
	}
}

func TestWriteData(t *testing.T) {
	w := httptest.NewRecorder()
	if err := WriteData(w, http.StatusOK, map[string]int{"n": 1}); err != nil {
		t.Fatal(err)
	}
	if got := w.Body.String(); got != "{\"data\":{\"n\":1},\"error\":null}\n" {
		t.Errorf("body = %q", got)
	}
}
