package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/soc-club/presensi/internal/attendance"
	"github.com/soc-club/presensi/internal/auth"
	apierrors "github.com/soc-club/presensi/internal/errors"
	"github.com/soc-club/presensi/internal/models"
	"github.com/soc-club/presensi/internal/query"
	"github.com/soc-club/presensi/internal/storage"
	"github.com/soc-club/presensi/internal/table"
)

// WriteData writes data in the {data, error} envelope.
func WriteData[T any](w http.ResponseWriter, status int, data T) error {
	return writeJSON(w, status, query.Response[T]{Data: data})
}

// WriteError writes err in the {data, error} envelope, with data alongside
// when the operation produced a partial result.
func WriteError[T any](ctx context.Context, w http.ResponseWriter, data T, err error) {
	apiErr := ToAPIError(err)
	if apiErr.StatusCode() >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "Handler error", "err", err, "statusCode", apiErr.StatusCode(), "code", apiErr.Code())
	} else {
		slog.InfoContext(ctx, "Request rejected", "err", err, "statusCode", apiErr.StatusCode(), "code", apiErr.Code())
	}
	resp := query.Response[T]{
		Data: data,
		Error: &query.ResponseError{
			Code:    string(apiErr.Code()),
			Message: apiErr.Message(),
			Details: apiErr.Details(),
		},
	}
	if err := writeJSON(w, apiErr.StatusCode(), resp); err != nil {
		slog.ErrorContext(ctx, "Failed to encode response", "err", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// ToAPIError maps a domain error to its HTTP representation. Errors that are
// not recognised become a 500 that does not leak their text.
func ToAPIError(err error) *apierrors.APIError {
	var apiErr *apierrors.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apierrors.PayloadTooLarge(tooLarge.Limit).Wrap(err)
	}
	var notFound *query.NotFoundError
	if errors.As(err, &notFound) {
		return apierrors.NewAPIError(http.StatusNotFound, apierrors.ErrNotFound, err.Error()).Wrap(err)
	}
	var invalid *models.ValidationError
	if errors.As(err, &invalid) {
		return apierrors.BadRequest(err.Error()).Wrap(err)
	}
	status, code := http.StatusInternalServerError, apierrors.ErrInternal
	switch {
	case errors.Is(err, auth.ErrInvalidAdminCredentials),
		errors.Is(err, auth.ErrInvalidMemberCredentials):
		status, code = http.StatusUnauthorized, apierrors.ErrUnauthorized
	case errors.Is(err, auth.ErrUserNotFound),
		errors.Is(err, auth.ErrTokenNotFound),
		errors.Is(err, attendance.ErrUserNotFound):
		status, code = http.StatusNotFound, apierrors.ErrNotFound
	case errors.Is(err, auth.ErrUserExists),
		errors.Is(err, storage.ErrDuplicateNISN),
		errors.Is(err, storage.ErrDuplicateEmail),
		errors.Is(err, storage.ErrDuplicateToken),
		errors.Is(err, storage.ErrDuplicateAttendance),
		errors.Is(err, table.ErrDuplicateID),
		errors.Is(err, attendance.ErrAlreadyCheckedIn),
		errors.Is(err, attendance.ErrAlreadyCheckedOut),
		errors.Is(err, attendance.ErrNotCheckedIn):
		return apierrors.Conflict(err.Error()).Wrap(err)
	case errors.Is(err, attendance.ErrMultipleToday),
		errors.Is(err, query.ErrMultipleRows):
		status, code = http.StatusConflict, apierrors.ErrMultipleRows
	case errors.Is(err, auth.ErrNotMember),
		errors.Is(err, attendance.ErrNotMember),
		errors.Is(err, attendance.ErrInvalidMark),
		errors.Is(err, query.ErrUnknownColumn),
		errors.Is(err, query.ErrEmptyPatch),
		errors.Is(err, query.ErrDeleteUnsupported):
		status, code = http.StatusBadRequest, apierrors.ErrValidationFailed
	default:
		return apierrors.InternalWithError("Internal server error", err)
	}
	return apierrors.NewAPIError(status, code, err.Error()).Wrap(err)
}
