package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/soc-club/presensi/internal/attendance"
	apierrors "github.com/soc-club/presensi/internal/errors"
	"github.com/soc-club/presensi/internal/live"
	"github.com/soc-club/presensi/internal/models"
)

// AttendanceHandler handles member check-in and the admin attendance views.
type AttendanceHandler struct {
	svc      *attendance.Service
	hub      *live.Hub
	upgrader websocket.Upgrader
}

// NewAttendanceHandler creates a new attendance handler.
func NewAttendanceHandler(svc *Services) *AttendanceHandler {
	return &AttendanceHandler{
		svc: svc.Attendance,
		hub: svc.Hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// TodayResponse is the caller's attendance state for today.
type TodayResponse struct {
	Date   models.Date              `json:"date"`
	Record *models.AttendanceRecord `json:"record"`
}

// ListAttendanceRequest filters the attendance list.
type ListAttendanceRequest struct {
	Search string `query:"search" validate:"max=100"`
	Date   string `query:"date" validate:"omitempty,datetime=2006-01-02"`
	Status string `query:"status" validate:"omitempty,oneof=Hadir Izin Alpha Pulang"`
	UserID string `query:"user_id"`
}

// ListAttendanceResponse is the filtered list and its summary.
type ListAttendanceResponse struct {
	Records []*models.AttendanceRecord `json:"records"`
	Summary attendance.Summary         `json:"summary"`
}

// MarkRequest records an Izin or Alpha status for a member.
type MarkRequest struct {
	UserID string `json:"user_id" validate:"required"`
	// Date defaults to today.
	Date   string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Status string `json:"status" validate:"required,oneof=Izin Alpha"`
}

// Today returns the caller's record for today, or a null record.
func (h *AttendanceHandler) Today(ctx context.Context, user *models.User, _ *EmptyRequest) (*TodayResponse, error) {
	r, err := h.svc.TodayRecord(ctx, user)
	if err != nil {
		return nil, err
	}
	return &TodayResponse{Date: h.svc.Today(), Record: r}, nil
}

// CheckIn records the caller's arrival.
func (h *AttendanceHandler) CheckIn(ctx context.Context, user *models.User, _ *EmptyRequest) (*models.AttendanceRecord, error) {
	return h.svc.CheckIn(ctx, user)
}

// CheckOut records the caller's departure.
func (h *AttendanceHandler) CheckOut(ctx context.Context, user *models.User, _ *EmptyRequest) (*models.AttendanceRecord, error) {
	return h.svc.CheckOut(ctx, user)
}

// List returns records matching the filter, newest first.
func (h *AttendanceHandler) List(ctx context.Context, _ *models.User, req *ListAttendanceRequest) (*ListAttendanceResponse, error) {
	f, err := req.filter()
	if err != nil {
		return nil, err
	}
	rows, err := h.svc.List(ctx, f)
	if err != nil {
		return nil, err
	}
	return &ListAttendanceResponse{Records: rows, Summary: attendance.Summarize(rows)}, nil
}

// Summary counts records by outcome. The date defaults to today.
func (h *AttendanceHandler) Summary(ctx context.Context, _ *models.User, req *ListAttendanceRequest) (*attendance.Summary, error) {
	f, err := req.filter()
	if err != nil {
		return nil, err
	}
	if f.Date == "" {
		f.Date = h.svc.Today()
	}
	s, err := h.svc.Summary(ctx, f)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Mark records an Izin or Alpha status.
func (h *AttendanceHandler) Mark(ctx context.Context, _ *models.User, req *MarkRequest) (*models.AttendanceRecord, error) {
	id, err := parseID(req.UserID)
	if err != nil {
		return nil, err
	}
	d := h.svc.Today()
	if req.Date != "" {
		d = models.Date(req.Date)
	}
	return h.svc.Mark(ctx, id, d, models.Status(req.Status))
}

// Export streams the filtered records as a CSV or XLSX download. It takes the
// List filters plus format=csv|xlsx.
func (h *AttendanceHandler) Export(w http.ResponseWriter, r *http.Request, _ *models.User) error {
	ctx := r.Context()
	q := r.URL.Query()
	req := ListAttendanceRequest{
		Search: q.Get("search"),
		Date:   q.Get("date"),
		Status: q.Get("status"),
		UserID: q.Get("user_id"),
	}
	format, err := attendance.ParseFormat(q.Get("format"))
	if err != nil {
		return apierrors.InvalidFormat("format").Wrap(err)
	}
	f, err := req.filter()
	if err != nil {
		return err
	}
	rows, err := h.svc.List(ctx, f)
	if err != nil {
		return err
	}
	name := attendance.FileName(h.svc.Today(), format)
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if err := attendance.Export(w, rows, format, h.svc.Location()); err != nil {
		// Headers are gone; the client sees a truncated file.
		slog.ErrorContext(ctx, "attendance: export failed", "format", format, "err", err)
	}
	return nil
}

// Live upgrades to a WebSocket streaming attendance events, starting with
// today's records.
func (h *AttendanceHandler) Live(w http.ResponseWriter, r *http.Request, _ *models.User) error {
	ctx := r.Context()
	rows, err := h.svc.List(ctx, attendance.Filter{Date: h.svc.Today()})
	if err != nil {
		return err
	}
	if rows == nil {
		rows = []*models.AttendanceRecord{}
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied.
		slog.WarnContext(ctx, "live: upgrade failed", "err", err)
		return nil
	}
	h.hub.Serve(ctx, conn, &live.Message{Type: live.TypeInit, Payload: rows})
	return nil
}

func (req *ListAttendanceRequest) filter() (attendance.Filter, error) {
	f := attendance.Filter{
		Search: req.Search,
		Date:   models.Date(req.Date),
		Status: models.Status(req.Status),
	}
	if req.UserID != "" {
		id, err := parseID(req.UserID)
		if err != nil {
			return f, err
		}
		f.UserID = id
	}
	return f, nil
}
