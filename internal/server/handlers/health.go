package handlers

import (
	"context"
	"net/http"

	apierrors "github.com/soc-club/presensi/internal/errors"
)

// HealthResponse is the response for health check.
type HealthResponse struct {
	Status  string `json:"status"`
	Store   string `json:"store"`
	Version string `json:"version,omitempty"`
	Clients int    `json:"live_clients"`
}

// HealthHandler reports whether the store is reachable.
type HealthHandler struct {
	svc *Services
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(svc *Services) *HealthHandler {
	return &HealthHandler{svc: svc}
}

// Health returns the health status of the server.
func (h *HealthHandler) Health(ctx context.Context, _ *EmptyRequest) (*HealthResponse, error) {
	if h.svc.Healthy != nil && !h.svc.Healthy(ctx) {
		return nil, apierrors.NewAPIError(http.StatusServiceUnavailable, apierrors.ErrStorageError, "Store unavailable")
	}
	resp := &HealthResponse{Status: "ok", Store: h.svc.Store, Version: h.svc.Version}
	if h.svc.Hub != nil {
		resp.Clients = h.svc.Hub.Len()
	}
	return resp, nil
}
