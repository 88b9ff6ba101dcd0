// handlers_health.go - Health check handlers
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stepdash/backend/internal/storage"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version  string
	started  time.Time
	sessions SessionManager
	uploads  storage.Store
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, sessions SessionManager, uploads storage.Store) HealthHandler {
	return &HealthHandlerImpl{
		version:  version,
		started:  time.Now(),
		sessions: sessions,
		uploads:  uploads,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	resp := map[string]interface{}{
		"status":        "ok",
		"version":       h.version,
		"uptimeSeconds": int64(time.Since(h.started).Seconds()),
	}
	if h.sessions != nil {
		resp["sessions"] = h.sessions.Count()
	}
	// Raw uploads are deleted once parsed, so these are jobs in flight.
	if h.uploads != nil {
		if pending, err := h.uploads.List(0); err == nil {
			byStatus := map[string]int{
				storage.StatusUploaded: 0,
				storage.StatusParsing:  0,
			}
			for _, info := range pending {
				byStatus[info.Status]++
			}
			resp["pendingUploads"] = len(pending)
			resp["uploads"] = byStatus
		}
	}
	return c.JSON(http.StatusOK, resp)
}
