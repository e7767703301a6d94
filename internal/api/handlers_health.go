// handlers_health.go - Health check handlers
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version string
	started time.Time
	stats   StatsProvider
}

// NewHealthHandler creates a new health handler. stats may be nil.
func NewHealthHandler(version string, stats StatsProvider) HealthHandler {
	return &HealthHandlerImpl{
		version: version,
		started: time.Now(),
		stats:   stats,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	body := map[string]interface{}{
		"status":  "ok",
		"version": h.version,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	}
	if h.stats != nil {
		body["sessions"] = h.stats.Stats()
	}
	return c.JSON(http.StatusOK, body)
}
