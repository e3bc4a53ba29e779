package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type dbPinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler handles health checks.
type HealthHandler struct {
	db           dbPinger
	cache        pinger
	poller       interface{ IsRunning() bool }
	checkTimeout time.Duration
}

// NewHealthHandler takes the database, an optional cache and the poller. Pass a
// nil cache when Redis is disabled.
func NewHealthHandler(db dbPinger, cache pinger, poller interface{ IsRunning() bool }) *HealthHandler {
	return &HealthHandler{
		db:           db,
		cache:        cache,
		poller:       poller,
		checkTimeout: 2 * time.Second,
	}
}

// Health returns overall status and basic component statuses.
// @Summary Health check
// @Description Returns overall status with database, Redis and poller state
// @Tags health
// @Accept json
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 503 {object} map[string]any
// @Router /health [get]
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.checkTimeout)
	defer cancel()

	overallStatus := "ok"
	code := http.StatusOK

	dbStatus := "up"
	if h.db == nil {
		dbStatus = "down"
	} else if err := h.db.PingContext(ctx); err != nil {
		dbStatus = "down"
	}
	if dbStatus == "down" {
		overallStatus = "down"
		code = http.StatusServiceUnavailable
	}

	redisStatus := "disabled"
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			redisStatus = "down"
			if overallStatus == "ok" {
				overallStatus = "degraded"
			}
		} else {
			redisStatus = "up"
		}
	}

	pollerStatus := "stopped"
	if h.poller != nil && h.poller.IsRunning() {
		pollerStatus = "running"
	}

	return c.JSON(code, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().Format(time.RFC3339),
		"components": map[string]any{
			"database": map[string]any{
				"status": dbStatus,
			},
			"redis": map[string]any{
				"status": redisStatus,
			},
			"poller": map[string]any{
				"status": pollerStatus,
			},
		},
	})
}
