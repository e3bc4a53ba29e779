package handlers

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/scheduled-email-service/internal/scheduler"
	"github.com/onurcolak/scheduled-email-service/pkg/response"
	"github.com/onurcolak/scheduled-email-service/pkg/validator"
)

type pollerControl interface {
	IsRunning() bool
	GetStatus() scheduler.SchedulerStatus
	StartWithInterval(ctx context.Context, interval time.Duration) error
	Stop() error
	RunOnce(ctx context.Context) scheduler.RunSummary
}

type SchedulerHandler struct {
	scheduler pollerControl
	// ctx outlives requests; the poller loop and manual runs are bound to it.
	ctx context.Context
}

type StartSchedulerRequest struct {
	// Interval in minutes. Defaults to POLL_INTERVAL.
	Interval *int `json:"interval,omitempty" validate:"omitempty,min=1,max=10080"`
}

func NewSchedulerHandler(sched pollerControl, ctx context.Context) *SchedulerHandler {
	return &SchedulerHandler{
		scheduler: sched,
		ctx:       ctx,
	}
}

// StartScheduler godoc
// @Summary Start the poller
// @Description Starts polling for due emails. The first cycle runs immediately.
// @Tags scheduler
// @Accept json
// @Produce json
// @Param x-capsule-auth-key header string true "API key for scheduler"
// @Param request body StartSchedulerRequest false "Poll interval in minutes (optional)"
// @Success 200 {object} response.SuccessResponse
// @Failure 422 {object} validator.ValidationErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/scheduler/start [post]
func (h *SchedulerHandler) StartScheduler(c echo.Context) error {
	if h.scheduler.IsRunning() {
		return response.OkWithMessage(c, "Scheduler is already running", h.scheduler.GetStatus())
	}

	var req StartSchedulerRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	var interval time.Duration
	if req.Interval != nil {
		interval = time.Duration(*req.Interval) * time.Minute
	}

	if err := h.scheduler.StartWithInterval(h.ctx, interval); err != nil {
		return response.InternalServerError(c, err)
	}

	return response.OkWithMessage(c, "Scheduler started successfully", h.scheduler.GetStatus())
}

// StopScheduler godoc
// @Summary Stop the poller
// @Description Stops polling after the current cycle finishes
// @Tags scheduler
// @Accept json
// @Produce json
// @Param x-capsule-auth-key header string true "API key for scheduler"
// @Success 200 {object} response.SuccessResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/scheduler/stop [post]
func (h *SchedulerHandler) StopScheduler(c echo.Context) error {
	if !h.scheduler.IsRunning() {
		return response.OkWithMessage(c, "Scheduler is already stopped", h.scheduler.GetStatus())
	}

	if err := h.scheduler.Stop(); err != nil {
		return response.InternalServerError(c, err)
	}

	return response.OkWithMessage(c, "Scheduler stopped successfully", h.scheduler.GetStatus())
}

// RunScheduler godoc
// @Summary Run one poll cycle now
// @Description Delivers every due email immediately, whether or not the poller is running
// @Tags scheduler
// @Produce json
// @Param x-capsule-auth-key header string true "API key for scheduler"
// @Success 200 {object} response.SuccessResponse
// @Router /api/v1/scheduler/run [post]
func (h *SchedulerHandler) RunScheduler(c echo.Context) error {
	summary := h.scheduler.RunOnce(h.ctx)

	return response.OkWithMessage(c, "Poll cycle completed", summary)
}

// GetSchedulerStatus godoc
// @Summary Get poller status
// @Description Returns whether the poller is running, its interval, last and next run and counters
// @Tags scheduler
// @Accept json
// @Produce json
// @Param x-capsule-auth-key header string true "API key for scheduler"
// @Success 200 {object} response.SuccessResponse
// @Router /api/v1/scheduler/status [get]
func (h *SchedulerHandler) GetSchedulerStatus(c echo.Context) error {
	return response.Ok(c, h.scheduler.GetStatus())
}
