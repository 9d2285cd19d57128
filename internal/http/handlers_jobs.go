package http

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"backjob/internal/jobs"
)

// startJobHandler fires off an action as a background job and returns
// its id immediately.
func startJobHandler(c *fiber.Ctx) error {
	d, _ := c.Locals("dispatcher").(*jobs.Dispatcher)
	if d == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
			Success: false,
			Code:    "UNAVAILABLE",
			Error:   "Job dispatcher is not configured",
		})
	}

	var req StartJobRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "Invalid request body",
		})
	}

	action, err := jobs.ParseAction(req.Route)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   err.Error(),
		})
	}
	for k, v := range req.Params {
		action.Params.Set(k, v)
	}

	var caller *jobs.Caller
	if req.AsCurrentUser == nil || *req.AsCurrentUser {
		caller = callerFrom(c)
	}

	id, err := d.Start(c.UserContext(), action, caller)
	if err != nil {
		if logger, ok := c.Locals("logger").(*slog.Logger); ok {
			logger.Error("job_start_failed", "route", action.Route, "error", err)
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "JOB_START_FAILED",
			Error:   "Failed to start job",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(StartJobResponse{
		Success: true,
		ID:      id,
		URL:     "/v1/jobs/" + strconv.FormatInt(id, 10),
	})
}

// jobStatusHandler returns the current status of a job. Polling is what
// detects jobs that died silently.
func jobStatusHandler(c *fiber.Ctx) error {
	st, _ := c.Locals("jobs").(*jobs.Store)
	if st == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{
			Success: false,
			Code:    "UNAVAILABLE",
			Error:   "Job store is not configured",
		})
	}

	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "Invalid job id",
		})
	}

	rec, err := st.GetStatus(c.UserContext(), id)
	if err != nil {
		if logger, ok := c.Locals("logger").(*slog.Logger); ok {
			logger.Error("job_status_failed", "job_id", id, "error", err)
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "INTERNAL_ERROR",
			Error:   "Failed to load job status",
		})
	}

	return c.JSON(JobStatusResponse{Success: true, Job: newJobView(rec)})
}
