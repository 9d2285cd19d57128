package http

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/gofiber/fiber/v2"

	"backjob/internal/jobs"
	"backjob/internal/metrics"
)

// ActionFunc is the body of an action route. params are the request's
// query parameters without the job id. Progress and output go through
// inv; the returned value is sent as the result of ordinary requests.
type ActionFunc func(ctx context.Context, inv *jobs.Invocation, params url.Values) (any, error)

// jobEntry wraps an action with the job lifecycle. The origin is taken
// from the connection itself; forwarding headers are never consulted.
func (s *Server) jobEntry(fn ActionFunc) fiber.Handler {
	return func(c *fiber.Ctx) error {
		params := queryParams(c)
		origin := jobs.Origin{
			RemoteAddr: c.Context().RemoteAddr().String(),
			LocalAddr:  c.Context().LocalAddr().String(),
			JobID:      c.Query(jobs.JobIDParam),
		}

		id, err := s.deps.Hooks.Detect(origin)
		if err != nil {
			var ue *jobs.UntrustedInvocationError
			if errors.As(err, &ue) {
				metrics.RecordUntrustedInvocation()
				s.logger.Warn("untrusted_job_invocation",
					"remote_addr", ue.RemoteAddr,
					"reason", ue.Reason,
					"path", c.Path(),
				)
			}
			return s.serveOrdinary(c, fn, params)
		}

		c.Locals("job_id", id)
		ctx := c.UserContext()

		inv, err := s.deps.Hooks.Begin(ctx, id)
		if err != nil {
			s.logger.Warn("job_begin_failed", "job_id", id, "error", err)
		}
		_, runErr := runAction(ctx, fn, inv, params)
		if err := s.deps.Hooks.End(ctx, inv, runErr); err != nil {
			s.logger.Error("job_end_failed", "job_id", id, "error", err)
		}

		return c.JSON(JobRunResponse{Success: runErr == nil, JobID: id})
	}
}

func (s *Server) serveOrdinary(c *fiber.Ctx, fn ActionFunc, params url.Values) error {
	result, err := runAction(c.UserContext(), fn, jobs.Detached(s.logger), params)
	if err != nil {
		if jobs.IsTerminate(err) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(ErrorResponse{
				Success: false,
				Code:    "ACTION_FAILED",
				Error:   "Action stopped before completion",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "ACTION_ERROR",
			Error:   err.Error(),
		})
	}
	return c.JSON(ActionResponse{Success: true, Result: result})
}

// runAction runs fn and turns a panic into an error.
func runAction(ctx context.Context, fn ActionFunc, inv *jobs.Invocation, params url.Values) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			inv.Logger().Error("action_panic", "panic", r)
			err = fmt.Errorf("action panicked: %v", r)
		}
	}()
	return fn(ctx, inv, params)
}

func queryParams(c *fiber.Ctx) url.Values {
	params := url.Values{}
	c.Request().URI().QueryArgs().VisitAll(func(k, v []byte) {
		key := string(k)
		if key == jobs.JobIDParam {
			return
		}
		params.Add(key, string(v))
	})
	return params
}

// callerFrom captures the cookies of the current request so a job can
// run as the same user.
func callerFrom(c *fiber.Ctx) *jobs.Caller {
	caller := &jobs.Caller{Cookies: map[string]string{}}
	c.Request().Header.VisitAllCookie(func(k, v []byte) {
		caller.Cookies[string(k)] = string(v)
	})
	return caller
}
