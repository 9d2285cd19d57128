// Package actions holds the built-in action routes served by backjob.
package actions

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"backjob/internal/jobs"
)

const (
	maxCountdownSteps    = 100
	maxCountdownInterval = 10 * time.Second
)

// CountdownResult is returned to ordinary (non-job) callers.
type CountdownResult struct {
	Steps    int   `json:"steps"`
	Interval int64 `json:"intervalMs"`
}

// Countdown counts down a number of steps, reporting progress after each
// one. It exists to exercise the job lifecycle end to end.
//
// Params: steps (default 5), interval_ms (default 200) and fail_at, the
// step at which the action gives up.
type Countdown struct {
	// Sleep waits between steps; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewCountdown() *Countdown {
	return &Countdown{Sleep: sleepCtx}
}

// Run has the signature of an action route handler.
func (a *Countdown) Run(ctx context.Context, inv *jobs.Invocation, params url.Values) (any, error) {
	steps, err := intParam(params, "steps", 5, 1, maxCountdownSteps)
	if err != nil {
		return nil, err
	}
	intervalMs, err := intParam(params, "interval_ms", 200, 0, int(maxCountdownInterval/time.Millisecond))
	if err != nil {
		return nil, err
	}
	failAt, err := intParam(params, "fail_at", 0, 0, steps)
	if err != nil {
		return nil, err
	}
	interval := time.Duration(intervalMs) * time.Millisecond
	log := inv.Logger()

	for i := 1; i <= steps; i++ {
		if err := a.Sleep(ctx, interval); err != nil {
			return nil, err
		}
		if i == failAt {
			log.Warn("countdown_aborted", "step", i)
			return nil, inv.Fail(ctx, jobs.Text(fmt.Sprintf("countdown aborted at step %d of %d", i, steps)))
		}
		fmt.Fprintf(inv, "%d ", steps-i)
		if err := inv.Progress(ctx, i*100/steps); err != nil {
			return nil, fmt.Errorf("report progress: %w", err)
		}
	}

	log.Info("countdown_done", "steps", steps)
	return CountdownResult{Steps: steps, Interval: int64(intervalMs)}, nil
}

func intParam(params url.Values, name string, def, lo, hi int) (int, error) {
	raw := params.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("%s must be an integer between %d and %d", name, lo, hi)
	}
	return n, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
