package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"backjob/internal/metrics"
)

// JobIDParam is the request parameter that carries the job id into the
// job invocation. It is reserved: callers cannot pass it themselves.
const JobIDParam = "_backjob_id"

// Action describes what a job runs: a route plus its parameters.
type Action struct {
	Route  string     `json:"route"`
	Params url.Values `json:"params,omitempty"`
}

// Route returns an action for a bare route without parameters.
func Route(route string) Action {
	return Action{Route: route}
}

// ParseAction parses the "route?a=1&b=2" form into a normalized Action.
func ParseAction(s string) (Action, error) {
	route, query, _ := strings.Cut(s, "?")
	params, err := url.ParseQuery(query)
	if err != nil {
		return Action{}, fmt.Errorf("parse action params: %w", err)
	}
	return Action{Route: route, Params: params}.Normalize()
}

// Normalize returns the canonical form of a: surrounding slashes and
// whitespace trimmed from the route, the reserved job id parameter
// removed, and the params copied so later changes do not leak back to
// the caller.
func (a Action) Normalize() (Action, error) {
	route := strings.Trim(strings.TrimSpace(a.Route), "/")
	if route == "" {
		return Action{}, errors.New("action route is required")
	}
	params := url.Values{}
	for k, vs := range a.Params {
		if k == JobIDParam {
			continue
		}
		params[k] = append([]string(nil), vs...)
	}
	return Action{Route: route, Params: params}, nil
}

// Serialize renders a as the JSON stored in a record's request field.
func (a Action) Serialize() (string, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Dispatcher starts background jobs: it allocates an id, stores the
// initial record and triggers the job through a Transport.
type Dispatcher struct {
	store     *Store
	transport Transport
	logger    *slog.Logger
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(st *Store, tr Transport, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{store: st, transport: tr, logger: logger}
}

// Start fires off action as a background job and returns its id without
// waiting for the job to run. When caller is non-nil the job runs as
// that user.
//
// A failed hand-off does not produce an error: the job is marked Failed
// with the transport's message and its id is returned as usual. Errors
// are only returned when no record could be created.
func (d *Dispatcher) Start(ctx context.Context, action Action, caller *Caller) (int64, error) {
	action, err := action.Normalize()
	if err != nil {
		return 0, err
	}
	request, err := action.Serialize()
	if err != nil {
		return 0, fmt.Errorf("serialize action: %w", err)
	}

	id, err := d.store.Create(ctx, Patch{Request: &request})
	if err != nil {
		return 0, err
	}
	metrics.RecordJobStarted(action.Route)

	params := action.Params
	params.Set(JobIDParam, strconv.FormatInt(id, 10))

	if err := d.transport.Trigger(ctx, action.Route, params, caller); err != nil {
		var te *TransportError
		if !errors.As(err, &te) {
			te = &TransportError{Route: action.Route, Err: err}
		}
		metrics.RecordDispatchFailure(action.Route)
		d.logger.Warn("job_dispatch_failed",
			"job_id", id,
			"route", action.Route,
			"error", te.Error(),
		)
		if ferr := d.store.Fail(ctx, id, Text(te.Error())); ferr != nil {
			d.logger.Error("job_fail_write_failed", "job_id", id, "error", ferr)
		}
		return id, nil
	}

	d.logger.Info("job_dispatched",
		"job_id", id,
		"route", action.Route,
		"as_current_user", caller != nil,
	)
	return id, nil
}
