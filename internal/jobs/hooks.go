package jobs

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/netip"
	"strconv"
	"strings"
	"sync"
)

// Origin describes where an invocation came from. It is filled in by the
// hosting server from the connection, never from request headers.
type Origin struct {
	RemoteAddr string
	LocalAddr  string
	// JobID is the raw JobIDParam value, empty when absent.
	JobID string
}

// Hooks are the lifecycle transitions run inside the job invocation.
type Hooks struct {
	store  *Store
	logger *slog.Logger
}

// NewHooks constructs Hooks writing to st.
func NewHooks(st *Store, logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hooks{store: st, logger: logger}
}

// Detect decides whether an invocation is a background job. It is one
// only when it carries a job id and comes from the loopback interface or
// from the server's own address. Any other request presenting a job id
// gets an *UntrustedInvocationError and must be served as an ordinary
// request. Requests without a job id get ErrNotJob.
func (h *Hooks) Detect(o Origin) (int64, error) {
	if o.JobID == "" {
		return 0, ErrNotJob
	}
	if !trustedOrigin(o.RemoteAddr, o.LocalAddr) {
		return 0, &UntrustedInvocationError{RemoteAddr: o.RemoteAddr, Reason: "not a local address"}
	}
	id, err := strconv.ParseInt(o.JobID, 10, 64)
	if err != nil || id <= 0 {
		return 0, &UntrustedInvocationError{RemoteAddr: o.RemoteAddr, Reason: "malformed job id"}
	}
	return id, nil
}

func trustedOrigin(remote, local string) bool {
	r, ok := parseAddr(remote)
	if !ok || r.IsUnspecified() {
		return false
	}
	if r.IsLoopback() {
		return true
	}
	l, ok := parseAddr(local)
	return ok && l == r
}

func parseAddr(s string) (netip.Addr, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Addr{}, false
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().Unmap(), true
	}
	a, err := netip.ParseAddr(strings.Trim(s, "[]"))
	if err != nil {
		return netip.Addr{}, false
	}
	return a.Unmap(), true
}

// Begin starts the job side of an invocation: progress goes to 0 and the
// job's output starts being captured. The returned Invocation is usable
// even when the initial status write fails.
func (h *Hooks) Begin(ctx context.Context, id int64) (*Invocation, error) {
	inv := &Invocation{id: id, store: h.store}
	inv.logger = slog.New(slog.NewTextHandler(inv, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return inv, inv.Update(ctx, Progress(0))
}

// End finishes the job side of an invocation. runErr is the error the
// hosting handler ended with: nil finishes the job with the captured
// output, a terminate directive leaves the already-failed record alone,
// anything else fails the job with the output plus the error.
func (h *Hooks) End(ctx context.Context, inv *Invocation, runErr error) error {
	if inv == nil || inv.store == nil {
		return nil
	}
	if IsTerminate(runErr) {
		return nil
	}
	out := inv.Output()
	if runErr != nil {
		h.logger.Warn("job_failed", "job_id", inv.id, "error", runErr)
		if out != "" && !strings.HasSuffix(out, "\n") {
			out += "\n"
		}
		return h.store.Fail(ctx, inv.id, Text(out+runErr.Error()))
	}
	return h.store.Finish(ctx, inv.id, Text(out))
}

// Invocation is the running job's handle on its own status. It is an
// io.Writer; everything written to it ends up in status_text.
type Invocation struct {
	id     int64
	store  *Store
	logger *slog.Logger

	mu  sync.Mutex
	buf bytes.Buffer
}

// Detached returns an invocation for an action that runs as an ordinary
// request. Its output is discarded and status writes do nothing.
func Detached(logger *slog.Logger) *Invocation {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invocation{logger: logger}
}

// ID returns the job id, or 0 for a detached invocation.
func (inv *Invocation) ID() int64 { return inv.id }

// Detached reports whether the invocation is not tracked as a job.
func (inv *Invocation) Detached() bool { return inv.store == nil }

// Write captures job output.
func (inv *Invocation) Write(p []byte) (int, error) {
	if inv.store == nil {
		return io.Discard.Write(p)
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.buf.Write(p)
}

// Output returns everything captured so far.
func (inv *Invocation) Output() string {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.buf.String()
}

// Logger returns a logger whose records are captured as job output.
func (inv *Invocation) Logger() *slog.Logger { return inv.logger }

// Update reports progress. The captured output is the default
// status_text.
func (inv *Invocation) Update(ctx context.Context, p Patch) error {
	if inv.store == nil {
		return nil
	}
	return inv.store.Update(ctx, inv.id, p.Over(Text(inv.Output())))
}

// Progress is Update with a bare percentage.
func (inv *Invocation) Progress(ctx context.Context, n int) error {
	return inv.Update(ctx, Progress(n))
}

// Fail marks the job Failed and returns the terminate directive. The
// caller must stop working and return the error as is:
//
//	if err != nil {
//		return inv.Fail(ctx, jobs.Text(err.Error()))
//	}
func (inv *Invocation) Fail(ctx context.Context, p Patch) error {
	if inv.store == nil {
		return &TerminateError{}
	}
	err := inv.store.Fail(ctx, inv.id, p.Over(Text(inv.Output())))
	return &TerminateError{JobID: inv.id, Err: err}
}
