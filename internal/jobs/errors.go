package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotJob is returned by Hooks.Detect when the invocation carries
	// no job id at all.
	ErrNotJob = errors.New("not a background job invocation")
	// ErrNoBackend is returned when neither the cache nor the durable
	// store is enabled, so no id can be allocated.
	ErrNoBackend = errors.New("no job status backend enabled")
)

// TransportError reports that a job could not be handed off to the
// dispatch transport. The dispatcher turns it into a Failed record; it
// never reaches the caller of Start.
type TransportError struct {
	Route string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("dispatch %s: %v", e.Route, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UntrustedInvocationError is returned by Hooks.Detect when a request
// presents a job id but does not originate from the local host. Such a
// request must be served as an ordinary request.
type UntrustedInvocationError struct {
	RemoteAddr string
	Reason     string
}

func (e *UntrustedInvocationError) Error() string {
	return fmt.Sprintf("untrusted job invocation from %s: %s", e.RemoteAddr, e.Reason)
}

// TerminateError is the directive returned by Invocation.Fail. The job
// has already been marked Failed; the hosting handler must stop work and
// return this error unchanged.
type TerminateError struct {
	JobID int64
	// Err is set when writing the Failed status itself failed.
	Err error
}

func (e *TerminateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("job %d terminated: %v", e.JobID, e.Err)
	}
	return fmt.Sprintf("job %d terminated", e.JobID)
}

func (e *TerminateError) Unwrap() error { return e.Err }

// IsTerminate reports whether err carries a terminate directive.
func IsTerminate(err error) bool {
	var t *TerminateError
	return errors.As(err, &t)
}
