package jobs

import (
	"context"
	"net/url"
	"time"
)

// Cache is the volatile, fast key/value backend. Entries may be evicted
// or expire at any time independently of the durable store.
type Cache interface {
	// Get returns nil, nil when the key does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Incr atomically increments the integer stored at key (missing keys
	// count as 0) and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// Modify atomically replaces the value at key with fn(current), where
	// current is nil for a missing key. A nil result leaves the key as
	// it is. fn may run more than once and must not call back into the
	// cache.
	Modify(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error
}

// Durable is the persistent table of job records.
type Durable interface {
	// Insert stores a new record and returns the id assigned to it.
	Insert(ctx context.Context, p Patch) (int64, error)
	// Update writes only the fields set in p.
	Update(ctx context.Context, id int64, p Patch) error
	// UpdateRunning is Update restricted to a row whose status is not yet
	// Completed or Failed, checked atomically with the write. It reports
	// whether a row was written.
	UpdateRunning(ctx context.Context, id int64, p Patch) (bool, error)
	// Lookup returns found=false when no row has the given id.
	Lookup(ctx context.Context, id int64) (Patch, bool, error)
}

// Caller carries the identity of the user on whose behalf a job is
// started. Its cookies are forwarded to the job invocation.
type Caller struct {
	Cookies map[string]string
}

// Transport hands a job invocation off to be executed out-of-band. It
// must return as soon as the hand-off is done, without waiting for the
// job to run.
type Transport interface {
	Trigger(ctx context.Context, route string, params url.Values, caller *Caller) error
}

// TimeProvider provides the current time; tests substitute a fixed one.
type TimeProvider interface {
	Now() time.Time
}

type realTime struct{}

func (realTime) Now() time.Time { return time.Now().UTC() }
