package jobs_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"backjob/internal/cache"
	"backjob/internal/jobs"
)

var t0 = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

// clock is a TimeProvider the test moves by hand.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: t0} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memDurable is an in-memory jobs.Durable with sequential ids.
type memDurable struct {
	mu      sync.Mutex
	rows    map[int64]jobs.Patch
	next    int64
	updates int
	// afterLookup runs once, after the next Lookup has read its row.
	afterLookup func()
}

func newMemDurable() *memDurable {
	return &memDurable{rows: make(map[int64]jobs.Patch)}
}

func (d *memDurable) Insert(_ context.Context, p jobs.Patch) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	d.rows[d.next] = p
	return d.next, nil
}

func (d *memDurable) Update(_ context.Context, id int64, p jobs.Patch) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates++
	d.rows[id] = p.Over(d.rows[id])
	return nil
}

func (d *memDurable) UpdateRunning(_ context.Context, id int64, p jobs.Patch) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updates++
	row, ok := d.rows[id]
	if !ok || (row.Status != nil && row.Status.Terminal()) {
		return false, nil
	}
	d.rows[id] = p.Over(row)
	return true, nil
}

func (d *memDurable) Lookup(_ context.Context, id int64) (jobs.Patch, bool, error) {
	d.mu.Lock()
	p, ok := d.rows[id]
	hook := d.afterLookup
	d.afterLookup = nil
	d.mu.Unlock()

	if hook != nil {
		hook()
	}
	return p, ok, nil
}

func (d *memDurable) Updates() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.updates
}

// racingCache hands out what it read and only then runs hook once, so
// the caller acts on a value that is already stale.
type racingCache struct {
	*cache.Memory
	hook func()
}

func (c *racingCache) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := c.Memory.Get(ctx, key)
	if hook := c.hook; hook != nil {
		c.hook = nil
		hook()
	}
	return v, err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store   *jobs.Store
	cache   *cache.Memory
	durable *memDurable
	clock   *clock
}

// newFixture builds a store over the requested backends with a one
// minute error timeout.
func newFixture(t *testing.T, useCache, useDB bool) *fixture {
	t.Helper()
	f := &fixture{clock: newClock()}
	opts := jobs.StoreOptions{
		ErrorTimeout: time.Minute,
		Time:         f.clock,
		Logger:       discardLogger(),
	}
	if useCache {
		f.cache = cache.NewMemory(0)
		opts.Cache = f.cache
	}
	if useDB {
		f.durable = newMemDurable()
		opts.Durable = f.durable
	}
	st, err := jobs.NewStore(opts)
	require.NoError(t, err)
	f.store = st
	return f
}
