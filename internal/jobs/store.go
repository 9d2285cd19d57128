package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"backjob/internal/metrics"
)

// TimeoutText is the status_text written onto a job that stopped
// reporting for longer than the error timeout.
const TimeoutText = "Error: background job timeout"

// DefaultCachePrefix namespaces cache keys so they do not collide with
// other users of the same cache.
const DefaultCachePrefix = "backjob:"

// StoreOptions bundles the dependencies of NewStore. A nil Cache or
// Durable disables that backend.
type StoreOptions struct {
	Cache        Cache
	Durable      Durable
	CachePrefix  string
	ErrorTimeout time.Duration
	Time         TimeProvider
	Logger       *slog.Logger
}

// Store is the job status store. It merges cache and durable reads,
// applies defaults, detects dead jobs and writes every status change
// through to all enabled backends.
//
// The cache is an accelerator: reads prefer it, a miss falls through to
// the durable store and repopulates the cache. The durable store stays
// the eventual source of truth and allocates ids when enabled.
type Store struct {
	cache        Cache
	durable      Durable
	prefix       string
	errorTimeout time.Duration
	clock        TimeProvider
	logger       *slog.Logger
}

// NewStore constructs a Store. At least one backend is required.
func NewStore(opts StoreOptions) (*Store, error) {
	if opts.Cache == nil && opts.Durable == nil {
		return nil, ErrNoBackend
	}
	if opts.CachePrefix == "" {
		opts.CachePrefix = DefaultCachePrefix
	}
	if opts.Time == nil {
		opts.Time = realTime{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		cache:        opts.Cache,
		durable:      opts.Durable,
		prefix:       opts.CachePrefix,
		errorTimeout: opts.ErrorTimeout,
		clock:        opts.Time,
		logger:       opts.Logger,
	}, nil
}

// GetStatus returns the current status of a job. An id that was never
// written reads as a fresh Started record. An id of 0 returns defaults
// without touching any backend.
//
// A non-terminal job whose updated_time is older than the error timeout
// is presumed dead: it is failed with TimeoutText and read once more.
func (s *Store) GetStatus(ctx context.Context, id int64) (Record, error) {
	return s.getStatus(ctx, id, true)
}

func (s *Store) getStatus(ctx context.Context, id int64, checkTimeout bool) (Record, error) {
	now := s.clock.Now()

	var stored Patch
	if id != 0 {
		var err error
		stored, err = s.load(ctx, id)
		if err != nil {
			return Record{}, err
		}
	}

	rec := Record{ID: id}
	rec.Apply(stored.Over(defaultPatch(now)))

	if checkTimeout && s.timedOut(rec, now) {
		s.logger.Warn("job_timeout",
			"job_id", id,
			"status", rec.Status.String(),
			"updated_time", rec.UpdatedTime,
		)
		metrics.RecordJobTimeout()
		if err := s.Fail(ctx, id, Text(TimeoutText)); err != nil {
			return rec, fmt.Errorf("fail timed out job %d: %w", id, err)
		}
		// One re-read only: the record is Failed now, and a Failed record
		// never enters the timeout branch again.
		return s.getStatus(ctx, id, false)
	}

	return rec, nil
}

func (s *Store) timedOut(rec Record, now time.Time) bool {
	if rec.ID == 0 || s.errorTimeout <= 0 {
		return false
	}
	if rec.Status >= StatusCompleted {
		return false
	}
	return rec.UpdatedTime.Add(s.errorTimeout).Before(now)
}

// Update records progress for a running job. Caller fields override the
// defaults {updated_time: now, status: InProgress}. Updates to a job that
// is already Completed or Failed are dropped, including one that became
// terminal while the update was in flight.
func (s *Store) Update(ctx context.Context, id int64, p Patch) error {
	if id == 0 {
		return nil
	}
	current, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if current.Status != nil && current.Status.Terminal() {
		s.logger.Debug("job_update_ignored", "job_id", id, "status", current.Status.String())
		return nil
	}
	_, err = s.write(ctx, id, p.Over(s.updateDefaults()), false)
	return err
}

// Finish marks a job Completed with progress 100 and an end_time. It is
// a no-op when the job is already terminal, so calling it twice keeps
// the end_time of the first call.
func (s *Store) Finish(ctx context.Context, id int64, p Patch) error {
	if id == 0 {
		return nil
	}
	rec, err := s.GetStatus(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return nil
	}

	now := s.clock.Now()
	done := Patch{
		Progress: intPtr(100),
		EndTime:  &now,
		Status:   statusPtr(StatusCompleted),
	}
	final := p.Over(done).Over(s.updateDefaults())
	applied, err := s.write(ctx, id, final, false)
	if err != nil {
		return err
	}
	if applied {
		metrics.RecordJobFinished(final.Status.String())
	}
	return nil
}

// Fail unconditionally marks a job Failed with an end_time. Applying it
// twice is harmless. Fail only writes; code running inside the job
// itself must use Invocation.Fail, which also stops the invocation.
func (s *Store) Fail(ctx context.Context, id int64, p Patch) error {
	if id == 0 {
		return nil
	}
	now := s.clock.Now()
	failed := Patch{
		EndTime: &now,
		Status:  statusPtr(StatusFailed),
	}
	if _, err := s.write(ctx, id, p.Over(failed).Over(s.updateDefaults()), true); err != nil {
		return err
	}
	metrics.RecordJobFinished(StatusFailed.String())
	return nil
}

// Create stores a new record built from the id-less defaults and p and
// returns its id. The durable store assigns the id when enabled;
// otherwise an atomically incremented cache counter does.
func (s *Store) Create(ctx context.Context, p Patch) (int64, error) {
	rec := p.Over(defaultPatch(s.clock.Now()))

	var id int64
	if s.durable != nil {
		var err error
		id, err = s.durable.Insert(ctx, rec)
		if err != nil {
			return 0, fmt.Errorf("insert job: %w", err)
		}
	}

	if s.cache != nil {
		if id == 0 {
			var err error
			id, err = s.cache.Incr(ctx, s.prefix+"maxid")
			if err != nil {
				return 0, fmt.Errorf("allocate job id: %w", err)
			}
		}
		if err := s.cacheSet(ctx, id, rec); err != nil {
			if s.durable == nil {
				return 0, fmt.Errorf("cache job %d: %w", id, err)
			}
			s.logger.Warn("job_cache_write_failed", "job_id", id, "error", err)
		}
	}

	return id, nil
}

func (s *Store) updateDefaults() Patch {
	now := s.clock.Now()
	return Patch{
		UpdatedTime: &now,
		Status:      statusPtr(StatusInProgress),
	}
}

// load returns whatever the backends hold for id, preferring the cache.
func (s *Store) load(ctx context.Context, id int64) (Patch, error) {
	if s.cache != nil {
		if p, ok := s.cacheGet(ctx, id); ok {
			return p, nil
		}
	}

	if s.durable != nil {
		p, found, err := s.durable.Lookup(ctx, id)
		if err != nil {
			return Patch{}, fmt.Errorf("lookup job %d: %w", id, err)
		}
		if found {
			if s.cache != nil {
				s.repopulate(ctx, id, p)
			}
			return p, nil
		}
	}

	return Patch{}, nil
}

// write applies p to every enabled backend and reports whether it was
// applied. Unless force is set, a backend holding a terminal record
// keeps it; the check happens atomically with each backend's write. The
// durable store goes first: when it keeps its terminal row the cache is
// left alone too. A durable error does not stop the cache write.
func (s *Store) write(ctx context.Context, id int64, p Patch, force bool) (bool, error) {
	var errs []error
	applied := true
	if s.durable != nil {
		var err error
		if force {
			err = s.durable.Update(ctx, id, p)
		} else {
			applied, err = s.durable.UpdateRunning(ctx, id, p)
		}
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("update job %d: %w", id, err))
			applied = true
		case !applied:
			s.logger.Debug("job_update_ignored", "job_id", id, "reason", "durable record is terminal")
			return false, nil
		}
	}
	if s.cache != nil {
		ok, err := s.mergeCache(ctx, id, p, force)
		if err != nil {
			errs = append(errs, fmt.Errorf("cache job %d: %w", id, err))
		}
		if s.durable == nil {
			applied = ok
		}
	}
	return applied, errors.Join(errs...)
}

// mergeCache overlays p on the cached entry in one atomic step. When the
// entry has been evicted, the durable row is used as the base so the
// cache does not end up holding a fragment of the record; if that row
// cannot be read, the cache write is skipped and reads fall through to
// the durable store.
func (s *Store) mergeCache(ctx context.Context, id int64, p Patch, force bool) (bool, error) {
	var base *Patch
	for {
		var applied, needBase bool
		err := s.cache.Modify(ctx, s.key(id), func(raw []byte) ([]byte, error) {
			applied, needBase = false, false
			cur, ok := s.decode(id, raw)
			if !ok {
				if base == nil && s.durable != nil {
					needBase = true
					return nil, nil
				}
				if base != nil {
					cur = *base
				}
			}
			if !force && cur.Status != nil && cur.Status.Terminal() {
				return nil, nil
			}
			applied = true
			return json.Marshal(p.Over(cur))
		})
		if err != nil || !needBase {
			return applied, err
		}

		row, _, err := s.durable.Lookup(ctx, id)
		if err != nil {
			s.logger.Warn("job_cache_base_lookup_failed", "job_id", id, "error", err)
			return false, nil
		}
		base = &row
	}
}

// repopulate puts a durable row back into the cache unless something
// was cached in the meantime.
func (s *Store) repopulate(ctx context.Context, id int64, p Patch) {
	err := s.cache.Modify(ctx, s.key(id), func(raw []byte) ([]byte, error) {
		if _, ok := s.decode(id, raw); ok {
			return nil, nil
		}
		return json.Marshal(p)
	})
	if err != nil {
		s.logger.Warn("job_cache_write_failed", "job_id", id, "error", err)
	}
}

func (s *Store) cacheGet(ctx context.Context, id int64) (Patch, bool) {
	raw, err := s.cache.Get(ctx, s.key(id))
	if err != nil {
		s.logger.Warn("job_cache_read_failed", "job_id", id, "error", err)
		return Patch{}, false
	}
	return s.decode(id, raw)
}

func (s *Store) decode(id int64, raw []byte) (Patch, bool) {
	if len(raw) == 0 {
		return Patch{}, false
	}
	var p Patch
	if err := json.Unmarshal(raw, &p); err != nil {
		s.logger.Warn("job_cache_decode_failed", "job_id", id, "error", err)
		return Patch{}, false
	}
	if p.Empty() {
		return Patch{}, false
	}
	return p, true
}

func (s *Store) cacheSet(ctx context.Context, id int64, p Patch) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, s.key(id), raw)
}

func (s *Store) key(id int64) string {
	return s.prefix + strconv.FormatInt(id, 10)
}
