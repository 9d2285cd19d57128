package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Badger is an embedded, on-disk cache. It lets a single node run with a
// cache that survives restarts without an external Redis.
type Badger struct {
	db     *badger.DB
	ttl    time.Duration
	logger *slog.Logger
}

// NewBadger opens (creating if needed) a BadgerDB directory at path. An
// empty path opens an in-memory database.
func NewBadger(path string, ttl time.Duration, logger *slog.Logger) (*Badger, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil // BadgerDB uses its own logger interface

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Badger{db: db, ttl: ttl, logger: logger}, nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

func (b *Badger) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return out, nil
}

func (b *Badger) Set(ctx context.Context, key string, value []byte) error {
	return b.retryUpdate(ctx, func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), value)
		if b.ttl > 0 {
			e = e.WithTTL(b.ttl)
		}
		return txn.SetEntry(e)
	})
}

// Incr reads and writes the counter in one transaction. Badger detects
// concurrent writers at commit and the loser retries, so no two callers
// see the same value.
func (b *Badger) Incr(ctx context.Context, key string) (int64, error) {
	var n int64
	err := b.retryUpdate(ctx, func(txn *badger.Txn) error {
		n = 0
		item, err := txn.Get([]byte(key))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if n, err = strconv.ParseInt(string(raw), 10, 64); err != nil {
				return fmt.Errorf("counter %q is not an integer: %w", key, err)
			}
		}
		n++
		return txn.Set([]byte(key), []byte(strconv.FormatInt(n, 10)))
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Modify reads and writes key in one transaction; a conflicting writer
// makes the transaction retry with fn run again on the new value.
func (b *Badger) Modify(ctx context.Context, key string, fn func([]byte) ([]byte, error)) error {
	return b.retryUpdate(ctx, func(txn *badger.Txn) error {
		var current []byte
		item, err := txn.Get([]byte(key))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if current, err = item.ValueCopy(nil); err != nil {
				return err
			}
		}
		next, err := fn(current)
		if err != nil || next == nil {
			return err
		}
		e := badger.NewEntry([]byte(key), next)
		if b.ttl > 0 {
			e = e.WithTTL(b.ttl)
		}
		return txn.SetEntry(e)
	})
}

func (b *Badger) Health(context.Context) error {
	if b.db.IsClosed() {
		return errors.New("badger is closed")
	}
	return nil
}

// retryUpdate retries a BadgerDB update operation on transaction conflicts.
func (b *Badger) retryUpdate(ctx context.Context, fn func(txn *badger.Txn) error) error {
	const maxRetries = 50
	const retryDelay = time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			time.Sleep(retryDelay)
		}

		err := b.db.Update(fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, badger.ErrConflict) {
			lastErr = err
			continue
		}
		return err
	}

	b.logger.Warn("badger_conflict_retries_exhausted", "retries", maxRetries)
	return fmt.Errorf("transaction conflict after %d retries: %w", maxRetries, lastErr)
}
