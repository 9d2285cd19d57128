// Package bootstrap assembles the job components described by the
// configuration: backends, the status store, the dispatch transport and
// the lifecycle hooks.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"backjob/internal/cache"
	"backjob/internal/config"
	server "backjob/internal/http"
	"backjob/internal/jobs"
	"backjob/internal/migrate"
	"backjob/internal/store"
	"backjob/internal/transport"
)

// Components are the wired job components. Close releases the backends.
type Components struct {
	DB         *sql.DB
	Durable    *store.Store
	Cache      jobs.Cache
	Store      *jobs.Store
	Dispatcher *jobs.Dispatcher
	Hooks      *jobs.Hooks
	Janitor    *jobs.Janitor

	closers []io.Closer
}

// Build opens every backend enabled in cfg and wires the job components
// on top of them. With jobs.checkAndCreateTable set, the jobs table is
// created when missing; running Build again is a no-op for the table.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Components, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Components{}

	opts := jobs.StoreOptions{
		CachePrefix:  cfg.Jobs.CachePrefix,
		ErrorTimeout: cfg.ErrorTimeout(),
		Logger:       logger,
	}

	if cfg.Jobs.UseDB {
		if err := c.openDurable(ctx, cfg, logger); err != nil {
			c.Close()
			return nil, err
		}
		opts.Durable = c.Durable
	}

	if cfg.Jobs.UseCache {
		kv, err := c.openCache(cfg, logger)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Cache = kv
		opts.Cache = kv
	}

	st, err := jobs.NewStore(opts)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Store = st

	tr, err := transport.NewHTTP(transport.Options{
		BaseURL:        cfg.Dispatch.BaseURL,
		UserAgent:      cfg.Jobs.UserAgent,
		ConnectTimeout: cfg.ConnectTimeout(),
		Logger:         logger,
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Dispatcher = jobs.NewDispatcher(st, tr, logger)
	c.Hooks = jobs.NewHooks(st, logger)

	if cfg.Retention.Enabled && c.Durable != nil {
		c.Janitor = jobs.NewJanitor(cfg, c.Durable, logger)
	}

	return c, nil
}

func (c *Components) openDurable(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	dialect, err := store.DialectFor(cfg.Database.Driver)
	if err != nil {
		return err
	}
	db, err := store.Open(dialect.Name, cfg.Database.DSN)
	if err != nil {
		return err
	}
	c.DB = db
	c.closers = append(c.closers, db)

	if cfg.Jobs.CheckAndCreateTable {
		if err := migrate.Run(ctx, db, dialect, cfg.Jobs.TableName); err != nil {
			return fmt.Errorf("create jobs table: %w", err)
		}
		logger.Info("jobs_table_ready", "table", cfg.Jobs.TableName, "driver", dialect.Name)
	}

	durable, err := store.New(db, cfg.Jobs.TableName, dialect)
	if err != nil {
		return err
	}
	c.Durable = durable
	return nil
}

func (c *Components) openCache(cfg *config.Config, logger *slog.Logger) (jobs.Cache, error) {
	switch strings.ToLower(cfg.Cache.Backend) {
	case "redis":
		r, err := cache.NewRedisFromURL(cfg.Redis.URL, cfg.CacheTTL())
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, r)
		return r, nil
	case "badger":
		b, err := cache.NewBadger(cfg.Cache.BadgerPath, cfg.CacheTTL(), logger)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, b)
		return b, nil
	case "memory":
		return cache.NewMemory(cfg.CacheTTL()), nil
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Cache.Backend)
	}
}

// HealthChecks returns the checks reported by the deep health endpoint.
func (c *Components) HealthChecks() map[string]server.HealthChecker {
	checks := map[string]server.HealthChecker{"db": nil, "cache": nil}
	if c.Durable != nil {
		checks["db"] = c.Durable
	}
	if hc, ok := c.Cache.(server.HealthChecker); ok {
		checks["cache"] = hc
	}
	return checks
}

// ServerDeps returns the server's view of the components.
func (c *Components) ServerDeps() server.Deps {
	return server.Deps{
		Store:      c.Store,
		Dispatcher: c.Dispatcher,
		Hooks:      c.Hooks,
		Checks:     c.HealthChecks(),
	}
}

// Close releases the backends in reverse order of opening.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
