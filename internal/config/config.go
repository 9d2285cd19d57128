package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host" env:"HOST"`
	Port int    `yaml:"port" env:"PORT"`
}

// DatabaseConfig selects the database/sql driver backing the durable job
// store. "pgx" is always available; "sqlite3" needs the sqlite build tag.
type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	DSN    string `yaml:"dsn"    env:"DSN"`
}

type RedisConfig struct {
	URL string `yaml:"url" env:"URL"`
}

// CacheConfig selects the cache backend: redis, badger (embedded, on
// disk) or memory (single process only).
type CacheConfig struct {
	Backend    string `yaml:"backend"    env:"BACKEND"`
	BadgerPath string `yaml:"badgerPath" env:"BADGER_PATH"`
	TTLMinutes int    `yaml:"ttlMinutes" env:"TTL_MINUTES"`
}

// JobsConfig holds the job status store knobs.
type JobsConfig struct {
	UseCache            bool   `yaml:"useCache"            env:"USE_CACHE"`
	UseDB               bool   `yaml:"useDB"               env:"USE_DB"`
	TableName           string `yaml:"tableName"           env:"TABLE_NAME"`
	CachePrefix         string `yaml:"cachePrefix"         env:"CACHE_PREFIX"`
	UserAgent           string `yaml:"userAgent"           env:"USER_AGENT"`
	ErrorTimeoutSeconds int    `yaml:"errorTimeoutSeconds" env:"ERROR_TIMEOUT_SECONDS"`
	// CheckAndCreateTable creates the jobs table on start when missing.
	// Meant for development; keep it off in production.
	CheckAndCreateTable bool `yaml:"checkAndCreateTable" env:"CHECK_AND_CREATE_TABLE"`
}

// DispatchConfig controls how job invocations are triggered. BaseURL is
// the address of this very server as seen from itself.
type DispatchConfig struct {
	BaseURL          string `yaml:"baseURL"          env:"BASE_URL"`
	ConnectTimeoutMs int    `yaml:"connectTimeoutMs" env:"CONNECT_TIMEOUT_MS"`
}

// RetentionConfig controls deletion of old finished jobs so that the
// jobs table does not grow without bound over time.
type RetentionConfig struct {
	Enabled                bool `yaml:"enabled"                env:"ENABLED"`
	CleanupIntervalMinutes int  `yaml:"cleanupIntervalMinutes" env:"CLEANUP_INTERVAL_MINUTES"`
	Days                   int  `yaml:"days"                   env:"DAYS"`
}

type LogConfig struct {
	Level  string `yaml:"level"  env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"    envPrefix:"SERVER_"`
	Database  DatabaseConfig  `yaml:"database"  envPrefix:"DATABASE_"`
	Redis     RedisConfig     `yaml:"redis"     envPrefix:"REDIS_"`
	Cache     CacheConfig     `yaml:"cache"     envPrefix:"CACHE_"`
	Jobs      JobsConfig      `yaml:"jobs"      envPrefix:"JOBS_"`
	Dispatch  DispatchConfig  `yaml:"dispatch"  envPrefix:"DISPATCH_"`
	Retention RetentionConfig `yaml:"retention" envPrefix:"RETENTION_"`
	Log       LogConfig       `yaml:"log"       envPrefix:"LOG_"`
}

// EnvPrefix prefixes every environment override, e.g.
// BACKJOB_JOBS_ERROR_TIMEOUT_SECONDS.
const EnvPrefix = "BACKJOB_"

// Default returns the configuration used for anything the config file
// and environment leave unset.
func Default() Config {
	return Config{
		Server:   ServerConfig{Host: "127.0.0.1", Port: 8080},
		Database: DatabaseConfig{Driver: "pgx"},
		Cache:    CacheConfig{Backend: "redis", BadgerPath: "data/cache", TTLMinutes: 24 * 60},
		Jobs: JobsConfig{
			UseCache:            true,
			UseDB:               true,
			TableName:           "background_job",
			CachePrefix:         "backjob:",
			UserAgent:           "backjob/1.0",
			ErrorTimeoutSeconds: 60,
		},
		Dispatch:  DispatchConfig{ConnectTimeoutMs: 1000},
		Retention: RetentionConfig{CleanupIntervalMinutes: 60, Days: 30},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the config file at path, applies .env files and BACKJOB_*
// environment overrides, and exits the process on any error.
func Load(path string) *Config {
	cfg, err := Read(path)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// Read is Load without the exit.
func Read(path string) (*Config, error) {
	// Missing .env files are fine.
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes yaml from r over Default. An empty document yields the
// defaults.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overrides cfg with any BACKJOB_* environment variables that
// are set. Unset variables leave cfg untouched.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Sanitize applies guardrails to values that would otherwise break the
// service in surprising ways.
func (c *Config) Sanitize() {
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))

	if c.Jobs.ErrorTimeoutSeconds <= 0 {
		c.Jobs.ErrorTimeoutSeconds = 60
	}
	if c.Jobs.CachePrefix == "" {
		c.Jobs.CachePrefix = "backjob:"
	}
	if c.Dispatch.ConnectTimeoutMs <= 0 {
		c.Dispatch.ConnectTimeoutMs = 1000
	}
	if c.Dispatch.BaseURL == "" {
		c.Dispatch.BaseURL = fmt.Sprintf("http://%s:%d", loopbackFor(c.Server.Host), c.Server.Port)
	}
	c.Dispatch.BaseURL = strings.TrimRight(c.Dispatch.BaseURL, "/")
}

// loopbackFor maps a listen host onto an address the server can reach
// itself on.
func loopbackFor(host string) string {
	switch host {
	case "", "0.0.0.0", "::", "[::]":
		return "127.0.0.1"
	}
	return host
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidIdentifier reports whether s can be used as an unquoted SQL table
// name.
func ValidIdentifier(s string) bool {
	return identRe.MatchString(s)
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	var errs []error

	if !c.Jobs.UseCache && !c.Jobs.UseDB {
		errs = append(errs, errors.New("jobs: at least one of useCache and useDB must be enabled"))
	}
	if c.Jobs.UseDB {
		if !ValidIdentifier(c.Jobs.TableName) {
			errs = append(errs, fmt.Errorf("jobs: invalid tableName %q", c.Jobs.TableName))
		}
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database: dsn is required when jobs.useDB is enabled"))
		}
		switch c.Database.Driver {
		case "pgx", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("database: unsupported driver %q", c.Database.Driver))
		}
	}
	if c.Jobs.UseCache {
		switch c.Cache.Backend {
		case "redis":
			if c.Redis.URL == "" {
				errs = append(errs, errors.New("redis: url is required for the redis cache backend"))
			}
		case "badger":
			if c.Cache.BadgerPath == "" {
				errs = append(errs, errors.New("cache: badgerPath is required for the badger backend"))
			}
		case "memory":
		default:
			errs = append(errs, fmt.Errorf("cache: unsupported backend %q", c.Cache.Backend))
		}
	}
	if u, err := url.Parse(c.Dispatch.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("dispatch: invalid baseURL %q", c.Dispatch.BaseURL))
	}

	return errors.Join(errs...)
}

// ErrorTimeout is the staleness timeout after which a silent job is
// presumed dead.
func (c *Config) ErrorTimeout() time.Duration {
	return time.Duration(c.Jobs.ErrorTimeoutSeconds) * time.Second
}

// CacheTTL is how long cache entries live; 0 means no expiry.
func (c *Config) CacheTTL() time.Duration {
	if c.Cache.TTLMinutes <= 0 {
		return 0
	}
	return time.Duration(c.Cache.TTLMinutes) * time.Minute
}

// ConnectTimeout bounds the dispatch transport's connection handshake.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Dispatch.ConnectTimeoutMs) * time.Millisecond
}
