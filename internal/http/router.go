package http

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"backjob/internal/config"
	"backjob/internal/jobs"
	"backjob/internal/metrics"
)

// HealthChecker is implemented by backends reported on /healthz?deep=true.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Deps are the job components the server exposes.
type Deps struct {
	Store      *jobs.Store
	Dispatcher *jobs.Dispatcher
	Hooks      *jobs.Hooks
	// Checks are probed by the deep health check, keyed by name ("db",
	// "cache"). A nil checker is reported as disabled.
	Checks map[string]HealthChecker
}

type Server struct {
	app    *fiber.App
	config *config.Config
	deps   Deps
	logger *slog.Logger
}

func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	s := &Server{
		app:    app,
		config: cfg,
		deps:   deps,
		logger: logger,
	}

	// Inject job components into context for handlers
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("config", cfg)
		c.Locals("jobs", deps.Store)
		c.Locals("dispatcher", deps.Dispatcher)
		c.Locals("logger", logger)
		return c.Next()
	})

	// Request logging + metrics middleware
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		// Ensure a request ID exists
		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)

		err := c.Next()

		latency := time.Since(start)
		status := c.Response().StatusCode()
		method := c.Method()
		path := c.Path()

		metrics.RecordRequest(method, path, status, latency.Milliseconds())

		// Job invocations are headless; their output goes to status_text.
		if c.Locals("job_id") != nil {
			return err
		}
		logger.Info("request",
			"request_id", reqID,
			"method", method,
			"path", path,
			"status", status,
			"latency_ms", latency.Milliseconds(),
		)
		return err
	})

	app.Get("/healthz", s.healthHandler)

	// Prometheus-style metrics endpoint
	app.Get("/metrics", func(c *fiber.Ctx) error {
		c.Type("text/plain")
		return c.SendString(metrics.Export())
	})

	v1 := app.Group("/v1")
	v1.Post("/jobs", startJobHandler)
	v1.Get("/jobs/:id", jobStatusHandler)

	return s
}

// HandleAction exposes fn as GET /<route>. Requests carrying a trusted
// job id run fn as that background job; any other request runs it as an
// ordinary request.
func (s *Server) HandleAction(route string, fn ActionFunc) {
	s.app.Get("/"+strings.Trim(route, "/"), s.jobEntry(fn))
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	return s.app.Listen(addr)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) healthHandler(c *fiber.Ctx) error {
	// Shallow health: process is up
	if c.Query("deep") != "true" {
		return c.JSON(fiber.Map{"status": "ok"})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := "ok"
	body := fiber.Map{}
	for name, chk := range s.deps.Checks {
		if chk == nil {
			body[name] = "disabled"
			continue
		}
		if err := chk.Health(ctx); err != nil {
			s.logger.Warn("health_check_failed", "check", name, "error", err)
			body[name] = "error"
			status = "error"
			continue
		}
		body[name] = "ok"
	}
	body["status"] = status

	if status != "ok" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(body)
	}
	return c.JSON(body)
}
