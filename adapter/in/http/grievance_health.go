package http

import (
	"context"
	"sort"
	"time"

	"grievance_server/pkg/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker is anything the readiness probe can ping.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to HealthChecker.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler serves liveness, readiness and Prometheus metrics.
type HealthHandler struct {
	required map[string]HealthChecker
	optional map[string]HealthChecker
	degraded func() []string
}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{
		required: make(map[string]HealthChecker),
		optional: make(map[string]HealthChecker),
	}
}

// Require adds a dependency whose failure makes the service not ready.
func (h *HealthHandler) Require(name string, c HealthChecker) *HealthHandler {
	h.required[name] = c
	return h
}

// Observe adds a dependency that is reported but never blocks readiness.
func (h *HealthHandler) Observe(name string, c HealthChecker) *HealthHandler {
	h.optional[name] = c
	return h
}

// WithDegraded reports features running in reduced mode, such as the
// similarity layer when the embedding backend was unreachable at startup.
func (h *HealthHandler) WithDegraded(fn func() []string) *HealthHandler {
	h.degraded = fn
	return h
}

func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get("/ready", h.Ready)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.required)+len(h.optional))
	allHealthy := true

	for name, checker := range h.required {
		if err := checker.Ping(ctx); err != nil {
			checks[name] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			checks[name] = "healthy"
		}
	}
	for name, checker := range h.optional {
		if err := checker.Ping(ctx); err != nil {
			checks[name] = "degraded: " + err.Error()
		} else {
			checks[name] = "healthy"
		}
	}

	var degraded []string
	if h.degraded != nil {
		degraded = h.degraded()
		sort.Strings(degraded)
	}

	status := "ready"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "not ready"
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":    status,
		"checks":    checks,
		"degraded":  degraded,
		"pools":     metrics.GetAllPoolHealth(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
