package bootstrap

import (
	"strings"
	"time"

	httpadapter "grievance_server/adapter/in/http"
	"grievance_server/config"
	"grievance_server/core/port/out"
	"grievance_server/infra/middleware"
	"grievance_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

const (
	// mutating endpoints per client IP
	sensitiveLimit  = 10
	sensitiveWindow = time.Minute

	bodyLimit = 25 * 1024 * 1024
)

// NewAPI builds the HTTP server on top of deps.
func NewAPI(cfg *config.Config, deps *Dependencies) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),

		// go-json codec
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit:          bodyLimit,
		ReadBufferSize:     16384,
		WriteBufferSize:    16384,
		ServerHeader:       "",
		DisableDefaultDate: true,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.RequestLogger())
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := true
	if allowOrigins == "" || allowOrigins == "*" {
		if cfg.IsProduction() {
			allowOrigins = ""
			allowCredentials = false
		} else {
			allowOrigins = "http://localhost:3000,http://localhost:5173"
		}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID,Content-Disposition",
		AllowCredentials: allowCredentials,
	}))

	health := httpadapter.NewHealthHandler().WithDegraded(deps.Degraded)
	for name, c := range deps.Required {
		health.Require(name, c)
	}
	for name, c := range deps.Optional {
		health.Observe(name, c)
	}
	health.Register(app)

	if cfg.AdminJWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET not set, processing endpoints are unauthenticated")
	}

	handler := httpadapter.NewGrievanceHandler(httpadapter.GrievanceHandlerDeps{
		Service:     deps.Service,
		Parser:      deps.Parser,
		Sources:     deps.Sources,
		Producer:    producerOrNil(deps),
		Attachments: deps.Attachments,
		RawStore:    deps.RawStore,
	})
	handler.Register(app,
		middleware.SensitiveEndpointLimiter(sensitiveLimit, sensitiveWindow),
		middleware.AdminAuth(cfg.AdminJWTSecret),
	)

	return app
}

// producerOrNil keeps a nil *RedisProducer from becoming a non-nil
// interface value.
func producerOrNil(deps *Dependencies) out.JobProducer {
	if deps.Producer == nil {
		return nil
	}
	return deps.Producer
}
