package bootstrap

import (
	"github.com/auralog/voicejournal/internal/health"
	"github.com/auralog/voicejournal/internal/journal"
	"github.com/auralog/voicejournal/internal/transcriber"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const version = "1.0.0"

func ProvideHealthHandler(
	db *gorm.DB,
	redis *redis.Client,
	sttConfig transcriber.Config,
	manager *journal.Manager,
	cfg *Config,
) *health.Handler {
	return health.NewHandler(
		db,
		redis,
		sttConfig,
		cfg.GeneratorURL,
		manager,
		version,
	)
}

func metricsMiddleware(h *health.Handler) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h.IncrementRequests()
			h.IncrementConnections()
			defer h.DecrementConnections()
			return next(c)
		}
	}
}

func RegisterHealthRoutes(e *echo.Echo, h *health.Handler) {
	e.Use(metricsMiddleware(h))
	h.RegisterRoutes(e)
}

var HealthModule = fx.Options(
	fx.Provide(ProvideHealthHandler),
	fx.Invoke(RegisterHealthRoutes),
)
