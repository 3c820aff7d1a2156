package bootstrap

import (
	"log/slog"
	"os"

	"github.com/auralog/voicejournal/internal/auth"
	"github.com/auralog/voicejournal/internal/gateway"
	"github.com/auralog/voicejournal/internal/journal"
	"github.com/auralog/voicejournal/internal/question"
	"github.com/auralog/voicejournal/internal/transcriber"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func ProvideLogger(cfg *Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
}

func ProvideJWTValidator(cfg *Config) *auth.JWTValidator {
	return auth.NewJWTValidator(cfg.HMACKey)
}

func ProvideJWTMiddleware(validator *auth.JWTValidator) *auth.Middleware {
	return auth.NewMiddleware(validator)
}

func ProvideTranscriberConfig(cfg *Config) transcriber.Config {
	return transcriber.Config{
		RealtimeURL:  cfg.STTRealtimeURL,
		SessionURL:   cfg.STTSessionURL,
		BatchURL:     cfg.STTBatchURL,
		APIKey:       cfg.STTAPIKey,
		Model:        cfg.STTModel,
		ScratchDir:   cfg.ScratchDir,
		PollInterval: cfg.PollInterval,
	}
}

func ProvideQuestionGenerator(cfg *Config) question.Generator {
	return question.NewGenerator(cfg.GeneratorURL, cfg.GeneratorAPIKey)
}

func ProvideCaptureManager(
	sttConfig transcriber.Config,
	store *journal.Store,
	live *journal.LiveStore,
	generator question.Generator,
	logger *slog.Logger,
) *journal.Manager {
	return journal.NewManager(journal.ManagerDeps{
		TranscriberConfig: sttConfig,
		Persist:           store,
		Recent:            store,
		Live:              live,
		Generator:         generator,
		Log:               logger,
	})
}

func ProvideJournalHandler(manager *journal.Manager, store *journal.Store, live *journal.LiveStore, logger *slog.Logger) *journal.Handler {
	return journal.NewHandler(manager, store, live, logger.With("handler", "journal"))
}

func ProvideGatewayHandler(manager *journal.Manager, validator *auth.JWTValidator, logger *slog.Logger) *gateway.Handler {
	return gateway.NewHandler(gateway.HandlerConfig{
		Manager:   manager,
		Validator: validator,
		Log:       logger,
	})
}

type HandlerParams struct {
	fx.In

	JournalHandler *journal.Handler
	GatewayHandler *gateway.Handler
	JWTMiddleware  *auth.Middleware
}

func RegisterRoutes(e *echo.Echo, params HandlerParams) {
	api := e.Group("/v1")

	journalGroup := api.Group("/journal")
	journalGroup.Use(params.JWTMiddleware.Authenticate)
	params.JournalHandler.RegisterRoutes(journalGroup)

	// The capture socket authenticates inside the handler; browsers cannot
	// attach headers to websocket dials.
	params.GatewayHandler.RegisterRoutes(api.Group("/capture"))
}

var HandlersModule = fx.Options(
	fx.Provide(
		ProvideLogger,
		ProvideJWTValidator,
		ProvideJWTMiddleware,
		ProvideTranscriberConfig,
		ProvideQuestionGenerator,
		ProvideCaptureManager,
		ProvideJournalHandler,
		ProvideGatewayHandler,
	),
	fx.Invoke(RegisterRoutes),
)
