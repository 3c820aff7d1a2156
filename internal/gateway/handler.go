package gateway

import (
	"log/slog"
	"net/http"

	"github.com/auralog/voicejournal/internal/audio"
	"github.com/auralog/voicejournal/internal/auth"
	"github.com/auralog/voicejournal/internal/journal"
	"github.com/auralog/voicejournal/internal/shared"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler serves the capture ingest websocket. A connection carries JSON
// control frames and binary Opus audio for exactly one user.
type Handler struct {
	manager   *journal.Manager
	validator *auth.JWTValidator
	opened    DecoderFactory
	logger    *slog.Logger
}

type HandlerConfig struct {
	Manager   *journal.Manager
	Validator *auth.JWTValidator
	// Decoder overrides the per-connection audio decoder, tests use this.
	Decoder DecoderFactory
	Log     *slog.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	opened := cfg.Decoder
	if opened == nil {
		opened = func() (AudioDecoder, error) {
			return audio.NewOpusDecoder()
		}
	}
	return &Handler{
		manager:   cfg.Manager,
		validator: cfg.Validator,
		opened:    opened,
		logger:    log.With("component", "capture_gateway"),
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", h.HandleConnection)
}

// HandleConnection authenticates the socket, upgrades it and runs the pumps
// until the client disconnects. Browsers cannot set headers on websocket
// dials, so the token is also accepted as a query parameter.
func (h *Handler) HandleConnection(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		token = c.Request().Header.Get("Authorization")
	}
	if token == "" {
		return shared.Unauthorized("missing_token", "token required")
	}

	claims, err := h.validator.Validate(token)
	if err != nil {
		if err == auth.ErrExpiredToken {
			return shared.Unauthorized("token_expired", "token has expired")
		}
		return shared.Unauthorized("invalid_token", "invalid or malformed token")
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return err
	}

	conn := newCaptureConn(ws, claims.UserID, h.manager, h.opened, h.logger)
	h.logger.Info("capture socket connected", "user_id", claims.UserID)

	go conn.writePump()
	conn.readPump(c.Request().Context())
	conn.salvage()

	h.logger.Info("capture socket disconnected", "user_id", claims.UserID)
	return nil
}
