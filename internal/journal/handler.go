package journal

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/auralog/voicejournal/internal/auth"
	"github.com/auralog/voicejournal/internal/dto"
	"github.com/auralog/voicejournal/internal/question"
	"github.com/auralog/voicejournal/internal/shared"
)

type Handler struct {
	manager *Manager
	store   *Store
	live    *LiveStore
	logger  *slog.Logger
}

func NewHandler(manager *Manager, store *Store, live *LiveStore, logger *slog.Logger) *Handler {
	return &Handler{
		manager: manager,
		store:   store,
		live:    live,
		logger:  logger,
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/captures", h.StartCapture)
	g.POST("/captures/stop", h.StopCapture)
	g.POST("/captures/cancel", h.CancelCapture)
	g.POST("/captures/refresh", h.RefreshQuestion)

	g.GET("/sessions", h.ListSessions)
	g.GET("/sessions/:id", h.GetSession)
	g.DELETE("/sessions/:id", h.DeleteSession)
	g.GET("/sessions/:id/questions", h.SessionQuestions)

	g.GET("/usage", h.GetUsage)
}

func (h *Handler) StartCapture(c echo.Context) error {
	userID, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	var req dto.StartCaptureRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_request", "invalid request body")
	}

	sess, err := h.manager.StartCapture(c.Request().Context(), SessionConfig{
		UserID:      userID,
		Strategy:    req.Strategy,
		Proactivity: question.Proactivity(req.Proactivity),
		Profile:     req.Profile,
	})
	if err != nil {
		if errors.Is(err, shared.ErrConflict) {
			return shared.Conflict("capture_active", "a capture is already running")
		}
		if errors.Is(err, shared.ErrConfiguration) {
			return shared.BadRequest("invalid_capture", err.Error())
		}
		h.logger.Error("failed to start capture", "error", err, "user_id", userID)
		return shared.InternalError("start_failed", "failed to start capture")
	}

	return c.JSON(http.StatusCreated, dto.CaptureResponse{
		SessionID: sess.ID(),
		Strategy:  req.Strategy,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) StopCapture(c echo.Context) error {
	userID, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	result, err := h.manager.StopCapture(c.Request().Context(), userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NotFound("no_capture", "no active capture")
		}
		h.logger.Error("failed to stop capture", "error", err, "user_id", userID)
		return shared.InternalError("stop_failed", "failed to stop capture")
	}

	return c.JSON(http.StatusOK, dto.CaptureResultResponse{
		SessionID:       result.SessionID,
		Transcript:      result.Transcript,
		AudioPath:       result.AudioPath,
		DurationSeconds: result.DurationSeconds,
	})
}

func (h *Handler) CancelCapture(c echo.Context) error {
	userID, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	if err := h.manager.CancelCapture(c.Request().Context(), userID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.NotFound("no_capture", "no active capture")
		}
		h.logger.Error("failed to cancel capture", "error", err, "user_id", userID)
		return shared.InternalError("cancel_failed", "failed to cancel capture")
	}

	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RefreshQuestion(c echo.Context) error {
	userID, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	sess := h.manager.Active(userID)
	if sess == nil {
		return shared.NotFound("no_capture", "no active capture")
	}
	sess.Refresh()
	return c.NoContent(http.StatusAccepted)
}

func (h *Handler) ListSessions(c echo.Context) error {
	userID, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	limit := 20
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	offset := 0
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	sessions, err := h.store.ListSessions(c.Request().Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list sessions", "error", err, "user_id", userID)
		return shared.InternalError("list_failed", "failed to list sessions")
	}

	response := make([]dto.SessionResponse, len(sessions))
	for i, sess := range sessions {
		response[i] = sessionToResponse(sess)
	}
	return c.JSON(http.StatusOK, dto.SessionListResponse{
		Sessions: response,
		Limit:    limit,
		Offset:   offset,
	})
}

func (h *Handler) GetSession(c echo.Context) error {
	userID, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	sess, err := h.requireSessionOwnership(c, userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sessionToResponse(sess))
}

func (h *Handler) DeleteSession(c echo.Context) error {
	userID, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	sess, err := h.requireSessionOwnership(c, userID)
	if err != nil {
		return err
	}

	if err := h.store.DeleteSession(c.Request().Context(), sess.ID); err != nil {
		h.logger.Error("failed to delete session", "error", err, "session_id", sess.ID)
		return shared.InternalError("delete_failed", "failed to delete session")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SessionQuestions(c echo.Context) error {
	userID, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	sess, err := h.requireSessionOwnership(c, userID)
	if err != nil {
		return err
	}

	questions, err := h.store.SessionQuestions(c.Request().Context(), sess.ID)
	if err != nil {
		h.logger.Error("failed to list questions", "error", err, "session_id", sess.ID)
		return shared.InternalError("list_failed", "failed to list questions")
	}

	response := make([]dto.QuestionResponse, len(questions))
	for i, q := range questions {
		response[i] = questionToResponse(q)
	}
	return c.JSON(http.StatusOK, dto.QuestionListResponse{
		SessionID: sess.ID,
		Questions: response,
	})
}

func (h *Handler) GetUsage(c echo.Context) error {
	userID, err := auth.RequireAuth(c)
	if err != nil {
		return err
	}

	date := c.QueryParam("date")
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}

	usage, err := h.live.GetUsage(c.Request().Context(), userID, date)
	if err != nil {
		h.logger.Error("failed to get usage", "error", err, "user_id", userID)
		return shared.InternalError("usage_failed", "failed to get usage")
	}

	return c.JSON(http.StatusOK, dto.UsageResponse{
		Date:           usage.Date,
		Sessions:       usage.Sessions,
		QuestionsAsked: usage.QuestionsAsked,
		AudioSeconds:   usage.AudioSeconds,
	})
}

func (h *Handler) requireSessionOwnership(c echo.Context, userID string) (*JournalSession, error) {
	sess, err := h.store.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.NotFound("session_not_found", "session not found")
		}
		return nil, shared.InternalError("get_failed", "failed to get session")
	}
	if sess.UserID != userID {
		return nil, shared.Forbidden("not_owner", "you don't own this session")
	}
	return sess, nil
}

func sessionToResponse(sess *JournalSession) dto.SessionResponse {
	resp := dto.SessionResponse{
		ID:              sess.ID,
		Status:          string(sess.Status),
		Transcript:      sess.Transcript,
		DurationSeconds: sess.DurationSeconds,
		StartedAt:       sess.StartedAt,
		EndedAt:         sess.EndedAt,
	}
	for _, q := range sess.Questions {
		resp.Questions = append(resp.Questions, questionToResponse(&q))
	}
	return resp
}

func questionToResponse(q *JournalQuestion) dto.QuestionResponse {
	return dto.QuestionResponse{
		ID:           q.ID,
		Text:         q.Text,
		CoverageTag:  q.CoverageTag,
		Kind:         q.Kind,
		Status:       q.Status,
		AnsweredText: q.AnsweredText,
		AskedAt:      q.AskedAt,
	}
}
