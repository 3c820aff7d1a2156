package journal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/auralog/voicejournal/internal/question"
	"github.com/auralog/voicejournal/internal/shared"
	"github.com/auralog/voicejournal/internal/transcriber"
)

// Host-visible event types pushed over the gateway.
const (
	EventTranscriptPartial = "transcript.partial"
	EventTranscriptFinal   = "transcript.final"
	EventQuestion          = "question"
	EventError             = "error"
)

const silencePollInterval = 500 * time.Millisecond

type Event struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	Question *QuestionEvent `json:"question,omitempty"`
	Error    string         `json:"error,omitempty"`
}

type QuestionEvent struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	CoverageTag string `json:"coverage_tag,omitempty"`
	Kind        string `json:"kind"`
	Fallback    bool   `json:"fallback,omitempty"`
}

// SessionConfig selects the capture strategy and questioning behavior for one
// session.
type SessionConfig struct {
	UserID         string
	Strategy       string // "streaming", "polling" or "ondevice"
	Proactivity    question.Proactivity
	Profile        string
	RecentSessions []string
}

// Result is what a completed capture hands back to the host.
type Result struct {
	SessionID       string
	Transcript      string
	AudioPath       string
	DurationSeconds int
}

// CaptureDeps are the session's collaborators. Store and Live are best-effort
// sinks; a nil Live disables liveness tracking.
type CaptureDeps struct {
	Transcriber transcriber.Transcriber
	Store       Persistence
	Live        *LiveStore
	Asker       *question.Asker
	Log         *slog.Logger
}

// Optional capabilities of the underlying transcriber.
type transcriptSource interface {
	Transcript() string
}

type artifactSource interface {
	Artifact() string
}

type backgroundAware interface {
	HandleBackground()
	HandleForeground()
}

// CaptureSession owns exactly one active transcription strategy and drives
// the questioning policy from its callbacks. All engine decisions funnel
// through handleAction; generation requests run on their own goroutines so the
// transcript path never waits on the network.
type CaptureSession struct {
	id  string
	cfg SessionConfig
	log *slog.Logger

	trans  transcriber.Transcriber
	engine *question.Engine
	asker  *question.Asker
	store  Persistence
	live   *LiveStore

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	transcript   string
	startedAt    time.Time
	started      bool
	stopped      bool
	cancelled    bool
	eventsClosed bool

	events chan Event
}

func NewCaptureSession(cfg SessionConfig, deps CaptureDeps) *CaptureSession {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	if cfg.Proactivity == "" {
		cfg.Proactivity = question.ProactivityMedium
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &CaptureSession{
		id:     shared.NewID("jrnl_"),
		cfg:    cfg,
		log:    log,
		trans:  deps.Transcriber,
		asker:  deps.Asker,
		store:  deps.Store,
		live:   deps.Live,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan Event, 32),
	}
}

func (s *CaptureSession) ID() string {
	return s.id
}

func (s *CaptureSession) UserID() string {
	return s.cfg.UserID
}

// Events is the outbound stream consumed by the gateway. Closed after Stop or
// Cancel.
func (s *CaptureSession) Events() <-chan Event {
	return s.events
}

func (s *CaptureSession) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("capture session already started")
	}
	s.started = true
	now := time.Now()
	s.startedAt = now
	s.mu.Unlock()

	s.log = s.log.With("session_id", s.id, "user_id", s.cfg.UserID)
	s.engine = question.NewEngine(s.cfg.Proactivity, now)

	// The durable record is best-effort: a dead database must not block the
	// capture.
	if s.store != nil {
		if id, err := s.store.StartSession(ctx, s.cfg.UserID, now); err != nil {
			s.log.Warn("start session persistence failed", "error", err)
		} else {
			s.id = id
		}
	}

	s.trans.SetCallbacks(transcriber.Callbacks{
		OnPartial: func(text string) { s.onTranscript(text, false) },
		OnFinal:   func(text string) { s.onTranscript(text, true) },
		OnError:   s.onTranscriberError,
	})

	if err := s.trans.Start(); err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return err
	}

	if s.live != nil {
		rec := &CaptureRecord{
			ID:        s.id,
			UserID:    s.cfg.UserID,
			Strategy:  s.cfg.Strategy,
			StartedAt: now,
		}
		if err := s.live.TrackCapture(ctx, rec); err != nil {
			s.log.Warn("live capture tracking failed", "error", err)
		}
		if err := s.live.IncrementSessions(ctx, s.cfg.UserID); err != nil {
			s.log.Warn("usage counter failed", "error", err)
		}
	}

	s.wg.Add(1)
	go s.silenceLoop()
	return nil
}

func (s *CaptureSession) Feed(frame []float32) {
	s.trans.Feed(frame)
}

// HandleBackground forwards the host lifecycle event to transports that react
// to it.
func (s *CaptureSession) HandleBackground() {
	if aware, ok := s.trans.(backgroundAware); ok {
		aware.HandleBackground()
	}
}

func (s *CaptureSession) HandleForeground() {
	if aware, ok := s.trans.(backgroundAware); ok {
		aware.HandleForeground()
	}
}

func (s *CaptureSession) onTranscript(text string, final bool) {
	s.mu.Lock()
	s.transcript = text
	s.mu.Unlock()

	eventType := EventTranscriptPartial
	if final {
		eventType = EventTranscriptFinal
	}
	s.publish(Event{Type: eventType, Text: text})

	if s.engine != nil {
		s.handleAction(s.engine.OnTranscript(text, time.Now()))
	}
}

func (s *CaptureSession) onTranscriberError(err error) {
	class := shared.Classify(err)
	s.log.Warn("transcriber error", "class", class, "error", err)
	s.publish(Event{Type: EventError, Error: err.Error()})
}

func (s *CaptureSession) silenceLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(silencePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if s.engine != nil {
				s.handleAction(s.engine.OnSilenceCheck(time.Now()))
			}
		}
	}
}

// Refresh retires the on-screen question and requests a replacement topic.
func (s *CaptureSession) Refresh() {
	if s.engine == nil {
		return
	}
	s.handleAction(s.engine.Refresh())
}

func (s *CaptureSession) handleAction(action question.Action) {
	switch a := action.(type) {
	case question.ActionValidate:
		s.wg.Add(1)
		go s.runValidate(a)
	case question.ActionAsk:
		s.wg.Add(1)
		go s.runAsk(a)
	}
}

func (s *CaptureSession) runValidate(a question.ActionValidate) {
	defer s.wg.Done()

	current := s.engine.Current()
	if current == nil {
		return
	}

	req := s.generationRequest(a.RecentText)
	req.LastQuestion = current.Text

	answered, err := s.asker.Validate(s.ctx, req)
	if err != nil {
		if !errors.Is(err, question.ErrRequestInFlight) {
			s.log.Warn("answer validation failed", "error", err)
		}
		s.engine.ValidationResolved(false, "")
		return
	}

	s.engine.ValidationResolved(answered, a.RecentText)
	if answered && s.store != nil {
		if err := s.store.UpdateQuestion(s.ctx, current.ID, string(question.StatusAnswered), a.RecentText); err != nil {
			s.log.Warn("question update persistence failed", "error", err)
		}
	}
}

func (s *CaptureSession) runAsk(a question.ActionAsk) {
	defer s.wg.Done()

	kind := s.engine.PreferredNextKind(a.Reason)
	req := s.generationRequest(a.RecentText)
	req.PreferredKind = kind
	if current := s.engine.Current(); current != nil {
		req.LastQuestion = current.Text
	}

	next, fallback, err := s.asker.Next(s.ctx, req)
	if err != nil {
		if !errors.Is(err, question.ErrRequestInFlight) {
			s.log.Warn("next question request failed", "error", err)
		}
		return
	}

	item := question.NewItem(next.Text, next.CoverageTag, next.Kind, time.Now())
	if !s.engine.QuestionShown(item) {
		// The on-screen question started validating while this request was in
		// flight; it keeps the screen.
		return
	}

	if s.store != nil {
		q := &JournalQuestion{
			ID:          item.ID,
			SessionID:   s.id,
			Text:        item.Text,
			CoverageTag: item.CoverageTag,
			Kind:        string(item.Kind),
			Status:      string(item.Status),
			AskedAt:     item.AskedAt,
		}
		if err := s.store.InsertQuestion(s.ctx, q); err != nil {
			s.log.Warn("question insert persistence failed", "error", err)
		}
	}
	if s.live != nil {
		if err := s.live.IncrementQuestionsAsked(s.ctx, s.cfg.UserID); err != nil {
			s.log.Warn("usage counter failed", "error", err)
		}
	}

	s.publish(Event{Type: EventQuestion, Question: &QuestionEvent{
		ID:          item.ID,
		Text:        item.Text,
		CoverageTag: item.CoverageTag,
		Kind:        string(item.Kind),
		Fallback:    fallback,
	}})
}

func (s *CaptureSession) generationRequest(recentText string) question.Request {
	s.mu.Lock()
	draft := s.transcript
	s.mu.Unlock()

	return question.Request{
		DraftText:      draft,
		RecentText:     recentText,
		History:        question.HistorySnapshot(s.engine.History()),
		Profile:        s.cfg.Profile,
		RecentSessions: s.cfg.RecentSessions,
	}
}

// Stop finishes the capture: question timers first, then the transcriber's
// final flush, then the durable record.
func (s *CaptureSession) Stop(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	if s.stopped || s.cancelled {
		s.mu.Unlock()
		return nil, errors.New("capture session already finished")
	}
	s.stopped = true
	startedAt := s.startedAt
	s.mu.Unlock()

	s.cancel()

	if err := s.trans.Stop(); err != nil {
		s.log.Warn("transcriber stop failed", "error", err)
	}
	s.wg.Wait()

	transcript := s.finalTranscript()
	audioPath := ""
	if src, ok := s.trans.(artifactSource); ok {
		audioPath = src.Artifact()
	}
	endedAt := time.Now()
	duration := int(endedAt.Sub(startedAt).Seconds())

	if s.store != nil {
		if err := s.store.CompleteSession(ctx, s.id, transcript, audioPath, duration, endedAt); err != nil {
			s.log.Warn("complete session persistence failed", "error", err)
			s.publish(Event{Type: EventError, Error: shared.ErrPersistence.Error()})
		}
	}
	if s.live != nil {
		if err := s.live.AddAudioSeconds(ctx, s.cfg.UserID, int64(duration)); err != nil {
			s.log.Warn("usage counter failed", "error", err)
		}
		if err := s.live.DeleteCapture(ctx, s.id); err != nil {
			s.log.Warn("live capture cleanup failed", "error", err)
		}
	}

	s.closeEvents()
	return &Result{
		SessionID:       s.id,
		Transcript:      transcript,
		AudioPath:       audioPath,
		DurationSeconds: duration,
	}, nil
}

// Cancel aborts the capture and deletes its durable record. Idempotent;
// teardown runs capture-side first so nothing races the deletes.
func (s *CaptureSession) Cancel(ctx context.Context) {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	alreadyStopped := s.stopped
	s.mu.Unlock()

	s.cancel()
	if !alreadyStopped {
		s.trans.Cancel()
	}
	s.wg.Wait()

	if s.store != nil && !alreadyStopped {
		if err := s.store.DeleteSession(ctx, s.id); err != nil && !errors.Is(err, shared.ErrNotFound) {
			s.log.Warn("delete session persistence failed", "error", err)
		}
	}
	if s.live != nil {
		if err := s.live.DeleteCapture(ctx, s.id); err != nil {
			s.log.Warn("live capture cleanup failed", "error", err)
		}
	}

	s.closeEvents()
}

func (s *CaptureSession) finalTranscript() string {
	if src, ok := s.trans.(transcriptSource); ok {
		if text := src.Transcript(); text != "" {
			return text
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript
}

// Transcript returns the best-known transcript so far.
func (s *CaptureSession) Transcript() string {
	return s.finalTranscript()
}

func (s *CaptureSession) publish(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventsClosed {
		return
	}

	select {
	case s.events <- evt:
	default:
		s.log.Warn("event queue full, dropping event", "type", evt.Type)
	}
}

func (s *CaptureSession) closeEvents() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventsClosed {
		return
	}
	s.eventsClosed = true
	close(s.events)
}
