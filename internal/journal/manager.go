package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/auralog/voicejournal/internal/question"
	"github.com/auralog/voicejournal/internal/shared"
	"github.com/auralog/voicejournal/internal/transcriber"
)

// Capture strategies selectable per session.
const (
	StrategyStreaming = "streaming"
	StrategyPolling   = "polling"
	StrategyOnDevice  = "ondevice"
)

const recentSessionLimit = 3

type recentSource interface {
	RecentTranscripts(ctx context.Context, userID string, limit int) ([]string, error)
}

// ManagerDeps wires the manager's collaborators. Recognizer is only needed
// when on-device capture is offered.
type ManagerDeps struct {
	TranscriberConfig transcriber.Config
	Persist           Persistence
	Recent            recentSource
	Live              *LiveStore
	Generator         question.Generator
	Recognizer        transcriber.RecognizerFactory
	Log               *slog.Logger
}

// Manager enforces one active capture per user and routes host lifecycle
// events to it.
type Manager struct {
	cfg        transcriber.Config
	persist    Persistence
	recent     recentSource
	live       *LiveStore
	generator  question.Generator
	recognizer transcriber.RecognizerFactory
	log        *slog.Logger

	mu     sync.Mutex
	active map[string]*CaptureSession
}

func NewManager(deps ManagerDeps) *Manager {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:        deps.TranscriberConfig,
		persist:    deps.Persist,
		recent:     deps.Recent,
		live:       deps.Live,
		generator:  deps.Generator,
		recognizer: deps.Recognizer,
		log:        log.With("component", "capture_manager"),
		active:     make(map[string]*CaptureSession),
	}
}

// StartCapture opens a new capture for the user. A second concurrent capture
// for the same user is refused.
func (m *Manager) StartCapture(ctx context.Context, cfg SessionConfig) (*CaptureSession, error) {
	if cfg.UserID == "" {
		return nil, fmt.Errorf("user id required: %w", shared.ErrConfiguration)
	}

	m.mu.Lock()
	if _, busy := m.active[cfg.UserID]; busy {
		m.mu.Unlock()
		return nil, fmt.Errorf("capture already active for user: %w", shared.ErrConflict)
	}
	// Reserve the slot before the slow start path runs.
	m.active[cfg.UserID] = nil
	m.mu.Unlock()

	release := func() {
		m.mu.Lock()
		delete(m.active, cfg.UserID)
		m.mu.Unlock()
	}

	trans, err := m.buildTranscriber(cfg.Strategy)
	if err != nil {
		release()
		return nil, err
	}

	if m.recent != nil && len(cfg.RecentSessions) == 0 {
		if recents, err := m.recent.RecentTranscripts(ctx, cfg.UserID, recentSessionLimit); err != nil {
			m.log.Warn("recent transcripts unavailable", "error", err)
		} else {
			cfg.RecentSessions = recents
		}
	}

	sess := NewCaptureSession(cfg, CaptureDeps{
		Transcriber: trans,
		Store:       m.persist,
		Live:        m.live,
		Asker:       question.NewAsker(m.generator, m.log),
		Log:         m.log,
	})
	if err := sess.Start(ctx); err != nil {
		release()
		return nil, err
	}

	m.mu.Lock()
	m.active[cfg.UserID] = sess
	m.mu.Unlock()
	return sess, nil
}

func (m *Manager) buildTranscriber(strategy string) (transcriber.Transcriber, error) {
	switch strategy {
	case StrategyPolling:
		return transcriber.NewPolling(m.cfg, transcriber.PollingDeps{Log: m.log}, transcriber.Callbacks{}), nil
	case StrategyOnDevice:
		if m.recognizer == nil {
			return nil, fmt.Errorf("on-device capture not available: %w", shared.ErrConfiguration)
		}
		return transcriber.NewOnDevice(transcriber.OnDeviceDeps{Factory: m.recognizer, Log: m.log}, transcriber.Callbacks{}), nil
	case StrategyStreaming, "":
		return transcriber.NewStreaming(m.cfg, transcriber.StreamingDeps{Log: m.log}, transcriber.Callbacks{}), nil
	default:
		return nil, fmt.Errorf("unknown capture strategy %q: %w", strategy, shared.ErrConfiguration)
	}
}

// Active returns the user's running capture, nil when none.
func (m *Manager) Active(userID string) *CaptureSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[userID]
}

func (m *Manager) StopCapture(ctx context.Context, userID string) (*Result, error) {
	sess := m.take(userID)
	if sess == nil {
		return nil, shared.ErrNotFound
	}
	return sess.Stop(ctx)
}

func (m *Manager) CancelCapture(ctx context.Context, userID string) error {
	sess := m.take(userID)
	if sess == nil {
		return shared.ErrNotFound
	}
	sess.Cancel(ctx)
	return nil
}

func (m *Manager) take(userID string) *CaptureSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := m.active[userID]
	delete(m.active, userID)
	return sess
}

// HandleBackground forwards the app-background event to the user's capture.
func (m *Manager) HandleBackground(userID string) {
	if sess := m.Active(userID); sess != nil {
		sess.HandleBackground()
	}
}

func (m *Manager) HandleForeground(userID string) {
	if sess := m.Active(userID); sess != nil {
		sess.HandleForeground()
	}
}

// ActiveCount reports running captures, used by health checks.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, sess := range m.active {
		if sess != nil {
			n++
		}
	}
	return n
}
