package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/auralog/voicejournal/internal/auth"
	"github.com/auralog/voicejournal/internal/journal"
	"github.com/auralog/voicejournal/internal/question"
	"github.com/auralog/voicejournal/internal/transcriber"
	"github.com/auralog/voicejournal/internal/transcript"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const testSecret = "gateway-test-secret"

type stubRecognizer struct {
	mu     sync.Mutex
	cb     transcriber.RecognizerCallbacks
	frames int
}

func (r *stubRecognizer) Start() error { return nil }

func (r *stubRecognizer) Feed(frame []float32) {
	r.mu.Lock()
	r.frames++
	r.mu.Unlock()
}

func (r *stubRecognizer) Stop() {}

func (r *stubRecognizer) frameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

func (r *stubRecognizer) emit(text string) {
	r.cb.OnSegment(transcript.Segment{Duration: time.Second, Text: text})
}

type memPersistence struct {
	mu        sync.Mutex
	completed string
}

func (p *memPersistence) StartSession(_ context.Context, _ string, _ time.Time) (string, error) {
	return "jrnl_gwtest", nil
}

func (p *memPersistence) CompleteSession(_ context.Context, _, transcript, _ string, _ int, _ time.Time) error {
	p.mu.Lock()
	p.completed = transcript
	p.mu.Unlock()
	return nil
}

func (p *memPersistence) DeleteSession(_ context.Context, _ string) error { return nil }
func (p *memPersistence) InsertQuestion(_ context.Context, _ *journal.JournalQuestion) error {
	return nil
}
func (p *memPersistence) UpdateQuestion(_ context.Context, _, _, _ string) error { return nil }

type stubGenerator struct{}

func (stubGenerator) Generate(_ context.Context, _ question.Request) (*question.Response, error) {
	return &question.Response{}, nil
}

// pcmDecoder stands in for the Opus decoder: every frame decodes to a fixed
// buffer of silence.
type pcmDecoder struct{}

func (pcmDecoder) Decode(_ []byte) ([]float32, error) {
	return make([]float32, 960), nil
}

type gatewayHarness struct {
	server     *httptest.Server
	recognizer *stubRecognizer
	store      *memPersistence
}

func newGatewayHarness(t *testing.T) *gatewayHarness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rec := &stubRecognizer{}
	store := &memPersistence{}
	manager := journal.NewManager(journal.ManagerDeps{
		Persist:   store,
		Generator: stubGenerator{},
		Recognizer: func(cb transcriber.RecognizerCallbacks) (transcriber.Recognizer, error) {
			rec.mu.Lock()
			rec.cb = cb
			rec.mu.Unlock()
			return rec, nil
		},
		Log: logger,
	})

	handler := NewHandler(HandlerConfig{
		Manager:   manager,
		Validator: auth.NewJWTValidator(testSecret),
		Decoder: func() (AudioDecoder, error) {
			return pcmDecoder{}, nil
		},
		Log: logger,
	})

	e := echo.New()
	handler.RegisterRoutes(e.Group("/gateway"))
	server := httptest.NewServer(e)
	t.Cleanup(server.Close)

	return &gatewayHarness{server: server, recognizer: rec, store: store}
}

func signTestToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.Claims{UserID: userID}).
		SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func (h *gatewayHarness) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + h.server.URL[4:] + "/gateway/ws?token=" + signTestToken(t, userID)
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendControl(t *testing.T, ws *websocket.Conn, msg ClientMessage) {
	t.Helper()
	if err := ws.WriteJSON(msg); err != nil {
		t.Fatalf("failed to send %s: %v", msg.Type, err)
	}
}

// awaitFrame reads server frames until one of the wanted type arrives.
func awaitFrame(t *testing.T, ws *websocket.Conn, wantType string) ServerMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read error while waiting for %s: %v", wantType, err)
		}
		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("malformed server frame: %v", err)
		}
		if msg.Type == wantType {
			return msg
		}
	}
	t.Fatalf("no %s frame arrived", wantType)
	return ServerMessage{}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHandleConnection_RejectsMissingToken(t *testing.T) {
	h := newGatewayHarness(t)

	wsURL := "ws" + h.server.URL[4:] + "/gateway/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dial should fail without a token")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Errorf("expected 401 handshake response, got %+v", resp)
	}
}

func TestHandleConnection_RejectsBadToken(t *testing.T) {
	h := newGatewayHarness(t)

	wsURL := "ws" + h.server.URL[4:] + "/gateway/ws?token=not-a-jwt"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dial should fail with a bad token")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Errorf("expected 401 handshake response, got %+v", resp)
	}
}

func TestCaptureSocket_StartFeedsAudio(t *testing.T) {
	h := newGatewayHarness(t)
	ws := h.dial(t, "user_1")

	sendControl(t, ws, ClientMessage{Type: ControlStart, Strategy: journal.StrategyOnDevice})
	started := awaitFrame(t, ws, ServerTypeStarted)
	if started.SessionID == "" {
		t.Error("started frame should carry the session id")
	}

	for i := 0; i < 3; i++ {
		if err := ws.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}); err != nil {
			t.Fatalf("failed to send audio frame: %v", err)
		}
	}
	waitFor(t, "audio frames", func() bool { return h.recognizer.frameCount() == 3 })
}

func TestCaptureSocket_TranscriptEventsReachClient(t *testing.T) {
	h := newGatewayHarness(t)
	ws := h.dial(t, "user_1")

	sendControl(t, ws, ClientMessage{Type: ControlStart, Strategy: journal.StrategyOnDevice})
	awaitFrame(t, ws, ServerTypeStarted)
	waitFor(t, "recognizer wired", func() bool {
		h.recognizer.mu.Lock()
		defer h.recognizer.mu.Unlock()
		return h.recognizer.cb.OnSegment != nil
	})

	h.recognizer.emit("Today was a good day.")

	partial := awaitFrame(t, ws, journal.EventTranscriptPartial)
	if !strings.Contains(partial.Text, "Today was a good day.") {
		t.Errorf("partial = %q, want the recognized sentence", partial.Text)
	}
}

func TestCaptureSocket_StopReturnsResult(t *testing.T) {
	h := newGatewayHarness(t)
	ws := h.dial(t, "user_1")

	sendControl(t, ws, ClientMessage{Type: ControlStart, Strategy: journal.StrategyOnDevice})
	awaitFrame(t, ws, ServerTypeStarted)
	waitFor(t, "recognizer wired", func() bool {
		h.recognizer.mu.Lock()
		defer h.recognizer.mu.Unlock()
		return h.recognizer.cb.OnSegment != nil
	})
	h.recognizer.emit("Today was a good day.")
	awaitFrame(t, ws, journal.EventTranscriptPartial)

	sendControl(t, ws, ClientMessage{Type: ControlStop})
	result := awaitFrame(t, ws, ServerTypeResult)
	if result.Result == nil {
		t.Fatal("result frame should carry the capture result")
	}
	if result.Result.SessionID != "jrnl_gwtest" {
		t.Errorf("session id = %q, want the persisted id", result.Result.SessionID)
	}
	if !strings.Contains(result.Result.Transcript, "Today was a good day.") {
		t.Errorf("transcript = %q", result.Result.Transcript)
	}

	h.store.mu.Lock()
	completed := h.store.completed
	h.store.mu.Unlock()
	if !strings.Contains(completed, "Today was a good day.") {
		t.Errorf("persisted transcript = %q", completed)
	}
}

func TestCaptureSocket_StopWithoutCapture(t *testing.T) {
	h := newGatewayHarness(t)
	ws := h.dial(t, "user_1")

	sendControl(t, ws, ClientMessage{Type: ControlStop})
	errFrame := awaitFrame(t, ws, journal.EventError)
	if errFrame.Error == "" {
		t.Error("error frame should explain the refusal")
	}
}

func TestCaptureSocket_CancelDiscards(t *testing.T) {
	h := newGatewayHarness(t)
	ws := h.dial(t, "user_1")

	sendControl(t, ws, ClientMessage{Type: ControlStart, Strategy: journal.StrategyOnDevice})
	awaitFrame(t, ws, ServerTypeStarted)

	sendControl(t, ws, ClientMessage{Type: ControlCancel})
	awaitFrame(t, ws, ServerTypeCancelled)

	// The slot is free again.
	sendControl(t, ws, ClientMessage{Type: ControlStart, Strategy: journal.StrategyOnDevice})
	awaitFrame(t, ws, ServerTypeStarted)
}

func TestCaptureSocket_SecondStartRefused(t *testing.T) {
	h := newGatewayHarness(t)
	ws := h.dial(t, "user_1")

	sendControl(t, ws, ClientMessage{Type: ControlStart, Strategy: journal.StrategyOnDevice})
	awaitFrame(t, ws, ServerTypeStarted)

	sendControl(t, ws, ClientMessage{Type: ControlStart, Strategy: journal.StrategyOnDevice})
	errFrame := awaitFrame(t, ws, journal.EventError)
	if errFrame.Error == "" {
		t.Error("second start should be refused")
	}
}
