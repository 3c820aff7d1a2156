package transcriber

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/auralog/voicejournal/internal/shared"
)

type fakeCredentials struct {
	secret string
	err    error
	calls  int
}

func (f *fakeCredentials) EphemeralSecret(context.Context) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.secret, nil
}

type fakeSocket struct {
	mu        sync.Mutex
	writes    []clientEvent
	writeErr  error
	failAfter int // with writeErr set, this many writes still succeed
	in        chan serverEvent
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		in:   make(chan serverEvent, 16),
		done: make(chan struct{}),
	}
}

func (f *fakeSocket) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil && len(f.writes) >= f.failAfter {
		return f.writeErr
	}
	if evt, ok := v.(clientEvent); ok {
		f.writes = append(f.writes, evt)
	}
	return nil
}

func (f *fakeSocket) ReadJSON(v any) error {
	select {
	case evt, ok := <-f.in:
		if !ok {
			return io.EOF
		}
		*(v.(*serverEvent)) = evt
		return nil
	case <-f.done:
		return errors.New("use of closed connection")
	}
}

func (f *fakeSocket) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeSocket) sentTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.writes))
	for i, w := range f.writes {
		out[i] = w.Type
	}
	return out
}

// socketQueue hands out prepared sockets to successive dials.
type socketQueue struct {
	mu      sync.Mutex
	sockets []*fakeSocket
	dialErr []error
	dials   int
	headers []http.Header
}

func (q *socketQueue) dial(_ context.Context, _ string, header http.Header) (Socket, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.dials
	q.dials++
	q.headers = append(q.headers, header)
	if i < len(q.dialErr) && q.dialErr[i] != nil {
		return nil, q.dialErr[i]
	}
	if i < len(q.sockets) {
		return q.sockets[i], nil
	}
	return nil, errors.New("no socket prepared")
}

func (q *socketQueue) dialCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dials
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

func newTestStreaming(t *testing.T, q *socketQueue, rec *eventRecorder) *Streaming {
	t.Helper()
	cfg := Config{
		ScratchDir:  t.TempDir(),
		CaptureRate: 48000,
		Model:       "whisper-1",
	}
	deps := StreamingDeps{
		Credentials: &fakeCredentials{secret: "eph-secret"},
		Dial:        q.dial,
		Batch:       &fakeBatchClient{},
	}
	return NewStreaming(cfg, deps, rec.callbacks())
}

func TestStreaming_StartSendsSessionConfig(t *testing.T) {
	sock := newFakeSocket()
	q := &socketQueue{sockets: []*fakeSocket{sock}}
	s := newTestStreaming(t, q, &eventRecorder{})

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Cancel()

	types := sock.sentTypes()
	if len(types) == 0 || types[0] != eventSessionUpdate {
		t.Fatalf("first outbound event should configure the session, got %v", types)
	}
	if got := q.headers[0].Get("Authorization"); got != "Bearer eph-secret" {
		t.Errorf("dial auth header = %q", got)
	}
	if s.FellBack() {
		t.Error("healthy start must not fall back")
	}
}

func TestStreaming_DeltaAndCompletedEvents(t *testing.T) {
	sock := newFakeSocket()
	q := &socketQueue{sockets: []*fakeSocket{sock}}
	rec := &eventRecorder{}
	s := newTestStreaming(t, q, rec)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Cancel()

	sock.in <- serverEvent{
		Type:   "conversation.item.input_audio_transcription.delta",
		ItemID: "item_1",
		Delta:  "I went for",
	}
	waitFor(t, "partial callback", func() bool { return rec.lastPartial() == "I went for" })

	sock.in <- serverEvent{
		Type:       "conversation.item.input_audio_transcription.completed",
		ItemID:     "item_1",
		Transcript: "I went for a walk.",
	}
	waitFor(t, "final callback", func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.finals) == 1 && rec.finals[0] == "I went for a walk."
	})

	if got := s.Transcript(); got != "I went for a walk." {
		t.Errorf("Transcript() = %q", got)
	}
}

func TestStreaming_ErrorEventFallsBackWithSeed(t *testing.T) {
	sock := newFakeSocket()
	q := &socketQueue{sockets: []*fakeSocket{sock}}
	rec := &eventRecorder{}
	s := newTestStreaming(t, q, rec)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Cancel()

	sock.in <- serverEvent{
		Type:       "conversation.item.input_audio_transcription.completed",
		ItemID:     "item_1",
		Transcript: "I went for a walk",
	}
	waitFor(t, "completed event", func() bool { return s.Transcript() == "I went for a walk" })

	sock.in <- serverEvent{Type: eventError, Error: &serverError{Message: "session expired"}}
	waitFor(t, "fallback", s.FellBack)

	s.mu.Lock()
	fb := s.fallback
	s.mu.Unlock()
	fb.mu.Lock()
	committed, hint := fb.committed, fb.hint
	fb.mu.Unlock()
	if committed != "I went for a walk" {
		t.Errorf("fallback seeded with %q", committed)
	}
	if hint != "I went for a walk" {
		t.Errorf("fallback hint = %q", hint)
	}
	if got := s.Transcript(); got != "I went for a walk" {
		t.Errorf("visible transcript regressed to %q across the hand-off", got)
	}
}

func TestStreaming_FallbackHappensAtMostOnce(t *testing.T) {
	sock := newFakeSocket()
	q := &socketQueue{sockets: []*fakeSocket{sock}}
	s := newTestStreaming(t, q, &eventRecorder{})

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Cancel()

	sock.in <- serverEvent{Type: eventError, Error: &serverError{Message: "first failure"}}
	waitFor(t, "fallback", s.FellBack)

	s.mu.Lock()
	first := s.fallback
	s.mu.Unlock()

	// Later transport errors must not re-trigger the downgrade.
	s.transportFailure("send", errors.New("second failure"))
	s.transportFailure("receive", errors.New("third failure"))

	s.mu.Lock()
	second := s.fallback
	s.mu.Unlock()
	if first != second {
		t.Error("fallback transcriber was replaced after the first downgrade")
	}
}

func TestStreaming_FeedRoutesToFallback(t *testing.T) {
	sock := newFakeSocket()
	q := &socketQueue{sockets: []*fakeSocket{sock}}
	s := newTestStreaming(t, q, &eventRecorder{})

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Cancel()

	sock.in <- serverEvent{Type: eventError, Error: &serverError{Message: "down"}}
	waitFor(t, "fallback", s.FellBack)

	s.mu.Lock()
	fb := s.fallback
	s.mu.Unlock()

	frame := make([]float32, 480)
	s.Feed(frame)

	waitFor(t, "frame to reach the fallback buffer", func() bool {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		return len(fb.buf) > 0
	})
}

func TestStreaming_NegotiationFailureFallsBackWithoutError(t *testing.T) {
	q := &socketQueue{dialErr: []error{errors.New("connection refused")}}
	s := newTestStreaming(t, q, &eventRecorder{})

	if err := s.Start(); err != nil {
		t.Fatalf("a transport-class negotiation failure should not surface: %v", err)
	}
	defer s.Cancel()

	if !s.FellBack() {
		t.Error("expected immediate fallback after dial failure")
	}
}

func TestStreaming_FatalCredentialErrorSurfaces(t *testing.T) {
	cfg := Config{ScratchDir: t.TempDir()}
	deps := StreamingDeps{
		Credentials: &fakeCredentials{err: shared.ErrConfiguration},
		Dial:        (&socketQueue{}).dial,
		Batch:       &fakeBatchClient{},
	}
	s := NewStreaming(cfg, deps, Callbacks{})

	err := s.Start()
	if !errors.Is(err, shared.ErrConfiguration) {
		t.Fatalf("expected configuration error from Start, got %v", err)
	}
	if s.FellBack() {
		t.Error("a fatal error must not fall back")
	}
}

func TestStreaming_BackgroundForegroundReconnects(t *testing.T) {
	first := newFakeSocket()
	second := newFakeSocket()
	q := &socketQueue{sockets: []*fakeSocket{first, second}}
	s := newTestStreaming(t, q, &eventRecorder{})

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Cancel()

	s.HandleBackground()

	types := first.sentTypes()
	if len(types) == 0 || types[len(types)-1] != eventBufferCommit {
		t.Errorf("background should flush a buffer commit, got %v", types)
	}

	s.HandleForeground()

	if q.dialCount() != 2 {
		t.Fatalf("expected a redial on foreground, got %d dials", q.dialCount())
	}
	if s.FellBack() {
		t.Error("background/foreground cycle must reconnect, not fall back")
	}

	// The new socket carries the session; events on it still surface.
	second.in <- serverEvent{
		Type:       "conversation.item.input_audio_transcription.completed",
		ItemID:     "item_2",
		Transcript: "After waking.",
	}
	waitFor(t, "event on reconnected socket", func() bool { return s.Transcript() == "After waking." })
}

func TestStreaming_ForegroundReconnectFailureFallsBack(t *testing.T) {
	first := newFakeSocket()
	q := &socketQueue{
		sockets: []*fakeSocket{first},
		dialErr: []error{nil, errors.New("network unreachable")},
	}
	s := newTestStreaming(t, q, &eventRecorder{})

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Cancel()

	s.HandleBackground()
	s.HandleForeground()

	if !s.FellBack() {
		t.Error("a genuine reconnect failure should fall back")
	}
}

func TestStreaming_StopEmitsFinalAndKeepsArtifact(t *testing.T) {
	sock := newFakeSocket()
	q := &socketQueue{sockets: []*fakeSocket{sock}}
	rec := &eventRecorder{}
	s := newTestStreaming(t, q, rec)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sock.in <- serverEvent{
		Type:       "conversation.item.input_audio_transcription.completed",
		ItemID:     "item_1",
		Transcript: "Wrapping up now.",
	}
	waitFor(t, "completed event", func() bool { return s.Transcript() == "Wrapping up now." })

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	rec.mu.Lock()
	final := ""
	if len(rec.finals) > 0 {
		final = rec.finals[len(rec.finals)-1]
	}
	rec.mu.Unlock()
	if final != "Wrapping up now." {
		t.Errorf("final transcript = %q", final)
	}

	path := s.Artifact()
	if path == "" {
		t.Fatal("expected an artifact path after Stop")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("artifact missing: %v", err)
	}
}

func TestStreaming_FallbackKeepsQueuedFrames(t *testing.T) {
	sock := newFakeSocket()
	sock.writeErr = errors.New("broken pipe")
	sock.failAfter = 1 // session config succeeds, the first audio append fails
	q := &socketQueue{sockets: []*fakeSocket{sock}}
	s := newTestStreaming(t, q, &eventRecorder{})

	// Audio queued before the pump runs is all waiting when the socket dies.
	frame := make([]float32, 960)
	for i := 0; i < 5; i++ {
		s.Feed(frame)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Cancel()

	waitFor(t, "fallback", s.FellBack)

	// Every fed frame (480 samples after conversion, 2 bytes each) must land
	// in the scratch file, not just the one the pump consumed before the
	// failure.
	want := 5 * 480 * 2
	waitFor(t, "queued audio to reach the scratch file", func() bool {
		return s.wav.BytesWritten() == want
	})
}

func TestStreaming_CancelAfterStopKeepsArtifact(t *testing.T) {
	sock := newFakeSocket()
	q := &socketQueue{sockets: []*fakeSocket{sock}}
	s := newTestStreaming(t, q, &eventRecorder{})

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	path := s.Artifact()
	if path == "" {
		t.Fatal("expected an artifact after Stop")
	}

	// A late cancel must not discard what the host was told to persist.
	s.Cancel()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("artifact removed by cancel after stop: %v", err)
	}
}

func TestStreaming_CancelDiscardsArtifact(t *testing.T) {
	sock := newFakeSocket()
	q := &socketQueue{sockets: []*fakeSocket{sock}}
	s := newTestStreaming(t, q, &eventRecorder{})

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	path := s.Artifact()

	s.Cancel()
	s.Cancel()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("cancel should remove the scratch file, stat err = %v", err)
	}
}
