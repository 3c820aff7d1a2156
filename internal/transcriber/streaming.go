package transcriber

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/auralog/voicejournal/internal/audio"
	"github.com/auralog/voicejournal/internal/shared"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Socket is the realtime connection surface; the production implementation is
// a gorilla websocket, tests substitute fakes.
type Socket interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

type DialFunc func(ctx context.Context, url string, header http.Header) (Socket, error)

func gorillaDial(ctx context.Context, url string, header http.Header) (Socket, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Streaming negotiates an ephemeral credential, opens a bidirectional socket
// to the realtime transcription endpoint and streams converted capture frames
// while parsing incremental transcription events. Any transport failure takes
// the session through a one-time, irreversible hand-off to a Polling
// transcriber seeded with the best transcript known so far; the latch
// guarantees the downgrade happens at most once no matter how many errors
// follow.
type Streaming struct {
	callbackHolder

	cfg   Config
	log   *slog.Logger
	creds CredentialExchange
	dial  DialFunc
	batch BatchClient

	assembler *itemAssembler
	wav       *audio.WAVWriter

	frames chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	writeMu sync.Mutex

	mu               sync.Mutex
	sock             Socket
	started          bool
	stopped          bool
	cancelled        bool
	teardownExpected bool
	resumeOnWake     bool

	latch    sync.Once
	fellBack bool
	fallback *Polling
}

// StreamingDeps are the injectable collaborators; nil fields get production
// defaults built from the Config.
type StreamingDeps struct {
	Credentials CredentialExchange
	Dial        DialFunc
	Batch       BatchClient
	Log         *slog.Logger
}

func NewStreaming(cfg Config, deps StreamingDeps, cb Callbacks) *Streaming {
	cfg = cfg.withDefaults()

	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	creds := deps.Credentials
	if creds == nil {
		creds = NewCredentialExchange(cfg.SessionURL, cfg.APIKey, cfg.Model)
	}

	dial := deps.Dial
	if dial == nil {
		dial = gorillaDial
	}

	batch := deps.Batch
	if batch == nil {
		batch = NewBatchClient(cfg.BatchURL, cfg.APIKey)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Streaming{
		cfg:       cfg,
		log:       log.With("transcriber", "streaming"),
		creds:     creds,
		dial:      dial,
		batch:     batch,
		assembler: newItemAssembler(),
		frames:    make(chan []byte, 64),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.SetCallbacks(cb)
	return s
}

func (s *Streaming) RequiresSpeechAuthorization() bool {
	return false
}

func (s *Streaming) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("streaming transcriber already started")
	}
	s.started = true
	s.mu.Unlock()

	path := filepath.Join(s.cfg.ScratchDir, "capture-"+uuid.New().String()+".wav")
	w, err := audio.NewWAVWriter(path, audio.StreamSampleRate, 1)
	if err != nil {
		return fmt.Errorf("open scratch file: %w", err)
	}
	s.wav = w

	if err := s.connect(); err != nil {
		if shared.Fatal(err) {
			s.wav.Discard()
			return err
		}
		s.log.Warn("session negotiation failed, falling back", "error", err)
		s.fallBack("negotiation", err)
		return nil
	}

	s.wg.Add(1)
	go s.pump()
	return nil
}

// connect negotiates a credential, dials the socket and sends the
// session-configuration event.
func (s *Streaming) connect() error {
	ctx, cancel := context.WithTimeout(s.ctx, 15*time.Second)
	defer cancel()

	secret, err := s.creds.EphemeralSecret(ctx)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+secret)

	sock, err := s.dial(ctx, s.cfg.RealtimeURL, header)
	if err != nil {
		return fmt.Errorf("dial realtime endpoint: %w", shared.ErrTransport)
	}

	cfgEvent := clientEvent{
		Type: eventSessionUpdate,
		Session: &sessionConfig{
			InputAudioFormat: "pcm16",
			InputAudioTranscription: transcriptionConfig{
				Model: s.cfg.Model,
			},
			TurnDetection: turnDetection{
				Type:              "server_vad",
				Threshold:         s.cfg.VAD.Threshold,
				PrefixPaddingMs:   s.cfg.VAD.PrefixPaddingMs,
				SilenceDurationMs: s.cfg.VAD.SilenceDurationMs,
			},
		},
	}
	if err := sock.WriteJSON(cfgEvent); err != nil {
		sock.Close()
		return fmt.Errorf("send session config: %w", shared.ErrTransport)
	}

	s.mu.Lock()
	s.sock = sock
	s.teardownExpected = false
	s.mu.Unlock()

	s.wg.Add(1)
	go s.readLoop(sock)
	return nil
}

func (s *Streaming) Feed(frame []float32) {
	s.mu.Lock()
	fell := s.fellBack
	fb := s.fallback
	s.mu.Unlock()
	if fell {
		fb.Feed(frame)
		return
	}

	pcm := audio.ConvertFrame(frame, s.cfg.CaptureRate, audio.StreamSampleRate)
	select {
	case s.frames <- pcm:
	default:
		// A stalled socket must not back up into the capture callback.
		s.log.Warn("frame queue full, dropping frame")
	}
}

// pump moves converted frames from the capture queue to the scratch file and
// the socket, keeping both kinds of I/O off the capture path.
func (s *Streaming) pump() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case pcm := <-s.frames:
			if err := s.wav.WritePCM(pcm); err != nil {
				s.log.Warn("scratch write failed", "error", err)
			}
			evt := clientEvent{
				Type:  eventBufferAppend,
				Audio: base64.StdEncoding.EncodeToString(pcm),
			}
			if err := s.writeEvent(evt); err != nil {
				s.mu.Lock()
				expected := s.teardownExpected
				s.mu.Unlock()
				if expected {
					// Backgrounded: keep the pump alive for the redial,
					// frames in this window are dropped.
					continue
				}
				s.transportFailure("send", err)
				return
			}
		}
	}
}

func (s *Streaming) writeEvent(evt clientEvent) error {
	s.mu.Lock()
	sock := s.sock
	s.mu.Unlock()
	if sock == nil {
		return errors.New("socket not connected")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return sock.WriteJSON(evt)
}

func (s *Streaming) readLoop(sock Socket) {
	defer s.wg.Done()
	for {
		var evt serverEvent
		if err := sock.ReadJSON(&evt); err != nil {
			s.mu.Lock()
			stale := s.sock != sock
			s.mu.Unlock()
			if stale {
				// A background teardown or redial already replaced this
				// socket; its read error is expected.
				return
			}
			s.transportFailure("receive", err)
			return
		}

		switch {
		case evt.isDelta():
			s.assembler.addDelta(evt.ItemID, evt.Delta)
			s.emitPartial(s.assembler.transcript())
		case evt.isCompleted():
			s.assembler.complete(evt.ItemID, evt.Transcript)
			s.emitFinal(s.assembler.transcript())
		case evt.Type == eventBufferCommitted:
			// Audio boundary marker; nothing to surface.
		case evt.Type == eventError:
			msg := "realtime protocol error"
			if evt.Error != nil {
				msg = evt.Error.Message
			}
			s.transportFailure("protocol", errors.New(msg))
			return
		}
	}
}

func (s *Streaming) transportFailure(stage string, err error) {
	s.mu.Lock()
	expected := s.teardownExpected || s.stopped || s.cancelled
	s.mu.Unlock()
	if expected || s.ctx.Err() != nil {
		return
	}
	s.log.Warn("streaming transport failure", "stage", stage, "error", err)
	s.fallBack(stage, err)
}

// fallBack performs the one-time transport downgrade. The socket and frame
// pump are torn down before the polling transcriber starts capturing, and the
// host-visible callbacks are rebound so the caller never sees the switch.
func (s *Streaming) fallBack(stage string, cause error) {
	s.latch.Do(func() {
		seed := s.assembler.transcript()
		s.log.Info("falling back to polling transcriber",
			"stage", stage,
			"cause", cause,
			"seed_len", len(seed))

		s.mu.Lock()
		s.teardownExpected = true
		sock := s.sock
		s.sock = nil
		s.mu.Unlock()
		if sock != nil {
			sock.Close()
		}
		s.cancel()

		// Frames queued behind the dead socket are still part of the
		// recording; land them in the scratch file before the fallback takes
		// over the tap.
	drain:
		for {
			select {
			case pcm := <-s.frames:
				if err := s.wav.WritePCM(pcm); err != nil {
					s.log.Warn("scratch write failed", "error", err)
				}
			default:
				break drain
			}
		}

		fb := NewPolling(s.cfg, PollingDeps{
			Client: s.batch,
			WAV:    s.wav,
			Log:    s.log,
		}, s.callbacks())
		fb.SeedTranscript(seed)

		if err := fb.Start(); err != nil {
			s.emitError(fmt.Errorf("fallback start failed: %w", err))
			return
		}

		s.mu.Lock()
		s.fallback = fb
		s.fellBack = true
		s.mu.Unlock()
	})
}

// FellBack reports whether the session has downgraded to polling.
func (s *Streaming) FellBack() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fellBack
}

// SetCallbacks rebinds callbacks, following the session onto the fallback
// transport when the downgrade already happened.
func (s *Streaming) SetCallbacks(cb Callbacks) {
	s.callbackHolder.SetCallbacks(cb)
	s.mu.Lock()
	fb := s.fallback
	s.mu.Unlock()
	if fb != nil {
		fb.SetCallbacks(cb)
	}
}

// HandleBackground proactively tears the socket down when the host app leaves
// the foreground: flush a buffer commit, close, and mark the session to
// redial the same transport on wake instead of falling back.
func (s *Streaming) HandleBackground() {
	s.mu.Lock()
	if s.stopped || s.cancelled || s.fellBack {
		s.mu.Unlock()
		return
	}
	s.teardownExpected = true
	s.resumeOnWake = true
	sock := s.sock
	s.sock = nil
	s.mu.Unlock()

	if sock != nil {
		s.writeMu.Lock()
		if err := sock.WriteJSON(clientEvent{Type: eventBufferCommit}); err != nil {
			s.log.Warn("background commit flush failed", "error", err)
		}
		s.writeMu.Unlock()
		sock.Close()
	}
}

// HandleForeground redials the realtime socket after a background teardown.
// Only a genuine connect failure falls back.
func (s *Streaming) HandleForeground() {
	s.mu.Lock()
	resume := s.resumeOnWake && !s.stopped && !s.cancelled && !s.fellBack
	s.resumeOnWake = false
	s.mu.Unlock()
	if !resume {
		return
	}

	if err := s.connect(); err != nil {
		s.log.Warn("foreground reconnect failed", "error", err)
		s.fallBack("reconnect", err)
	}
}

// Stop flushes the final transcript, finalizes the audio artifact and
// releases the socket.
func (s *Streaming) Stop() error {
	s.mu.Lock()
	if s.stopped || s.cancelled {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	fell := s.fellBack
	fb := s.fallback
	s.teardownExpected = true
	sock := s.sock
	s.sock = nil
	s.mu.Unlock()

	if fell {
		err := fb.Stop()
		if _, werr := s.wav.Finalize(); werr != nil {
			s.log.Warn("finalize scratch file failed", "error", werr)
		}
		return err
	}

	if sock != nil {
		s.writeMu.Lock()
		if err := sock.WriteJSON(clientEvent{Type: eventBufferCommit}); err != nil {
			s.log.Warn("stop commit flush failed", "error", err)
		}
		s.writeMu.Unlock()
		sock.Close()
	}
	s.cancel()
	s.wg.Wait()

	if _, err := s.wav.Finalize(); err != nil {
		s.log.Warn("finalize scratch file failed", "error", err)
	}

	s.emitFinal(s.assembler.transcript())
	return nil
}

// Cancel hard-aborts the session: socket and timers first, scratch file last,
// so no writer races the delete. Idempotent, and a no-op once Stop has
// finalized the artifact.
func (s *Streaming) Cancel() {
	s.mu.Lock()
	if s.cancelled || s.stopped {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	s.teardownExpected = true
	fell := s.fellBack
	fb := s.fallback
	sock := s.sock
	s.sock = nil
	s.mu.Unlock()

	if sock != nil {
		sock.Close()
	}
	s.cancel()
	s.wg.Wait()

	if fell {
		fb.Cancel()
	}
	if s.wav != nil {
		if err := s.wav.Discard(); err != nil {
			s.log.Warn("discard scratch file failed", "error", err)
		}
	}
}

// Transcript returns the best-known visible transcript.
func (s *Streaming) Transcript() string {
	s.mu.Lock()
	fell := s.fellBack
	fb := s.fallback
	s.mu.Unlock()
	if fell {
		return fb.Transcript()
	}
	return s.assembler.transcript()
}

// Artifact returns the finalized audio container path. Valid after Stop.
func (s *Streaming) Artifact() string {
	if s.wav == nil {
		return ""
	}
	return s.wav.Path()
}
