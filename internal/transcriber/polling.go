package transcriber

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/auralog/voicejournal/internal/audio"
	"github.com/auralog/voicejournal/internal/shared"
	"github.com/google/uuid"
)

const (
	defaultPollInterval = 2200 * time.Millisecond
	defaultMaxUpload    = 20 << 20
	hintLength          = 200
	uploadTimeout       = 30 * time.Second
)

// Polling uploads the accumulated capture buffer to the batch endpoint on a
// fixed interval and reconciles the returned text into the visible transcript.
// It is the simplest strategy and the fallback target for the streaming path.
type Polling struct {
	callbackHolder

	cfg    Config
	client BatchClient
	log    *slog.Logger

	frames chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.Mutex
	buf            []byte
	lastUploadLen  int
	committed      string
	current        string
	hint           string
	oversizeWarned bool
	started        bool
	stopped        bool
	cancelled      bool

	wav     *audio.WAVWriter
	ownsWAV bool
}

// PollingDeps are the injectable collaborators; nil fields get production
// defaults.
type PollingDeps struct {
	Client BatchClient
	WAV    *audio.WAVWriter
	Log    *slog.Logger
}

func NewPolling(cfg Config, deps PollingDeps, cb Callbacks) *Polling {
	cfg = cfg.withDefaults()

	log := deps.Log
	if log == nil {
		log = slog.Default()
	}

	client := deps.Client
	if client == nil {
		client = NewBatchClient(cfg.BatchURL, cfg.APIKey)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Polling{
		cfg:    cfg,
		client: client,
		log:    log.With("transcriber", "polling"),
		frames: make(chan []byte, 64),
		ctx:    ctx,
		cancel: cancel,
		wav:    deps.WAV,
	}
	p.SetCallbacks(cb)
	return p
}

// SeedTranscript installs text already recognized by a previous transport as
// the immutable prefix and continuation hint. The visible transcript never
// regresses past it.
func (p *Polling) SeedTranscript(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.committed = strings.TrimSpace(text)
	p.hint = transcriptSuffix(p.committed)
}

func (p *Polling) RequiresSpeechAuthorization() bool {
	return false
}

func (p *Polling) Start() error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("polling transcriber already started")
	}
	p.started = true
	p.mu.Unlock()

	if p.wav == nil {
		path := filepath.Join(p.cfg.ScratchDir, "capture-"+uuid.New().String()+".wav")
		w, err := audio.NewWAVWriter(path, audio.StreamSampleRate, 1)
		if err != nil {
			return fmt.Errorf("open scratch file: %w", err)
		}
		p.wav = w
		p.ownsWAV = true
	}

	p.wg.Add(1)
	go p.loop()
	return nil
}

func (p *Polling) Feed(frame []float32) {
	pcm := audio.ConvertFrame(frame, p.cfg.CaptureRate, audio.StreamSampleRate)
	select {
	case p.frames <- pcm:
	default:
		// Capture must never block; a dropped frame costs less than a stall.
		p.log.Warn("frame queue full, dropping frame")
	}
}

// loop owns the buffer, the scratch-file writes and the upload ticker, keeping
// all of them off the capture path.
func (p *Polling) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case pcm := <-p.frames:
			p.appendPCM(pcm)
		case <-ticker.C:
			p.uploadCycle(false)
		}
	}
}

func (p *Polling) appendPCM(pcm []byte) {
	p.mu.Lock()
	p.buf = append(p.buf, pcm...)
	p.mu.Unlock()

	if p.wav != nil {
		if err := p.wav.WritePCM(pcm); err != nil {
			p.log.Warn("scratch write failed", "error", err)
		}
	}
}

func (p *Polling) uploadCycle(final bool) {
	p.mu.Lock()
	if len(p.buf) == 0 || (!final && len(p.buf) == p.lastUploadLen) {
		p.mu.Unlock()
		return
	}
	if len(p.buf) > p.cfg.MaxUploadBytes {
		warned := p.oversizeWarned
		p.oversizeWarned = true
		p.mu.Unlock()
		if !warned {
			p.emitError(fmt.Errorf("capture segment exceeds %d bytes: %w", p.cfg.MaxUploadBytes, shared.ErrPayload))
		}
		return
	}
	buf := make([]byte, len(p.buf))
	copy(buf, p.buf)
	prompt := p.promptLocked()
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(p.ctx, uploadTimeout)
	defer cancel()

	resp, err := p.client.Transcribe(ctx, BatchRequest{
		AudioBase64: base64.StdEncoding.EncodeToString(audio.EncodeWAV(buf, audio.StreamSampleRate, 1)),
		MimeType:    "audio/wav",
		FileName:    "segment.wav",
		Prompt:      prompt,
	})
	if err != nil {
		if errors.Is(err, errCorruptedChunk) {
			// Deliberately swallowed; the next cycle retries the grown buffer
			// and a pause/resume starts a fresh segment.
			return
		}
		p.log.Warn("polling upload failed", "final", final, "error", err)
		return
	}

	p.mu.Lock()
	p.current = strings.TrimSpace(resp.Text)
	p.lastUploadLen = len(buf)
	text := p.visibleLocked()
	p.mu.Unlock()

	p.emitPartial(text)
}

// promptLocked returns the continuation hint sent with each upload: the tail
// of everything transcribed so far.
func (p *Polling) promptLocked() string {
	if hint := transcriptSuffix(p.visibleLocked()); hint != "" {
		return hint
	}
	return p.hint
}

func (p *Polling) visibleLocked() string {
	if p.committed == "" {
		return p.current
	}
	if p.current == "" {
		return p.committed
	}
	return p.committed + "\n" + p.current
}

// Transcript returns the current visible transcript.
func (p *Polling) Transcript() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visibleLocked()
}

// Stop performs one last synchronous upload, absorbs the result into the
// committed prefix and finalizes the audio artifact.
func (p *Polling) Stop() error {
	p.mu.Lock()
	if p.stopped || p.cancelled {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	p.drainFrames()

	// Final upload is best-effort and authoritative for this segment.
	p.finalCycle()

	p.mu.Lock()
	p.committed = p.visibleLocked()
	p.current = ""
	p.buf = nil
	p.lastUploadLen = 0
	p.oversizeWarned = false
	text := p.committed
	p.mu.Unlock()

	if p.ownsWAV && p.wav != nil {
		if _, err := p.wav.Finalize(); err != nil {
			p.log.Warn("finalize scratch file failed", "error", err)
		}
	}

	p.emitFinal(text)
	return nil
}

// finalCycle mirrors uploadCycle but runs on a fresh context since the loop
// context is already cancelled at stop time.
func (p *Polling) finalCycle() {
	p.mu.Lock()
	if len(p.buf) == 0 {
		p.mu.Unlock()
		return
	}
	if len(p.buf) > p.cfg.MaxUploadBytes {
		p.mu.Unlock()
		return
	}
	buf := make([]byte, len(p.buf))
	copy(buf, p.buf)
	prompt := p.promptLocked()
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()

	resp, err := p.client.Transcribe(ctx, BatchRequest{
		AudioBase64: base64.StdEncoding.EncodeToString(audio.EncodeWAV(buf, audio.StreamSampleRate, 1)),
		MimeType:    "audio/wav",
		FileName:    "segment.wav",
		Prompt:      prompt,
	})
	if err != nil {
		if !errors.Is(err, errCorruptedChunk) {
			p.log.Warn("final upload failed", "error", err)
		}
		return
	}

	p.mu.Lock()
	p.current = strings.TrimSpace(resp.Text)
	p.mu.Unlock()
}

func (p *Polling) drainFrames() {
	for {
		select {
		case pcm := <-p.frames:
			p.appendPCM(pcm)
		default:
			return
		}
	}
}

// Cancel aborts the session, discarding buffered audio and the scratch file.
// Idempotent, and a no-op once Stop has finalized the artifact.
func (p *Polling) Cancel() {
	p.mu.Lock()
	if p.cancelled || p.stopped {
		p.mu.Unlock()
		return
	}
	p.cancelled = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	p.buf = nil
	p.current = ""
	p.mu.Unlock()

	if p.ownsWAV && p.wav != nil {
		if err := p.wav.Discard(); err != nil {
			p.log.Warn("discard scratch file failed", "error", err)
		}
	}
}

// Artifact returns the path of the finalized audio container. Valid after
// Stop when this transcriber owns the scratch file.
func (p *Polling) Artifact() string {
	if p.ownsWAV && p.wav != nil {
		return p.wav.Path()
	}
	return ""
}

func transcriptSuffix(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= hintLength {
		return text
	}
	return string(runes[len(runes)-hintLength:])
}
