package transcriber

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/auralog/voicejournal/internal/transcript"
)

const (
	// Recognition tasks are rotated before the platform recognizer times out
	// on long continuous audio.
	defaultTaskRotation = 50 * time.Second

	// A failed task restarts after a short bounded delay while the session is
	// still active.
	restartDelay = 350 * time.Millisecond
)

// RecognizerCallbacks receive segments from a single recognition task.
// Segment timestamps are relative to that task's start.
type RecognizerCallbacks struct {
	OnSegment func(seg transcript.Segment)
	OnError   func(err error)
}

// Recognizer is one continuous-recognition task of the platform speech
// engine. Injectable so tests can drive fake segment streams.
type Recognizer interface {
	Start() error
	Feed(frame []float32)
	Stop()
}

// RecognizerFactory opens a fresh recognition task. Called once per task
// rotation or restart.
type RecognizerFactory func(cb RecognizerCallbacks) (Recognizer, error)

type deviceState string

const (
	deviceIdle        deviceState = "idle"
	deviceCapturing   deviceState = "capturing"
	deviceRecognizing deviceState = "recognizing"
	deviceRestarting  deviceState = "restarting"
)

// OnDevice drives a local segmented recognizer. Recognition tasks restart on
// error and on forced rotation; a running time offset translates each task's
// relative timestamps onto the single session timeline, and all uncommitted
// segments are finalized before a restart so nothing is silently lost.
type OnDevice struct {
	callbackHolder

	factory  RecognizerFactory
	merger   *transcript.Merger
	log      *slog.Logger
	rotation time.Duration

	mu           sync.Mutex
	state        deviceState
	task         Recognizer
	sessionStart time.Time
	taskOffset   time.Duration
	rotateTimer  *time.Timer
	restartTimer *time.Timer
	committed    int
}

type OnDeviceDeps struct {
	Factory  RecognizerFactory
	Log      *slog.Logger
	Rotation time.Duration
}

func NewOnDevice(deps OnDeviceDeps, cb Callbacks) *OnDevice {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	rotation := deps.Rotation
	if rotation <= 0 {
		rotation = defaultTaskRotation
	}

	d := &OnDevice{
		factory:  deps.Factory,
		merger:   transcript.NewMerger(),
		log:      log.With("transcriber", "ondevice"),
		rotation: rotation,
		state:    deviceIdle,
	}
	d.SetCallbacks(cb)
	return d
}

// RequiresSpeechAuthorization is true: the host must obtain platform speech
// recognition access before starting this strategy.
func (d *OnDevice) RequiresSpeechAuthorization() bool {
	return true
}

func (d *OnDevice) Start() error {
	d.mu.Lock()
	if d.state != deviceIdle {
		d.mu.Unlock()
		return fmt.Errorf("ondevice transcriber already started")
	}
	d.state = deviceCapturing
	d.sessionStart = time.Now()
	d.mu.Unlock()

	if err := d.startTask(); err != nil {
		d.mu.Lock()
		d.state = deviceIdle
		d.mu.Unlock()
		return err
	}
	return nil
}

func (d *OnDevice) startTask() error {
	task, err := d.factory(RecognizerCallbacks{
		OnSegment: d.onSegment,
		OnError:   d.onTaskError,
	})
	if err != nil {
		return fmt.Errorf("open recognition task: %w", err)
	}
	if err := task.Start(); err != nil {
		return fmt.Errorf("start recognition task: %w", err)
	}

	d.mu.Lock()
	d.task = task
	d.state = deviceRecognizing
	d.taskOffset = time.Since(d.sessionStart)
	if d.rotateTimer != nil {
		d.rotateTimer.Stop()
	}
	d.rotateTimer = time.AfterFunc(d.rotation, d.rotateTask)
	d.mu.Unlock()
	return nil
}

func (d *OnDevice) Feed(frame []float32) {
	d.mu.Lock()
	task := d.task
	active := d.state == deviceRecognizing
	d.mu.Unlock()
	if active && task != nil {
		task.Feed(frame)
	}
}

// onSegment translates a task-relative segment onto the session timeline and
// feeds the merger. Newly committed lines surface through OnFinal; everything
// else as a partial.
func (d *OnDevice) onSegment(seg transcript.Segment) {
	d.mu.Lock()
	offset := d.taskOffset
	d.mu.Unlock()

	seg.Start += offset
	d.merger.Add(seg)

	committed := len(d.merger.Committed())
	text := d.merger.Transcript()

	d.mu.Lock()
	grew := committed > d.committed
	d.committed = committed
	d.mu.Unlock()

	if grew {
		d.emitFinal(text)
		return
	}
	d.emitPartial(text)
}

// rotateTask is the forced periodic restart: finalize the current segments
// first, then open a fresh task.
func (d *OnDevice) rotateTask() {
	d.restartTask("rotation", nil)
}

func (d *OnDevice) onTaskError(err error) {
	d.log.Warn("recognition task error", "error", err)
	d.restartTask("error", err)
}

func (d *OnDevice) restartTask(reason string, cause error) {
	d.mu.Lock()
	if d.state != deviceRecognizing {
		d.mu.Unlock()
		return
	}
	d.state = deviceRestarting
	task := d.task
	d.task = nil
	d.mu.Unlock()

	if task != nil {
		task.Stop()
	}

	// Uncommitted text is finalized, never discarded, across restarts.
	d.flushCurrent()

	d.mu.Lock()
	if d.state != deviceRestarting {
		d.mu.Unlock()
		return
	}
	d.restartTimer = time.AfterFunc(restartDelay, d.tryStartTask)
	d.mu.Unlock()

	if cause != nil {
		d.log.Debug("recognition task restarting", "reason", reason)
	}
}

// tryStartTask retries opening a task while the session is still active.
// Failures surface through OnError without terminating the session.
func (d *OnDevice) tryStartTask() {
	d.mu.Lock()
	if d.state != deviceRestarting {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	if err := d.startTask(); err != nil {
		d.emitError(err)
		d.mu.Lock()
		if d.state == deviceRestarting {
			d.restartTimer = time.AfterFunc(restartDelay, d.tryStartTask)
		}
		d.mu.Unlock()
	}
}

func (d *OnDevice) flushCurrent() {
	before := len(d.merger.Committed())
	d.merger.FlushAll()
	after := len(d.merger.Committed())

	d.mu.Lock()
	d.committed = after
	d.mu.Unlock()

	if after > before {
		d.emitFinal(d.merger.Transcript())
	}
}

func (d *OnDevice) Stop() error {
	d.mu.Lock()
	if d.state == deviceIdle {
		d.mu.Unlock()
		return nil
	}
	d.state = deviceIdle
	task := d.task
	d.task = nil
	d.stopTimersLocked()
	d.mu.Unlock()

	if task != nil {
		task.Stop()
	}

	d.flushCurrent()
	return nil
}

func (d *OnDevice) Cancel() {
	d.mu.Lock()
	if d.state == deviceIdle {
		d.mu.Unlock()
		return
	}
	d.state = deviceIdle
	task := d.task
	d.task = nil
	d.stopTimersLocked()
	d.mu.Unlock()

	if task != nil {
		task.Stop()
	}
	d.merger.Reset()
}

func (d *OnDevice) stopTimersLocked() {
	if d.rotateTimer != nil {
		d.rotateTimer.Stop()
		d.rotateTimer = nil
	}
	if d.restartTimer != nil {
		d.restartTimer.Stop()
		d.restartTimer = nil
	}
}

// Transcript returns the merger's current view: committed lines plus the live
// line.
func (d *OnDevice) Transcript() string {
	return d.merger.Transcript()
}
