package transcriber

import (
	"sync"
)

// Callbacks carry transcript updates to the hosting session. OnPartial may
// fire many times with monotonically more complete text. OnFinal fires at most
// once per committed segment with the best-known full transcript and never
// regresses text delivered by an earlier OnFinal.
type Callbacks struct {
	OnPartial func(text string)
	OnFinal   func(text string)
	OnError   func(err error)
}

// Transcriber is the capability set every capture strategy implements.
//
// Stop is the graceful path: flush the final transcript, release the capture
// tap, keep any partial result. Cancel is the hard abort: discard buffered
// audio and state, no final callback guaranteed. Cancel is idempotent.
type Transcriber interface {
	Start() error
	Stop() error
	Cancel()

	// Feed delivers one captured frame of float32 samples. It runs on the
	// capture callback and must never block.
	Feed(frame []float32)

	// SetCallbacks rebinds the callback set. Used by the host and by the
	// streaming fallback hand-off, which swaps transports underneath the
	// caller without it noticing.
	SetCallbacks(cb Callbacks)

	// RequiresSpeechAuthorization reports whether the host must obtain
	// platform speech-recognition authorization before Start. Network
	// strategies skip the prompt.
	RequiresSpeechAuthorization() bool
}

// callbackHolder is the shared guarded callback slot the strategies embed.
type callbackHolder struct {
	mu sync.RWMutex
	cb Callbacks
}

func (h *callbackHolder) SetCallbacks(cb Callbacks) {
	h.mu.Lock()
	h.cb = cb
	h.mu.Unlock()
}

func (h *callbackHolder) emitPartial(text string) {
	h.mu.RLock()
	fn := h.cb.OnPartial
	h.mu.RUnlock()
	if fn != nil {
		fn(text)
	}
}

func (h *callbackHolder) emitFinal(text string) {
	h.mu.RLock()
	fn := h.cb.OnFinal
	h.mu.RUnlock()
	if fn != nil {
		fn(text)
	}
}

func (h *callbackHolder) emitError(err error) {
	h.mu.RLock()
	fn := h.cb.OnError
	h.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (h *callbackHolder) callbacks() Callbacks {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cb
}
