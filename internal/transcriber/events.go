package transcriber

import (
	"strings"
	"sync"

	"github.com/auralog/voicejournal/internal/transcript"
)

// Realtime socket wire types. Outbound events configure the session and
// append audio; inbound events stream incremental transcription results.
const (
	eventSessionUpdate = "session.update"
	eventBufferAppend  = "input_audio_buffer.append"
	eventBufferCommit  = "input_audio_buffer.commit"

	eventSuffixDelta     = ".delta"
	eventSuffixCompleted = ".completed"
	eventBufferCommitted = "input_audio_buffer.committed"
	eventError           = "error"
)

type clientEvent struct {
	Type    string         `json:"type"`
	Session *sessionConfig `json:"session,omitempty"`
	Audio   string         `json:"audio,omitempty"`
}

type sessionConfig struct {
	InputAudioFormat        string              `json:"input_audio_format"`
	InputAudioTranscription transcriptionConfig `json:"input_audio_transcription"`
	TurnDetection           turnDetection       `json:"turn_detection"`
}

type transcriptionConfig struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt,omitempty"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

type serverEvent struct {
	Type       string       `json:"type"`
	ItemID     string       `json:"item_id,omitempty"`
	Delta      string       `json:"delta,omitempty"`
	Transcript string       `json:"transcript,omitempty"`
	Error      *serverError `json:"error,omitempty"`
}

type serverError struct {
	Message string `json:"message"`
}

func (e *serverEvent) isDelta() bool {
	return strings.HasSuffix(e.Type, eventSuffixDelta)
}

func (e *serverEvent) isCompleted() bool {
	return strings.HasSuffix(e.Type, eventSuffixCompleted) && e.Type != eventBufferCommitted
}

// itemAssembler accumulates transcription deltas per item id and keeps
// completed items in first-seen order. The visible transcript is the committed
// items joined by line breaks followed by the live partial, normalized so
// sentence-ending punctuation forces a new line.
type itemAssembler struct {
	mu        sync.Mutex
	order     []string
	partials  map[string]string
	completed map[string]string
}

func newItemAssembler() *itemAssembler {
	return &itemAssembler{
		partials:  make(map[string]string),
		completed: make(map[string]string),
	}
}

func (a *itemAssembler) addDelta(itemID, delta string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.track(itemID)
	a.partials[itemID] += delta
}

// complete moves an item from partial to committed. The completed transcript
// is authoritative for that item; the partial accumulation is discarded.
func (a *itemAssembler) complete(itemID, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.track(itemID)
	delete(a.partials, itemID)
	a.completed[itemID] = text
}

func (a *itemAssembler) track(itemID string) {
	if _, seen := a.completed[itemID]; seen {
		return
	}
	if _, seen := a.partials[itemID]; seen {
		return
	}
	a.order = append(a.order, itemID)
	a.partials[itemID] = ""
}

func (a *itemAssembler) transcript() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var committed []string
	var partial []string
	for _, id := range a.order {
		if text, ok := a.completed[id]; ok {
			if strings.TrimSpace(text) != "" {
				committed = append(committed, text)
			}
			continue
		}
		if text := a.partials[id]; strings.TrimSpace(text) != "" {
			partial = append(partial, text)
		}
	}

	full := strings.Join(committed, "\n")
	if live := strings.Join(partial, " "); live != "" {
		if full != "" {
			full += "\n"
		}
		full += live
	}
	return transcript.NormalizeLines(full)
}
