package gateway

import (
	"github.com/auralog/voicejournal/internal/dto"
	"github.com/auralog/voicejournal/internal/journal"
)

// ControlType names the JSON control frames a client sends over the capture
// socket. Audio travels as separate binary frames carrying 48 kHz mono Opus
// packets.
type ControlType string

const (
	ControlStart      ControlType = "start"
	ControlStop       ControlType = "stop"
	ControlCancel     ControlType = "cancel"
	ControlBackground ControlType = "background"
	ControlForeground ControlType = "foreground"
	ControlRefresh    ControlType = "refresh"
)

type ClientMessage struct {
	Type        ControlType `json:"type"`
	Strategy    string      `json:"strategy,omitempty"`
	Proactivity string      `json:"proactivity,omitempty"`
	Profile     string      `json:"profile,omitempty"`
}

// Server frame types beyond the capture events forwarded verbatim
// (transcript.partial, transcript.final, question, error).
const (
	ServerTypeStarted   = "capture.started"
	ServerTypeResult    = "capture.result"
	ServerTypeCancelled = "capture.cancelled"
)

type ServerMessage struct {
	Type      string                     `json:"type"`
	SessionID string                     `json:"session_id,omitempty"`
	Text      string                     `json:"text,omitempty"`
	Question  *journal.QuestionEvent     `json:"question,omitempty"`
	Result    *dto.CaptureResultResponse `json:"result,omitempty"`
	Error     string                     `json:"error,omitempty"`
}

func eventToServerMessage(evt journal.Event) ServerMessage {
	return ServerMessage{
		Type:     evt.Type,
		Text:     evt.Text,
		Question: evt.Question,
		Error:    evt.Error,
	}
}
