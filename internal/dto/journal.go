package dto

import "time"

type StartCaptureRequest struct {
	Strategy    string `json:"strategy,omitempty"`
	Proactivity string `json:"proactivity,omitempty"`
	Profile     string `json:"profile,omitempty"`
}

type CaptureResponse struct {
	SessionID string `json:"session_id"`
	Strategy  string `json:"strategy"`
	StartedAt string `json:"started_at"`
}

type CaptureResultResponse struct {
	SessionID       string `json:"session_id"`
	Transcript      string `json:"transcript"`
	AudioPath       string `json:"audio_path,omitempty"`
	DurationSeconds int    `json:"duration_seconds"`
}

type SessionResponse struct {
	ID              string             `json:"id"`
	Status          string             `json:"status"`
	Transcript      string             `json:"transcript,omitempty"`
	DurationSeconds int                `json:"duration_seconds"`
	StartedAt       time.Time          `json:"started_at"`
	EndedAt         *time.Time         `json:"ended_at,omitempty"`
	Questions       []QuestionResponse `json:"questions,omitempty"`
}

type SessionListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}

type QuestionResponse struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	CoverageTag  string    `json:"coverage_tag,omitempty"`
	Kind         string    `json:"kind"`
	Status       string    `json:"status"`
	AnsweredText string    `json:"answered_text,omitempty"`
	AskedAt      time.Time `json:"asked_at"`
}

type QuestionListResponse struct {
	SessionID string             `json:"session_id"`
	Questions []QuestionResponse `json:"questions"`
}

type UsageResponse struct {
	Date           string `json:"date"`
	Sessions       int64  `json:"sessions"`
	QuestionsAsked int64  `json:"questions_asked"`
	AudioSeconds   int64  `json:"audio_seconds"`
}
