package journal

import (
	"time"
)

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// JournalSession is the durable record of one voice capture.
type JournalSession struct {
	ID     string        `gorm:"primaryKey" json:"id"`
	UserID string        `gorm:"not null;index" json:"user_id"`
	Status SessionStatus `gorm:"default:'active'" json:"status"`

	Transcript      string `gorm:"type:text" json:"transcript"`
	AudioPath       string `json:"audio_path,omitempty"`
	DurationSeconds int    `gorm:"default:0" json:"duration_seconds"`

	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Questions []JournalQuestion `gorm:"foreignKey:SessionID" json:"questions,omitempty"`
}

// JournalQuestion is one question asked during a session, updated in place as
// its status moves.
type JournalQuestion struct {
	ID        string `gorm:"primaryKey" json:"id"`
	SessionID string `gorm:"not null;index" json:"session_id"`

	Text        string `gorm:"not null" json:"text"`
	CoverageTag string `json:"coverage_tag,omitempty"`
	Kind        string `gorm:"default:'default'" json:"kind"`
	Status      string `gorm:"default:'shown'" json:"status"`

	AnsweredText string    `gorm:"type:text" json:"answered_text,omitempty"`
	AskedAt      time.Time `json:"asked_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
