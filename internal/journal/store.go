package journal

import (
	"context"
	"errors"
	"time"

	"github.com/auralog/voicejournal/internal/shared"
	"gorm.io/gorm"
)

// Persistence is the durable sink for sessions and questions. The capture
// path treats it as best-effort: an unreachable store never loses the
// in-memory transcript.
type Persistence interface {
	StartSession(ctx context.Context, userID string, startedAt time.Time) (string, error)
	CompleteSession(ctx context.Context, sessionID, transcript, audioPath string, durationSeconds int, endedAt time.Time) error
	DeleteSession(ctx context.Context, sessionID string) error
	InsertQuestion(ctx context.Context, q *JournalQuestion) error
	UpdateQuestion(ctx context.Context, id, status, answeredText string) error
}

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&JournalSession{}, &JournalQuestion{})
}

func (s *Store) StartSession(ctx context.Context, userID string, startedAt time.Time) (string, error) {
	sess := &JournalSession{
		ID:        shared.NewID("jrnl_"),
		UserID:    userID,
		Status:    SessionActive,
		StartedAt: startedAt,
	}
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return "", err
	}
	return sess.ID, nil
}

func (s *Store) CompleteSession(ctx context.Context, sessionID, transcript, audioPath string, durationSeconds int, endedAt time.Time) error {
	result := s.db.WithContext(ctx).Model(&JournalSession{}).
		Where("id = ?", sessionID).
		Updates(map[string]any{
			"status":           SessionCompleted,
			"transcript":       transcript,
			"audio_path":       audioPath,
			"duration_seconds": durationSeconds,
			"ended_at":         endedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.db.WithContext(ctx).Delete(&JournalQuestion{}, "session_id = ?", sessionID).Error; err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Delete(&JournalSession{}, "id = ?", sessionID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (s *Store) InsertQuestion(ctx context.Context, q *JournalQuestion) error {
	if q.ID == "" {
		q.ID = shared.NewID("qst_")
	}
	return s.db.WithContext(ctx).Create(q).Error
}

func (s *Store) UpdateQuestion(ctx context.Context, id, status, answeredText string) error {
	updates := map[string]any{"status": status}
	if answeredText != "" {
		updates["answered_text"] = answeredText
	}
	result := s.db.WithContext(ctx).Model(&JournalQuestion{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*JournalSession, error) {
	var sess JournalSession
	err := s.db.WithContext(ctx).Preload("Questions").Where("id = ?", id).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	return &sess, err
}

func (s *Store) ListSessions(ctx context.Context, userID string, limit, offset int) ([]*JournalSession, error) {
	var sessions []*JournalSession
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("started_at DESC").
		Limit(limit).Offset(offset).
		Find(&sessions).Error
	return sessions, err
}

func (s *Store) SessionQuestions(ctx context.Context, sessionID string) ([]*JournalQuestion, error) {
	var questions []*JournalQuestion
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("asked_at ASC").
		Find(&questions).Error
	return questions, err
}

// RecentTranscripts returns completed transcripts for the user, newest first,
// used as context for question generation.
func (s *Store) RecentTranscripts(ctx context.Context, userID string, limit int) ([]string, error) {
	var sessions []*JournalSession
	err := s.db.WithContext(ctx).
		Select("transcript").
		Where("user_id = ? AND status = ?", userID, SessionCompleted).
		Order("ended_at DESC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		if sess.Transcript != "" {
			out = append(out, sess.Transcript)
		}
	}
	return out, nil
}
