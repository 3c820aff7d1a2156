package journal

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/auralog/voicejournal/internal/shared"
)

const (
	captureTTL = 24 * time.Hour
	usageTTL   = 30 * 24 * time.Hour
)

// CaptureRecord is the redis-resident view of an in-flight capture, used for
// liveness and to guard the one-capture-per-user rule across restarts.
type CaptureRecord struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Strategy     string    `json:"strategy"`
	StartedAt    time.Time `json:"started_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

func (r *CaptureRecord) RedisKey() string {
	return "capture:" + r.ID
}

// Usage are per-day counters for one user.
type Usage struct {
	UserID         string `json:"user_id"`
	Date           string `json:"date"`
	Sessions       int64  `json:"sessions"`
	QuestionsAsked int64  `json:"questions_asked"`
	AudioSeconds   int64  `json:"audio_seconds"`
}

func usageRedisKey(userID, date string) string {
	return "usage:" + userID + ":" + date
}

// LiveStore tracks active captures and daily usage in redis.
type LiveStore struct {
	redis *redis.Client
}

func NewLiveStore(redisClient *redis.Client) *LiveStore {
	return &LiveStore{redis: redisClient}
}

func (s *LiveStore) TrackCapture(ctx context.Context, rec *CaptureRecord) error {
	rec.LastActiveAt = time.Now()
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, rec.RedisKey(), data, captureTTL).Err()
}

func (s *LiveStore) Heartbeat(ctx context.Context, id string) error {
	rec, err := s.GetCapture(ctx, id)
	if err != nil {
		return err
	}
	return s.TrackCapture(ctx, rec)
}

func (s *LiveStore) GetCapture(ctx context.Context, id string) (*CaptureRecord, error) {
	data, err := s.redis.Get(ctx, "capture:"+id).Bytes()
	if err == redis.Nil {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec CaptureRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *LiveStore) DeleteCapture(ctx context.Context, id string) error {
	return s.redis.Del(ctx, "capture:"+id).Err()
}

func (s *LiveStore) ActiveCaptures(ctx context.Context, userID string) ([]*CaptureRecord, error) {
	keys, err := s.redis.Keys(ctx, "capture:*").Result()
	if err != nil {
		return nil, err
	}

	var records []*CaptureRecord
	for _, key := range keys {
		data, err := s.redis.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var rec CaptureRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		if userID == "" || rec.UserID == userID {
			records = append(records, &rec)
		}
	}
	return records, nil
}

func (s *LiveStore) incrementUsage(ctx context.Context, userID, field string, value int64) error {
	key := usageRedisKey(userID, time.Now().UTC().Format("2006-01-02"))

	pipe := s.redis.Pipeline()
	pipe.HIncrBy(ctx, key, field, value)
	pipe.Expire(ctx, key, usageTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *LiveStore) IncrementSessions(ctx context.Context, userID string) error {
	return s.incrementUsage(ctx, userID, "sessions", 1)
}

func (s *LiveStore) IncrementQuestionsAsked(ctx context.Context, userID string) error {
	return s.incrementUsage(ctx, userID, "questions_asked", 1)
}

func (s *LiveStore) AddAudioSeconds(ctx context.Context, userID string, seconds int64) error {
	return s.incrementUsage(ctx, userID, "audio_seconds", seconds)
}

func (s *LiveStore) GetUsage(ctx context.Context, userID, date string) (*Usage, error) {
	data, err := s.redis.HGetAll(ctx, usageRedisKey(userID, date)).Result()
	if err != nil {
		return nil, err
	}

	u := &Usage{UserID: userID, Date: date}
	if v, ok := data["sessions"]; ok {
		u.Sessions, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := data["questions_asked"]; ok {
		u.QuestionsAsked, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := data["audio_seconds"]; ok {
		u.AudioSeconds, _ = strconv.ParseInt(v, 10, 64)
	}
	return u, nil
}
