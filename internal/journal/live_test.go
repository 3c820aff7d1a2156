package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/auralog/voicejournal/internal/shared"
	"github.com/redis/go-redis/v9"
)

func setupLiveStore(t *testing.T) (*LiveStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	redisClient := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	return NewLiveStore(redisClient), mr
}

func TestLiveStore_TrackAndGetCapture(t *testing.T) {
	store, _ := setupLiveStore(t)
	ctx := context.Background()

	rec := &CaptureRecord{
		ID:        "jrnl_live1",
		UserID:    "user_1",
		Strategy:  StrategyStreaming,
		StartedAt: time.Now().Add(-time.Minute),
	}
	if err := store.TrackCapture(ctx, rec); err != nil {
		t.Fatalf("TrackCapture() error = %v", err)
	}

	got, err := store.GetCapture(ctx, "jrnl_live1")
	if err != nil {
		t.Fatalf("GetCapture() error = %v", err)
	}
	if got.UserID != "user_1" || got.Strategy != StrategyStreaming {
		t.Errorf("record = %+v", got)
	}
	if got.LastActiveAt.IsZero() {
		t.Error("TrackCapture should stamp LastActiveAt")
	}
}

func TestLiveStore_GetCapture_NotFound(t *testing.T) {
	store, _ := setupLiveStore(t)

	_, err := store.GetCapture(context.Background(), "jrnl_missing")
	if !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("GetCapture() error = %v, want ErrNotFound", err)
	}
}

func TestLiveStore_Heartbeat(t *testing.T) {
	store, _ := setupLiveStore(t)
	ctx := context.Background()

	rec := &CaptureRecord{ID: "jrnl_live1", UserID: "user_1"}
	if err := store.TrackCapture(ctx, rec); err != nil {
		t.Fatalf("TrackCapture() error = %v", err)
	}
	before := rec.LastActiveAt

	time.Sleep(5 * time.Millisecond)
	if err := store.Heartbeat(ctx, "jrnl_live1"); err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}

	got, err := store.GetCapture(ctx, "jrnl_live1")
	if err != nil {
		t.Fatalf("GetCapture() error = %v", err)
	}
	if !got.LastActiveAt.After(before) {
		t.Error("Heartbeat should advance LastActiveAt")
	}
}

func TestLiveStore_DeleteCapture(t *testing.T) {
	store, _ := setupLiveStore(t)
	ctx := context.Background()

	if err := store.TrackCapture(ctx, &CaptureRecord{ID: "jrnl_live1", UserID: "user_1"}); err != nil {
		t.Fatalf("TrackCapture() error = %v", err)
	}
	if err := store.DeleteCapture(ctx, "jrnl_live1"); err != nil {
		t.Fatalf("DeleteCapture() error = %v", err)
	}
	if _, err := store.GetCapture(ctx, "jrnl_live1"); !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("GetCapture() after delete error = %v, want ErrNotFound", err)
	}
}

func TestLiveStore_ActiveCaptures(t *testing.T) {
	store, _ := setupLiveStore(t)
	ctx := context.Background()

	store.TrackCapture(ctx, &CaptureRecord{ID: "jrnl_a", UserID: "user_1"})
	store.TrackCapture(ctx, &CaptureRecord{ID: "jrnl_b", UserID: "user_1"})
	store.TrackCapture(ctx, &CaptureRecord{ID: "jrnl_c", UserID: "user_2"})

	mine, err := store.ActiveCaptures(ctx, "user_1")
	if err != nil {
		t.Fatalf("ActiveCaptures() error = %v", err)
	}
	if len(mine) != 2 {
		t.Errorf("user_1 captures = %d, want 2", len(mine))
	}

	all, err := store.ActiveCaptures(ctx, "")
	if err != nil {
		t.Fatalf("ActiveCaptures() error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all captures = %d, want 3", len(all))
	}
}

func TestLiveStore_UsageCounters(t *testing.T) {
	store, _ := setupLiveStore(t)
	ctx := context.Background()

	if err := store.IncrementSessions(ctx, "user_1"); err != nil {
		t.Fatalf("IncrementSessions() error = %v", err)
	}
	store.IncrementQuestionsAsked(ctx, "user_1")
	store.IncrementQuestionsAsked(ctx, "user_1")
	store.AddAudioSeconds(ctx, "user_1", 90)

	date := time.Now().UTC().Format("2006-01-02")
	usage, err := store.GetUsage(ctx, "user_1", date)
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}
	if usage.Sessions != 1 {
		t.Errorf("Sessions = %d, want 1", usage.Sessions)
	}
	if usage.QuestionsAsked != 2 {
		t.Errorf("QuestionsAsked = %d, want 2", usage.QuestionsAsked)
	}
	if usage.AudioSeconds != 90 {
		t.Errorf("AudioSeconds = %d, want 90", usage.AudioSeconds)
	}
}

func TestLiveStore_GetUsage_EmptyDay(t *testing.T) {
	store, _ := setupLiveStore(t)

	usage, err := store.GetUsage(context.Background(), "user_1", "2026-01-01")
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}
	if usage.Sessions != 0 || usage.QuestionsAsked != 0 || usage.AudioSeconds != 0 {
		t.Errorf("empty day should read zero counters: %+v", usage)
	}
}
