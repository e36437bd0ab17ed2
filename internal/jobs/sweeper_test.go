package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"amayadori/internal/models"
	"amayadori/internal/services"
	"amayadori/internal/store"
)

func newSweepFixture(t *testing.T) (*store.MemoryStore, *services.StatsService, *SweeperJob) {
	t.Helper()
	st := store.NewMemoryStore()
	metrics := services.NewMetrics(prometheus.NewRegistry())
	stats, err := services.NewStatsService(st, metrics, "UTC")
	if err != nil {
		t.Fatalf("NewStatsService: %v", err)
	}
	job := NewSweeperJob(st, nil, stats, metrics, SweeperConfig{
		Batch:         50,
		MaxPerRun:     5000,
		RoomPage:      50,
		MsgLoopCap:    20,
		MessageMaxAge: 6 * time.Hour,
		AuditMaxAge:   72 * time.Hour,
	})
	return st, stats, job
}

func TestSweepDeletesExpiredEntries(t *testing.T) {
	st, _, job := newSweepFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	entries := []models.MatchEntry{
		{ID: "dead-queued", Status: models.EntryStatusQueued, ExpiresAt: now.Add(-time.Minute)},
		{ID: "dead-matched", Status: models.EntryStatusMatched, ExpiresAt: now.Add(-time.Hour)},
		{ID: "dead-canceled", Status: models.EntryStatusCanceled, ExpiresAt: now.Add(-time.Second)},
		{ID: "live", Status: models.EntryStatusQueued, ExpiresAt: now.Add(10 * time.Minute)},
	}
	for _, e := range entries {
		if err := st.CreateEntry(ctx, e); err != nil {
			t.Fatalf("seed %s: %v", e.ID, err)
		}
	}

	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := st.GetEntry(ctx, "live"); err != nil {
		t.Errorf("live entry deleted: %v", err)
	}
	for _, id := range []string{"dead-queued", "dead-matched", "dead-canceled"} {
		if _, err := st.GetEntry(ctx, id); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("%s survived the sweep: %v", id, err)
		}
	}
}

func TestSweepTearsDownClosedRoom(t *testing.T) {
	st, _, job := newSweepFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	committedAt := now.Add(-10 * time.Minute)

	room := models.Room{
		ID:               "r1",
		Members:          []string{"alice", "bob"},
		Status:           models.RoomStatusClosed,
		CreatedAt:        now.Add(-time.Hour),
		ExpiresAt:        now.Add(-time.Minute),
		ClosedReason:     models.ClosedReasonLastLeft,
		ClosedAt:         &committedAt,
		StatsCommittedAt: &committedAt,
	}
	if err := st.CreateRoom(ctx, room); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	for i, id := range []string{"m1", "m2", "m3"} {
		err := st.PutMessage(ctx, models.Message{ID: id, RoomID: "r1", UID: "alice", CreatedAt: now.Add(time.Duration(i) * time.Second)})
		if err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}

	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := st.GetRoom(ctx, "r1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("room survived: %v", err)
	}
	msgs, _ := st.ListMessages(ctx, "r1", time.Time{}, 10)
	if len(msgs) != 0 {
		t.Errorf("%d messages survived", len(msgs))
	}

	// No counter movement: the close was already committed.
	if _, err := st.GetDaily(ctx, now.Format("2006-01-02")); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unexpected daily row: %v", err)
	}
}

func TestSweepFallbackCommitsAbandonedRoom(t *testing.T) {
	st, stats, job := newSweepFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Open room past TTL: both members vanished without leaving.
	room := models.Room{
		ID:        "r-abandoned",
		Members:   []string{"alice", "bob"},
		Status:    models.RoomStatusOpen,
		CreatedAt: now.Add(-4 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	}
	if err := st.CreateRoom(ctx, room); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := st.GetRoom(ctx, "r-abandoned"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("room survived: %v", err)
	}

	// The fallback commit recorded the close with the gc reason.
	ds, err := stats.ReadDaily(ctx, stats.KPIDay(now))
	if err != nil {
		t.Fatalf("ReadDaily: %v", err)
	}
	if ds.Counters[models.MetricRoomsEndedTotal] != 1 {
		t.Errorf("rooms_ended_total = %d, want 1", ds.Counters[models.MetricRoomsEndedTotal])
	}
}

func TestSweepLeavesLiveRoomsAlone(t *testing.T) {
	st, _, job := newSweepFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	room := models.Room{
		ID:        "r-live",
		Members:   []string{"alice", "bob"},
		Status:    models.RoomStatusOpen,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := st.CreateRoom(ctx, room); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := st.GetRoom(ctx, "r-live"); err != nil {
		t.Errorf("live room swept: %v", err)
	}
}

func TestSweepTrimsOldAuxiliaryData(t *testing.T) {
	st, _, job := newSweepFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Old orphan message, expired pair history, stale audit row.
	st.PutMessage(ctx, models.Message{ID: "old", RoomID: "gone", CreatedAt: now.Add(-7 * time.Hour)})
	st.PutMessage(ctx, models.Message{ID: "fresh", RoomID: "gone", CreatedAt: now.Add(-time.Minute)})
	st.CreatePairHistory(ctx, models.PairHistory{ID: "p-old", ExpiresAt: now.Add(-time.Hour)})
	st.CreatePairHistory(ctx, models.PairHistory{ID: "p-live", ExpiresAt: now.Add(time.Hour)})
	st.PutWeatherAudit(ctx, models.WeatherAudit{ID: "a-old", CreatedAt: now.Add(-80 * time.Hour)})
	st.PutWeatherAudit(ctx, models.WeatherAudit{ID: "a-live", CreatedAt: now.Add(-time.Hour)})

	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	msgs, _ := st.ListMessages(ctx, "gone", time.Time{}, 10)
	if len(msgs) != 1 || msgs[0].ID != "fresh" {
		t.Errorf("messages after sweep = %v", msgs)
	}
	if seen, _ := st.PairSeen(ctx, "p-old"); seen {
		t.Error("expired pair history survived")
	}
	if seen, _ := st.PairSeen(ctx, "p-live"); !seen {
		t.Error("live pair history swept")
	}
}

func TestSweepBudgetCapsDeletes(t *testing.T) {
	st := store.NewMemoryStore()
	metrics := services.NewMetrics(prometheus.NewRegistry())
	stats, _ := services.NewStatsService(st, metrics, "UTC")
	job := NewSweeperJob(st, nil, stats, metrics, SweeperConfig{
		Batch:         10,
		MaxPerRun:     25,
		RoomPage:      10,
		MsgLoopCap:    5,
		MessageMaxAge: 6 * time.Hour,
		AuditMaxAge:   72 * time.Hour,
	})

	ctx := context.Background()
	now := time.Now().UTC()
	for i := 0; i < 100; i++ {
		id := "e" + string(rune('a'+i/26)) + string(rune('a'+i%26))
		if err := st.CreateEntry(ctx, models.MatchEntry{ID: id, Status: models.EntryStatusQueued, ExpiresAt: now.Add(-time.Minute)}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	remaining := st.CountEntries()
	if remaining < 100-30 || remaining == 100 {
		t.Errorf("remaining = %d, want roughly 100-25 left after the capped run", remaining)
	}
}
