package services

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"amayadori/internal/store"
)

// testEnv wires the full service stack onto the in-memory store with an
// isolated metrics registry, mirroring how main assembles production.
type testEnv struct {
	store   *store.MemoryStore
	metrics *Metrics
	bus     *EventBus
	stats   *StatsService
	weather *WeatherService
	entries *EntryService
	match   *MatchService
	rooms   *RoomService
}

const (
	testEntryTTL    = 12 * time.Minute
	testStaleness   = 45 * time.Second
	testRoomTTL     = 3 * time.Hour
	testClosedGrace = 5 * time.Minute
	testCooldown    = 30 * time.Second
	testPairTTL     = 48 * time.Hour
)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st := store.NewMemoryStore()
	metrics := NewMetrics(prometheus.NewRegistry())
	bus := NewEventBus()
	t.Cleanup(bus.Shutdown)

	stats, err := NewStatsService(st, metrics, "UTC")
	if err != nil {
		t.Fatalf("NewStatsService: %v", err)
	}
	weather := NewWeatherService(st, stats, "")
	entries := NewEntryService(st, nil, weather, stats, bus, metrics, testEntryTTL, testCooldown, 50)
	match := NewMatchService(st, stats, bus, metrics, 10, testEntryTTL, testStaleness, testRoomTTL, testPairTTL)
	rooms := NewRoomService(st, nil, stats, bus, metrics, entries, testRoomTTL, testClosedGrace)

	return &testEnv{
		store:   st,
		metrics: metrics,
		bus:     bus,
		stats:   stats,
		weather: weather,
		entries: entries,
		match:   match,
		rooms:   rooms,
	}
}
