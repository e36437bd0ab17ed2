package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"

	"amayadori/internal/config"
	"amayadori/internal/middleware"
	"amayadori/internal/models"
	"amayadori/internal/services"
	"amayadori/internal/store"
)

// fixtureApp assembles the HTTP surface on the in-memory store with auth
// stubbed to a fixed uid per request header.
type fixture struct {
	app   *fiber.App
	store *store.MemoryStore
	stats *services.StatsService
}

// testAuth resolves the uid from the X-Test-UID header, standing in for the
// JWT middleware.
func testAuth(c *fiber.Ctx) error {
	uid := c.Get("X-Test-UID")
	if uid == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthenticated"})
	}
	c.Locals("user_id", uid)
	return c.Next()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := store.NewMemoryStore()
	metrics := services.NewMetrics(prometheus.NewRegistry())
	bus := services.NewEventBus()
	t.Cleanup(bus.Shutdown)

	stats, err := services.NewStatsService(st, metrics, "UTC")
	if err != nil {
		t.Fatalf("NewStatsService: %v", err)
	}
	weather := services.NewWeatherService(st, stats, "")
	entries := services.NewEntryService(st, nil, weather, stats, bus, metrics, 12*time.Minute, 30*time.Second, 50)
	rooms := services.NewRoomService(st, nil, stats, bus, metrics, entries, 3*time.Hour, 5*time.Minute)
	starters, err := services.NewStarterService("")
	if err != nil {
		t.Fatalf("NewStarterService: %v", err)
	}

	cfg := &config.Config{AdminUIDs: []string{"anon_admin"}}

	queueHandler := NewQueueHandler(entries)
	roomHandler := NewRoomHandler(rooms, starters)
	visitHandler := NewVisitHandler(st, nil, stats)
	adminHandler := NewAdminHandler(stats, weather)
	healthHandler := NewHealthHandler(st, nil)

	app := fiber.New()
	app.Get("/health", healthHandler.Health)

	api := app.Group("/api", testAuth)
	api.Post("/queue/enter", queueHandler.Enter)
	api.Get("/queue/entries/:id", queueHandler.Get)
	api.Post("/queue/entries/:id/cancel", queueHandler.Cancel)
	api.Post("/rooms/owner", roomHandler.StartOwner)
	api.Get("/rooms/:id", roomHandler.Get)
	api.Post("/rooms/:id/leave", roomHandler.Leave)
	api.Post("/rooms/:id/messages", roomHandler.PostMessage)
	api.Get("/rooms/:id/messages", roomHandler.ListMessages)
	api.Get("/rooms/:id/starters", roomHandler.Starters)
	api.Post("/track/visit", visitHandler.Track)

	admin := api.Group("/admin", middleware.AdminMiddleware(cfg))
	admin.Get("/metrics/:day", adminHandler.DailyMetrics)
	admin.Put("/config", adminHandler.PutConfig)

	return &fixture{app: app, store: st, stats: stats}
}

// do performs one request and returns the decoded JSON body with the HTTP
// status folded in under "_status".
func (f *fixture) do(t *testing.T, method, path, uid string, body interface{}) map[string]interface{} {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if uid != "" {
		req.Header.Set("X-Test-UID", uid)
	}
	resp, err := f.app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}

	out := map[string]interface{}{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		json.Unmarshal(raw, &out)
	}
	out["_status"] = float64(resp.StatusCode)
	return out
}

func TestQueueEnterEndpoint(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, "POST", "/api/queue/enter", "anon_alice", map[string]string{
		"queueKey": "global",
		"nickname": "alice",
	})
	if res["_status"] != float64(200) {
		t.Fatalf("status = %v, body = %v", res["_status"], res)
	}
	if res["status"] != "queued" {
		t.Fatalf("enter status = %v", res["status"])
	}
	entry := res["entry"].(map[string]interface{})
	entryID := entry["id"].(string)

	// Owner can read it back, a stranger cannot.
	res = f.do(t, "GET", "/api/queue/entries/"+entryID, "anon_alice", nil)
	if res["_status"] != float64(200) {
		t.Errorf("get status = %v", res["_status"])
	}
	res = f.do(t, "GET", "/api/queue/entries/"+entryID, "anon_mallory", nil)
	if res["_status"] != float64(403) {
		t.Errorf("foreign get status = %v, want 403", res["_status"])
	}

	res = f.do(t, "POST", "/api/queue/entries/"+entryID+"/cancel", "anon_alice", nil)
	if res["_status"] != float64(200) || res["ok"] != true {
		t.Errorf("cancel = %v", res)
	}
}

func TestQueueEnterValidation(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, "POST", "/api/queue/enter", "anon_alice", map[string]string{"queueKey": "owner"})
	if res["_status"] != float64(400) {
		t.Errorf("status = %v, want 400 for bad queue key", res["_status"])
	}
	res = f.do(t, "POST", "/api/queue/enter", "", map[string]string{"queueKey": "global"})
	if res["_status"] != float64(401) {
		t.Errorf("status = %v, want 401 without auth", res["_status"])
	}
}

func TestOwnerRoomFlowEndpoint(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, "POST", "/api/rooms/owner", "anon_alice", map[string]string{"nickname": "alice"})
	if res["_status"] != float64(200) {
		t.Fatalf("start owner room: %v", res)
	}
	roomID := res["id"].(string)

	res = f.do(t, "POST", "/api/rooms/"+roomID+"/messages", "anon_alice", map[string]string{"body": "hello"})
	if res["_status"] != float64(201) {
		t.Fatalf("post message: %v", res)
	}

	res = f.do(t, "GET", "/api/rooms/"+roomID+"/starters", "anon_alice", nil)
	if res["_status"] != float64(200) {
		t.Fatalf("starters: %v", res)
	}
	if starters := res["starters"].([]interface{}); len(starters) != 3 {
		t.Errorf("%d starters, want 3", len(starters))
	}

	res = f.do(t, "POST", "/api/rooms/"+roomID+"/leave", "anon_alice", nil)
	if res["_status"] != float64(200) {
		t.Fatalf("leave: %v", res)
	}
	room := res["room"].(map[string]interface{})
	if room["status"] != "closed" || room["closedReason"] != "owner_only" {
		t.Errorf("room after leave = %v", room)
	}

	// Posting into the closed room conflicts.
	res = f.do(t, "POST", "/api/rooms/"+roomID+"/messages", "anon_alice", map[string]string{"body": "still there?"})
	if res["_status"] != float64(409) {
		t.Errorf("post after close = %v, want 409", res["_status"])
	}

	// Strangers never see the room.
	res = f.do(t, "GET", "/api/rooms/"+roomID, "anon_mallory", nil)
	if res["_status"] != float64(403) {
		t.Errorf("foreign get = %v, want 403", res["_status"])
	}
	res = f.do(t, "GET", "/api/rooms/missing", "anon_alice", nil)
	if res["_status"] != float64(404) {
		t.Errorf("missing room = %v, want 404", res["_status"])
	}
}

func TestVisitEndpointDedupes(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, "POST", "/api/track/visit", "anon_alice", nil)
	if res["_status"] != float64(200) || res["firstToday"] != true {
		t.Fatalf("first visit = %v", res)
	}
	res = f.do(t, "POST", "/api/track/visit", "anon_alice", nil)
	if res["_status"] != float64(200) || res["firstToday"] != false {
		t.Fatalf("second visit = %v", res)
	}

	ds, err := f.stats.ReadDaily(context.Background(), f.stats.KPIDay(time.Now()))
	if err != nil {
		t.Fatalf("ReadDaily: %v", err)
	}
	if ds.Counters[models.MetricVisitsTotal] != 2 || ds.Counters[models.MetricVisitsUniqueTotal] != 1 {
		t.Errorf("counters = %v", ds.Counters)
	}
}

func TestAdminEndpoints(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, "PUT", "/api/admin/config", "anon_alice", map[string]interface{}{"weatherMode": "log"})
	if res["_status"] != float64(403) {
		t.Errorf("non-admin put = %v, want 403", res["_status"])
	}

	res = f.do(t, "PUT", "/api/admin/config", "anon_admin", map[string]interface{}{"weatherMode": "log", "cooldownSec": 60})
	if res["_status"] != float64(200) {
		t.Fatalf("admin put = %v", res)
	}
	if res["weatherMode"] != "log" {
		t.Errorf("weatherMode = %v", res["weatherMode"])
	}

	res = f.do(t, "PUT", "/api/admin/config", "anon_admin", map[string]interface{}{"weatherMode": "stormy"})
	if res["_status"] != float64(400) {
		t.Errorf("bad mode = %v, want 400", res["_status"])
	}

	res = f.do(t, "GET", "/api/admin/metrics/not-a-day", "anon_admin", nil)
	if res["_status"] != float64(400) {
		t.Errorf("bad day = %v, want 400", res["_status"])
	}
	res = f.do(t, "GET", "/api/admin/metrics/today", "anon_admin", nil)
	if res["_status"] != float64(200) {
		t.Errorf("today metrics = %v", res["_status"])
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, "GET", "/health", "", nil)
	if res["_status"] != float64(200) {
		t.Fatalf("health = %v", res["_status"])
	}
	if res["status"] != "ok" {
		t.Errorf("status = %v", res["status"])
	}
	deps := res["dependencies"].(map[string]interface{})
	if deps["store"] != "ok" || deps["redis"] != "disabled" {
		t.Errorf("dependencies = %v", deps)
	}
}
