package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.QueueEntryTTL != 12*time.Minute {
		t.Errorf("QueueEntryTTL = %v, want 12m", cfg.QueueEntryTTL)
	}
	if cfg.StalenessWindow != 45*time.Second {
		t.Errorf("StalenessWindow = %v, want 45s", cfg.StalenessWindow)
	}
	if cfg.RoomTTL != 3*time.Hour {
		t.Errorf("RoomTTL = %v, want 3h", cfg.RoomTTL)
	}
	if cfg.ClosedRoomGrace != 5*time.Minute {
		t.Errorf("ClosedRoomGrace = %v, want 5m", cfg.ClosedRoomGrace)
	}
	if cfg.PairHistoryTTL != 48*time.Hour {
		t.Errorf("PairHistoryTTL = %v, want 48h", cfg.PairHistoryTTL)
	}
	if cfg.CandidateScan != 10 {
		t.Errorf("CandidateScan = %d, want 10", cfg.CandidateScan)
	}
	if cfg.SweepCron != "*/5 * * * *" {
		t.Errorf("SweepCron = %q", cfg.SweepCron)
	}
	if cfg.MetricsTimezone != "Asia/Tokyo" {
		t.Errorf("MetricsTimezone = %q", cfg.MetricsTimezone)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("QUEUE_ENTRY_TTL", "5m")
	t.Setenv("CANDIDATE_SCAN", "25")
	t.Setenv("ADMIN_UIDS", "anon_a, anon_b ,")

	cfg := Load()
	if cfg.Port != "9999" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.QueueEntryTTL != 5*time.Minute {
		t.Errorf("QueueEntryTTL = %v", cfg.QueueEntryTTL)
	}
	if cfg.CandidateScan != 25 {
		t.Errorf("CandidateScan = %d", cfg.CandidateScan)
	}
	if len(cfg.AdminUIDs) != 2 {
		t.Fatalf("AdminUIDs = %v", cfg.AdminUIDs)
	}
	if !cfg.IsAdmin("anon_a") || !cfg.IsAdmin("anon_b") {
		t.Error("admin list not honored")
	}
	if cfg.IsAdmin("anon_c") {
		t.Error("unknown uid treated as admin")
	}
}

func TestLoadIgnoresBadValues(t *testing.T) {
	t.Setenv("QUEUE_ENTRY_TTL", "soon")
	t.Setenv("CANDIDATE_SCAN", "many")

	cfg := Load()
	if cfg.QueueEntryTTL != 12*time.Minute {
		t.Errorf("QueueEntryTTL = %v, want default on parse failure", cfg.QueueEntryTTL)
	}
	if cfg.CandidateScan != 10 {
		t.Errorf("CandidateScan = %d, want default on parse failure", cfg.CandidateScan)
	}
}
