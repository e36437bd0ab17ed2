package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all environment-driven settings. Runtime-mutable knobs (the
// weather gate mode, cooldown override) live in the Mongo config collection
// instead, so they can change without a restart.
type Config struct {
	Port        string
	Environment string

	MongoDBURI    string
	MongoDBName   string
	RedisURL      string
	RedisPassword string

	JWTSecret      string
	AccessTokenTTL time.Duration
	AdminUIDs      []string

	// Matching and lifecycle tunables. Defaults mirror the production values
	// and only move in tests or load experiments.
	QueueEntryTTL   time.Duration
	StalenessWindow time.Duration
	RoomTTL         time.Duration
	ClosedRoomGrace time.Duration
	LeaveCooldown   time.Duration
	PairHistoryTTL  time.Duration
	CandidateScan   int
	BulkCancelPage  int

	// Sweeper.
	SweepCron         string
	SweepBatch        int
	SweepMaxPerRun    int
	SweepRoomPage     int
	SweepMsgLoopCap   int
	MessageMaxAge     time.Duration
	WeatherAuditMaxAge time.Duration

	MetricsTimezone string

	// Optional files. Empty disables the feature's file source.
	WeatherPolicyPath string
	StartersPath      string

	CORSOrigins string
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		MongoDBURI:    getEnv("MONGODB_URI", ""),
		MongoDBName:   getEnv("MONGODB_DATABASE", "amayadori"),
		RedisURL:      getEnv("REDIS_URL", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		JWTSecret:      getEnv("JWT_SECRET", "dev-secret-change-me"),
		AccessTokenTTL: getDurationEnv("ACCESS_TOKEN_TTL", 24*time.Hour),
		AdminUIDs:      getListEnv("ADMIN_UIDS"),

		QueueEntryTTL:   getDurationEnv("QUEUE_ENTRY_TTL", 12*time.Minute),
		StalenessWindow: getDurationEnv("STALENESS_WINDOW", 45*time.Second),
		RoomTTL:         getDurationEnv("ROOM_TTL", 3*time.Hour),
		ClosedRoomGrace: getDurationEnv("CLOSED_ROOM_GRACE", 5*time.Minute),
		LeaveCooldown:   getDurationEnv("LEAVE_COOLDOWN", 30*time.Second),
		PairHistoryTTL:  getDurationEnv("PAIR_HISTORY_TTL", 48*time.Hour),
		CandidateScan:   getIntEnv("CANDIDATE_SCAN", 10),
		BulkCancelPage:  getIntEnv("BULK_CANCEL_PAGE", 50),

		SweepCron:          getEnv("SWEEP_CRON", "*/5 * * * *"),
		SweepBatch:         getIntEnv("SWEEP_BATCH", 250),
		SweepMaxPerRun:     getIntEnv("SWEEP_MAX_PER_RUN", 5000),
		SweepRoomPage:      getIntEnv("SWEEP_ROOM_PAGE", 50),
		SweepMsgLoopCap:    getIntEnv("SWEEP_MSG_LOOP_CAP", 20),
		MessageMaxAge:      getDurationEnv("MESSAGE_MAX_AGE", 6*time.Hour),
		WeatherAuditMaxAge: getDurationEnv("WEATHER_AUDIT_MAX_AGE", 72*time.Hour),

		MetricsTimezone: getEnv("METRICS_TIMEZONE", "Asia/Tokyo"),

		WeatherPolicyPath: getEnv("WEATHER_POLICY_PATH", ""),
		StartersPath:      getEnv("STARTERS_PATH", ""),

		CORSOrigins: getEnv("CORS_ORIGINS", "*"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsAdmin reports whether uid is on the admin allow-list.
func (c *Config) IsAdmin(uid string) bool {
	for _, a := range c.AdminUIDs {
		if a == uid {
			return true
		}
	}
	return false
}
