package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"amayadori/internal/models"
	"amayadori/internal/store"
)

// StatsService owns the Mongo daily KPI counters and per-room close records.
// Prometheus counters are process-local operational signals; these documents
// are the durable product numbers, so writes here are idempotent where the
// caller can retry.
type StatsService struct {
	store   store.Store
	metrics *Metrics
	kpiLoc  *time.Location
}

// NewStatsService builds the service. tz is the IANA name for the KPI day
// key; pair-history day keys always use UTC, so the two can disagree around
// midnight and that is accepted.
func NewStatsService(st store.Store, metrics *Metrics, tz string) (*StatsService, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid metrics timezone %q: %w", tz, err)
	}
	return &StatsService{store: st, metrics: metrics, kpiLoc: loc}, nil
}

// KPIDay returns the daily-counter bucket for t.
func (s *StatsService) KPIDay(t time.Time) string {
	return t.In(s.kpiLoc).Format("2006-01-02")
}

// PairDay returns the anti-repeat bucket for t, always UTC.
func PairDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (s *StatsService) inc(ctx context.Context, ops store.Ops, at time.Time, fields map[string]int64) {
	if err := ops.IncDaily(ctx, s.KPIDay(at), fields, at); err != nil {
		// Counter loss is tolerated; the matching flow must not fail on it.
		log.Printf("⚠️ daily counter update failed: %v", err)
	}
}

// CountQueueEnter records one accepted queue entry, with its per-queue-key
// split.
func (s *StatsService) CountQueueEnter(ctx context.Context, queueKey string, at time.Time) {
	s.metrics.QueueEnters.WithLabelValues(queueKey).Inc()
	fields := map[string]int64{models.MetricQueueEnterTotal: 1}
	if f := models.MetricQueueEnterFor(queueKey); f != "" {
		fields[f] = 1
	}
	s.inc(ctx, s.store, at, fields)
}

// CountQueueCooldown records one enter attempt bounced by the leave cooldown.
func (s *StatsService) CountQueueCooldown(ctx context.Context, at time.Time) {
	s.metrics.QueueRejects.WithLabelValues("cooldown").Inc()
	s.inc(ctx, s.store, at, map[string]int64{models.MetricQueueCooldownTotal: 1})
}

// CountQueueDenied records one enter attempt denied by the admission gate.
func (s *StatsService) CountQueueDenied(ctx context.Context, at time.Time) {
	s.inc(ctx, s.store, at, map[string]int64{models.MetricQueueDeniedTotal: 1})
}

// CountMatchMade records one successful pairing inside the pairing
// transaction, so the counter moves only if the pairing commits.
func (s *StatsService) CountMatchMade(ctx context.Context, tx store.Ops, queueKey string, at time.Time) {
	s.metrics.MatchesMade.WithLabelValues(queueKey).Inc()
	fields := map[string]int64{models.MetricMatchMadeTotal: 1}
	if f := models.MetricMatchMadeFor(queueKey); f != "" {
		fields[f] = 1
	}
	s.inc(ctx, tx, at, fields)
}

// CountOwnerRoomStarted records one owner-room open inside its transaction.
func (s *StatsService) CountOwnerRoomStarted(ctx context.Context, tx store.Ops, at time.Time) {
	s.inc(ctx, tx, at, map[string]int64{models.MetricOwnerRoomStartedTotal: 1})
}

// CountMessage records a posted message with its direction splits.
func (s *StatsService) CountMessage(ctx context.Context, room *models.Room, senderUID string, at time.Time) {
	fields := map[string]int64{models.MetricMessagesTotal: 1}
	sender := "human"
	switch {
	case senderUID == models.BotUID:
		sender = "owner"
		fields[models.MetricMessagesFromOwnerTotal] = 1
	case room.IsOwnerRoom():
		fields[models.MetricMessagesToOwnerTotal] = 1
	default:
		fields[models.MetricMessagesToHumanTotal] = 1
	}
	s.metrics.MessagesSent.WithLabelValues(sender).Inc()
	s.inc(ctx, s.store, at, fields)
}

// CountVisit records a visit; unique marks the first visit of the uid's day.
func (s *StatsService) CountVisit(ctx context.Context, unique bool, at time.Time) {
	fields := map[string]int64{models.MetricVisitsTotal: 1}
	if unique {
		fields[models.MetricVisitsUniqueTotal] = 1
	}
	s.inc(ctx, s.store, at, fields)
}

// CountWeatherDenied records an enforce-mode admission denial.
func (s *StatsService) CountWeatherDenied(ctx context.Context, at time.Time) {
	s.metrics.QueueRejects.WithLabelValues("denied").Inc()
	s.inc(ctx, s.store, at, map[string]int64{models.MetricWeatherDeniedTotal: 1})
}

// CommitRoomClose writes the close-time counter batch exactly once per room.
// Both the closing leave transaction and the sweeper fallback call this; the
// statsCommittedAt claim decides which one wins.
func (s *StatsService) CommitRoomClose(ctx context.Context, ops store.Ops, room *models.Room, closedAt time.Time) (bool, error) {
	claimed, err := ops.ClaimStatsCommit(ctx, room.ID, closedAt)
	if err != nil {
		return false, fmt.Errorf("claim stats commit: %w", err)
	}
	if !claimed {
		return false, nil
	}

	duration := int64(closedAt.Sub(room.CreatedAt).Seconds())
	if duration < 0 {
		duration = 0
	}

	fields := map[string]int64{
		models.MetricRoomsEndedTotal:      1,
		models.MetricRoomDurationTotalSec: duration,
	}
	if room.IsOwnerRoom() {
		fields[models.MetricRoomsEndedOwnerTotal] = 1
		fields[models.MetricRoomDurationOwnerTotalSec] = duration
	} else {
		fields[models.MetricRoomsEndedHumanTotal] = 1
		fields[models.MetricRoomDurationHumanTotalSec] = duration
	}
	if err := ops.IncDaily(ctx, s.KPIDay(closedAt), fields, closedAt); err != nil {
		return false, fmt.Errorf("inc close counters: %w", err)
	}

	kind := "human"
	if room.IsOwnerRoom() {
		kind = "owner"
	}
	if err := ops.PutRoomStats(ctx, models.RoomStats{
		RoomID:       room.ID,
		QueueKey:     room.QueueKey,
		OwnerRoom:    kind == "owner",
		DurationSec:  duration,
		MessageCount: room.MessageCount,
		ClosedReason: room.ClosedReason,
		Day:          s.KPIDay(closedAt),
		CreatedAt:    closedAt,
	}); err != nil {
		return false, fmt.Errorf("put room stats: %w", err)
	}

	s.metrics.RoomsClosed.WithLabelValues(room.ClosedReason).Inc()
	s.metrics.RoomDuration.Observe(float64(duration))
	return true, nil
}

// ReadDaily returns the counters for a day key, empty when no row exists.
func (s *StatsService) ReadDaily(ctx context.Context, day string) (*models.DailyStats, error) {
	ds, err := s.store.GetDaily(ctx, day)
	if err == store.ErrNotFound {
		return &models.DailyStats{Day: day, Counters: map[string]int64{}}, nil
	}
	return ds, err
}
