package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"amayadori/internal/models"
	"amayadori/internal/services"
	"amayadori/internal/store"
)

// SweeperConfig carries the sweep tunables.
type SweeperConfig struct {
	Batch         int
	MaxPerRun     int
	RoomPage      int
	MsgLoopCap    int
	MessageMaxAge time.Duration
	AuditMaxAge   time.Duration
}

// SweeperJob is the garbage collector and correctness backstop. It deletes
// expired entries, tears down expired rooms (committing their counters first
// when nobody else did), and trims old messages, pair history and audit rows.
type SweeperJob struct {
	store   store.Store
	redis   *services.RedisService // nil when Redis is not configured
	stats   *services.StatsService
	metrics *services.Metrics
	cfg     SweeperConfig
	log     *logrus.Logger
}

// sweepLockTTL must outlast a slow run so a second node cannot start early,
// but still expire if a node dies mid-run.
const sweepLockTTL = 4 * time.Minute

func NewSweeperJob(st store.Store, redis *services.RedisService, stats *services.StatsService, metrics *services.Metrics, cfg SweeperConfig) *SweeperJob {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	return &SweeperJob{
		store:   st,
		redis:   redis,
		stats:   stats,
		metrics: metrics,
		cfg:     cfg,
		log:     logger,
	}
}

func (j *SweeperJob) Name() string { return "sweeper" }

// Run executes one sweep. At most one node sweeps at a time; losing the lock
// race is a normal skip, not an error.
func (j *SweeperJob) Run(ctx context.Context) error {
	if j.redis != nil {
		lockValue := uuid.NewString()
		ok, err := j.redis.AcquireLock(ctx, "sweep:lock", lockValue, sweepLockTTL)
		if err != nil {
			j.log.WithError(err).Warn("sweep lock check failed, proceeding without lock")
		} else if !ok {
			j.log.Info("sweep skipped, another node holds the lock")
			return nil
		} else {
			defer j.redis.ReleaseLock(context.WithoutCancel(ctx), "sweep:lock", lockValue)
		}
	}

	j.metrics.SweepRuns.Inc()
	started := time.Now()
	now := time.Now().UTC()
	total := 0

	n, err := j.sweepEntries(ctx, now, &total)
	if err != nil {
		return err
	}
	j.log.WithField("deleted", n).Info("entries swept")

	rooms, err := j.sweepRooms(ctx, now, &total)
	if err != nil {
		return err
	}
	j.log.WithField("rooms", rooms).Info("rooms swept")

	if n, err = j.drain(ctx, "messages", &total, func() (int, error) {
		return j.store.DeleteMessagesBeforePage(ctx, now.Add(-j.cfg.MessageMaxAge), j.cfg.Batch)
	}); err != nil {
		return err
	}
	j.log.WithField("deleted", n).Info("old messages swept")

	if n, err = j.drain(ctx, "pairHistory", &total, func() (int, error) {
		return j.store.DeleteExpiredPairHistoryPage(ctx, now, j.cfg.Batch)
	}); err != nil {
		return err
	}
	j.log.WithField("deleted", n).Info("pair history swept")

	if n, err = j.drain(ctx, "weatherAudit", &total, func() (int, error) {
		return j.store.DeleteWeatherAuditBeforePage(ctx, now.Add(-j.cfg.AuditMaxAge), j.cfg.Batch)
	}); err != nil {
		return err
	}
	j.log.WithField("deleted", n).Info("weather audit swept")

	j.log.WithFields(logrus.Fields{
		"total_deleted": total,
		"took_ms":       time.Since(started).Milliseconds(),
	}).Info("sweep done")
	return nil
}

// drain repeats a page delete until it returns empty or the run budget is
// spent.
func (j *SweeperJob) drain(ctx context.Context, collection string, total *int, del func() (int, error)) (int, error) {
	deleted := 0
	for *total < j.cfg.MaxPerRun {
		n, err := del()
		if err != nil {
			return deleted, err
		}
		if n == 0 {
			break
		}
		deleted += n
		*total += n
		j.metrics.SweepDeletes.WithLabelValues(collection).Add(float64(n))
	}
	return deleted, nil
}

// sweepEntries deletes entries past expiresAt regardless of status.
func (j *SweeperJob) sweepEntries(ctx context.Context, now time.Time, total *int) (int, error) {
	deleted := 0
	for deleted < j.cfg.MaxPerRun && *total < j.cfg.MaxPerRun {
		page, err := j.store.ExpiredEntriesPage(ctx, now, j.cfg.Batch)
		if err != nil {
			return deleted, err
		}
		if len(page) == 0 {
			break
		}
		ids := make([]string, len(page))
		for i, e := range page {
			ids[i] = e.ID
		}
		n, err := j.store.DeleteEntries(ctx, ids)
		if err != nil {
			return deleted, err
		}
		deleted += n
		*total += n
		j.metrics.SweepDeletes.WithLabelValues("matchEntries").Add(float64(n))
		if n == 0 {
			break
		}
	}
	return deleted, nil
}

// sweepRooms tears down one page of expired rooms: counters first (fallback
// commit for rooms nobody closed properly), then messages, then the room.
func (j *SweeperJob) sweepRooms(ctx context.Context, now time.Time, total *int) (int, error) {
	page, err := j.store.ExpiredRoomsPage(ctx, now, j.cfg.RoomPage)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, room := range page {
		if *total >= j.cfg.MaxPerRun {
			break
		}
		r := room
		if r.StatsCommittedAt == nil {
			if err := j.fallbackCommit(ctx, &r, now); err != nil {
				j.log.WithError(err).WithField("room", r.ID).Warn("fallback stats commit failed")
				// Leave the room in place; next sweep retries.
				continue
			}
		}

		for loop := 0; loop < j.cfg.MsgLoopCap; loop++ {
			n, err := j.store.DeleteRoomMessagesPage(ctx, r.ID, j.cfg.Batch)
			if err != nil {
				return swept, err
			}
			*total += n
			j.metrics.SweepDeletes.WithLabelValues("messages").Add(float64(n))
			if n == 0 {
				break
			}
		}

		if err := j.store.DeleteRoom(ctx, r.ID); err != nil {
			return swept, err
		}
		*total++
		swept++
		j.metrics.SweepDeletes.WithLabelValues("rooms").Add(1)
	}
	return swept, nil
}

// fallbackCommit closes a still-open expired room and writes its counter
// batch. The statsCommittedAt claim keeps this idempotent against a
// concurrent leave.
func (j *SweeperJob) fallbackCommit(ctx context.Context, room *models.Room, now time.Time) error {
	closedAt := now
	if room.ClosedAt != nil {
		closedAt = *room.ClosedAt
	}
	if room.Status != models.RoomStatusClosed {
		room.Status = models.RoomStatusClosed
		room.ClosedAt = &closedAt
		if room.ClosedReason == "" {
			room.ClosedReason = models.ClosedReasonGCExpire
		}
		if err := j.store.ReplaceRoom(ctx, *room); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	_, err := j.stats.CommitRoomClose(ctx, j.store, room, closedAt)
	return err
}
