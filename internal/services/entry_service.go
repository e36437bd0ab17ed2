package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"amayadori/internal/logging"
	"amayadori/internal/models"
	"amayadori/internal/store"
)

// ErrForbidden is returned when a caller addresses someone else's entry or room.
var ErrForbidden = errors.New("forbidden")

// Enter outcome statuses. Only "queued" creates state; the other two are
// transient admission results.
const (
	EnterStatusQueued   = "queued"
	EnterStatusCooldown = "cooldown"
	EnterStatusDenied   = "denied"
)

// EnterResult is what an enter attempt returns to the client.
type EnterResult struct {
	Status        string             `json:"status"`
	Entry         *models.MatchEntry `json:"entry,omitempty"`
	RetryAfterSec int                `json:"retryAfterSec,omitempty"`
	Reason        string             `json:"reason,omitempty"`
}

// EntryService owns the queue entry lifecycle on the client side: admission,
// heartbeats, cancels. Pairing itself belongs to MatchService.
type EntryService struct {
	store   store.Store
	redis   *RedisService // nil when Redis is not configured
	weather *WeatherService
	stats   *StatsService
	bus     *EventBus
	metrics *Metrics

	entryTTL       time.Duration
	leaveCooldown  time.Duration
	bulkCancelPage int
}

func NewEntryService(st store.Store, redis *RedisService, weather *WeatherService, stats *StatsService, bus *EventBus, metrics *Metrics, entryTTL, leaveCooldown time.Duration, bulkCancelPage int) *EntryService {
	return &EntryService{
		store:          st,
		redis:          redis,
		weather:        weather,
		stats:          stats,
		bus:            bus,
		metrics:        metrics,
		entryTTL:       entryTTL,
		leaveCooldown:  leaveCooldown,
		bulkCancelPage: bulkCancelPage,
	}
}

// CooldownDuration resolves the active cooldown length: runtime config
// overrides the deployment default when set.
func (s *EntryService) CooldownDuration(ctx context.Context) time.Duration {
	if sec := s.weather.RuntimeConfig(ctx).CooldownSec; sec > 0 {
		return time.Duration(sec) * time.Second
	}
	return s.leaveCooldown
}

// cooldownRemaining answers from Redis first; when Redis is absent or empty
// it falls back to the persisted lastLeftAt, so cooldown survives Redis
// restarts.
func (s *EntryService) cooldownRemaining(ctx context.Context, uid string, now time.Time) time.Duration {
	if s.redis != nil {
		if rem, err := s.redis.CooldownRemaining(ctx, uid); err == nil && rem > 0 {
			return rem
		}
	}
	st, err := s.store.GetUserState(ctx, uid)
	if err != nil || st.LastLeftAt == nil {
		return 0
	}
	rem := s.CooldownDuration(ctx) - now.Sub(*st.LastLeftAt)
	if rem < 0 {
		return 0
	}
	return rem
}

// Enter admits a user into a matching queue. Rejections are results, not
// errors: the client renders cooldown and denial states.
func (s *EntryService) Enter(ctx context.Context, uid, queueKey string, profile models.ProfileSnap) (*EnterResult, error) {
	if !models.IsQueueKey(queueKey) {
		return nil, fmt.Errorf("invalid queue key %q", queueKey)
	}
	now := time.Now().UTC()

	if rem := s.cooldownRemaining(ctx, uid, now); rem > 0 {
		s.stats.CountQueueCooldown(ctx, now)
		return &EnterResult{
			Status:        EnterStatusCooldown,
			RetryAfterSec: int(math.Ceil(rem.Seconds())),
		}, nil
	}

	if d := s.weather.Check(ctx, uid, queueKey, now); !d.Allowed {
		s.stats.CountQueueDenied(ctx, now)
		return &EnterResult{Status: EnterStatusDenied, Reason: d.Reason}, nil
	}

	entry := models.MatchEntry{
		ID:         uuid.NewString(),
		UID:        uid,
		QueueKey:   queueKey,
		Status:     models.EntryStatusQueued,
		CreatedAt:  now,
		LastSeenAt: now,
		ExpiresAt:  now.Add(s.entryTTL),
		Profile:    models.SanitizeProfile(profile),
		Info:       models.EntryInfoWaiting,
	}
	if err := s.store.CreateEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("create entry: %w", err)
	}

	s.stats.CountQueueEnter(ctx, queueKey, now)
	logging.WithEntry(slog.Default(), entry.ID, entry.QueueKey).Debug("queue entry created", "uid", uid)
	s.bus.Publish(Event{
		Type:     EventEntryCreated,
		EntryID:  entry.ID,
		QueueKey: entry.QueueKey,
		UID:      uid,
	})
	return &EnterResult{Status: EnterStatusQueued, Entry: &entry}, nil
}

// Get returns the caller's entry for state polling.
func (s *EntryService) Get(ctx context.Context, uid, entryID string) (*models.MatchEntry, error) {
	entry, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.UID != uid {
		return nil, ErrForbidden
	}
	return entry, nil
}

// Touch bumps the heartbeat on a queued entry. A live heartbeat also pushes
// expiresAt forward, so an actively waiting client never ages out; a terminal
// entry is returned unchanged so the client can react to a match it has not
// seen yet.
func (s *EntryService) Touch(ctx context.Context, uid, entryID string) (*models.MatchEntry, error) {
	entry, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.UID != uid {
		return nil, ErrForbidden
	}
	now := time.Now().UTC()
	updated, err := s.store.HeartbeatEntry(ctx, entryID, now, now.Add(s.entryTTL))
	if errors.Is(err, store.ErrConflict) {
		return updated, nil
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Cancel flips the caller's queued entry to canceled. Canceling an entry
// that is already terminal (or gone) is a no-op success: cancel races
// matching and the client just needs a settled answer.
func (s *EntryService) Cancel(ctx context.Context, uid, entryID string) (*models.MatchEntry, error) {
	entry, err := s.store.GetEntry(ctx, entryID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if entry.UID != uid {
		return nil, ErrForbidden
	}
	canceled, err := s.store.CancelEntry(ctx, entryID, time.Now().UTC())
	if errors.Is(err, store.ErrConflict) {
		return canceled, nil
	}
	if err != nil {
		return nil, err
	}
	s.metrics.QueueCancels.Inc()
	return canceled, nil
}

// maxBulkCancelPages bounds the page loop; anything left is entry-TTL work
// for the sweeper.
const maxBulkCancelPages = 40

// CancelAll cancels every queued entry the user has, in pages. Used by
// explicit "stop searching" and by the page-unload beacon.
func (s *EntryService) CancelAll(ctx context.Context, uid string) (int, error) {
	total := 0
	now := time.Now().UTC()
	for page := 0; page < maxBulkCancelPages; page++ {
		entries, err := s.store.QueuedEntriesByUID(ctx, uid, s.bulkCancelPage)
		if err != nil {
			return total, err
		}
		if len(entries) == 0 {
			break
		}
		for _, e := range entries {
			_, err := s.store.CancelEntry(ctx, e.ID, now)
			switch {
			case err == nil:
				total++
			case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrNotFound):
				// Lost the race to matching or another cancel; not ours to count.
			default:
				return total, err
			}
		}
		if len(entries) < s.bulkCancelPage {
			break
		}
	}
	if total > 0 {
		log.Printf("[QUEUE] bulk cancel uid=%s canceled=%d", uid, total)
		s.metrics.QueueCancels.Inc()
	}
	return total, nil
}
