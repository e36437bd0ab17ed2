package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"amayadori/internal/models"
	"amayadori/internal/store"
)

// MatchService pairs queued entries. It subscribes to entry-created events
// and runs a first-fit candidate scan inside one transaction, so the two
// entry flips, the room create and the pair-history row commit atomically.
type MatchService struct {
	store   store.Store
	stats   *StatsService
	bus     *EventBus
	metrics *Metrics

	candidateScan  int
	entryTTL       time.Duration
	staleness      time.Duration
	roomTTL        time.Duration
	pairHistoryTTL time.Duration

	// Per-queue-key pacing. Entry bursts otherwise pile write conflicts onto
	// the same candidate window.
	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewMatchService(st store.Store, stats *StatsService, bus *EventBus, metrics *Metrics, candidateScan int, entryTTL, staleness, roomTTL, pairHistoryTTL time.Duration) *MatchService {
	return &MatchService{
		store:          st,
		stats:          stats,
		bus:            bus,
		metrics:        metrics,
		candidateScan:  candidateScan,
		entryTTL:       entryTTL,
		staleness:      staleness,
		roomTTL:        roomTTL,
		pairHistoryTTL: pairHistoryTTL,
		limiters:       make(map[string]*rate.Limiter),
	}
}

// Start registers the matching worker on the bus.
func (s *MatchService) Start() {
	s.bus.RegisterWorker(EventEntryCreated, func(ctx context.Context, ev Event) {
		if err := s.limiter(ev.QueueKey).Wait(ctx); err != nil {
			return
		}
		room, err := s.TryMatch(ctx, ev.EntryID)
		if err != nil {
			log.Printf("[MATCH] attempt failed entry=%s: %v", ev.EntryID, err)
			return
		}
		if room != nil {
			for _, uid := range room.Members {
				s.bus.NotifyUser(uid, Event{
					Type:   EventMatched,
					RoomID: room.ID,
					Payload: map[string]interface{}{
						"room": room,
					},
				})
			}
		}
	})
}

func (s *MatchService) limiter(queueKey string) *rate.Limiter {
	s.limMu.Lock()
	defer s.limMu.Unlock()
	lim, ok := s.limiters[queueKey]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(10), 5)
		s.limiters[queueKey] = lim
	}
	return lim
}

// matchAttempts bounds retries when a candidate flips state under us.
const matchAttempts = 3

// TryMatch attempts to pair the given entry. Returns the created room, or
// nil when the entry stays queued (no fresh candidate, or repeats only).
func (s *MatchService) TryMatch(ctx context.Context, entryID string) (*models.Room, error) {
	var lastErr error
	for i := 0; i < matchAttempts; i++ {
		room, err := s.tryMatchOnce(ctx, entryID)
		if errors.Is(err, store.ErrConflict) {
			s.metrics.MatchAttempts.WithLabelValues("conflict").Inc()
			lastErr = err
			continue
		}
		if err != nil {
			s.metrics.MatchAttempts.WithLabelValues("error").Inc()
			return nil, err
		}
		if room == nil {
			s.metrics.MatchAttempts.WithLabelValues("no_candidate").Inc()
		} else {
			s.metrics.MatchAttempts.WithLabelValues("paired").Inc()
		}
		return room, nil
	}
	return nil, fmt.Errorf("match retries exhausted: %w", lastErr)
}

func (s *MatchService) tryMatchOnce(ctx context.Context, entryID string) (*models.Room, error) {
	var created *models.Room

	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx store.Ops) error {
		created = nil
		entry, err := tx.GetEntry(ctx, entryID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if entry.Status != models.EntryStatusQueued {
			return nil
		}

		now := time.Now().UTC()
		if !entry.ExpiresAt.After(now) {
			err := tx.MarkEntryExpired(ctx, entry.ID)
			if errors.Is(err, store.ErrConflict) {
				return nil
			}
			return err
		}
		if now.Sub(entry.LastSeenAt) > s.staleness {
			err := tx.MarkEntryStale(ctx, entry.ID)
			if errors.Is(err, store.ErrConflict) {
				return nil
			}
			return err
		}

		candidates, err := tx.QueuedCandidates(ctx, entry.QueueKey, s.candidateScan)
		if err != nil {
			return err
		}

		sawRepeat := false
		for _, cand := range candidates {
			if cand.ID == entry.ID || cand.UID == entry.UID {
				continue
			}
			if !cand.ExpiresAt.After(now) {
				if err := tx.MarkEntryExpired(ctx, cand.ID); err != nil && !errors.Is(err, store.ErrConflict) {
					return err
				}
				continue
			}
			if now.Sub(cand.LastSeenAt) > s.staleness {
				// Sidelined, not deleted: the owner can resurface only by
				// entering again, and the sweeper collects the leftovers.
				if err := tx.MarkEntryStale(ctx, cand.ID); err != nil && !errors.Is(err, store.ErrConflict) {
					return err
				}
				continue
			}

			pairKey := store.PairKey(PairDay(now), entry.UID, cand.UID)
			seen, err := tx.PairSeen(ctx, pairKey)
			if err != nil {
				return err
			}
			if seen {
				sawRepeat = true
				continue
			}

			room := models.Room{
				ID:       uuid.NewString(),
				QueueKey: entry.QueueKey,
				Members:  []string{entry.UID, cand.UID},
				Profiles: map[string]models.ProfileSnap{
					entry.UID: entry.Profile,
					cand.UID:  cand.Profile,
				},
				Status:    models.RoomStatusOpen,
				CreatedAt: now,
				ExpiresAt: now.Add(s.roomTTL),
			}
			if err := tx.CreatePairHistory(ctx, models.PairHistory{
				ID:        pairKey,
				UIDs:      []string{entry.UID, cand.UID},
				DayKey:    PairDay(now),
				RoomID:    room.ID,
				CreatedAt: now,
				ExpiresAt: now.Add(s.pairHistoryTTL),
			}); err != nil {
				return err
			}
			if err := tx.CreateRoom(ctx, room); err != nil {
				return err
			}
			if err := tx.MarkEntriesMatched(ctx, []string{entry.ID, cand.ID}, room.ID, now); err != nil {
				return err
			}
			s.stats.CountMatchMade(ctx, tx, entry.QueueKey, now)
			created = &room
			return nil
		}

		// No partner this pass: re-arm the waiter so an entry that keeps
		// getting scanned does not age out mid-search.
		info := models.EntryInfoWaiting
		if sawRepeat {
			info = models.EntryInfoPairedToday
		}
		if err := tx.RearmEntry(ctx, entry.ID, now.Add(s.entryTTL), info); err != nil && !errors.Is(err, store.ErrConflict) {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created != nil {
		s.metrics.RoomsOpened.WithLabelValues("human").Inc()
	}
	return created, nil
}
