package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"amayadori/internal/models"
)

// MemoryStore is a serializable in-memory Store. It backs dev mode when no
// MONGODB_URI is configured and stands in for Mongo in tests. A single mutex
// serializes transactions; rollback restores a snapshot, so RunTransaction
// keeps the same atomicity contract as the Mongo implementation.
type MemoryStore struct {
	mu sync.Mutex
	st memState
}

type memState struct {
	entries    map[string]models.MatchEntry
	rooms      map[string]models.Room
	messages   map[string]models.Message
	pairs      map[string]models.PairHistory
	daily      map[string]map[string]int64
	dailyAt    map[string]time.Time
	roomStats  map[string]models.RoomStats
	userStates map[string]models.UserState
	visitors   map[string]models.Visitor
	runtime    *models.RuntimeConfig
	audits     map[string]models.WeatherAudit
}

func newMemState() memState {
	return memState{
		entries:    map[string]models.MatchEntry{},
		rooms:      map[string]models.Room{},
		messages:   map[string]models.Message{},
		pairs:      map[string]models.PairHistory{},
		daily:      map[string]map[string]int64{},
		dailyAt:    map[string]time.Time{},
		roomStats:  map[string]models.RoomStats{},
		userStates: map[string]models.UserState{},
		visitors:   map[string]models.Visitor{},
		audits:     map[string]models.WeatherAudit{},
	}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: newMemState()}
}

func (s *memState) clone() memState {
	c := newMemState()
	for k, v := range s.entries {
		c.entries[k] = cloneEntry(v)
	}
	for k, v := range s.rooms {
		c.rooms[k] = cloneRoom(v)
	}
	for k, v := range s.messages {
		c.messages[k] = v
	}
	for k, v := range s.pairs {
		c.pairs[k] = v
	}
	for k, v := range s.daily {
		m := make(map[string]int64, len(v))
		for f, n := range v {
			m[f] = n
		}
		c.daily[k] = m
	}
	for k, v := range s.dailyAt {
		c.dailyAt[k] = v
	}
	for k, v := range s.roomStats {
		c.roomStats[k] = v
	}
	for k, v := range s.userStates {
		c.userStates[k] = v
	}
	for k, v := range s.visitors {
		c.visitors[k] = v
	}
	if s.runtime != nil {
		rc := *s.runtime
		c.runtime = &rc
	}
	for k, v := range s.audits {
		c.audits[k] = v
	}
	return c
}

func cloneEntry(e models.MatchEntry) models.MatchEntry {
	if e.MatchedAt != nil {
		t := *e.MatchedAt
		e.MatchedAt = &t
	}
	if e.CanceledAt != nil {
		t := *e.CanceledAt
		e.CanceledAt = &t
	}
	return e
}

func cloneRoom(r models.Room) models.Room {
	r.Members = append([]string(nil), r.Members...)
	r.LeftBy = append([]string(nil), r.LeftBy...)
	profiles := make(map[string]models.ProfileSnap, len(r.Profiles))
	for k, v := range r.Profiles {
		profiles[k] = v
	}
	r.Profiles = profiles
	if r.ClosedAt != nil {
		t := *r.ClosedAt
		r.ClosedAt = &t
	}
	if r.StatsCommittedAt != nil {
		t := *r.StatsCommittedAt
		r.StatsCommittedAt = &t
	}
	return r
}

// locked wraps a call in the store mutex unless the context already holds it
// (inside RunTransaction).
func (s *MemoryStore) locked(ctx context.Context, fn func() error) error {
	if inMemTx(ctx) {
		return fn()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

type memTxKey struct{}

func inMemTx(ctx context.Context) bool {
	return ctx.Value(memTxKey{}) != nil
}

func (s *MemoryStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Ops) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(context.WithValue(ctx, memTxKey{}, true), s); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// --- entries ---

func (s *MemoryStore) CreateEntry(ctx context.Context, e models.MatchEntry) error {
	return s.locked(ctx, func() error {
		if _, ok := s.st.entries[e.ID]; ok {
			return ErrConflict
		}
		s.st.entries[e.ID] = cloneEntry(e)
		return nil
	})
}

func (s *MemoryStore) GetEntry(ctx context.Context, id string) (*models.MatchEntry, error) {
	var out *models.MatchEntry
	err := s.locked(ctx, func() error {
		e, ok := s.st.entries[id]
		if !ok {
			return ErrNotFound
		}
		e = cloneEntry(e)
		out = &e
		return nil
	})
	return out, err
}

func (s *MemoryStore) QueuedCandidates(ctx context.Context, queueKey string, limit int) ([]models.MatchEntry, error) {
	var out []models.MatchEntry
	err := s.locked(ctx, func() error {
		for _, e := range s.st.entries {
			if e.QueueKey == queueKey && e.Status == models.EntryStatusQueued {
				out = append(out, cloneEntry(e))
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		if len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

func (s *MemoryStore) MarkEntriesMatched(ctx context.Context, ids []string, roomID string, at time.Time) error {
	return s.locked(ctx, func() error {
		for _, id := range ids {
			e, ok := s.st.entries[id]
			if !ok || e.Status != models.EntryStatusQueued {
				return ErrConflict
			}
		}
		for _, id := range ids {
			e := s.st.entries[id]
			e.Status = models.EntryStatusMatched
			e.RoomID = roomID
			t := at
			e.MatchedAt = &t
			// The waiting/paired_today hint has no meaning once matched.
			e.Info = ""
			s.st.entries[id] = e
		}
		return nil
	})
}

func (s *MemoryStore) MarkEntryStale(ctx context.Context, id string) error {
	return s.locked(ctx, func() error {
		e, ok := s.st.entries[id]
		if !ok || e.Status != models.EntryStatusQueued {
			return ErrConflict
		}
		e.Status = models.EntryStatusStale
		s.st.entries[id] = e
		return nil
	})
}

func (s *MemoryStore) MarkEntryExpired(ctx context.Context, id string) error {
	return s.locked(ctx, func() error {
		e, ok := s.st.entries[id]
		if !ok || e.Status != models.EntryStatusQueued {
			return ErrConflict
		}
		e.Status = models.EntryStatusExpired
		s.st.entries[id] = e
		return nil
	})
}

func (s *MemoryStore) RearmEntry(ctx context.Context, id string, expiresAt time.Time, info string) error {
	return s.locked(ctx, func() error {
		e, ok := s.st.entries[id]
		if !ok || e.Status != models.EntryStatusQueued {
			return ErrConflict
		}
		e.ExpiresAt = expiresAt
		e.Info = info
		s.st.entries[id] = e
		return nil
	})
}

func (s *MemoryStore) HeartbeatEntry(ctx context.Context, id string, at, expiresAt time.Time) (*models.MatchEntry, error) {
	var out *models.MatchEntry
	err := s.locked(ctx, func() error {
		e, ok := s.st.entries[id]
		if !ok {
			return ErrNotFound
		}
		if e.Status != models.EntryStatusQueued {
			c := cloneEntry(e)
			out = &c
			return ErrConflict
		}
		e.LastSeenAt = at
		e.ExpiresAt = expiresAt
		s.st.entries[id] = e
		c := cloneEntry(e)
		out = &c
		return nil
	})
	return out, err
}

func (s *MemoryStore) CancelEntry(ctx context.Context, id string, at time.Time) (*models.MatchEntry, error) {
	var out *models.MatchEntry
	err := s.locked(ctx, func() error {
		e, ok := s.st.entries[id]
		if !ok {
			return ErrNotFound
		}
		if e.Status != models.EntryStatusQueued {
			c := cloneEntry(e)
			out = &c
			return ErrConflict
		}
		e.Status = models.EntryStatusCanceled
		t := at
		e.CanceledAt = &t
		s.st.entries[id] = e
		c := cloneEntry(e)
		out = &c
		return nil
	})
	return out, err
}

func (s *MemoryStore) QueuedEntriesByUID(ctx context.Context, uid string, limit int) ([]models.MatchEntry, error) {
	var out []models.MatchEntry
	err := s.locked(ctx, func() error {
		for _, e := range s.st.entries {
			if e.UID == uid && e.Status == models.EntryStatusQueued {
				out = append(out, cloneEntry(e))
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		if len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

func (s *MemoryStore) ExpiredEntriesPage(ctx context.Context, now time.Time, limit int) ([]models.MatchEntry, error) {
	var out []models.MatchEntry
	err := s.locked(ctx, func() error {
		for _, e := range s.st.entries {
			if !e.ExpiresAt.After(now) {
				out = append(out, cloneEntry(e))
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		if len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

func (s *MemoryStore) DeleteEntries(ctx context.Context, ids []string) (int, error) {
	n := 0
	err := s.locked(ctx, func() error {
		for _, id := range ids {
			if _, ok := s.st.entries[id]; ok {
				delete(s.st.entries, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

// --- rooms ---

func (s *MemoryStore) CreateRoom(ctx context.Context, r models.Room) error {
	return s.locked(ctx, func() error {
		if _, ok := s.st.rooms[r.ID]; ok {
			return ErrConflict
		}
		s.st.rooms[r.ID] = cloneRoom(r)
		return nil
	})
}

func (s *MemoryStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	var out *models.Room
	err := s.locked(ctx, func() error {
		r, ok := s.st.rooms[id]
		if !ok {
			return ErrNotFound
		}
		c := cloneRoom(r)
		out = &c
		return nil
	})
	return out, err
}

func (s *MemoryStore) ReplaceRoom(ctx context.Context, r models.Room) error {
	return s.locked(ctx, func() error {
		if _, ok := s.st.rooms[r.ID]; !ok {
			return ErrNotFound
		}
		s.st.rooms[r.ID] = cloneRoom(r)
		return nil
	})
}

func (s *MemoryStore) OpenRoomByMember(ctx context.Context, uid string) (*models.Room, error) {
	var out *models.Room
	err := s.locked(ctx, func() error {
		for _, r := range s.st.rooms {
			if r.Status == models.RoomStatusOpen && r.HasMember(uid) {
				c := cloneRoom(r)
				out = &c
				return nil
			}
		}
		return ErrNotFound
	})
	return out, err
}

func (s *MemoryStore) ExpiredRoomsPage(ctx context.Context, now time.Time, limit int) ([]models.Room, error) {
	var out []models.Room
	err := s.locked(ctx, func() error {
		for _, r := range s.st.rooms {
			if !r.ExpiresAt.After(now) {
				out = append(out, cloneRoom(r))
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		if len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

func (s *MemoryStore) DeleteRoom(ctx context.Context, id string) error {
	return s.locked(ctx, func() error {
		delete(s.st.rooms, id)
		return nil
	})
}

// --- messages ---

func (s *MemoryStore) PutMessage(ctx context.Context, m models.Message) error {
	return s.locked(ctx, func() error {
		s.st.messages[m.ID] = m
		return nil
	})
}

func (s *MemoryStore) CreateMessage(ctx context.Context, m models.Message) error {
	return s.locked(ctx, func() error {
		if _, ok := s.st.messages[m.ID]; ok {
			return ErrConflict
		}
		s.st.messages[m.ID] = m
		return nil
	})
}

func (s *MemoryStore) ListMessages(ctx context.Context, roomID string, after time.Time, limit int) ([]models.Message, error) {
	var out []models.Message
	err := s.locked(ctx, func() error {
		for _, m := range s.st.messages {
			if m.RoomID == roomID && (after.IsZero() || m.CreatedAt.After(after)) {
				out = append(out, m)
			}
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].ID < out[j].ID
			}
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		})
		if len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

func (s *MemoryStore) DeleteRoomMessagesPage(ctx context.Context, roomID string, limit int) (int, error) {
	n := 0
	err := s.locked(ctx, func() error {
		for id, m := range s.st.messages {
			if n >= limit {
				break
			}
			if m.RoomID == roomID {
				delete(s.st.messages, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (s *MemoryStore) DeleteMessagesBeforePage(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	n := 0
	err := s.locked(ctx, func() error {
		for id, m := range s.st.messages {
			if n >= limit {
				break
			}
			if !m.CreatedAt.After(cutoff) {
				delete(s.st.messages, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (s *MemoryStore) IncRoomMessageCount(ctx context.Context, roomID string) error {
	return s.locked(ctx, func() error {
		r, ok := s.st.rooms[roomID]
		if !ok {
			return nil
		}
		r.MessageCount++
		s.st.rooms[roomID] = r
		return nil
	})
}

// --- pair history ---

func (s *MemoryStore) CreatePairHistory(ctx context.Context, ph models.PairHistory) error {
	return s.locked(ctx, func() error {
		if _, ok := s.st.pairs[ph.ID]; ok {
			return ErrConflict
		}
		s.st.pairs[ph.ID] = ph
		return nil
	})
}

func (s *MemoryStore) PairSeen(ctx context.Context, id string) (bool, error) {
	seen := false
	err := s.locked(ctx, func() error {
		_, seen = s.st.pairs[id]
		return nil
	})
	return seen, err
}

func (s *MemoryStore) DeleteExpiredPairHistoryPage(ctx context.Context, now time.Time, limit int) (int, error) {
	n := 0
	err := s.locked(ctx, func() error {
		for id, ph := range s.st.pairs {
			if n >= limit {
				break
			}
			if !ph.ExpiresAt.After(now) {
				delete(s.st.pairs, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

// --- stats ---

func (s *MemoryStore) IncDaily(ctx context.Context, day string, fields map[string]int64, at time.Time) error {
	return s.locked(ctx, func() error {
		row, ok := s.st.daily[day]
		if !ok {
			row = map[string]int64{}
			s.st.daily[day] = row
		}
		for k, v := range fields {
			row[k] += v
		}
		s.st.dailyAt[day] = at
		return nil
	})
}

func (s *MemoryStore) GetDaily(ctx context.Context, day string) (*models.DailyStats, error) {
	var out *models.DailyStats
	err := s.locked(ctx, func() error {
		row, ok := s.st.daily[day]
		if !ok {
			return ErrNotFound
		}
		counters := make(map[string]int64, len(row))
		for k, v := range row {
			counters[k] = v
		}
		out = &models.DailyStats{Day: day, Counters: counters, UpdatedAt: s.st.dailyAt[day]}
		return nil
	})
	return out, err
}

func (s *MemoryStore) PutRoomStats(ctx context.Context, rs models.RoomStats) error {
	return s.locked(ctx, func() error {
		s.st.roomStats[rs.RoomID] = rs
		return nil
	})
}

func (s *MemoryStore) ClaimStatsCommit(ctx context.Context, roomID string, at time.Time) (bool, error) {
	claimed := false
	err := s.locked(ctx, func() error {
		r, ok := s.st.rooms[roomID]
		if !ok || r.StatsCommittedAt != nil {
			return nil
		}
		t := at
		r.StatsCommittedAt = &t
		s.st.rooms[roomID] = r
		claimed = true
		return nil
	})
	return claimed, err
}

// --- user states ---

func (s *MemoryStore) SetUserLastLeft(ctx context.Context, uid string, at time.Time) error {
	return s.locked(ctx, func() error {
		t := at
		s.st.userStates[uid] = models.UserState{UID: uid, LastLeftAt: &t, UpdatedAt: at}
		return nil
	})
}

func (s *MemoryStore) GetUserState(ctx context.Context, uid string) (*models.UserState, error) {
	var out *models.UserState
	err := s.locked(ctx, func() error {
		st, ok := s.st.userStates[uid]
		if !ok {
			return ErrNotFound
		}
		c := st
		if st.LastLeftAt != nil {
			t := *st.LastLeftAt
			c.LastLeftAt = &t
		}
		out = &c
		return nil
	})
	return out, err
}

// --- visitors ---

func (s *MemoryStore) MarkVisitor(ctx context.Context, day, uid string, at time.Time) (bool, error) {
	first := false
	err := s.locked(ctx, func() error {
		id := day + "_" + uid
		if _, ok := s.st.visitors[id]; ok {
			return nil
		}
		s.st.visitors[id] = models.Visitor{ID: id, UID: uid, Day: day, CreatedAt: at}
		first = true
		return nil
	})
	return first, err
}

// --- runtime config ---

func (s *MemoryStore) GetRuntimeConfig(ctx context.Context) (models.RuntimeConfig, error) {
	out := models.DefaultRuntimeConfig()
	err := s.locked(ctx, func() error {
		if s.st.runtime != nil {
			out = *s.st.runtime
		}
		return nil
	})
	return out, err
}

func (s *MemoryStore) SetRuntimeConfig(ctx context.Context, rc models.RuntimeConfig) error {
	return s.locked(ctx, func() error {
		rc.ID = models.RuntimeConfigID
		s.st.runtime = &rc
		return nil
	})
}

// --- weather audit ---

func (s *MemoryStore) PutWeatherAudit(ctx context.Context, wa models.WeatherAudit) error {
	return s.locked(ctx, func() error {
		s.st.audits[wa.ID] = wa
		return nil
	})
}

func (s *MemoryStore) DeleteWeatherAuditBeforePage(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	n := 0
	err := s.locked(ctx, func() error {
		for id, wa := range s.st.audits {
			if n >= limit {
				break
			}
			if !wa.CreatedAt.After(cutoff) {
				delete(s.st.audits, id)
				n++
			}
		}
		return nil
	})
	return n, err
}

// --- lifecycle ---

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close(ctx context.Context) error { return nil }

// CountEntries is a test helper.
func (s *MemoryStore) CountEntries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.entries)
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*MongoStore)(nil)

// PairKey builds the anti-repeat key: UTC day plus the sorted uid pair.
func PairKey(day string, a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return day + "_" + a + "_" + b
}
