// Package store isolates persistence behind a transactional interface so the
// matching and room services run identically on MongoDB and on the in-memory
// implementation used for dev mode and tests.
package store

import (
	"context"
	"errors"
	"time"

	"amayadori/internal/models"
)

var (
	// ErrNotFound is returned when the addressed document does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a precondition failed: duplicate create,
	// or a guarded update whose expected state no longer holds.
	ErrConflict = errors.New("store: conflict")
)

// Ops is the full set of data operations. Outside a transaction each call is
// individually atomic; inside RunTransaction the same methods act on the
// transaction's snapshot.
type Ops interface {
	// Entries.
	CreateEntry(ctx context.Context, e models.MatchEntry) error
	GetEntry(ctx context.Context, id string) (*models.MatchEntry, error)
	// QueuedCandidates returns up to limit queued entries for the key,
	// ordered by id ascending.
	QueuedCandidates(ctx context.Context, queueKey string, limit int) ([]models.MatchEntry, error)
	// MarkEntriesMatched flips each entry queued->matched; any entry not
	// currently queued fails the whole call with ErrConflict.
	MarkEntriesMatched(ctx context.Context, ids []string, roomID string, at time.Time) error
	// MarkEntryStale flips queued->stale; ErrConflict when not queued.
	MarkEntryStale(ctx context.Context, id string) error
	// MarkEntryExpired flips queued->expired; ErrConflict when not queued.
	MarkEntryExpired(ctx context.Context, id string) error
	// RearmEntry pushes expiresAt forward and replaces the info hint on a
	// still-queued entry; ErrConflict when not queued. Keeps an actively
	// matched-against waiter from aging out mid-search.
	RearmEntry(ctx context.Context, id string, expiresAt time.Time, info string) error
	// HeartbeatEntry bumps lastSeenAt and extends expiresAt while the entry
	// is still queued.
	HeartbeatEntry(ctx context.Context, id string, at, expiresAt time.Time) (*models.MatchEntry, error)
	// CancelEntry flips queued->canceled; ErrConflict when not queued.
	CancelEntry(ctx context.Context, id string, at time.Time) (*models.MatchEntry, error)
	QueuedEntriesByUID(ctx context.Context, uid string, limit int) ([]models.MatchEntry, error)
	ExpiredEntriesPage(ctx context.Context, now time.Time, limit int) ([]models.MatchEntry, error)
	DeleteEntries(ctx context.Context, ids []string) (int, error)

	// Rooms.
	CreateRoom(ctx context.Context, r models.Room) error
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	// ReplaceRoom swaps the whole document. Call inside RunTransaction when
	// the update depends on the previous read.
	ReplaceRoom(ctx context.Context, r models.Room) error
	OpenRoomByMember(ctx context.Context, uid string) (*models.Room, error)
	// ExpiredRoomsPage returns rooms past their expiresAt regardless of
	// status. Closing a room shortens expiresAt to the grace cutoff, so one
	// cursor drives the whole room sweep.
	ExpiredRoomsPage(ctx context.Context, now time.Time, limit int) ([]models.Room, error)
	DeleteRoom(ctx context.Context, id string) error

	// Messages.
	// PutMessage upserts by id; used for the fixed-id peer-left notice.
	PutMessage(ctx context.Context, m models.Message) error
	// CreateMessage inserts, ErrConflict on duplicate id.
	CreateMessage(ctx context.Context, m models.Message) error
	ListMessages(ctx context.Context, roomID string, after time.Time, limit int) ([]models.Message, error)
	DeleteRoomMessagesPage(ctx context.Context, roomID string, limit int) (int, error)
	DeleteMessagesBeforePage(ctx context.Context, cutoff time.Time, limit int) (int, error)
	IncRoomMessageCount(ctx context.Context, roomID string) error

	// Pair history.
	CreatePairHistory(ctx context.Context, ph models.PairHistory) error
	PairSeen(ctx context.Context, id string) (bool, error)
	DeleteExpiredPairHistoryPage(ctx context.Context, now time.Time, limit int) (int, error)

	// Daily stats and per-room close records.
	IncDaily(ctx context.Context, day string, fields map[string]int64, at time.Time) error
	GetDaily(ctx context.Context, day string) (*models.DailyStats, error)
	PutRoomStats(ctx context.Context, rs models.RoomStats) error
	// ClaimStatsCommit sets statsCommittedAt if and only if it is unset.
	// Returns false when another committer got there first or the room is
	// gone. This is the idempotency gate for close-time counters.
	ClaimStatsCommit(ctx context.Context, roomID string, at time.Time) (bool, error)

	// Per-user policy state.
	SetUserLastLeft(ctx context.Context, uid string, at time.Time) error
	GetUserState(ctx context.Context, uid string) (*models.UserState, error)

	// Visit tracking. MarkVisitor returns true the first time a uid is seen
	// on a given day.
	MarkVisitor(ctx context.Context, day, uid string, at time.Time) (bool, error)

	// Runtime config document.
	GetRuntimeConfig(ctx context.Context) (models.RuntimeConfig, error)
	SetRuntimeConfig(ctx context.Context, rc models.RuntimeConfig) error

	// Weather gate audit rows.
	PutWeatherAudit(ctx context.Context, wa models.WeatherAudit) error
	DeleteWeatherAuditBeforePage(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// Store is Ops plus transaction control and lifecycle.
type Store interface {
	Ops

	// RunTransaction executes fn atomically. fn may be retried on write
	// conflict, so it must be side-effect free outside tx.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Ops) error) error

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
