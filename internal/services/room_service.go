package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"amayadori/internal/logging"
	"amayadori/internal/models"
	"amayadori/internal/store"
)

// ErrRoomClosed is returned when posting into a room that is no longer open.
var ErrRoomClosed = errors.New("room closed")

const maxMessageLen = 2000

// OwnerProfile is the bot's display snapshot in owner rooms.
var OwnerProfile = models.ProfileSnap{
	Nickname: "Master",
	Profile:  "The cafe owner. Always around when it rains.",
	Icon:     models.OwnerIcon,
}

// ownerGreeting is the owner's fixed opening line in a fresh owner room.
const ownerGreeting = "Welcome in. Rough weather out there, isn't it? If you like, tell me what I should call you. Staying anonymous is fine too."

// RoomService owns the room lifecycle: owner-room starts, the leave state
// machine and message posting. Pairing creates rooms in MatchService; both
// paths share the same close semantics here.
type RoomService struct {
	store   store.Store
	redis   *RedisService // nil when Redis is not configured
	stats   *StatsService
	bus     *EventBus
	metrics *Metrics
	entries *EntryService

	roomTTL     time.Duration
	closedGrace time.Duration
}

func NewRoomService(st store.Store, redis *RedisService, stats *StatsService, bus *EventBus, metrics *Metrics, entries *EntryService, roomTTL, closedGrace time.Duration) *RoomService {
	return &RoomService{
		store:       st,
		redis:       redis,
		stats:       stats,
		bus:         bus,
		metrics:     metrics,
		entries:     entries,
		roomTTL:     roomTTL,
		closedGrace: closedGrace,
	}
}

// Get returns a room the caller is a member of.
func (s *RoomService) Get(ctx context.Context, uid, roomID string) (*models.Room, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasMember(uid) {
		return nil, ErrForbidden
	}
	return room, nil
}

// StartOwnerRoom opens a room between the caller and the owner bot, with the
// owner's greeting as its first message. No queueing, no pair history:
// talking to the owner is always available and never blocks a future human
// match.
func (s *RoomService) StartOwnerRoom(ctx context.Context, uid string, profile models.ProfileSnap) (*models.Room, error) {
	now := time.Now().UTC()
	room := models.Room{
		ID:        uuid.NewString(),
		QueueKey:  models.QueueKeyOwner,
		Members:   []string{uid, models.BotUID},
		OwnerRoom: true,
		Profiles: map[string]models.ProfileSnap{
			uid:           models.SanitizeProfile(profile),
			models.BotUID: OwnerProfile,
		},
		Status:       models.RoomStatusOpen,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.roomTTL),
		MessageCount: 1,
	}
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx store.Ops) error {
		if err := tx.CreateRoom(ctx, room); err != nil {
			return err
		}
		if err := tx.PutMessage(ctx, models.Message{
			ID:        room.ID + ":" + models.OwnerGreetingMessageID,
			RoomID:    room.ID,
			UID:       models.BotUID,
			Body:      ownerGreeting,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		s.stats.CountOwnerRoomStarted(ctx, tx, now)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create owner room: %w", err)
	}
	s.metrics.RoomsOpened.WithLabelValues("owner").Inc()
	logging.WithRoom(room.ID, uid).Info("owner room opened")
	return &room, nil
}

// peerLeftMessageID is fixed per room so the notice is idempotent: a second
// writer overwrites instead of duplicating.
func peerLeftMessageID(roomID string) string {
	return roomID + ":" + models.PeerLeftMessageID
}

// Leave executes the leave state machine for one member.
//
// Human rooms: the first leaver writes the peer-left notice and the room
// stays open for the remaining member; the last leaver closes it
// (last_left). Owner rooms close as soon as the human leaves (owner_only).
// Leaving twice is a no-op returning the current room state.
func (s *RoomService) Leave(ctx context.Context, uid, roomID string) (*models.Room, error) {
	var (
		result   *models.Room
		closed   bool
		noop     bool
		notified []string
	)

	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx store.Ops) error {
		closed = false
		noop = false
		notified = nil

		room, err := tx.GetRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if !room.HasMember(uid) || uid == models.BotUID {
			return ErrForbidden
		}
		if room.HasLeft(uid) || room.Status == models.RoomStatusClosed {
			result = room
			noop = true
			return nil
		}

		now := time.Now().UTC()
		room.LeftBy = append(room.LeftBy, uid)

		remaining := 0
		for _, m := range room.HumanMembers() {
			if !room.HasLeft(m) {
				remaining++
				notified = append(notified, m)
			}
		}

		if remaining == 0 {
			room.Status = models.RoomStatusClosed
			t := now
			room.ClosedAt = &t
			if room.IsOwnerRoom() {
				room.ClosedReason = models.ClosedReasonOwnerOnly
			} else {
				room.ClosedReason = models.ClosedReasonLastLeft
			}
			room.ClosedBy = uid
			// Shortened expiry puts the room on the sweeper's cursor after
			// the read-back grace window.
			room.ExpiresAt = now.Add(s.closedGrace)
			closed = true
		} else {
			// A human stays behind; leave the notice for them.
			if err := tx.PutMessage(ctx, models.Message{
				ID:        peerLeftMessageID(room.ID),
				RoomID:    room.ID,
				UID:       models.SystemUID,
				Body:      "peer_left",
				CreatedAt: now,
			}); err != nil {
				return err
			}
		}

		if err := tx.ReplaceRoom(ctx, *room); err != nil {
			return err
		}
		if closed {
			if _, err := s.stats.CommitRoomClose(ctx, tx, room, now); err != nil {
				return err
			}
		}
		if err := tx.SetUserLastLeft(ctx, uid, now); err != nil {
			return err
		}
		result = room
		return nil
	})
	if err != nil {
		return nil, err
	}
	if noop {
		return result, nil
	}

	s.afterLeave(ctx, uid, result, closed, notified)
	return result, nil
}

// afterLeave runs the non-transactional tail: cooldown mark and stream
// notifications. Losing these is acceptable; clients resync by polling.
func (s *RoomService) afterLeave(ctx context.Context, uid string, room *models.Room, closed bool, notified []string) {
	if s.redis != nil {
		if err := s.redis.MarkCooldown(ctx, uid, s.entries.CooldownDuration(ctx)); err != nil {
			logging.WithRoom(room.ID, uid).Warn("cooldown mark failed", "error", err)
		}
	}
	for _, peer := range notified {
		s.bus.NotifyUser(peer, Event{Type: EventPeerLeft, RoomID: room.ID, UID: uid})
	}
	if closed {
		for _, m := range room.HumanMembers() {
			s.bus.NotifyUser(m, Event{Type: EventRoomClosed, RoomID: room.ID})
		}
		s.bus.Publish(Event{Type: EventRoomClosed, RoomID: room.ID})
	}
}

// PostMessage appends a message to an open room and fans out the events.
func (s *RoomService) PostMessage(ctx context.Context, uid, roomID, body string) (*models.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("empty message")
	}
	body = models.Truncate(body, maxMessageLen)

	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasMember(uid) {
		return nil, ErrForbidden
	}
	if room.Status != models.RoomStatusOpen {
		return nil, ErrRoomClosed
	}
	if room.HasLeft(uid) {
		return nil, ErrRoomClosed
	}

	now := time.Now().UTC()
	msg := models.Message{
		ID:        uuid.NewString(),
		RoomID:    room.ID,
		UID:       uid,
		Body:      body,
		CreatedAt: now,
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	if err := s.store.IncRoomMessageCount(ctx, room.ID); err != nil {
		logging.WithRoom(room.ID, uid).Warn("message count bump failed", "error", err)
	}

	s.stats.CountMessage(ctx, room, uid, now)
	s.bus.Publish(Event{
		Type:   EventMessageCreated,
		RoomID: room.ID,
		UID:    uid,
		Payload: map[string]interface{}{
			"messageId": msg.ID,
			"body":      msg.Body,
		},
	})
	if peer := room.PeerOf(uid); peer != "" && peer != models.BotUID {
		s.bus.NotifyUser(peer, Event{
			Type:   EventMessageCreated,
			RoomID: room.ID,
			UID:    uid,
			Payload: map[string]interface{}{
				"message": msg,
			},
		})
	}
	return &msg, nil
}

// ListMessages returns the room's message stream after the given time.
func (s *RoomService) ListMessages(ctx context.Context, uid, roomID string, after time.Time, limit int) ([]models.Message, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasMember(uid) {
		return nil, ErrForbidden
	}
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	return s.store.ListMessages(ctx, roomID, after, limit)
}
