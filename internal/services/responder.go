package services

import (
	"context"
	"log"
	"sync"
	"time"

	"amayadori/internal/models"
	"amayadori/internal/store"
)

// Responder produces the owner bot's reply to a human message. The actual
// generation backend is pluggable; the engine only cares that it returns one
// line of text or an error.
type Responder interface {
	Reply(ctx context.Context, room *models.Room, message string) (string, error)
}

// CannedResponder is the built-in fallback backend. It always answers with
// the owner's stock line, which is also what production falls back to when
// the generation backend errors.
type CannedResponder struct{}

func (CannedResponder) Reply(ctx context.Context, room *models.Room, message string) (string, error) {
	return "Mm. The rain doesn't look like stopping yet. Take your time.", nil
}

// replyTimeout caps one generation call.
const replyTimeout = 20 * time.Second

// ResponderWorker listens for messages in owner rooms and posts the bot's
// reply. One reply per human message: a per-message claim stops duplicate
// replies when events are redelivered, backed by Redis when available so
// multi-node deployments agree.
type ResponderWorker struct {
	store     store.Store
	rooms     *RoomService
	bus       *EventBus
	redis     *RedisService // nil when Redis is not configured
	responder Responder

	claims sync.Map // messageID -> struct{}
}

func NewResponderWorker(st store.Store, rooms *RoomService, bus *EventBus, redis *RedisService, responder Responder) *ResponderWorker {
	return &ResponderWorker{
		store:     st,
		rooms:     rooms,
		bus:       bus,
		redis:     redis,
		responder: responder,
	}
}

// Start registers the worker on the bus.
func (w *ResponderWorker) Start() {
	w.bus.RegisterWorker(EventMessageCreated, w.handle)
}

func (w *ResponderWorker) handle(ctx context.Context, ev Event) {
	if ev.UID == models.BotUID || ev.UID == models.SystemUID {
		return
	}
	messageID, _ := ev.Payload["messageId"].(string)
	body, _ := ev.Payload["body"].(string)
	if messageID == "" || body == "" {
		return
	}

	room, err := w.store.GetRoom(ctx, ev.RoomID)
	if err != nil || !room.IsOwnerRoom() || room.Status != models.RoomStatusOpen {
		return
	}
	if !w.claim(ctx, messageID) {
		return
	}

	replyCtx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	reply, err := w.responder.Reply(replyCtx, room, body)
	if err != nil {
		log.Printf("[RESPONDER] generation failed room=%s: %v", room.ID, err)
		reply, _ = CannedResponder{}.Reply(ctx, room, body)
	}
	if reply == "" {
		return
	}
	if _, err := w.rooms.PostMessage(ctx, models.BotUID, room.ID, reply); err != nil {
		log.Printf("[RESPONDER] reply post failed room=%s: %v", room.ID, err)
	}
}

func (w *ResponderWorker) claim(ctx context.Context, messageID string) bool {
	if _, loaded := w.claims.LoadOrStore(messageID, struct{}{}); loaded {
		return false
	}
	if w.redis != nil {
		ok, err := w.redis.SetNX(ctx, "reply:"+messageID, 1, time.Hour)
		if err == nil && !ok {
			return false
		}
	}
	return true
}
