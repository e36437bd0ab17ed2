package services

import (
	"context"
	"log"
	"sync"
)

// Event types carried by the bus. Worker events drive background processing
// (the trigger side of the engine); user events feed WebSocket streams.
const (
	EventEntryCreated   = "entry_created"
	EventMessageCreated = "message_created"
	EventRoomClosed     = "room_closed"

	EventMatched  = "matched"
	EventPeerLeft = "peer_left"
)

// Event is a single bus message. Fields are filled per type; Payload carries
// anything the client needs verbatim.
type Event struct {
	Type     string                 `json:"type"`
	EntryID  string                 `json:"entryId,omitempty"`
	QueueKey string                 `json:"queueKey,omitempty"`
	RoomID   string                 `json:"roomId,omitempty"`
	UID      string                 `json:"uid,omitempty"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
}

// workerQueueSize bounds the per-worker event backlog. Delivery is at most
// once: a full queue drops the event and the sweeper or client retry is the
// correctness backstop.
const workerQueueSize = 256

// EventBus is the in-process replacement for database triggers. Workers
// subscribe to event types and run on their own goroutine; user subscribers
// (WebSocket streams) get per-connection channels.
type EventBus struct {
	mu      sync.RWMutex
	workers map[string][]chan Event
	users   map[string]map[string]chan Event // uid -> subID -> chan

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventBus{
		workers: make(map[string][]chan Event),
		users:   make(map[string]map[string]chan Event),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// RegisterWorker attaches fn to an event type. Each registration gets its own
// queue and goroutine, so a slow worker only delays itself.
func (b *EventBus) RegisterWorker(eventType string, fn func(ctx context.Context, ev Event)) {
	ch := make(chan Event, workerQueueSize)

	b.mu.Lock()
	b.workers[eventType] = append(b.workers[eventType], ch)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-b.ctx.Done():
				return
			case ev := <-ch:
				fn(b.ctx, ev)
			}
		}
	}()
}

// Publish delivers an event to every worker registered for its type.
// Non-blocking: a worker with a full queue misses this event.
func (b *EventBus) Publish(ev Event) {
	b.mu.RLock()
	chans := b.workers[ev.Type]
	b.mu.RUnlock()

	for _, ch := range chans {
		select {
		case ch <- ev:
		default:
			log.Printf("[EVENT-BUS] worker queue full, dropped type=%s entry=%s room=%s", ev.Type, ev.EntryID, ev.RoomID)
		}
	}
}

// Subscribe creates a new event channel for a user. Returns a receive-only channel.
func (b *EventBus) Subscribe(uid, subID string, bufSize int) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, bufSize)
	if _, ok := b.users[uid]; !ok {
		b.users[uid] = make(map[string]chan Event)
	}
	b.users[uid][subID] = ch

	log.Printf("[EVENT-BUS] Subscribe: user=%s sub=%s (total=%d)", uid, subID, len(b.users[uid]))
	return ch
}

// Unsubscribe removes a subscription. The channel is NOT closed — the
// subscriber's goroutine exits via its own done signal.
func (b *EventBus) Unsubscribe(uid, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if conns, ok := b.users[uid]; ok {
		delete(conns, subID)
		if len(conns) == 0 {
			delete(b.users, uid)
		}
	}
}

// NotifyUser sends an event to all of a user's subscribers. Non-blocking; a
// full subscriber misses the event and resyncs by polling.
func (b *EventBus) NotifyUser(uid string, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.users[uid] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers for a user
func (b *EventBus) SubscriberCount(uid string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.users[uid])
}

// Shutdown stops all worker goroutines and waits for in-flight handlers.
func (b *EventBus) Shutdown() {
	b.cancel()
	b.wg.Wait()
}
