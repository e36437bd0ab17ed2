package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"amayadori/internal/models"
)

type scriptedResponder struct {
	calls atomic.Int32
	reply string
	err   error
}

func (r *scriptedResponder) Reply(ctx context.Context, room *models.Room, message string) (string, error) {
	r.calls.Add(1)
	return r.reply, r.err
}

func postEvent(roomID, uid, messageID, body string) Event {
	return Event{
		Type:   EventMessageCreated,
		RoomID: roomID,
		UID:    uid,
		Payload: map[string]interface{}{
			"messageId": messageID,
			"body":      body,
		},
	}
}

func waitForMessages(t *testing.T, env *testEnv, roomID string, want int) []models.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msgs, err := env.store.ListMessages(context.Background(), roomID, time.Time{}, 50)
		if err != nil {
			t.Fatalf("ListMessages: %v", err)
		}
		if len(msgs) >= want {
			return msgs
		}
		time.Sleep(10 * time.Millisecond)
	}
	msgs, _ := env.store.ListMessages(context.Background(), roomID, time.Time{}, 50)
	t.Fatalf("got %d messages, want %d", len(msgs), want)
	return nil
}

func TestResponderRepliesInOwnerRoom(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	responder := &scriptedResponder{reply: "still raining out there"}
	worker := NewResponderWorker(env.store, env.rooms, env.bus, nil, responder)
	worker.handle(ctx, Event{}) // exercise the nil guards before wiring

	room, err := env.rooms.StartOwnerRoom(ctx, "alice", models.ProfileSnap{})
	if err != nil {
		t.Fatalf("StartOwnerRoom: %v", err)
	}

	worker.handle(ctx, postEvent(room.ID, "alice", "m1", "hello?"))

	// Greeting from the room open plus the reply.
	msgs, err := env.store.ListMessages(ctx, room.ID, time.Time{}, 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want greeting plus bot reply", len(msgs))
	}
	reply := msgs[len(msgs)-1]
	if reply.UID != models.BotUID || reply.Body != "still raining out there" {
		t.Errorf("reply = %+v", reply)
	}
}

func TestResponderRepliesOncePerMessage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	responder := &scriptedResponder{reply: "mm"}
	worker := NewResponderWorker(env.store, env.rooms, env.bus, nil, responder)

	room, _ := env.rooms.StartOwnerRoom(ctx, "alice", models.ProfileSnap{})

	// Redelivered event: same message id twice.
	worker.handle(ctx, postEvent(room.ID, "alice", "m1", "hello?"))
	worker.handle(ctx, postEvent(room.ID, "alice", "m1", "hello?"))

	if got := responder.calls.Load(); got != 1 {
		t.Errorf("responder called %d times, want 1", got)
	}
	msgs, _ := env.store.ListMessages(ctx, room.ID, time.Time{}, 10)
	if len(msgs) != 2 {
		t.Errorf("%d messages, want greeting plus one reply", len(msgs))
	}
}

func TestResponderIgnoresNonOwnerTraffic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	responder := &scriptedResponder{reply: "mm"}
	worker := NewResponderWorker(env.store, env.rooms, env.bus, nil, responder)

	human := seedHumanRoom(t, env, "r-human", "alice", "bob")
	worker.handle(ctx, postEvent(human.ID, "alice", "m1", "hey"))

	owner, _ := env.rooms.StartOwnerRoom(ctx, "carol", models.ProfileSnap{})
	// Bot and system senders never trigger a reply.
	worker.handle(ctx, postEvent(owner.ID, models.BotUID, "m2", "my own line"))
	worker.handle(ctx, postEvent(owner.ID, models.SystemUID, "m3", "peer_left"))

	if got := responder.calls.Load(); got != 0 {
		t.Errorf("responder called %d times, want 0", got)
	}
}

func TestResponderFallsBackOnGenerationError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	responder := &scriptedResponder{err: errors.New("backend down")}
	worker := NewResponderWorker(env.store, env.rooms, env.bus, nil, responder)

	room, _ := env.rooms.StartOwnerRoom(ctx, "alice", models.ProfileSnap{})
	worker.handle(ctx, postEvent(room.ID, "alice", "m1", "anyone there?"))

	msgs, _ := env.store.ListMessages(ctx, room.ID, time.Time{}, 10)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want greeting plus the canned fallback", len(msgs))
	}
	canned, _ := CannedResponder{}.Reply(ctx, room, "")
	if msgs[len(msgs)-1].Body != canned {
		t.Errorf("body = %q, want canned line", msgs[len(msgs)-1].Body)
	}
}

func TestResponderEndToEndOverBus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	responder := &scriptedResponder{reply: "take your time"}
	worker := NewResponderWorker(env.store, env.rooms, env.bus, nil, responder)
	worker.Start()

	room, _ := env.rooms.StartOwnerRoom(ctx, "alice", models.ProfileSnap{})
	if _, err := env.rooms.PostMessage(ctx, "alice", room.ID, "hello"); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}

	// Greeting, the human message, then the bot reply through the worker.
	msgs := waitForMessages(t, env, room.ID, 3)
	last := msgs[len(msgs)-1]
	if last.UID != models.BotUID || last.Body != "take your time" {
		t.Errorf("last message = %+v", last)
	}
}
