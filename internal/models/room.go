package models

import "time"

// Room status values.
const (
	RoomStatusOpen   = "open"
	RoomStatusClosed = "closed"
)

// Room close reasons. "gc_expire" marks rooms the sweeper closed because
// they outlived their TTL without a proper leave.
const (
	ClosedReasonLastLeft  = "last_left"
	ClosedReasonOwnerOnly = "owner_only"
	ClosedReasonGCExpire  = "gc_expire"
)

// BotUID identifies the cafe owner bot as a room member. Never a JWT subject.
const BotUID = "ownerAI"

// SystemUID stamps server-generated notice messages.
const SystemUID = "__system__"

// PeerLeftMessageID is the fixed document id of the "peer left" notice in a
// room. A fixed id makes the notice naturally idempotent: the second leaver's
// transaction overwrites rather than duplicates it.
const PeerLeftMessageID = "__system_peer_left"

// OwnerGreetingMessageID is the fixed document id suffix of the owner bot's
// opening line, so a retried owner-room start cannot post it twice.
const OwnerGreetingMessageID = "__owner_greeting"

// Room is a two-member chat container. Members and their profile snapshots
// are immutable after creation; lifecycle state lives in Status, LeftBy,
// ClosedAt and the stats-commit marker.
type Room struct {
	ID        string                 `bson:"_id" json:"id"`
	QueueKey  string                 `bson:"queueKey" json:"queueKey"`
	Members   []string               `bson:"members" json:"members"`
	Profiles  map[string]ProfileSnap `bson:"profiles" json:"profiles"`
	Status    string                 `bson:"status" json:"status"`
	OwnerRoom bool                   `bson:"isOwnerRoom" json:"isOwnerRoom"`
	CreatedAt time.Time              `bson:"createdAt" json:"createdAt"`
	ExpiresAt time.Time              `bson:"expiresAt" json:"expiresAt"`

	LeftBy       []string   `bson:"leftBy,omitempty" json:"leftBy,omitempty"`
	ClosedAt     *time.Time `bson:"closedAt,omitempty" json:"closedAt,omitempty"`
	ClosedReason string     `bson:"closedReason,omitempty" json:"closedReason,omitempty"`
	// ClosedBy records which member's leave closed the room.
	ClosedBy string `bson:"closedBy,omitempty" json:"closedBy,omitempty"`

	// StatsCommittedAt gates the close-time counter batch. Set exactly once,
	// by whichever of the leave transaction or the sweeper gets there first.
	StatsCommittedAt *time.Time `bson:"statsCommittedAt,omitempty" json:"statsCommittedAt,omitempty"`

	MessageCount int `bson:"messageCount" json:"messageCount"`
}

// HasMember reports whether uid is one of the room's members.
func (r *Room) HasMember(uid string) bool {
	for _, m := range r.Members {
		if m == uid {
			return true
		}
	}
	return false
}

// HasLeft reports whether uid already executed leave on this room.
func (r *Room) HasLeft(uid string) bool {
	for _, m := range r.LeftBy {
		if m == uid {
			return true
		}
	}
	return false
}

// IsOwnerRoom reports whether the room pairs a human with the owner bot. The
// stored flag decides; the membership check covers documents written before
// the flag existed.
func (r *Room) IsOwnerRoom() bool {
	return r.OwnerRoom || r.HasMember(BotUID)
}

// HumanMembers returns members excluding the owner bot.
func (r *Room) HumanMembers() []string {
	out := make([]string, 0, len(r.Members))
	for _, m := range r.Members {
		if m != BotUID {
			out = append(out, m)
		}
	}
	return out
}

// PeerOf returns the other member of the room, or "" when uid is not a member.
func (r *Room) PeerOf(uid string) string {
	for _, m := range r.Members {
		if m != uid {
			return m
		}
	}
	return ""
}

// Message is a chat line inside a room.
type Message struct {
	ID        string    `bson:"_id" json:"id"`
	RoomID    string    `bson:"roomId" json:"roomId"`
	UID       string    `bson:"uid" json:"uid"`
	Body      string    `bson:"body" json:"body"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

// PairHistory records that two users were paired on a given UTC day. Rows
// expire after 48h; the key makes creation naturally conflict on repeats.
type PairHistory struct {
	ID        string    `bson:"_id" json:"id"`
	UIDs      []string  `bson:"uids" json:"uids"`
	DayKey    string    `bson:"dayKey" json:"dayKey"`
	RoomID    string    `bson:"roomId" json:"roomId"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	ExpiresAt time.Time `bson:"expiresAt" json:"expiresAt"`
}

// UserState carries per-user transient policy state that must outlive Redis.
type UserState struct {
	UID        string     `bson:"_id" json:"uid"`
	LastLeftAt *time.Time `bson:"lastLeftAt,omitempty" json:"lastLeftAt,omitempty"`
	UpdatedAt  time.Time  `bson:"updatedAt" json:"updatedAt"`
}
