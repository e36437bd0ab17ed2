package models

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Entry status values. An entry holds exactly one of these after creation;
// "cooldown" and "denied" are admission results only and are never persisted.
const (
	EntryStatusQueued   = "queued"
	EntryStatusMatched  = "matched"
	EntryStatusCanceled = "canceled"
	EntryStatusExpired  = "expired"
	EntryStatusStale    = "stale"
)

// Queue partition keys. Entries only pair within the same key.
const (
	QueueKeyCountry = "country"
	QueueKeyGlobal  = "global"
	QueueKeyOwner   = "owner"
)

// Entry info hints shown to the waiting client.
const (
	EntryInfoWaiting     = "waiting"
	EntryInfoPairedToday = "paired_today"
)

// MatchEntry is a user's intent to be paired. Liveness is derived from
// LastSeenAt (heartbeats) and ExpiresAt; the sweeper deletes any entry whose
// ExpiresAt has passed, regardless of status.
type MatchEntry struct {
	ID         string      `bson:"_id" json:"id"`
	UID        string      `bson:"uid" json:"uid"`
	QueueKey   string      `bson:"queueKey" json:"queueKey"`
	Status     string      `bson:"status" json:"status"`
	CreatedAt  time.Time   `bson:"createdAt" json:"createdAt"`
	LastSeenAt time.Time   `bson:"lastSeenAt" json:"lastSeenAt"`
	ExpiresAt  time.Time   `bson:"expiresAt" json:"expiresAt"`
	Profile    ProfileSnap `bson:"profile" json:"profile"`
	RoomID     string      `bson:"roomId,omitempty" json:"roomId,omitempty"`
	MatchedAt  *time.Time  `bson:"matchedAt,omitempty" json:"matchedAt,omitempty"`
	CanceledAt *time.Time  `bson:"canceledAt,omitempty" json:"canceledAt,omitempty"`
	Info       string      `bson:"info,omitempty" json:"info,omitempty"`
}

// IsQueueKey reports whether k is one of the peer-matching partition keys.
// "owner" is reserved for bot rooms and is never a valid queue target.
func IsQueueKey(k string) bool {
	return k == QueueKeyCountry || k == QueueKeyGlobal
}

// ProfileSnap is the bounded display snapshot copied onto entries and rooms.
type ProfileSnap struct {
	Nickname string `bson:"nickname" json:"nickname"`
	Profile  string `bson:"profile" json:"profile"`
	Icon     string `bson:"icon" json:"icon"`
}

const (
	maxNicknameLen = 40
	maxProfileLen  = 120
	maxIconLen     = 200_000

	DefaultNickname = "anonymous"
	DefaultProfile  = "..."
	DefaultUserIcon = "https://storage.googleapis.com/amayadori/defaultIcon.png"
	OwnerIcon       = "https://storage.googleapis.com/amayadori/cafeownerIcon.png"
)

// SanitizeProfile clamps display fields to their length bounds and fills
// defaults for anything missing.
func SanitizeProfile(p ProfileSnap) ProfileSnap {
	nn := Truncate(strings.TrimSpace(p.Nickname), maxNicknameLen)
	if nn == "" {
		nn = DefaultNickname
	}
	pr := Truncate(strings.TrimSpace(p.Profile), maxProfileLen)
	if pr == "" {
		pr = DefaultProfile
	}
	ic := Truncate(p.Icon, maxIconLen)
	if ic == "" {
		ic = DefaultUserIcon
	}
	return ProfileSnap{Nickname: nn, Profile: pr, Icon: ic}
}

// Truncate cuts s to at most max bytes without splitting a UTF-8 rune.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
