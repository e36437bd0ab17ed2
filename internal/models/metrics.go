package models

import "time"

// Daily KPI counter field names. These are the Mongo document fields that
// receive $inc updates; dashboards read them by name, so they are part of the
// external contract and must not be renamed.
const (
	MetricQueueEnterTotal       = "queue_enter_total"
	MetricQueueCooldownTotal    = "queue_cooldown_total"
	MetricQueueDeniedTotal      = "queue_denied_total"
	MetricMatchMadeTotal        = "match_made_total"
	MetricRoomsEndedTotal       = "rooms_ended_total"
	MetricRoomDurationTotalSec  = "room_total_duration_sec"
	MetricOwnerRoomStartedTotal = "owner_room_started_total"

	MetricRoomsEndedOwnerTotal       = "rooms_ended_owner_total"
	MetricRoomsEndedHumanTotal       = "rooms_ended_human_total"
	MetricRoomDurationOwnerTotalSec  = "room_owner_total_duration_sec"
	MetricRoomDurationHumanTotalSec  = "room_human_total_duration_sec"

	MetricMessagesTotal          = "messages_total"
	MetricMessagesToOwnerTotal   = "messages_to_owner_total"
	MetricMessagesFromOwnerTotal = "messages_from_owner_total"
	MetricMessagesToHumanTotal   = "messages_to_human_total"

	MetricVisitsTotal        = "visits_total"
	MetricVisitsUniqueTotal  = "visits_unique_total"
	MetricWeatherDeniedTotal = "weather_denied_total"
)

// MetricQueueEnterFor returns the per-queue-key enter counter field, "" for
// keys without a split.
func MetricQueueEnterFor(queueKey string) string {
	switch queueKey {
	case QueueKeyCountry:
		return "queue_enter_country_total"
	case QueueKeyGlobal:
		return "queue_enter_global_total"
	}
	return ""
}

// MetricMatchMadeFor returns the per-queue-key pairing counter field, "" for
// keys without a split.
func MetricMatchMadeFor(queueKey string) string {
	switch queueKey {
	case QueueKeyCountry:
		return "match_made_country_total"
	case QueueKeyGlobal:
		return "match_made_global_total"
	}
	return ""
}

// DailyStats is the typed view of one metricsDaily row. The stored document
// is flat ($inc writes counter fields at the top level); the store folds it
// into Counters on read, so new counters need no migration.
type DailyStats struct {
	Day       string           `bson:"-" json:"day"`
	Counters  map[string]int64 `bson:"-" json:"counters"`
	UpdatedAt time.Time        `bson:"-" json:"updatedAt"`
}

// RoomStats is the per-room close record written to metricsRooms alongside
// the daily counter batch.
type RoomStats struct {
	RoomID       string    `bson:"_id" json:"roomId"`
	QueueKey     string    `bson:"queueKey" json:"queueKey"`
	OwnerRoom    bool      `bson:"ownerRoom" json:"ownerRoom"`
	DurationSec  int64     `bson:"durationSec" json:"durationSec"`
	MessageCount int       `bson:"messageCount" json:"messageCount"`
	ClosedReason string    `bson:"closedReason" json:"closedReason"`
	Day          string    `bson:"day" json:"day"`
	CreatedAt    time.Time `bson:"createdAt" json:"createdAt"`
}

// WeatherAudit is one gate decision row, swept after 72h.
type WeatherAudit struct {
	ID        string    `bson:"_id" json:"id"`
	UID       string    `bson:"uid" json:"uid"`
	Mode      string    `bson:"mode" json:"mode"`
	Allowed   bool      `bson:"allowed" json:"allowed"`
	Reason    string    `bson:"reason,omitempty" json:"reason,omitempty"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

// Visitor marks a uid as counted for a day, backing unique-visit counting
// when Redis is absent.
type Visitor struct {
	ID        string    `bson:"_id" json:"id"` // "<day>_<uid>"
	UID       string    `bson:"uid" json:"uid"`
	Day       string    `bson:"day" json:"day"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}
