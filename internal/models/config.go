package models

import "time"

// Weather gate modes.
const (
	WeatherModeOff     = "off"
	WeatherModeLog     = "log"
	WeatherModeEnforce = "enforce"
)

// RuntimeConfigID is the _id of the single settings document.
const RuntimeConfigID = "global"

// RuntimeConfig is the single mutable settings document ("global" id).
// Admins edit it through the API; every node reads it with a short cache.
type RuntimeConfig struct {
	ID          string    `bson:"_id" json:"-"`
	WeatherMode string    `bson:"weatherMode" json:"weatherMode"`
	CooldownSec int       `bson:"cooldownSec" json:"cooldownSec"`
	UpdatedAt   time.Time `bson:"updatedAt" json:"updatedAt"`
}

// DefaultRuntimeConfig is what a fresh deployment runs with before any
// admin edit.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		ID:          RuntimeConfigID,
		WeatherMode: WeatherModeOff,
		CooldownSec: 30,
	}
}

// ValidWeatherMode reports whether m is an accepted gate mode.
func ValidWeatherMode(m string) bool {
	return m == WeatherModeOff || m == WeatherModeLog || m == WeatherModeEnforce
}
