package types

import "time"

// Device is a registered sensor. LastSeenAt is nil until a poll succeeds.
type Device struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	DeviceType  *string    `json:"device_type"`
	APIURL      string     `json:"api_url"`
	FirstSeenAt time.Time  `json:"first_seen_at"`
	LastSeenAt  *time.Time `json:"last_seen_at"`
}

// Poll is one entry of the poll log.
type Poll struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	PolledAt   time.Time `json:"polled_at"`
	Valid      bool      `json:"valid"`
	DurationMS int64     `json:"duration_ms"`
}

// Current is the live view of the polled device.
type Current struct {
	DeviceID   string         `json:"device_id"`
	Valid      bool           `json:"valid"`
	Attributes map[string]any `json:"attributes"`
	Entities   []EntityState  `json:"entities"`
}

type EntityState struct {
	Key       string `json:"key"`
	UniqueID  string `json:"unique_id"`
	Name      string `json:"name"`
	Component string `json:"component"`
	Unit      string `json:"unit_of_measurement,omitempty"`
	Icon      string `json:"icon,omitempty"`
	State     any    `json:"state"`
}
