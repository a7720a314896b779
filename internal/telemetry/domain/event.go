package domain

import "time"

// EventType names a playback arbitration event.
type EventType string

const (
	EventLeaseOpened     EventType = "lease_opened"
	EventLeaseClosed     EventType = "lease_closed"
	EventLeasePreempted  EventType = "lease_preempted"
	EventLeaseExpired    EventType = "lease_expired"
	EventSessionConflict EventType = "session_conflict"
)

// PlaybackEvent is one arbitration outcome published to the event stream.
type PlaybackEvent struct {
	Type            EventType `json:"event_type"`
	UserID          string    `json:"user_id"`
	LeaseID         string    `json:"lease_id,omitempty"`
	DeviceClass     string    `json:"device_class,omitempty"`
	DurationSeconds int64     `json:"duration_seconds,omitempty"`
	Source          string    `json:"source,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}
