package models

import "time"

type NotificationKind string

const (
	NotifyStarted    NotificationKind = "started"
	NotifyMidway     NotificationKind = "midway"
	NotifyCompleted  NotificationKind = "completed"
	NotifyCheckpoint NotificationKind = "checkpoint"
	NotifySOS        NotificationKind = "sos"
)

// RideSummary is attached to the completed notification.
type RideSummary struct {
	DurationSeconds        float64 `json:"duration_seconds"`
	DistanceTraveledMeters float64 `json:"distance_traveled_m"`
	AverageSpeedKmh        float64 `json:"average_speed_kmh"`
}

type Notification struct {
	Kind       NotificationKind `json:"kind"`
	RideID     string           `json:"ride_id"`
	DriverName string           `json:"driver_name,omitempty"`
	Recipients []string         `json:"-"`
	// Position is nil when no fix has been received yet.
	Position   *Coord       `json:"position,omitempty"`
	Checkpoint string       `json:"checkpoint,omitempty"`
	Summary    *RideSummary `json:"summary,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
}

type EventType string

const (
	EventGPSError          EventType = "gps_error"
	EventCheckpointReached EventType = "checkpoint_reached"
	EventDirectionsUpdated EventType = "directions_updated"
	EventAnnouncement      EventType = "announcement"
)

// Event is a non-notification signal for observer sessions.
type Event struct {
	Type       EventType `json:"type"`
	RideID     string    `json:"ride_id"`
	Message    string    `json:"message,omitempty"`
	Checkpoint string    `json:"checkpoint,omitempty"`
	Directions []string  `json:"directions,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
