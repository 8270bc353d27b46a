package tracking

import "time"

type EventKind string

const (
	TrackingStarted         EventKind = "tracking_started"
	TrackingPaused          EventKind = "tracking_paused"
	TrackingResumed         EventKind = "tracking_resumed"
	TrackingStopped         EventKind = "tracking_stopped"
	WaypointAdded           EventKind = "waypoint_added"
	SamplingIntervalChanged EventKind = "sampling_interval_changed"
	MaxPointsReached        EventKind = "max_points_reached"
	ProviderError           EventKind = "provider_error"
	PersistenceFailed       EventKind = "persistence_failed"
)

type Event struct {
	Kind       EventKind     `json:"kind"`
	TrackID    string        `json:"track_id,omitempty"`
	At         time.Time     `json:"at"`
	Saved      bool          `json:"saved,omitempty"`
	Interval   time.Duration `json:"interval,omitempty"`
	Statistics *Statistics   `json:"statistics,omitempty"`
	Error      string        `json:"error,omitempty"`
}
