package tracking

import (
	"time"

	"backend-helmwatch/internal/position"
)

type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StatePaused    State = "paused"
	StateStopped   State = "stopped"
)

type Metadata struct {
	Name   string `json:"name,omitempty"`
	Vessel string `json:"vessel,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

type Statistics struct {
	DistanceKm      float64 `json:"distance_km"`
	DurationMs      int64   `json:"duration_ms"`
	AverageSpeedKmh float64 `json:"average_speed_kmh"`
	MaxSpeedKmh     float64 `json:"max_speed_kmh"`
	PointCount      int     `json:"point_count"`
}

func (s *Statistics) recomputeAverage() {
	if s.DurationMs <= 0 {
		s.AverageSpeedKmh = 0
		return
	}
	s.AverageSpeedKmh = s.DistanceKm / (float64(s.DurationMs) / 3_600_000)
}

type Waypoint struct {
	Sample   position.Sample `json:"sample"`
	Note     string          `json:"note"`
	MarkedAt time.Time       `json:"marked_at"`
}

type Track struct {
	ID         string            `json:"id"`
	State      State             `json:"state"`
	Metadata   Metadata          `json:"metadata"`
	StartedAt  time.Time         `json:"started_at"`
	EndedAt    *time.Time        `json:"ended_at,omitempty"`
	Samples    []position.Sample `json:"samples"`
	Waypoints  []Waypoint        `json:"waypoints"`
	Statistics Statistics        `json:"statistics"`
}

func (t *Track) clone() Track {
	c := *t
	c.Samples = append([]position.Sample(nil), t.Samples...)
	c.Waypoints = append([]Waypoint(nil), t.Waypoints...)
	if t.EndedAt != nil {
		ended := *t.EndedAt
		c.EndedAt = &ended
	}
	return c
}

// Summary is a track without its samples.
type Summary struct {
	ID         string     `json:"id"`
	State      State      `json:"state"`
	Metadata   Metadata   `json:"metadata"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Waypoints  int        `json:"waypoints"`
	Statistics Statistics `json:"statistics"`
}

func (t Track) Summary() Summary {
	return Summary{
		ID:         t.ID,
		State:      t.State,
		Metadata:   t.Metadata,
		StartedAt:  t.StartedAt,
		EndedAt:    t.EndedAt,
		Waypoints:  len(t.Waypoints),
		Statistics: t.Statistics,
	}
}

// Key is the store key of a persisted track.
func Key(id string) string {
	return "track/" + id
}
