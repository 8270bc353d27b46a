package position

import (
	"math"
	"time"
)

// Sample is one location fix. Optional readings are nil when the provider
// did not report them.
type Sample struct {
	Timestamp           time.Time `json:"timestamp"`
	Latitude            float64   `json:"latitude"`
	Longitude           float64   `json:"longitude"`
	Altitude            *float64  `json:"altitude,omitempty"`
	HorizontalAccuracyM float64   `json:"horizontal_accuracy_m"`
	SpeedKmh            *float64  `json:"speed_kmh,omitempty"`
	HeadingDeg          *float64  `json:"heading_deg,omitempty"`
}

// ValidCoordinates reports whether the sample carries a usable position.
func (s Sample) ValidCoordinates() bool {
	if math.IsNaN(s.Latitude) || math.IsNaN(s.Longitude) {
		return false
	}
	return s.Latitude >= -90 && s.Latitude <= 90 && s.Longitude >= -180 && s.Longitude <= 180
}

// Speed returns the reported speed or 0 when unknown.
func (s Sample) Speed() float64 {
	if s.SpeedKmh == nil {
		return 0
	}
	return *s.SpeedKmh
}

// Float returns a pointer to v, for the optional Sample fields.
func Float(v float64) *float64 {
	return &v
}

// Motion classifies an accepted sample relative to the last moved sample.
type Motion string

const (
	Moved      Motion = "moved"
	Stationary Motion = "stationary"
)

// Update is one element of a provider stream: either a sample or an error.
type Update struct {
	Sample *Sample
	Err    error
}
