package alert

import "time"

type Severity string

const (
	Advisory Severity = "advisory"
	Warning  Severity = "warning"
	Critical Severity = "critical"
)

// Rank orders severities so callers can compare tiers.
func (s Severity) Rank() int {
	switch s {
	case Advisory:
		return 1
	case Warning:
		return 2
	case Critical:
		return 3
	}
	return 0
}

// Event is a single proximity alert. It is delivered once and then dropped.
type Event struct {
	HazardID       string    `json:"hazard_id"`
	HazardType     string    `json:"hazard_type"`
	DistanceMeters float64   `json:"distance_m"`
	BearingDeg     float64   `json:"bearing_deg"`
	Severity       Severity  `json:"severity"`
	Message        string    `json:"message"`
	FiredAt        time.Time `json:"fired_at"`
}

// Intensity is how loudly an event should be delivered.
type Intensity struct {
	Pulses             int  `json:"pulses"`
	RequireInteraction bool `json:"require_interaction"`
}

func IntensityFor(s Severity) Intensity {
	switch s {
	case Critical:
		return Intensity{Pulses: 3, RequireInteraction: true}
	case Warning:
		return Intensity{Pulses: 2}
	default:
		return Intensity{Pulses: 1}
	}
}
