package hazard

import (
	"errors"
	"time"
)

var (
	ErrHazardNotFound        = errors.New("hazard not found")
	ErrDuplicateVerification = errors.New("hazard already confirmed by this reporter")
	ErrCatalogRefreshFailed  = errors.New("catalog refresh failed")
	ErrInvalidReport         = errors.New("invalid hazard report")
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func (s Severity) valid() bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh
}

type Hazard struct {
	ID            string    `json:"id"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Type          string    `json:"type"`
	Description   string    `json:"description,omitempty"`
	Severity      Severity  `json:"severity"`
	Verified      bool      `json:"verified"`
	Confidence    float64   `json:"confidence"`
	ReportCount   int       `json:"report_count"`
	Confirmations int       `json:"confirmations"`
	PassedSafely  int       `json:"passed_safely"`
	ConfirmedBy   []string  `json:"confirmed_by,omitempty"`
	ReportedBy    string    `json:"reported_by,omitempty"`
	ReportedAt    time.Time `json:"reported_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	// Pending is set on locally reported hazards until the upload succeeds.
	Pending bool `json:"pending,omitempty"`
}

func (h Hazard) clone() Hazard {
	h.ConfirmedBy = append([]string(nil), h.ConfirmedBy...)
	return h
}

// Report is the input for a locally reported hazard.
type Report struct {
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	ReportedBy  string   `json:"reported_by"`
}

func (r Report) validate() error {
	if r.Type == "" {
		return errors.Join(ErrInvalidReport, errors.New("type required"))
	}
	if r.Latitude < -90 || r.Latitude > 90 || r.Longitude < -180 || r.Longitude > 180 {
		return errors.Join(ErrInvalidReport, errors.New("coordinates out of range"))
	}
	if r.Severity != "" && !r.Severity.valid() {
		return errors.Join(ErrInvalidReport, errors.New("severity must be low, medium or high"))
	}
	return nil
}

// Nearby is a hazard with its distance and bearing from a query point.
type Nearby struct {
	Hazard
	DistanceKm float64 `json:"distance_km"`
	BearingDeg float64 `json:"bearing_deg"`
}

// Key is the store key of a cached hazard.
func Key(id string) string {
	return "hazard/" + id
}
