package hazard

import (
	"context"
	"math"
	"sync"
	"time"

	"backend-helmwatch/internal/alert"
	"backend-helmwatch/internal/position"
)

const (
	originLat = 62.45
	originLng = -114.37
)

var epoch = time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)

// offset returns the point distKm away from (lat, lng) along bearingDeg.
func offset(lat, lng, bearingDeg, distKm float64) (float64, float64) {
	const earthKm = 6371.0
	phi1 := lat * math.Pi / 180
	lambda1 := lng * math.Pi / 180
	theta := bearingDeg * math.Pi / 180
	delta := distKm / earthKm

	phi2 := math.Asin(math.Sin(phi1)*math.Cos(delta) + math.Cos(phi1)*math.Sin(delta)*math.Cos(theta))
	lambda2 := lambda1 + math.Atan2(math.Sin(theta)*math.Sin(delta)*math.Cos(phi1), math.Cos(delta)-math.Sin(phi1)*math.Sin(phi2))
	return phi2 * 180 / math.Pi, lambda2 * 180 / math.Pi
}

func hazardAt(id string, bearingDeg, distKm float64) Hazard {
	lat, lng := offset(originLat, originLng, bearingDeg, distKm)
	return Hazard{
		ID:         id,
		Latitude:   lat,
		Longitude:  lng,
		Type:       "rock",
		Severity:   SeverityHigh,
		Verified:   true,
		Confidence: 1,
	}
}

func fix(speedKmh float64, heading *float64) position.Sample {
	return position.Sample{
		Timestamp:           epoch,
		Latitude:            originLat,
		Longitude:           originLng,
		HorizontalAccuracyM: 5,
		SpeedKmh:            position.Float(speedKmh),
		HeadingDeg:          heading,
	}
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alert.Event
}

func (d *recordingDispatcher) Deliver(_ context.Context, ev alert.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

type recordingSync struct {
	mu  sync.Mutex
	ids []string
}

func (s *recordingSync) EnqueueHazard(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
	return nil
}

type stubFetcher struct {
	hazards []Hazard
	err     error
}

func (f stubFetcher) FetchHazards(context.Context) ([]Hazard, error) {
	return f.hazards, f.err
}
