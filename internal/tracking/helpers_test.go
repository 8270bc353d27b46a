package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"backend-helmwatch/internal/position"
	"backend-helmwatch/internal/storage"
	"backend-helmwatch/internal/timeutil"
)

const (
	originLat = 62.45
	originLng = -114.37
	// stepDeg of latitude is roughly 111 m.
	stepDeg = 0.001
)

var epoch = time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, cfg Config, deps Deps) (*Engine, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(epoch)
	if deps.Clock == nil {
		deps.Clock = clock
	}
	if deps.Store == nil {
		deps.Store = storage.NewMemory()
	}
	e := NewEngine(cfg, deps)
	t.Cleanup(e.Close)
	return e, clock
}

// sampleAt is a fix i seconds after epoch, i steps north of the origin when moving.
func sampleAt(i int, moving bool) position.Sample {
	lat := originLat
	if moving {
		lat += float64(i) * stepDeg
	}
	return position.Sample{
		Timestamp:           epoch.Add(time.Duration(i) * time.Second),
		Latitude:            lat,
		Longitude:           originLng,
		HorizontalAccuracyM: 5,
	}
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countKind(events []Event, kind EventKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func findKind(events []Event, kind EventKind) (Event, bool) {
	for _, ev := range events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return Event{}, false
}

type recordingSync struct {
	mu  sync.Mutex
	ids []string
}

func (s *recordingSync) EnqueueTrack(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
	return nil
}

func (s *recordingSync) tracked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

type recordingProvider struct {
	mu        sync.Mutex
	intervals []time.Duration
}

func (p *recordingProvider) SetInterval(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.intervals = append(p.intervals, d)
}

func (p *recordingProvider) last() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.intervals) == 0 {
		return 0
	}
	return p.intervals[len(p.intervals)-1]
}

var errDiskFull = errors.New("disk full")

type failingStore struct {
	storage.Store
}

func (failingStore) Put(context.Context, string, []byte) error {
	return errDiskFull
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}
