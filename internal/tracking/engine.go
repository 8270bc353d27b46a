package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"backend-helmwatch/internal/logging"
	"backend-helmwatch/internal/position"
	"backend-helmwatch/internal/power"
	"backend-helmwatch/internal/shared/geo"
	"backend-helmwatch/internal/storage"
	"backend-helmwatch/internal/timeutil"

	"github.com/google/uuid"
)

var (
	ErrAlreadyActive    = errors.New("a track is already active")
	ErrNoActiveTrack    = errors.New("no active track")
	ErrMaxPointsReached = errors.New("track reached its point limit")
)

const eventBuffer = 64

// IntervalSetter receives the desired fix interval. Providers may ignore it.
type IntervalSetter interface {
	SetInterval(d time.Duration)
}

// SyncQueue records that a saved track must be uploaded.
type SyncQueue interface {
	EnqueueTrack(ctx context.Context, id string) error
}

// Deps are the collaborators of an Engine. Only Store is required.
type Deps struct {
	Store    storage.Store
	Provider IntervalSetter
	Power    power.Source
	Sync     SyncQueue
	Clock    timeutil.Clock
	Logger   *slog.Logger
}

// Engine owns at most one active track and builds it from accepted fixes.
// All track mutation happens under mu; Run feeds it one update at a time.
type Engine struct {
	cfg      Config
	store    storage.Store
	provider IntervalSetter
	power    power.Source
	sync     SyncQueue
	clock    timeutil.Clock
	logger   *slog.Logger
	newID    func() string

	mu             sync.Mutex
	active         *Track
	lastAccepted   *position.Sample
	lastAppended   *position.Sample
	lastAppendedAt time.Time
	lastMovementAt time.Time
	lastSpeedKmh   float64
	interval       time.Duration

	events chan Event
	writer *writer
}

func NewEngine(cfg Config, deps Deps) *Engine {
	if deps.Store == nil {
		deps.Store = storage.NewMemory()
	}
	if deps.Power == nil {
		deps.Power = power.Static(1)
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	e := &Engine{
		cfg:      cfg,
		store:    deps.Store,
		provider: deps.Provider,
		power:    deps.Power,
		sync:     deps.Sync,
		clock:    deps.Clock,
		logger:   logging.OrDiscard(deps.Logger),
		newID:    uuid.NewString,
		events:   make(chan Event, eventBuffer),
	}
	e.writer = newWriter(e.store, e.logger, func(key string, err error) {
		e.emit(Event{Kind: PersistenceFailed, Error: fmt.Sprintf("%s: %v", key, err)})
	})
	return e
}

// Events returns the engine's event stream.
func (e *Engine) Events() <-chan Event { return e.events }

// Close flushes pending writes and stops the background writer.
func (e *Engine) Close() {
	e.writer.close()
}

// Flush waits until every write queued so far has been applied.
func (e *Engine) Flush(ctx context.Context) error {
	done := make(chan error, 1)
	e.writer.enqueue(writeOp{barrier: true, done: done})
	return wait(ctx, done)
}

func (e *Engine) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = e.clock.Now()
	}
	select {
	case e.events <- ev:
	default:
		e.logger.Warn("tracking event dropped", "kind", ev.Kind)
	}
}

func (e *Engine) hint(d time.Duration) {
	if e.provider != nil && d > 0 {
		e.provider.SetInterval(d)
	}
}

func (e *Engine) Start(ctx context.Context, meta Metadata) (Track, error) {
	e.mu.Lock()
	if e.active != nil {
		e.mu.Unlock()
		return Track{}, ErrAlreadyActive
	}
	now := e.clock.Now()
	t := &Track{
		ID:        e.newID(),
		State:     StateRecording,
		Metadata:  meta,
		StartedAt: now,
		Samples:   []position.Sample{},
		Waypoints: []Waypoint{},
	}
	e.active = t
	e.lastAccepted = nil
	e.lastAppended = nil
	e.lastMovementAt = now
	e.lastSpeedKmh = 0
	e.interval = e.cfg.Sampling.MovingInterval
	e.checkpointLocked(nil)
	snap := t.clone()
	e.emit(Event{Kind: TrackingStarted, TrackID: t.ID, At: now})
	e.mu.Unlock()

	e.logger.Info("tracking started", "track_id", t.ID)
	e.hint(e.cfg.Sampling.MovingInterval)
	return snap, nil
}

// Ingest applies one accepted fix to the active track. It is a no-op when
// no track is active.
func (e *Engine) Ingest(s position.Sample) {
	e.mu.Lock()
	interval := e.ingestLocked(s)
	e.mu.Unlock()
	e.hint(interval)
}

// ingestLocked returns the new fix interval, or 0 when it did not change.
func (e *Engine) ingestLocked(s position.Sample) time.Duration {
	t := e.active
	if t == nil || (t.State != StateRecording && t.State != StatePaused) {
		return 0
	}
	now := s.Timestamp
	if now.IsZero() {
		now = e.clock.Now()
	}
	e.lastAccepted = &s

	appended := false
	distance := 0.0
	if e.lastAppended == nil {
		// Statistics are measured on the fix time base from here on.
		t.StartedAt = now
		appended = true
		e.lastMovementAt = now
	} else {
		distance = geo.HaversineKm(e.lastAppended.Latitude, e.lastAppended.Longitude, s.Latitude, s.Longitude)
		if distance < e.cfg.MovementThresholdKm {
			if t.State == StateRecording && now.Sub(e.lastMovementAt) > e.cfg.PauseThreshold {
				e.transitionLocked(StatePaused, TrackingPaused, now)
			}
		} else {
			e.lastMovementAt = now
			if t.State == StatePaused {
				e.transitionLocked(StateRecording, TrackingResumed, now)
			}
			appended = true
		}
	}

	speed := e.speedLocked(s, distance, now)
	e.lastSpeedKmh = speed

	stats := &t.Statistics
	if appended {
		t.Samples = append(t.Samples, s)
		stats.DistanceKm += distance
		stats.PointCount++
		stats.MaxSpeedKmh = max(stats.MaxSpeedKmh, speed)
		if d := now.Sub(t.StartedAt).Milliseconds(); d > stats.DurationMs {
			stats.DurationMs = d
		}
		stats.recomputeAverage()
		e.lastAppended = &s
		e.lastAppendedAt = now
	}

	var changed time.Duration
	next := AdjustSamplingRate(e.cfg.Sampling, e.power.Fraction(), speed, now.Sub(t.StartedAt))
	if next != e.interval {
		e.interval = next
		changed = next
		e.emit(Event{Kind: SamplingIntervalChanged, TrackID: t.ID, At: now, Interval: next})
	}

	if !appended {
		return changed
	}
	if e.cfg.CheckpointEvery > 0 && stats.PointCount%e.cfg.CheckpointEvery == 0 {
		e.checkpointLocked(nil)
	}
	if e.cfg.MaxPoints > 0 && stats.PointCount >= e.cfg.MaxPoints {
		e.logger.Warn("track point limit reached, stopping", "track_id", t.ID, "points", stats.PointCount)
		e.emit(Event{Kind: MaxPointsReached, TrackID: t.ID, At: now, Error: ErrMaxPointsReached.Error()})
		e.stopLocked(now, true, nil)
	}
	return changed
}

// speedLocked is the reported speed, or the speed over the segment from the
// last appended fix when the provider gave none.
func (e *Engine) speedLocked(s position.Sample, distanceKm float64, now time.Time) float64 {
	if s.SpeedKmh != nil {
		return *s.SpeedKmh
	}
	if e.lastAppended == nil {
		return 0
	}
	dt := now.Sub(e.lastAppendedAt)
	if dt <= 0 {
		return 0
	}
	return distanceKm / dt.Hours()
}

func (e *Engine) transitionLocked(to State, kind EventKind, now time.Time) {
	e.active.State = to
	e.emit(Event{Kind: kind, TrackID: e.active.ID, At: now})
	e.checkpointLocked(nil)
}

func (e *Engine) checkpointLocked(done chan error) {
	snap := e.active.clone()
	e.writer.enqueue(writeOp{key: Key(snap.ID), track: &snap, done: done})
}

// stopLocked ends the active track and queues its final write or deletion.
func (e *Engine) stopLocked(now time.Time, save bool, done chan error) string {
	t := e.active
	id := t.ID
	if save {
		t.State = StateStopped
		ended := now
		t.EndedAt = &ended
		snap := t.clone()
		e.writer.enqueue(writeOp{key: Key(id), track: &snap, done: done, after: e.queueUpload(id)})
	} else {
		e.writer.enqueue(writeOp{key: Key(id), done: done})
	}
	stats := t.Statistics
	e.emit(Event{Kind: TrackingStopped, TrackID: id, At: now, Saved: save, Statistics: &stats})

	e.active = nil
	e.lastAccepted = nil
	e.lastAppended = nil
	e.logger.Info("tracking stopped", "track_id", id, "saved", save, "points", stats.PointCount, "distance_km", stats.DistanceKm)
	return id
}

func (e *Engine) queueUpload(id string) func(ctx context.Context) {
	if e.sync == nil {
		return nil
	}
	return func(ctx context.Context) {
		if err := e.sync.EnqueueTrack(ctx, id); err != nil {
			e.logger.Warn("track upload not queued", "track_id", id, "error", err)
		}
	}
}

// Stop ends the active track. With save the track is finalised, persisted
// and queued for upload; otherwise it and its checkpoints are deleted.
func (e *Engine) Stop(ctx context.Context, save bool) (string, error) {
	e.mu.Lock()
	if e.active == nil {
		e.mu.Unlock()
		return "", ErrNoActiveTrack
	}
	done := make(chan error, 1)
	id := e.stopLocked(e.clock.Now(), save, done)
	e.mu.Unlock()

	return id, wait(ctx, done)
}

// AddWaypoint marks the last accepted fix with a note and persists the
// track right away.
func (e *Engine) AddWaypoint(ctx context.Context, note string) (Waypoint, error) {
	e.mu.Lock()
	if e.active == nil || e.lastAccepted == nil {
		e.mu.Unlock()
		return Waypoint{}, ErrNoActiveTrack
	}
	now := e.clock.Now()
	wp := Waypoint{Sample: *e.lastAccepted, Note: note, MarkedAt: now}
	e.active.Waypoints = append(e.active.Waypoints, wp)
	done := make(chan error, 1)
	e.checkpointLocked(done)
	e.emit(Event{Kind: WaypointAdded, TrackID: e.active.ID, At: now})
	e.mu.Unlock()

	return wp, wait(ctx, done)
}

// Active returns a copy of the active track.
func (e *Engine) Active() (Track, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return Track{}, false
	}
	return e.active.clone(), true
}

// Interval is the fix interval last requested from the provider.
func (e *Engine) Interval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.interval
}

// Track returns the active track or a persisted one.
func (e *Engine) Track(ctx context.Context, id string) (Track, error) {
	if t, ok := e.Active(); ok && t.ID == id {
		return t, nil
	}
	var t Track
	if err := storage.GetJSON(ctx, e.store, Key(id), &t); err != nil {
		return Track{}, err
	}
	return t, nil
}

// Tracks lists persisted tracks, newest first.
func (e *Engine) Tracks(ctx context.Context) ([]Summary, error) {
	records, err := e.store.List(ctx, "track/")
	if err != nil {
		return nil, err
	}
	active, hasActive := e.Active()

	out := make([]Summary, 0, len(records))
	for _, r := range records {
		var t Track
		if err := json.Unmarshal(r.Value, &t); err != nil {
			e.logger.Warn("skipping unreadable track", "key", r.Key, "error", err)
			continue
		}
		if hasActive && t.ID == active.ID {
			t = active
		}
		out = append(out, t.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

// ReportProviderError surfaces a location error. Recording continues.
func (e *Engine) ReportProviderError(err error) {
	e.mu.Lock()
	id := ""
	if e.active != nil {
		id = e.active.ID
	}
	e.mu.Unlock()
	e.logger.Warn("location provider error", "track_id", id, "error", err)
	e.emit(Event{Kind: ProviderError, TrackID: id, Error: err.Error()})
}

// Run feeds the engine from a position stream and checkpoints the active
// track periodically, until ctx ends or the stream closes.
func (e *Engine) Run(ctx context.Context, updates <-chan position.Update) {
	var tick <-chan time.Time
	if e.cfg.CheckpointInterval > 0 {
		ticker := e.clock.NewTicker(e.cfg.CheckpointInterval)
		defer ticker.Stop()
		tick = ticker.C()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			switch {
			case u.Err != nil:
				e.ReportProviderError(u.Err)
			case u.Sample != nil:
				e.Ingest(*u.Sample)
			}
		case <-tick:
			e.mu.Lock()
			if e.active != nil {
				e.checkpointLocked(nil)
			}
			e.mu.Unlock()
		}
	}
}

func wait(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
