package hazard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"backend-helmwatch/internal/alert"
	"backend-helmwatch/internal/logging"
	"backend-helmwatch/internal/position"
	"backend-helmwatch/internal/shared/geo"
	"backend-helmwatch/internal/storage"
	"backend-helmwatch/internal/timeutil"

	"github.com/google/uuid"
)

const eventBuffer = 64

// Dispatcher delivers alerts to the operator.
type Dispatcher interface {
	Deliver(ctx context.Context, ev alert.Event) error
}

// SyncQueue records that a hazard must be uploaded.
type SyncQueue interface {
	EnqueueHazard(ctx context.Context, id string) error
}

// Deps are the collaborators of a Monitor. Only Catalog is required.
type Deps struct {
	Catalog    *Catalog
	Dispatcher Dispatcher
	Store      storage.Store
	Sync       SyncQueue
	Fetcher    Fetcher
	Clock      timeutil.Clock
	Logger     *slog.Logger
}

// Monitor raises proximity alerts for the hazards in its catalog.
type Monitor struct {
	cfg        Config
	catalog    *Catalog
	dispatcher Dispatcher
	store      storage.Store
	sync       SyncQueue
	fetcher    Fetcher
	clock      timeutil.Clock
	logger     *slog.Logger
	newID      func() string

	mu        sync.Mutex
	position  *position.Sample
	suspended bool
	lastAlert map[string]time.Time

	events chan Event
}

func NewMonitor(cfg Config, deps Deps) *Monitor {
	if deps.Catalog == nil {
		deps.Catalog = NewCatalog()
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	return &Monitor{
		cfg:        cfg,
		catalog:    deps.Catalog,
		dispatcher: deps.Dispatcher,
		store:      deps.Store,
		sync:       deps.Sync,
		fetcher:    deps.Fetcher,
		clock:      deps.Clock,
		logger:     logging.OrDiscard(deps.Logger),
		newID:      uuid.NewString,
		lastAlert:  map[string]time.Time{},
		events:     make(chan Event, eventBuffer),
	}
}

func (m *Monitor) Catalog() *Catalog { return m.catalog }

func (m *Monitor) Events() <-chan Event { return m.events }

func (m *Monitor) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = m.clock.Now()
	}
	select {
	case m.events <- ev:
	default:
		m.logger.Warn("hazard event dropped", "kind", ev.Kind)
	}
}

// Observe records the latest fix and checks it against the catalog.
// Cooldowns run on the monitor's clock, never on fix timestamps.
func (m *Monitor) Observe(ctx context.Context, s position.Sample) []alert.Event {
	now := m.clock.Now()
	m.mu.Lock()
	m.position = &s
	m.suspended = false
	m.mu.Unlock()
	return m.Check(ctx, now)
}

// Suspend stops proximity checks until the next fix. Catalog and cooldowns
// are kept.
func (m *Monitor) Suspend(err error) {
	m.mu.Lock()
	m.suspended = true
	m.mu.Unlock()
	m.logger.Warn("proximity checks suspended", "error", err)
	m.emit(Event{Kind: ProviderError, Error: err.Error()})
}

// Check evaluates the last known position at now and delivers any alerts.
func (m *Monitor) Check(ctx context.Context, now time.Time) []alert.Event {
	m.mu.Lock()
	if m.position == nil || m.suspended {
		m.mu.Unlock()
		return nil
	}
	alerts := m.evaluateLocked(*m.position, now)
	m.mu.Unlock()

	for i := range alerts {
		ev := alerts[i]
		if m.dispatcher != nil {
			if err := m.dispatcher.Deliver(ctx, ev); err != nil {
				m.logger.Warn("alert dispatch incomplete", "hazard_id", ev.HazardID, "error", err)
			}
		}
		m.emit(Event{Kind: AlertFired, HazardID: ev.HazardID, Alert: &ev, At: now})
	}
	return alerts
}

func (m *Monitor) evaluateLocked(pos position.Sample, now time.Time) []alert.Event {
	factor := 1 + (pos.Speed()/10)*m.cfg.SpeedAdjustmentFactor

	var out []alert.Event
	for _, h := range m.catalog.load().list {
		if m.cfg.VerifiedOnly && !h.Verified {
			continue
		}
		if !h.Verified && h.Confidence < m.cfg.MinConfidence {
			continue
		}

		distanceKm := geo.HaversineKm(pos.Latitude, pos.Longitude, h.Latitude, h.Longitude)
		bearing := geo.InitialBearing(pos.Latitude, pos.Longitude, h.Latitude, h.Longitude)

		severity, ok := m.classify(distanceKm, factor)
		if !ok {
			continue
		}
		if pos.HeadingDeg != nil && geo.HeadingDelta(bearing, *pos.HeadingDeg) > m.cfg.HeadingToleranceDeg {
			continue
		}
		if last, ok := m.lastAlert[h.ID]; ok && now.Sub(last) < m.cfg.AlertCooldown {
			continue
		}
		m.lastAlert[h.ID] = now

		meters := distanceKm * 1000
		out = append(out, alert.Event{
			HazardID:       h.ID,
			HazardType:     h.Type,
			DistanceMeters: meters,
			BearingDeg:     bearing,
			Severity:       severity,
			Message:        fmt.Sprintf("%s reported %d meters ahead, bearing %s", h.Type, int(math.Round(meters)), geo.CompassLabel(bearing)),
			FiredAt:        now,
		})
	}
	return out
}

func (m *Monitor) classify(distanceKm, factor float64) (alert.Severity, bool) {
	switch {
	case distanceKm <= m.cfg.CriticalKm*factor:
		return alert.Critical, true
	case distanceKm <= m.cfg.WarningKm*factor:
		return alert.Warning, true
	case distanceKm <= m.cfg.AdvisoryKm*factor:
		return alert.Advisory, true
	}
	return "", false
}

// Run drives the monitor from a position stream until ctx ends or the
// stream closes.
func (m *Monitor) Run(ctx context.Context, updates <-chan position.Update) {
	var check <-chan time.Time
	if m.cfg.CheckInterval > 0 {
		t := m.clock.NewTicker(m.cfg.CheckInterval)
		defer t.Stop()
		check = t.C()
	}

	var refresh <-chan time.Time
	if m.fetcher != nil && m.cfg.RefreshInterval > 0 {
		t := m.clock.NewTicker(m.cfg.RefreshInterval)
		defer t.Stop()
		refresh = t.C()
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
				m.Suspend(u.Err)
			case u.Sample != nil:
				m.Observe(ctx, *u.Sample)
			}
		case now := <-check:
			m.Check(ctx, now)
		case <-refresh:
			if err := m.RefreshCatalog(ctx); err != nil {
				m.logger.Warn("hazard catalog refresh failed", "error", err)
			}
		}
	}
}

// ReportHazard adds a locally observed hazard and queues it for upload.
func (m *Monitor) ReportHazard(ctx context.Context, r Report) (Hazard, error) {
	if err := r.validate(); err != nil {
		return Hazard{}, err
	}
	if r.Severity == "" {
		r.Severity = SeverityMedium
	}
	now := m.clock.Now()
	h := Hazard{
		ID:          m.newID(),
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
		Type:        r.Type,
		Description: r.Description,
		Severity:    r.Severity,
		Verified:    false,
		Confidence:  0.5,
		ReportCount: 1,
		ReportedBy:  r.ReportedBy,
		ReportedAt:  now,
		UpdatedAt:   now,
		Pending:     true,
	}
	m.catalog.Upsert(h)
	m.persist(ctx, h)
	if m.sync != nil {
		if err := m.sync.EnqueueHazard(ctx, h.ID); err != nil {
			m.logger.Warn("hazard upload not queued", "hazard_id", h.ID, "error", err)
		}
	}
	m.emit(Event{Kind: HazardReported, HazardID: h.ID, At: now})
	return h, nil
}

func (m *Monitor) ConfirmHazard(ctx context.Context, id, by string) (Hazard, error) {
	h, err := m.catalog.Confirm(id, by, m.clock.Now())
	if err != nil {
		return Hazard{}, err
	}
	m.persist(ctx, h)
	m.emit(Event{Kind: HazardConfirmed, HazardID: id})
	return h, nil
}

func (m *Monitor) MarkPassedSafely(ctx context.Context, id string) (Hazard, error) {
	h, err := m.catalog.MarkPassedSafely(id, m.clock.Now())
	if err != nil {
		return Hazard{}, err
	}
	m.persist(ctx, h)
	m.emit(Event{Kind: HazardPassed, HazardID: id})
	return h, nil
}

// MarkSynced is called once a reported hazard reached the remote.
func (m *Monitor) MarkSynced(ctx context.Context, id string) {
	h, err := m.catalog.MarkSynced(id)
	if err != nil {
		return
	}
	m.persist(ctx, h)
}

// RefreshCatalog pulls the remote hazard set. A failure keeps the current
// catalog.
func (m *Monitor) RefreshCatalog(ctx context.Context) error {
	if m.fetcher == nil {
		return fmt.Errorf("%w: no remote configured", ErrCatalogRefreshFailed)
	}
	if err := m.catalog.Refresh(ctx, m.fetcher); err != nil {
		m.emit(Event{Kind: CatalogRefreshFailed, Error: err.Error()})
		return err
	}
	m.pruneCooldowns()
	if m.store != nil {
		if err := m.catalog.Save(ctx, m.store); err != nil {
			m.logger.Warn("hazard cache write failed", "error", err)
			m.emit(Event{Kind: PersistenceFailed, Error: err.Error()})
		}
	}
	m.emit(Event{Kind: CatalogRefreshed, Count: m.catalog.Len()})
	return nil
}

// pruneCooldowns forgets cooldowns of hazards no longer in the catalog.
func (m *Monitor) pruneCooldowns() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.lastAlert {
		if !m.catalog.Has(id) {
			delete(m.lastAlert, id)
		}
	}
}

// LoadCache seeds the catalog from the store.
func (m *Monitor) LoadCache(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	if err := m.catalog.Load(ctx, m.store); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

func (m *Monitor) persist(ctx context.Context, h Hazard) {
	if m.store == nil {
		return
	}
	if err := storage.PutJSON(ctx, m.store, Key(h.ID), h); err != nil {
		m.logger.Warn("hazard cache write failed", "hazard_id", h.ID, "error", err)
		m.emit(Event{Kind: PersistenceFailed, HazardID: h.ID, Error: err.Error()})
	}
}
