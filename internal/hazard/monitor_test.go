package hazard

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"backend-helmwatch/internal/alert"
	"backend-helmwatch/internal/position"
	"backend-helmwatch/internal/storage"
	"backend-helmwatch/internal/timeutil"
)

func newTestMonitor(cfg Config, hazards ...Hazard) (*Monitor, *recordingDispatcher) {
	d := &recordingDispatcher{}
	m := NewMonitor(cfg, Deps{
		Catalog:    NewCatalog(hazards...),
		Dispatcher: d,
		Clock:      timeutil.NewMockClock(epoch),
	})
	return m, d
}

func TestCooldownBoundary(t *testing.T) {
	m, d := newTestMonitor(DefaultConfig(), hazardAt("h1", 0, 0.05))
	ctx := context.Background()

	first := m.Observe(ctx, fix(0, nil))
	if len(first) != 1 || first[0].Severity != alert.Critical {
		t.Fatalf("expected one critical alert at t=0, got %+v", first)
	}
	if got := m.Check(ctx, epoch.Add(119999*time.Millisecond)); len(got) != 0 {
		t.Fatalf("expected no alert inside cooldown")
	}
	if got := m.Check(ctx, epoch.Add(120001*time.Millisecond)); len(got) != 1 {
		t.Fatalf("expected alert after cooldown")
	}
	if d.count() != 2 {
		t.Fatalf("expected 2 dispatched alerts, got %d", d.count())
	}
}

func TestCooldownDedupOverTwoWindows(t *testing.T) {
	cfg := DefaultConfig()
	m, _ := newTestMonitor(cfg, hazardAt("h1", 0, 0.05))
	ctx := context.Background()
	m.Observe(ctx, fix(0, nil))

	var fired []time.Time
	fired = append(fired, epoch)
	for tick := cfg.CheckInterval; tick < 2*cfg.AlertCooldown; tick += cfg.CheckInterval {
		for _, ev := range m.Check(ctx, epoch.Add(tick)) {
			fired = append(fired, ev.FiredAt)
		}
	}
	if len(fired) != 2 {
		t.Fatalf("expected exactly 2 alerts, got %d", len(fired))
	}
	if fired[1].Sub(fired[0]) < cfg.AlertCooldown {
		t.Fatalf("alerts closer than the cooldown")
	}
}

func TestHeadingCone(t *testing.T) {
	ctx := context.Background()
	heading := position.Float(0)

	behind, _ := newTestMonitor(DefaultConfig(), hazardAt("h1", 170, 0.05))
	if got := behind.Observe(ctx, fix(0, heading)); len(got) != 0 {
		t.Fatalf("hazard at 170 degrees should be outside the cone")
	}

	ahead, _ := newTestMonitor(DefaultConfig(), hazardAt("h1", 20, 0.05))
	if got := ahead.Observe(ctx, fix(0, heading)); len(got) != 1 {
		t.Fatalf("hazard at 20 degrees should alert")
	}

	unknown, _ := newTestMonitor(DefaultConfig(), hazardAt("h1", 170, 0.05))
	if got := unknown.Observe(ctx, fix(0, nil)); len(got) != 1 {
		t.Fatalf("unknown heading should not filter by direction")
	}
}

func TestSeverityOrdering(t *testing.T) {
	ctx := context.Background()
	const speed = 5.0
	var ranks []int
	for _, dist := range []float64{0.6, 0.25, 0.05} {
		m, _ := newTestMonitor(DefaultConfig(), hazardAt("h1", 0, dist))
		got := m.Observe(ctx, fix(speed, nil))
		if len(got) != 1 {
			t.Fatalf("expected alert at %.2f km", dist)
		}
		ranks = append(ranks, got[0].Severity.Rank())
	}
	want := []int{alert.Advisory.Rank(), alert.Warning.Rank(), alert.Critical.Rank()}
	for i := range want {
		if ranks[i] != want[i] {
			t.Fatalf("unexpected severity sequence %v", ranks)
		}
	}
}

func TestSpeedScalesThresholds(t *testing.T) {
	ctx := context.Background()
	slow, _ := newTestMonitor(DefaultConfig(), hazardAt("h1", 0, 0.6))
	if got := slow.Observe(ctx, fix(0, nil)); len(got) != 0 {
		t.Fatalf("0.6 km is outside the advisory range at rest")
	}
	fast, _ := newTestMonitor(DefaultConfig(), hazardAt("h1", 0, 0.6))
	if got := fast.Observe(ctx, fix(20, nil)); len(got) != 1 || got[0].Severity != alert.Warning {
		t.Fatalf("at 20 km/h 0.6 km should be a warning, got %+v", got)
	}
}

func TestConfidenceAndVerificationGates(t *testing.T) {
	ctx := context.Background()
	weak := hazardAt("weak", 0, 0.05)
	weak.Verified = false
	weak.Confidence = 0.4
	reported := hazardAt("reported", 0, 0.05)
	reported.Verified = false
	reported.Confidence = 0.5

	m, _ := newTestMonitor(DefaultConfig(), weak, reported)
	got := m.Observe(ctx, fix(0, nil))
	if len(got) != 1 || got[0].HazardID != "reported" {
		t.Fatalf("expected only the hazard at min confidence, got %+v", got)
	}

	cfg := DefaultConfig()
	cfg.VerifiedOnly = true
	strict, _ := newTestMonitor(cfg, weak, reported)
	if got := strict.Observe(ctx, fix(0, nil)); len(got) != 0 {
		t.Fatalf("verified-only should skip unverified hazards")
	}
}

func TestAlertMessage(t *testing.T) {
	m, _ := newTestMonitor(DefaultConfig(), hazardAt("h1", 90, 0.2))
	got := m.Observe(context.Background(), fix(0, nil))
	if len(got) != 1 {
		t.Fatalf("expected alert")
	}
	if got[0].Message != "rock reported 200 meters ahead, bearing E" {
		t.Fatalf("unexpected message %q", got[0].Message)
	}
}

func TestSuspendOnProviderError(t *testing.T) {
	m, _ := newTestMonitor(DefaultConfig(), hazardAt("h1", 0, 0.05))
	ctx := context.Background()
	m.Observe(ctx, fix(0, nil))

	m.Suspend(position.ErrProviderTimeout)
	if got := m.Check(ctx, epoch.Add(10*time.Minute)); len(got) != 0 {
		t.Fatalf("checks should be suspended after a provider error")
	}
	if m.Catalog().Len() != 1 {
		t.Fatalf("catalog must survive a provider error")
	}

	// cooldown state survives: a new fix inside the window stays quiet
	m.clock.(*timeutil.MockClock).Advance(time.Minute)
	if got := m.Observe(ctx, fix(0, nil)); len(got) != 0 {
		t.Fatalf("cooldown should survive suspension")
	}
}

func TestRunDrivesChecks(t *testing.T) {
	clock := timeutil.NewMockClock(epoch)
	d := &recordingDispatcher{}
	m := NewMonitor(DefaultConfig(), Deps{
		Catalog:    NewCatalog(),
		Dispatcher: d,
		Clock:      clock,
	})

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan position.Update, 1)
	done := make(chan struct{})
	go func() {
		m.Run(ctx, updates)
		close(done)
	}()

	updates <- position.Update{Sample: ptr(fix(0, nil))}
	waitFor(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.position != nil
	})

	// a hazard appears without movement; the periodic check picks it up
	m.Catalog().Upsert(hazardAt("late", 0, 0.05))
	waitFor(t, func() bool { return len(clock.Tickers()) > 0 })
	clock.Advance(DefaultConfig().CheckInterval)
	waitFor(t, func() bool { return d.count() == 1 })

	cancel()
	<-done
	if !clock.Tickers()[0].Stopped() {
		t.Fatalf("check ticker should stop with Run")
	}
}

func TestReportConfirmPassed(t *testing.T) {
	store := storage.NewMemory()
	sync := &recordingSync{}
	m := NewMonitor(DefaultConfig(), Deps{Store: store, Sync: sync, Clock: timeutil.NewMockClock(epoch)})
	ctx := context.Background()

	if _, err := m.ReportHazard(ctx, Report{Latitude: 100, Longitude: 0, Type: "rock"}); !errors.Is(err, ErrInvalidReport) {
		t.Fatalf("expected invalid report")
	}
	if _, err := m.ReportHazard(ctx, Report{Latitude: 1, Longitude: 1}); !errors.Is(err, ErrInvalidReport) {
		t.Fatalf("expected missing type to be rejected")
	}

	h, err := m.ReportHazard(ctx, Report{Latitude: originLat, Longitude: originLng, Type: "log", ReportedBy: "helm-1"})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if h.Verified || h.Confidence != 0.5 || h.ReportCount != 1 || !h.Pending || h.Severity != SeverityMedium {
		t.Fatalf("unexpected reported hazard %+v", h)
	}
	if _, ok := m.Catalog().Get(h.ID); !ok {
		t.Fatalf("reported hazard should be in the catalog immediately")
	}
	if len(sync.ids) != 1 || sync.ids[0] != h.ID {
		t.Fatalf("expected upload intent")
	}

	confirmed, err := m.ConfirmHazard(ctx, h.ID, "helm-2")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Confirmations != 1 || confirmed.Confidence < 0.599 || confirmed.Confidence > 0.601 {
		t.Fatalf("unexpected confirmation result %+v", confirmed)
	}
	if _, err := m.ConfirmHazard(ctx, h.ID, "helm-2"); !errors.Is(err, ErrDuplicateVerification) {
		t.Fatalf("expected duplicate verification, got %v", err)
	}
	if _, err := m.ConfirmHazard(ctx, "missing", "helm-2"); !errors.Is(err, ErrHazardNotFound) {
		t.Fatalf("expected not found")
	}

	passed, err := m.MarkPassedSafely(ctx, h.ID)
	if err != nil {
		t.Fatalf("passed: %v", err)
	}
	if passed.PassedSafely != 1 || passed.Confidence != confirmed.Confidence {
		t.Fatalf("passing safely must not change confidence")
	}

	var cached Hazard
	if err := storage.GetJSON(ctx, store, Key(h.ID), &cached); err != nil {
		t.Fatalf("expected cached hazard: %v", err)
	}
	if cached.PassedSafely != 1 {
		t.Fatalf("cache should hold latest counters")
	}

	m.MarkSynced(ctx, h.ID)
	if got, _ := m.Catalog().Get(h.ID); got.Pending {
		t.Fatalf("expected pending cleared")
	}
}

func TestConfidenceCapsAtOne(t *testing.T) {
	h := hazardAt("h1", 0, 1)
	h.Confidence = 0.95
	c := NewCatalog(h)
	got, err := c.Confirm("h1", "", epoch)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got.Confidence != 1 {
		t.Fatalf("confidence should cap at 1, got %v", got.Confidence)
	}
}

func TestRefreshCatalog(t *testing.T) {
	store := storage.NewMemory()
	ctx := context.Background()
	stale := hazardAt("stale", 0, 1)
	m := NewMonitor(DefaultConfig(), Deps{
		Catalog: NewCatalog(stale),
		Store:   store,
		Fetcher: stubFetcher{err: errors.New("offline")},
		Clock:   timeutil.NewMockClock(epoch),
	})

	err := m.RefreshCatalog(ctx)
	if !errors.Is(err, ErrCatalogRefreshFailed) {
		t.Fatalf("expected refresh failure, got %v", err)
	}
	if _, ok := m.Catalog().Get("stale"); !ok {
		t.Fatalf("failed refresh must keep the previous catalog")
	}

	m.fetcher = stubFetcher{hazards: []Hazard{hazardAt("fresh", 0, 1)}}
	if err := m.RefreshCatalog(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, ok := m.Catalog().Get("stale"); ok {
		t.Fatalf("refresh should replace the catalog")
	}

	records, _ := store.List(ctx, "hazard/")
	if len(records) != 1 || !strings.HasSuffix(records[0].Key, "fresh") {
		t.Fatalf("expected cache to mirror the catalog, got %+v", records)
	}

	reloaded := NewMonitor(DefaultConfig(), Deps{Store: store})
	if err := reloaded.LoadCache(ctx); err != nil {
		t.Fatalf("load cache: %v", err)
	}
	if _, ok := reloaded.Catalog().Get("fresh"); !ok {
		t.Fatalf("expected hazard loaded from cache")
	}
}

func TestRefreshWithoutRemote(t *testing.T) {
	m := NewMonitor(DefaultConfig(), Deps{})
	if err := m.RefreshCatalog(context.Background()); !errors.Is(err, ErrCatalogRefreshFailed) {
		t.Fatalf("expected refresh failure without remote")
	}
}

func ptr[T any](v T) *T { return &v }

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

func TestCooldownIgnoresFixClockSkew(t *testing.T) {
	clock := timeutil.NewMockClock(epoch.Add(10 * time.Minute))
	d := &recordingDispatcher{}
	m := NewMonitor(DefaultConfig(), Deps{
		Catalog:    NewCatalog(hazardAt("h1", 0, 0.05)),
		Dispatcher: d,
		Clock:      clock,
	})
	ctx := context.Background()

	// the fix is stamped ten minutes behind the daemon clock
	first := m.Observe(ctx, fix(0, nil))
	if len(first) != 1 || !first[0].FiredAt.Equal(clock.Now()) {
		t.Fatalf("expected one alert stamped with the monitor clock, got %+v", first)
	}

	clock.Advance(DefaultConfig().CheckInterval)
	if got := m.Check(ctx, clock.Now()); len(got) != 0 {
		t.Fatalf("expected no alert inside the cooldown, got %d", len(got))
	}

	clock.Advance(DefaultConfig().AlertCooldown)
	if got := m.Check(ctx, clock.Now()); len(got) != 1 {
		t.Fatalf("expected an alert once the cooldown passed, got %d", len(got))
	}
	if d.count() != 2 {
		t.Fatalf("expected 2 dispatched alerts, got %d", d.count())
	}
}

func TestRefreshForgetsCooldownsOfRemovedHazards(t *testing.T) {
	ctx := context.Background()
	m := NewMonitor(DefaultConfig(), Deps{
		Catalog: NewCatalog(hazardAt("gone", 0, 0.05), hazardAt("kept", 90, 0.05)),
		Fetcher: stubFetcher{hazards: []Hazard{hazardAt("kept", 90, 0.05)}},
		Clock:   timeutil.NewMockClock(epoch),
	})
	if got := m.Observe(ctx, fix(0, nil)); len(got) != 2 {
		t.Fatalf("expected both hazards to alert, got %d", len(got))
	}

	if err := m.RefreshCatalog(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	m.mu.Lock()
	_, gone := m.lastAlert["gone"]
	_, kept := m.lastAlert["kept"]
	m.mu.Unlock()
	if gone || !kept {
		t.Fatalf("expected only the kept hazard's cooldown, gone=%v kept=%v", gone, kept)
	}
}

func TestRefreshKeepsLocalConfirmations(t *testing.T) {
	ctx := context.Background()
	remote := hazardAt("h1", 0, 1)
	m := NewMonitor(DefaultConfig(), Deps{
		Catalog: NewCatalog(remote),
		Fetcher: stubFetcher{hazards: []Hazard{remote}},
		Clock:   timeutil.NewMockClock(epoch),
	})

	if _, err := m.ConfirmHazard(ctx, "h1", "dev-a"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := m.RefreshCatalog(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	h, _ := m.Catalog().Get("h1")
	if h.Confirmations != 1 || len(h.ConfirmedBy) != 1 || h.ConfirmedBy[0] != "dev-a" {
		t.Fatalf("refresh dropped the local confirmation: %+v", h)
	}
	if _, err := m.ConfirmHazard(ctx, "h1", "dev-a"); !errors.Is(err, ErrDuplicateVerification) {
		t.Fatalf("expected ErrDuplicateVerification after refresh, got %v", err)
	}
}
