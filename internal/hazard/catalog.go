package hazard

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"backend-helmwatch/internal/shared/geo"
	"backend-helmwatch/internal/storage"
)

// Fetcher pulls the authoritative hazard list from the remote endpoint.
type Fetcher interface {
	FetchHazards(ctx context.Context) ([]Hazard, error)
}

type snapshot struct {
	list []Hazard
	byID map[string]int
}

func newSnapshot(list []Hazard) *snapshot {
	s := &snapshot{list: list, byID: make(map[string]int, len(list))}
	for i, h := range list {
		s.byID[h.ID] = i
	}
	return s
}

// Catalog is the in-memory hazard set. Readers load an immutable snapshot;
// writers build a new one and swap it in.
type Catalog struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

func NewCatalog(hazards ...Hazard) *Catalog {
	c := &Catalog{}
	c.snap.Store(newSnapshot(cloneAll(hazards)))
	return c
}

func (c *Catalog) load() *snapshot {
	return c.snap.Load()
}

func (c *Catalog) Len() int {
	return len(c.load().list)
}

func (c *Catalog) Snapshot() []Hazard {
	return cloneAll(c.load().list)
}

func (c *Catalog) Get(id string) (Hazard, bool) {
	s := c.load()
	i, ok := s.byID[id]
	if !ok {
		return Hazard{}, false
	}
	return s.list[i].clone(), true
}

// Nearby returns hazards within radiusKm of the point, closest first.
func (c *Catalog) Nearby(lat, lng, radiusKm float64) []Nearby {
	var out []Nearby
	for _, h := range c.load().list {
		d := geo.HaversineKm(lat, lng, h.Latitude, h.Longitude)
		if d > radiusKm {
			continue
		}
		out = append(out, Nearby{
			Hazard:     h.clone(),
			DistanceKm: d,
			BearingDeg: geo.InitialBearing(lat, lng, h.Latitude, h.Longitude),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out
}

// Replace swaps in a fresh remote set. Local reports still waiting for
// upload are kept when the remote does not know them yet, and hazards known
// on both sides keep the larger of each counter and every confirmer.
func (c *Catalog) Replace(hazards []Hazard) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.load()
	next := cloneAll(hazards)
	incoming := make(map[string]struct{}, len(next))
	for i := range next {
		incoming[next[i].ID] = struct{}{}
		if j, ok := cur.byID[next[i].ID]; ok {
			mergeLocal(&next[i], cur.list[j])
		}
	}
	for _, h := range cur.list {
		if _, ok := incoming[h.ID]; !ok && h.Pending {
			next = append(next, h.clone())
		}
	}
	c.snap.Store(newSnapshot(next))
}

// mergeLocal folds local observations into the remote copy. Counters only
// grow.
func mergeLocal(remote *Hazard, local Hazard) {
	remote.ReportCount = max(remote.ReportCount, local.ReportCount)
	remote.Confirmations = max(remote.Confirmations, local.Confirmations)
	remote.PassedSafely = max(remote.PassedSafely, local.PassedSafely)
	remote.Confidence = max(remote.Confidence, local.Confidence)
	if local.UpdatedAt.After(remote.UpdatedAt) {
		remote.UpdatedAt = local.UpdatedAt
	}
	for _, by := range local.ConfirmedBy {
		if !slices.Contains(remote.ConfirmedBy, by) {
			remote.ConfirmedBy = append(remote.ConfirmedBy, by)
		}
	}
}

// Has reports whether id is in the catalog.
func (c *Catalog) Has(id string) bool {
	_, ok := c.load().byID[id]
	return ok
}

func (c *Catalog) Upsert(h Hazard) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.load()
	next := cloneAll(cur.list)
	if i, ok := cur.byID[h.ID]; ok {
		next[i] = h.clone()
	} else {
		next = append(next, h.clone())
	}
	c.snap.Store(newSnapshot(next))
}

func (c *Catalog) update(id string, fn func(*Hazard) error) (Hazard, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.load()
	i, ok := cur.byID[id]
	if !ok {
		return Hazard{}, ErrHazardNotFound
	}
	next := cloneAll(cur.list)
	if err := fn(&next[i]); err != nil {
		return Hazard{}, err
	}
	c.snap.Store(newSnapshot(next))
	return next[i].clone(), nil
}

// Confirm records that by has seen the hazard. Each reporter counts once;
// an empty reporter is anonymous and always counts.
func (c *Catalog) Confirm(id, by string, now time.Time) (Hazard, error) {
	return c.update(id, func(h *Hazard) error {
		if by != "" {
			for _, prev := range h.ConfirmedBy {
				if prev == by {
					return ErrDuplicateVerification
				}
			}
			h.ConfirmedBy = append(h.ConfirmedBy, by)
		}
		h.Confirmations++
		h.Confidence = min(1, h.Confidence+0.1)
		h.UpdatedAt = now
		return nil
	})
}

// MarkPassedSafely bumps the passed counter. Confidence is left alone.
func (c *Catalog) MarkPassedSafely(id string, now time.Time) (Hazard, error) {
	return c.update(id, func(h *Hazard) error {
		h.PassedSafely++
		h.UpdatedAt = now
		return nil
	})
}

// MarkSynced clears the pending flag once the remote has the hazard.
func (c *Catalog) MarkSynced(id string) (Hazard, error) {
	return c.update(id, func(h *Hazard) error {
		h.Pending = false
		return nil
	})
}

// Refresh replaces the catalog with the remote set. On failure the current
// catalog is left as is.
func (c *Catalog) Refresh(ctx context.Context, f Fetcher) error {
	hazards, err := f.FetchHazards(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCatalogRefreshFailed, err)
	}
	c.Replace(hazards)
	return nil
}

// Load seeds the catalog from the hazards cached in the store.
func (c *Catalog) Load(ctx context.Context, store storage.Store) error {
	records, err := store.List(ctx, "hazard/")
	if err != nil {
		return err
	}
	hazards := make([]Hazard, 0, len(records))
	for _, r := range records {
		var h Hazard
		if err := json.Unmarshal(r.Value, &h); err != nil {
			return fmt.Errorf("decode %s: %w", r.Key, err)
		}
		hazards = append(hazards, h)
	}
	c.mu.Lock()
	c.snap.Store(newSnapshot(hazards))
	c.mu.Unlock()
	return nil
}

// Save writes every hazard to the store and removes cached hazards that are
// no longer in the catalog.
func (c *Catalog) Save(ctx context.Context, store storage.Store) error {
	snap := c.load()
	for _, h := range snap.list {
		if err := storage.PutJSON(ctx, store, Key(h.ID), h); err != nil {
			return err
		}
	}
	records, err := store.List(ctx, "hazard/")
	if err != nil {
		return err
	}
	for _, r := range records {
		id := r.Key[len("hazard/"):]
		if _, ok := snap.byID[id]; !ok {
			if err := store.Delete(ctx, r.Key); err != nil {
				return err
			}
		}
	}
	return nil
}

func cloneAll(list []Hazard) []Hazard {
	out := make([]Hazard, len(list))
	for i, h := range list {
		out[i] = h.clone()
	}
	return out
}
