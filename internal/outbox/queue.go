package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"backend-helmwatch/internal/hazard"
	"backend-helmwatch/internal/logging"
	"backend-helmwatch/internal/storage"
	"backend-helmwatch/internal/timeutil"
)

type Kind string

const (
	KindTrack  Kind = "track"
	KindHazard Kind = "hazard"
)

// Intent says that the record at <kind>/<id> must reach the remote.
type Intent struct {
	Kind        Kind      `json:"kind"`
	ID          string    `json:"id"`
	Attempts    int       `json:"attempts"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	NextAttempt time.Time `json:"next_attempt"`
	LastError   string    `json:"last_error,omitempty"`
}

func (i Intent) key() string       { return "outbox/" + string(i.Kind) + "/" + i.ID }
func (i Intent) recordKey() string { return string(i.Kind) + "/" + i.ID }

// Remote is the upstream sync endpoint.
type Remote interface {
	FetchHazards(ctx context.Context) ([]hazard.Hazard, error)
	UploadTrack(ctx context.Context, track json.RawMessage, token string) error
	UploadHazard(ctx context.Context, h json.RawMessage, token string) error
}

// TokenSource mints the bearer token sent with uploads.
type TokenSource interface {
	Token() (string, error)
}

type Config struct {
	Capacity     int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	PollInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Capacity:     256,
		BaseBackoff:  2 * time.Second,
		MaxBackoff:   5 * time.Minute,
		PollInterval: time.Second,
	}
}

// Backoff returns the wait after the given number of failed attempts.
func Backoff(cfg Config, attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	d := cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= cfg.MaxBackoff {
			return cfg.MaxBackoff
		}
	}
	return min(d, cfg.MaxBackoff)
}

type Deps struct {
	Store  storage.Store
	Remote Remote
	Tokens TokenSource
	Clock  timeutil.Clock
	Logger *slog.Logger

	// OnDelivered runs after an intent was uploaded.
	OnDelivered func(ctx context.Context, in Intent)
}

// Queue is a bounded, persisted retry queue of upload intents. Enqueue only
// touches the local store; uploads happen in Run.
type Queue struct {
	cfg         Config
	store       storage.Store
	remote      Remote
	tokens      TokenSource
	clock       timeutil.Clock
	logger      *slog.Logger
	onDelivered func(ctx context.Context, in Intent)

	mu      sync.Mutex
	pending []Intent
	wake    chan struct{}
}

func NewQueue(cfg Config, deps Deps) *Queue {
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	return &Queue{
		cfg:         cfg,
		store:       deps.Store,
		remote:      deps.Remote,
		tokens:      deps.Tokens,
		clock:       deps.Clock,
		logger:      logging.OrDiscard(deps.Logger),
		onDelivered: deps.OnDelivered,
		wake:        make(chan struct{}, 1),
	}
}

// Load restores intents persisted by a previous run.
func (q *Queue) Load(ctx context.Context) error {
	records, err := q.store.List(ctx, "outbox/")
	if err != nil {
		return err
	}
	var intents []Intent
	for _, r := range records {
		var in Intent
		if err := json.Unmarshal(r.Value, &in); err != nil {
			q.logger.Warn("dropping unreadable outbox record", "key", r.Key, "error", err)
			continue
		}
		intents = append(intents, in)
	}
	sort.SliceStable(intents, func(i, j int) bool { return intents[i].EnqueuedAt.Before(intents[j].EnqueuedAt) })

	q.mu.Lock()
	q.pending = intents
	q.mu.Unlock()
	for len(q.Pending()) > q.cfg.Capacity {
		q.evictOldest(ctx)
	}
	return nil
}

func (q *Queue) EnqueueTrack(ctx context.Context, id string) error {
	return q.Enqueue(ctx, Intent{Kind: KindTrack, ID: id})
}

func (q *Queue) EnqueueHazard(ctx context.Context, id string) error {
	return q.Enqueue(ctx, Intent{Kind: KindHazard, ID: id})
}

// Enqueue records an intent. Re-enqueueing a known intent makes it due now.
// When the queue is full the oldest intent is evicted.
func (q *Queue) Enqueue(ctx context.Context, in Intent) error {
	if in.Kind != KindTrack && in.Kind != KindHazard {
		return fmt.Errorf("unknown outbox kind %q", in.Kind)
	}
	now := q.clock.Now()
	in.Attempts = 0
	in.LastError = ""
	in.NextAttempt = now
	if in.EnqueuedAt.IsZero() {
		in.EnqueuedAt = now
	}

	q.mu.Lock()
	replaced := false
	for i := range q.pending {
		if q.pending[i].Kind == in.Kind && q.pending[i].ID == in.ID {
			in.EnqueuedAt = q.pending[i].EnqueuedAt
			q.pending[i] = in
			replaced = true
			break
		}
	}
	var evicted *Intent
	if !replaced {
		if len(q.pending) >= q.cfg.Capacity {
			oldest := q.pending[0]
			evicted = &oldest
			q.pending = q.pending[1:]
		}
		q.pending = append(q.pending, in)
	}
	q.mu.Unlock()

	if evicted != nil {
		q.logger.Warn("outbox full, evicting oldest intent", "kind", evicted.Kind, "id", evicted.ID)
		if err := q.store.Delete(ctx, evicted.key()); err != nil {
			q.logger.Warn("outbox eviction not persisted", "error", err)
		}
	}

	if err := storage.PutJSON(ctx, q.store, in.key(), in); err != nil {
		return err
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *Queue) evictOldest(ctx context.Context) {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	oldest := q.pending[0]
	q.pending = q.pending[1:]
	q.mu.Unlock()

	q.logger.Warn("outbox full, evicting oldest intent", "kind", oldest.Kind, "id", oldest.ID)
	if err := q.store.Delete(ctx, oldest.key()); err != nil {
		q.logger.Warn("outbox eviction not persisted", "error", err)
	}
}

// Pending returns a copy of the queued intents, oldest first.
func (q *Queue) Pending() []Intent {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Intent(nil), q.pending...)
}

// Run uploads due intents until ctx ends.
func (q *Queue) Run(ctx context.Context) {
	if q.remote == nil {
		q.logger.Info("no sync endpoint configured; outbox will hold intents")
		<-ctx.Done()
		return
	}
	ticker := q.clock.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	q.Drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
		case <-q.wake:
		}
		q.Drain(ctx)
	}
}

// Drain makes one pass over the intents that are due.
func (q *Queue) Drain(ctx context.Context) {
	now := q.clock.Now()
	for _, in := range q.Pending() {
		if ctx.Err() != nil {
			return
		}
		if in.NextAttempt.After(now) {
			continue
		}
		q.attempt(ctx, in, now)
	}
}

func (q *Queue) attempt(ctx context.Context, in Intent, now time.Time) {
	err := q.upload(ctx, in)
	switch {
	case err == nil:
		q.remove(ctx, in)
		if q.onDelivered != nil {
			q.onDelivered(ctx, in)
		}
	case errors.Is(err, storage.ErrNotFound):
		q.logger.Info("outbox record gone, dropping intent", "kind", in.Kind, "id", in.ID)
		q.remove(ctx, in)
	default:
		in.Attempts++
		in.LastError = err.Error()
		in.NextAttempt = now.Add(Backoff(q.cfg, in.Attempts))
		q.logger.Warn("upload failed", "kind", in.Kind, "id", in.ID, "attempts", in.Attempts, "retry_at", in.NextAttempt, "error", err)
		if q.replace(in) {
			if err := storage.PutJSON(ctx, q.store, in.key(), in); err != nil {
				q.logger.Warn("outbox retry state not persisted", "error", err)
			}
		}
	}
}

func (q *Queue) upload(ctx context.Context, in Intent) error {
	payload, err := q.store.Get(ctx, in.recordKey())
	if err != nil {
		return err
	}
	token := ""
	if q.tokens != nil {
		if token, err = q.tokens.Token(); err != nil {
			return fmt.Errorf("mint token: %w", err)
		}
	}
	if in.Kind == KindTrack {
		return q.remote.UploadTrack(ctx, payload, token)
	}
	return q.remote.UploadHazard(ctx, payload, token)
}

// replace updates a queued intent unless it was re-enqueued or evicted meanwhile.
func (q *Queue) replace(in Intent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.pending {
		if q.pending[i].Kind == in.Kind && q.pending[i].ID == in.ID {
			if q.pending[i].Attempts != in.Attempts-1 {
				return false
			}
			q.pending[i] = in
			return true
		}
	}
	return false
}

func (q *Queue) remove(ctx context.Context, in Intent) {
	q.mu.Lock()
	for i := range q.pending {
		if q.pending[i].Kind == in.Kind && q.pending[i].ID == in.ID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	q.mu.Unlock()
	if err := q.store.Delete(ctx, in.key()); err != nil {
		q.logger.Warn("outbox removal not persisted", "error", err)
	}
}
