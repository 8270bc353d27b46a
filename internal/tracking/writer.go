package tracking

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"backend-helmwatch/internal/storage"
)

const writeTimeout = 10 * time.Second

var errWriterClosed = errors.New("track writer closed")

// writeOp is one queued persistence step. A nil track deletes the key; a
// barrier only reports that everything before it was applied.
type writeOp struct {
	key     string
	track   *Track
	barrier bool
	done    chan error
	after   func(ctx context.Context)
}

func (op writeOp) plainPut() bool {
	return op.track != nil && !op.barrier && op.done == nil && op.after == nil
}

// writer applies track writes in order on its own goroutine so ingestion
// never waits on the store. Consecutive checkpoints of one track collapse
// into the newest.
type writer struct {
	store  storage.Store
	logger *slog.Logger
	onFail func(key string, err error)

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []writeOp
	closed bool
	exited chan struct{}
}

func newWriter(store storage.Store, logger *slog.Logger, onFail func(string, error)) *writer {
	w := &writer{
		store:  store,
		logger: logger,
		onFail: onFail,
		exited: make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	go w.loop()
	return w
}

func (w *writer) enqueue(op writeOp) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		if op.done != nil {
			op.done <- errWriterClosed
		}
		return
	}
	if n := len(w.queue); n > 0 && op.plainPut() {
		if last := &w.queue[n-1]; last.plainPut() && last.key == op.key {
			last.track = op.track
			return
		}
	}
	w.queue = append(w.queue, op)
	w.cond.Signal()
}

func (w *writer) loop() {
	defer close(w.exited)
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.closed {
			w.cond.Wait()
		}
		if len(w.queue) == 0 {
			w.mu.Unlock()
			return
		}
		op := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		w.apply(op)
	}
}

func (w *writer) apply(op writeOp) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	switch {
	case op.barrier:
	case op.track != nil:
		err = storage.PutJSON(ctx, w.store, op.key, op.track)
	default:
		err = w.store.Delete(ctx, op.key)
	}

	if err != nil {
		w.logger.Warn("track persistence failed", "key", op.key, "error", err)
		if w.onFail != nil {
			w.onFail(op.key, err)
		}
	} else if op.after != nil {
		op.after(ctx)
	}
	if op.done != nil {
		op.done <- err
	}
}

// close applies what is queued and stops the goroutine.
func (w *writer) close() {
	w.mu.Lock()
	w.closed = true
	w.cond.Broadcast()
	w.mu.Unlock()
	<-w.exited
}
