package position

import (
	"context"
	"errors"
	"sync"
	"time"

	"backend-helmwatch/internal/timeutil"
)

const pushBuffer = 64

// watchdog tracks fix silence. Callers serialise access.
type watchdog struct {
	timeout time.Duration
	last    time.Time
	fired   bool
}

func (w *watchdog) seen(now time.Time) {
	w.last = now
	w.fired = false
}

// expired reports true once per silent period longer than the timeout.
func (w *watchdog) expired(now time.Time) bool {
	if w.timeout <= 0 || w.fired || now.Sub(w.last) < w.timeout {
		return false
	}
	w.fired = true
	return true
}

// PushProvider is fed by an external bridge (the HTTP positions endpoint)
// rather than by local hardware.
type PushProvider struct {
	clock      timeutil.Clock
	fixTimeout time.Duration

	mu       sync.Mutex
	out      chan Update
	interval time.Duration
	dog      watchdog
}

func NewPushProvider(clock timeutil.Clock, fixTimeout time.Duration) *PushProvider {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &PushProvider{clock: clock, fixTimeout: fixTimeout}
}

func (p *PushProvider) Subscribe(ctx context.Context, interval time.Duration) (<-chan Update, error) {
	p.mu.Lock()
	if p.out != nil {
		p.mu.Unlock()
		return nil, errors.New("push provider already subscribed")
	}
	out := make(chan Update, pushBuffer)
	p.out = out
	p.interval = interval
	p.dog = watchdog{timeout: p.fixTimeout, last: p.clock.Now()}
	p.mu.Unlock()

	go p.watch(ctx)
	return out, nil
}

func (p *PushProvider) watch(ctx context.Context) {
	var tick <-chan time.Time
	if p.fixTimeout > 0 {
		ticker := p.clock.NewTicker(p.fixTimeout)
		defer ticker.Stop()
		tick = ticker.C()
	}

	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			close(p.out)
			p.out = nil
			p.mu.Unlock()
			return
		case now := <-tick:
			p.mu.Lock()
			if p.dog.expired(now) {
				_ = p.sendLocked(Update{Err: ErrProviderTimeout})
			}
			p.mu.Unlock()
		}
	}
}

// Push delivers a fix to the subscriber without blocking.
func (p *PushProvider) Push(s Sample) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dog.seen(p.clock.Now())
	return p.sendLocked(Update{Sample: &s})
}

// PushError forwards a bridge-side failure (for example a revoked OS
// permission) to the subscriber.
func (p *PushProvider) PushError(err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sendLocked(Update{Err: err})
}

func (p *PushProvider) sendLocked(u Update) error {
	if p.out == nil {
		return ErrProviderUnavailable
	}
	select {
	case p.out <- u:
		return nil
	default:
		return ErrBufferFull
	}
}

func (p *PushProvider) SetInterval(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interval = d
}

// Interval returns the last interval hint, which bridges poll to pace
// their uploads.
func (p *PushProvider) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}
