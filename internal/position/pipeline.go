package position

import (
	"context"
	"log/slog"
	"sync"

	"backend-helmwatch/internal/logging"
)

const subscriberBuffer = 256

// Pipeline filters one provider stream and fans it out to independent
// consumers. Each consumer gets its own buffered channel; delivery is ordered
// and lossless, so a consumer that falls a full buffer behind slows the
// provider rather than losing fixes.
type Pipeline struct {
	filter *Filter
	logger *slog.Logger

	mu   sync.Mutex
	subs []chan Update
}

func NewPipeline(filter *Filter, logger *slog.Logger) *Pipeline {
	return &Pipeline{filter: filter, logger: logging.OrDiscard(logger)}
}

// Subscribe returns a new consumer channel. It is closed when Run returns.
// Subscribers must be registered before Run starts.
func (p *Pipeline) Subscribe() <-chan Update {
	ch := make(chan Update, subscriberBuffer)
	p.mu.Lock()
	p.subs = append(p.subs, ch)
	p.mu.Unlock()
	return ch
}

// Run consumes in until it closes or ctx ends.
func (p *Pipeline) Run(ctx context.Context, in <-chan Update) {
	p.mu.Lock()
	subs := append([]chan Update(nil), p.subs...)
	p.mu.Unlock()

	defer func() {
		for _, ch := range subs {
			close(ch)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-in:
			if !ok {
				return
			}
			out, keep := p.process(u)
			if !keep {
				continue
			}
			for _, ch := range subs {
				select {
				case ch <- out:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (p *Pipeline) process(u Update) (Update, bool) {
	if u.Err != nil {
		p.logger.Warn("location provider error", "error", u.Err)
		return u, true
	}
	if u.Sample == nil {
		return u, false
	}
	if _, ok := p.filter.Accept(*u.Sample); !ok {
		p.logger.Debug("fix rejected", "accuracy_m", u.Sample.HorizontalAccuracyM)
		return u, false
	}
	sample := *u.Sample
	return Update{Sample: &sample}, true
}
