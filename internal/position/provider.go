package position

import (
	"context"
	"time"
)

// Provider is a source of location fixes. Interval hints are best-effort.
type Provider interface {
	Subscribe(ctx context.Context, interval time.Duration) (<-chan Update, error)
	SetInterval(d time.Duration)
}
