package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"backend-helmwatch/internal/logging"
)

// Channel delivers an alert through one medium.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, ev Event, in Intensity) error
}

type Dispatcher struct {
	channels []Channel
	logger   *slog.Logger
}

func NewDispatcher(logger *slog.Logger, channels ...Channel) *Dispatcher {
	return &Dispatcher{channels: channels, logger: logging.OrDiscard(logger)}
}

// Deliver hands ev to every channel. A failing channel does not stop the rest.
func (d *Dispatcher) Deliver(ctx context.Context, ev Event) error {
	in := IntensityFor(ev.Severity)
	var errs []error
	for _, ch := range d.channels {
		if err := ch.Deliver(ctx, ev, in); err != nil {
			d.logger.Warn("alert delivery failed", "channel", ch.Name(), "hazard_id", ev.HazardID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}
