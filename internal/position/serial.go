package position

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"backend-helmwatch/internal/logging"
	"backend-helmwatch/internal/timeutil"

	"go.bug.st/serial"
)

type SerialConfig struct {
	Port       string
	BaudRate   int
	FixTimeout time.Duration
	// SendRateCommands writes PMTK220 interval commands back to the receiver.
	SendRateCommands bool
}

// NMEAProvider reads fixes from a serial GPS receiver.
type NMEAProvider struct {
	cfg    SerialConfig
	clock  timeutil.Clock
	logger *slog.Logger

	mu       sync.Mutex
	port     io.ReadWriteCloser
	interval time.Duration
}

var openSerialFn = func(name string, baud int) (io.ReadWriteCloser, error) {
	return serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
}

func NewNMEAProvider(cfg SerialConfig, clock timeutil.Clock, logger *slog.Logger) *NMEAProvider {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &NMEAProvider{cfg: cfg, clock: clock, logger: logging.OrDiscard(logger)}
}

func (p *NMEAProvider) Subscribe(ctx context.Context, interval time.Duration) (<-chan Update, error) {
	port, err := openSerialFn(p.cfg.Port, p.cfg.BaudRate)
	if err != nil {
		return nil, classifySerialError(err)
	}

	p.mu.Lock()
	p.port = port
	p.mu.Unlock()
	p.SetInterval(interval)

	out := make(chan Update, pushBuffer)
	lines := make(chan string)
	readErr := make(chan error, 1)

	go func() {
		scan := bufio.NewScanner(port)
		for scan.Scan() {
			select {
			case lines <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scan.Err()
	}()

	go p.loop(ctx, port, lines, readErr, out)
	return out, nil
}

func (p *NMEAProvider) loop(ctx context.Context, port io.Closer, lines <-chan string, readErr <-chan error, out chan<- Update) {
	defer close(out)
	defer port.Close()

	var parser NMEAParser
	dog := watchdog{timeout: p.cfg.FixTimeout, last: p.clock.Now()}

	var tick <-chan time.Time
	if p.cfg.FixTimeout > 0 {
		ticker := p.clock.NewTicker(p.cfg.FixTimeout)
		defer ticker.Stop()
		tick = ticker.C()
	}

	emit := func(u Update) bool {
		select {
		case out <- u:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case line := <-lines:
			sample, err := parser.Feed(line)
			if err != nil {
				p.logger.Debug("nmea sentence dropped", "error", err)
				continue
			}
			if sample == nil {
				continue
			}
			dog.seen(p.clock.Now())
			if !emit(Update{Sample: sample}) {
				return
			}
		case err := <-readErr:
			if err == nil {
				err = io.EOF
			}
			emit(Update{Err: fmt.Errorf("%w: %v", ErrProviderUnavailable, err)})
			return
		case now := <-tick:
			if dog.expired(now) && !emit(Update{Err: ErrProviderTimeout}) {
				return
			}
		}
	}
}

// SetInterval records the hint and, when enabled, asks the receiver to change
// its output rate.
func (p *NMEAProvider) SetInterval(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d == p.interval {
		return
	}
	p.interval = d
	if !p.cfg.SendRateCommands || p.port == nil || d <= 0 {
		return
	}
	if _, err := io.WriteString(p.port, rateCommand(d)); err != nil {
		p.logger.Warn("gps rate command failed", "error", err)
	}
}

func classifySerialError(err error) error {
	var portErr *serial.PortError
	if errors.As(err, &portErr) && portErr.Code() == serial.PermissionDenied {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}
