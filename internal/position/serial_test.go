package position

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakePort struct {
	r io.Reader

	mu      sync.Mutex
	written bytes.Buffer
}

func (f *fakePort) Read(b []byte) (int, error) { return f.r.Read(b) }
func (f *fakePort) Close() error               { return nil }

func (f *fakePort) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.Write(b)
}

func (f *fakePort) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.String()
}

func withSerialOpener(t *testing.T, fn func(string, int) (io.ReadWriteCloser, error)) {
	t.Helper()
	old := openSerialFn
	openSerialFn = fn
	t.Cleanup(func() { openSerialFn = old })
}

func TestNMEAProviderStreamsFixes(t *testing.T) {
	port := &fakePort{r: strings.NewReader(strings.Join([]string{
		ggaSentence,
		rmcSentence,
		"$GPRMC,garbage*00",
		rmcYellowknife,
	}, "\r\n") + "\r\n")}

	var gotName string
	var gotBaud int
	withSerialOpener(t, func(name string, baud int) (io.ReadWriteCloser, error) {
		gotName, gotBaud = name, baud
		return port, nil
	})

	p := NewNMEAProvider(SerialConfig{Port: "/dev/ttyUSB0", SendRateCommands: true}, nil, nil)
	updates, err := p.Subscribe(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if gotName != "/dev/ttyUSB0" || gotBaud != 9600 {
		t.Fatalf("unexpected port settings %q %d", gotName, gotBaud)
	}
	if !strings.Contains(port.String(), "$PMTK220,1000*1F") {
		t.Fatalf("expected rate command, got %q", port.String())
	}

	var samples []Sample
	var lastErr error
	for u := range updates {
		if u.Err != nil {
			lastErr = u.Err
			continue
		}
		samples = append(samples, *u.Sample)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if samples[0].HorizontalAccuracyM != 4.5 {
		t.Fatalf("expected gga accuracy on first fix")
	}
	if !errors.Is(lastErr, ErrProviderUnavailable) {
		t.Fatalf("expected unavailable at end of stream, got %v", lastErr)
	}
}

func TestNMEAProviderOpenFailure(t *testing.T) {
	withSerialOpener(t, func(string, int) (io.ReadWriteCloser, error) {
		return nil, errors.New("no such device")
	})
	p := NewNMEAProvider(SerialConfig{Port: "/dev/missing"}, nil, nil)
	if _, err := p.Subscribe(context.Background(), time.Second); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestNMEAProviderSetIntervalSkipsDuplicates(t *testing.T) {
	port := &fakePort{r: strings.NewReader("")}
	p := NewNMEAProvider(SerialConfig{SendRateCommands: true}, nil, nil)
	p.port = port

	p.SetInterval(5 * time.Second)
	p.SetInterval(5 * time.Second)
	if got := strings.Count(port.String(), "PMTK220"); got != 1 {
		t.Fatalf("expected one rate command, got %d", got)
	}
}
