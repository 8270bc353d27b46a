package alert

import (
	"context"
	"encoding/json"
	"time"
)

// Topic is the stream topic alert payloads are published on.
const Topic = "alerts"

// Publisher is satisfied by the stream hub.
type Publisher interface {
	Broadcast(topic string, payload []byte)
}

type banner struct {
	Kind       string    `json:"kind"`
	HazardID   string    `json:"hazard_id"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	Persistent bool      `json:"persistent"`
	FiredAt    time.Time `json:"fired_at"`
}

type VisualChannel struct {
	pub Publisher
}

func NewVisualChannel(pub Publisher) *VisualChannel {
	return &VisualChannel{pub: pub}
}

func (c *VisualChannel) Name() string { return "visual" }

func (c *VisualChannel) Deliver(_ context.Context, ev Event, in Intensity) error {
	return publish(c.pub, banner{
		Kind:       "banner",
		HazardID:   ev.HazardID,
		Severity:   ev.Severity,
		Message:    ev.Message,
		Persistent: in.RequireInteraction,
		FiredAt:    ev.FiredAt,
	})
}

type Tone struct {
	FrequencyHz int `json:"frequency_hz"`
	DurationMs  int `json:"duration_ms"`
}

const toneDuration = 250 * time.Millisecond

// TonePlan returns the tones for one alert: higher pitch for higher severity.
func TonePlan(s Severity, in Intensity) []Tone {
	freq := 440
	switch s {
	case Warning:
		freq = 660
	case Critical:
		freq = 880
	}
	tones := make([]Tone, in.Pulses)
	for i := range tones {
		tones[i] = Tone{FrequencyHz: freq, DurationMs: int(toneDuration.Milliseconds())}
	}
	return tones
}

type AudioChannel struct {
	pub Publisher
}

func NewAudioChannel(pub Publisher) *AudioChannel {
	return &AudioChannel{pub: pub}
}

func (c *AudioChannel) Name() string { return "audio" }

func (c *AudioChannel) Deliver(_ context.Context, ev Event, in Intensity) error {
	return publish(c.pub, struct {
		Kind     string `json:"kind"`
		HazardID string `json:"hazard_id"`
		Tones    []Tone `json:"tones"`
	}{Kind: "audio", HazardID: ev.HazardID, Tones: TonePlan(ev.Severity, in)})
}

const (
	pulseOn  = 200 * time.Millisecond
	pulseOff = 100 * time.Millisecond
)

// VibrationPattern returns alternating on/off durations in milliseconds.
func VibrationPattern(in Intensity) []int {
	var pattern []int
	for i := 0; i < in.Pulses; i++ {
		if i > 0 {
			pattern = append(pattern, int(pulseOff.Milliseconds()))
		}
		pattern = append(pattern, int(pulseOn.Milliseconds()))
	}
	return pattern
}

type HapticChannel struct {
	pub Publisher
}

func NewHapticChannel(pub Publisher) *HapticChannel {
	return &HapticChannel{pub: pub}
}

func (c *HapticChannel) Name() string { return "haptic" }

func (c *HapticChannel) Deliver(_ context.Context, ev Event, in Intensity) error {
	return publish(c.pub, struct {
		Kind      string `json:"kind"`
		HazardID  string `json:"hazard_id"`
		PatternMs []int  `json:"pattern_ms"`
	}{Kind: "haptic", HazardID: ev.HazardID, PatternMs: VibrationPattern(in)})
}

// NoopChannel stands in for a capability the platform lacks.
type NoopChannel struct {
	Label string
}

func (c NoopChannel) Name() string { return c.Label }

func (NoopChannel) Deliver(context.Context, Event, Intensity) error { return nil }

func publish(pub Publisher, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	pub.Broadcast(Topic, payload)
	return nil
}
