package tracking

import "time"

// SamplingPolicy holds the inputs of AdjustSamplingRate that do not change
// during a session.
type SamplingPolicy struct {
	MovingInterval        time.Duration // Default cadence while under way
	StationaryInterval    time.Duration // Cadence below SpeedThresholdKmh
	BatterySaverInterval  time.Duration // Cadence on low battery and long sessions
	BatterySaverThreshold float64       // Battery fraction that triggers the saver
	SpeedThresholdKmh     float64       // Below this the craft counts as stationary
	LongSession           time.Duration // After this, never sample faster than the saver
}

// Config holds the tracking engine tunables.
type Config struct {
	MovementThresholdKm float64       // Fixes closer than this to the last point are not appended
	PauseThreshold      time.Duration // No movement for this long pauses the track
	CheckpointEvery     int           // Persist every Nth appended sample
	CheckpointInterval  time.Duration // Periodic checkpoint while Run is active
	MaxPoints           int           // Hard cap; reaching it stops and saves the track

	Sampling SamplingPolicy
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MovementThresholdKm: 0.01,
		PauseThreshold:      5 * time.Minute,
		CheckpointEvery:     10,
		CheckpointInterval:  30 * time.Second,
		MaxPoints:           10000,

		Sampling: SamplingPolicy{
			MovingInterval:        time.Second,
			StationaryInterval:    30 * time.Second,
			BatterySaverInterval:  5 * time.Second,
			BatterySaverThreshold: 0.15,
			SpeedThresholdKmh:     0.5,
			LongSession:           2 * time.Hour,
		},
	}
}
