package tracking

import "time"

// AdjustSamplingRate picks the fix interval from battery level, last speed
// and time spent recording.
func AdjustSamplingRate(p SamplingPolicy, batteryFraction, lastSpeedKmh float64, elapsed time.Duration) time.Duration {
	interval := p.MovingInterval
	switch {
	case batteryFraction < p.BatterySaverThreshold:
		interval = p.BatterySaverInterval
	case lastSpeedKmh < p.SpeedThresholdKmh:
		interval = p.StationaryInterval
	}
	if elapsed >= p.LongSession && interval < p.BatterySaverInterval {
		interval = p.BatterySaverInterval
	}
	return interval
}
