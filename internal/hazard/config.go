package hazard

import "time"

// Config holds the proximity monitor tunables.
type Config struct {
	// Gating
	VerifiedOnly  bool    // Ignore unverified hazards entirely
	MinConfidence float64 // Unverified hazards below this are ignored

	// Distance tiers at zero speed (km)
	CriticalKm float64
	WarningKm  float64
	AdvisoryKm float64

	// Thresholds grow by SpeedAdjustmentFactor per 10 km/h of speed
	SpeedAdjustmentFactor float64

	HeadingToleranceDeg float64       // Half-width of the cone ahead of the bow
	AlertCooldown       time.Duration // Minimum gap between alerts for one hazard

	// Timing
	CheckInterval   time.Duration // Re-check without movement
	RefreshInterval time.Duration // Remote catalog refresh; 0 disables
}

// DefaultConfig returns the monitor defaults.
func DefaultConfig() Config {
	return Config{
		VerifiedOnly:  false,
		MinConfidence: 0.5,

		CriticalKm: 0.1,
		WarningKm:  0.3,
		AdvisoryKm: 0.5,

		SpeedAdjustmentFactor: 1.5,

		HeadingToleranceDeg: 45,
		AlertCooldown:       2 * time.Minute,

		CheckInterval:   5 * time.Second,
		RefreshInterval: 15 * time.Minute,
	}
}
