package position

import "backend-helmwatch/internal/shared/geo"

type FilterConfig struct {
	AccuracyThresholdM  float64 // fixes less accurate than this are dropped
	MovementThresholdKm float64 // minimum displacement to count as moved
}

func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		AccuracyThresholdM:  50,
		MovementThresholdKm: 0.01,
	}
}

// Filter drops inaccurate fixes and labels the rest as moved or stationary.
// It is not safe for concurrent use; the pipeline owns it.
type Filter struct {
	cfg    FilterConfig
	anchor *Sample
}

func NewFilter(cfg FilterConfig) *Filter {
	return &Filter{cfg: cfg}
}

// Accept returns the motion classification and whether the sample passed.
func (f *Filter) Accept(s Sample) (Motion, bool) {
	if !s.ValidCoordinates() || !(s.HorizontalAccuracyM >= 0 && s.HorizontalAccuracyM <= f.cfg.AccuracyThresholdM) {
		return "", false
	}

	if f.anchor == nil {
		f.anchor = &s
		return Moved, true
	}

	d := geo.HaversineKm(f.anchor.Latitude, f.anchor.Longitude, s.Latitude, s.Longitude)
	if d < f.cfg.MovementThresholdKm {
		return Stationary, true
	}
	f.anchor = &s
	return Moved, true
}
