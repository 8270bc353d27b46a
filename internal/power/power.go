package power

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
)

// Source reports the remaining battery as a fraction in [0, 1].
type Source interface {
	Fraction() float64
}

// Static always reports the same level.
type Static float64

func (s Static) Fraction() float64 { return clamp(float64(s)) }

// Settable holds a level pushed from outside the process.
type Settable struct {
	bits atomic.Uint64
}

func NewSettable(initial float64) *Settable {
	s := &Settable{}
	s.Set(initial)
	return s
}

func (s *Settable) Set(fraction float64) {
	s.bits.Store(math.Float64bits(clamp(fraction)))
}

func (s *Settable) Fraction() float64 {
	return math.Float64frombits(s.bits.Load())
}

// Sysfs reads /sys/class/power_supply/<device>/capacity.
// Mains-powered boats without a battery report full.
type Sysfs struct {
	Root   string
	Device string
}

func NewSysfs(device string) Sysfs {
	return Sysfs{Root: "/sys/class/power_supply", Device: device}
}

func (s Sysfs) Fraction() float64 {
	raw, err := os.ReadFile(filepath.Join(s.Root, s.Device, "capacity"))
	if err != nil {
		return 1
	}
	pct, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return 1
	}
	return clamp(pct / 100)
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 1
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
