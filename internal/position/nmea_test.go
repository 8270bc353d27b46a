package position

import (
	"errors"
	"math"
	"testing"
	"time"
)

const (
	rmcSentence    = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A"
	ggaSentence    = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"
	ggaNoFix       = "$GPGGA,123519,,,,,0,00,,,M,,M,,*6B"
	rmcVoid        = "$GPRMC,123520,V,,,,,,,230394,,*39"
	rmcYellowknife = "$GNRMC,000001.50,A,6227.000,N,11422.200,W,0.0,,150626,,,A*79"
)

func TestNMEAParserRMC(t *testing.T) {
	var p NMEAParser
	s, err := p.Feed(rmcSentence)
	if err != nil || s == nil {
		t.Fatalf("feed rmc: %v", err)
	}
	if math.Abs(s.Latitude-48.1173) > 1e-4 || math.Abs(s.Longitude-11.516667) > 1e-4 {
		t.Fatalf("unexpected position %v,%v", s.Latitude, s.Longitude)
	}
	if s.SpeedKmh == nil || math.Abs(*s.SpeedKmh-22.4*1.852) > 1e-9 {
		t.Fatalf("unexpected speed %v", s.SpeedKmh)
	}
	if s.HeadingDeg == nil || *s.HeadingDeg != 84.4 {
		t.Fatalf("unexpected heading %v", s.HeadingDeg)
	}
	want := time.Date(1994, 3, 23, 12, 35, 19, 0, time.UTC)
	if !s.Timestamp.Equal(want) {
		t.Fatalf("unexpected timestamp %v", s.Timestamp)
	}
	if s.HorizontalAccuracyM != unknownAccuracyM || s.Altitude != nil {
		t.Fatalf("expected defaults before any GGA")
	}
}

func TestNMEAParserGGAEnrichesRMC(t *testing.T) {
	var p NMEAParser
	if s, err := p.Feed(ggaSentence); err != nil || s != nil {
		t.Fatalf("gga should only update state: %v %v", s, err)
	}
	s, err := p.Feed(rmcSentence)
	if err != nil || s == nil {
		t.Fatalf("feed rmc: %v", err)
	}
	if math.Abs(s.HorizontalAccuracyM-4.5) > 1e-9 {
		t.Fatalf("expected hdop-derived accuracy, got %v", s.HorizontalAccuracyM)
	}
	if s.Altitude == nil || *s.Altitude != 545.4 {
		t.Fatalf("expected altitude from gga")
	}

	if _, err := p.Feed(ggaNoFix); err != nil {
		t.Fatalf("feed gga without fix: %v", err)
	}
	s, _ = p.Feed(rmcSentence)
	if s.HorizontalAccuracyM != unknownAccuracyM {
		t.Fatalf("expected accuracy reset after lost fix")
	}
}

func TestNMEAParserSouthWestAndFraction(t *testing.T) {
	var p NMEAParser
	s, err := p.Feed(rmcYellowknife)
	if err != nil || s == nil {
		t.Fatalf("feed: %v", err)
	}
	if math.Abs(s.Latitude-62.45) > 1e-9 || math.Abs(s.Longitude+114.37) > 1e-9 {
		t.Fatalf("unexpected position %v,%v", s.Latitude, s.Longitude)
	}
	if s.HeadingDeg != nil {
		t.Fatalf("expected unknown heading")
	}
	want := time.Date(2026, 6, 15, 0, 0, 1, 500*int(time.Millisecond), time.UTC)
	if !s.Timestamp.Equal(want) {
		t.Fatalf("unexpected timestamp %v", s.Timestamp)
	}
}

func TestNMEAParserIgnoresVoidAndUnknown(t *testing.T) {
	var p NMEAParser
	if s, err := p.Feed(rmcVoid); err != nil || s != nil {
		t.Fatalf("void rmc should be ignored: %v %v", s, err)
	}
	if s, err := p.Feed("$GPGSV,1,1,00"); err != nil || s != nil {
		t.Fatalf("unknown sentence should be ignored: %v %v", s, err)
	}
}

func TestNMEAParserRejectsBadInput(t *testing.T) {
	var p NMEAParser
	if _, err := p.Feed("$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*00"); !errors.Is(err, errNMEAChecksum) {
		t.Fatalf("expected checksum error, got %v", err)
	}
	if _, err := p.Feed("GPRMC,no,dollar"); !errors.Is(err, errNMEAFormat) {
		t.Fatalf("expected format error, got %v", err)
	}
	if _, err := p.Feed("$GPRMC,1,A"); !errors.Is(err, errNMEAFormat) {
		t.Fatalf("expected short sentence error, got %v", err)
	}
}

func TestRateCommand(t *testing.T) {
	if got := rateCommand(time.Second); got != "$PMTK220,1000*1F\r\n" {
		t.Fatalf("unexpected command %q", got)
	}
}
