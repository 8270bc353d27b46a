package position

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	knotsToKmh = 1.852
	// hdopUERE converts HDOP to an approximate horizontal accuracy in meters.
	hdopUERE = 5.0
	// unknownAccuracyM is reported until a GGA sentence supplies an HDOP.
	unknownAccuracyM = 25.0
)

var (
	errNMEAChecksum = errors.New("nmea: checksum mismatch")
	errNMEAFormat   = errors.New("nmea: malformed sentence")
)

// NMEAParser turns NMEA 0183 sentences into samples. RMC sentences carry the
// fix; GGA sentences contribute altitude and HDOP to the following RMC.
type NMEAParser struct {
	hdop     *float64
	altitude *float64
}

// Feed parses one line. It returns a sample for each valid RMC fix, nil for
// sentences that only update parser state or that are ignored.
func (p *NMEAParser) Feed(line string) (*Sample, error) {
	fields, err := splitSentence(line)
	if err != nil {
		return nil, err
	}
	if len(fields[0]) < 5 {
		return nil, errNMEAFormat
	}

	switch fields[0][len(fields[0])-3:] {
	case "GGA":
		return nil, p.feedGGA(fields)
	case "RMC":
		return p.feedRMC(fields)
	default:
		return nil, nil
	}
}

func (p *NMEAParser) feedGGA(fields []string) error {
	if len(fields) < 10 {
		return errNMEAFormat
	}
	if fields[6] == "" || fields[6] == "0" {
		p.hdop = nil
		p.altitude = nil
		return nil
	}
	if hdop, err := strconv.ParseFloat(fields[8], 64); err == nil {
		p.hdop = &hdop
	}
	if alt, err := strconv.ParseFloat(fields[9], 64); err == nil {
		p.altitude = &alt
	}
	return nil
}

func (p *NMEAParser) feedRMC(fields []string) (*Sample, error) {
	if len(fields) < 10 {
		return nil, errNMEAFormat
	}
	if fields[2] != "A" {
		return nil, nil
	}

	lat, err := parseCoordinate(fields[3], fields[4], 2)
	if err != nil {
		return nil, err
	}
	lng, err := parseCoordinate(fields[5], fields[6], 3)
	if err != nil {
		return nil, err
	}
	ts, err := parseNMEATime(fields[9], fields[1])
	if err != nil {
		return nil, err
	}

	s := &Sample{
		Timestamp:           ts,
		Latitude:            lat,
		Longitude:           lng,
		HorizontalAccuracyM: unknownAccuracyM,
	}
	if p.hdop != nil {
		s.HorizontalAccuracyM = *p.hdop * hdopUERE
	}
	if p.altitude != nil {
		alt := *p.altitude
		s.Altitude = &alt
	}
	if knots, err := strconv.ParseFloat(fields[7], 64); err == nil {
		s.SpeedKmh = Float(knots * knotsToKmh)
	}
	if course, err := strconv.ParseFloat(fields[8], 64); err == nil {
		s.HeadingDeg = Float(course)
	}
	return s, nil
}

func splitSentence(line string) ([]string, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return nil, errNMEAFormat
	}
	body := line[1:]
	if star := strings.LastIndexByte(body, '*'); star >= 0 {
		want, err := strconv.ParseUint(body[star+1:], 16, 8)
		if err != nil {
			return nil, errNMEAFormat
		}
		body = body[:star]
		if byte(want) != checksum(body) {
			return nil, errNMEAChecksum
		}
	}
	return strings.Split(body, ","), nil
}

func checksum(body string) byte {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return sum
}

// parseCoordinate converts (d)ddmm.mmmm plus hemisphere into decimal degrees.
func parseCoordinate(value, hemisphere string, degDigits int) (float64, error) {
	if len(value) < degDigits+2 {
		return 0, errNMEAFormat
	}
	deg, err := strconv.ParseFloat(value[:degDigits], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errNMEAFormat, err)
	}
	minutes, err := strconv.ParseFloat(value[degDigits:], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errNMEAFormat, err)
	}
	out := deg + minutes/60
	switch hemisphere {
	case "N", "E":
	case "S", "W":
		out = -out
	default:
		return 0, errNMEAFormat
	}
	return out, nil
}

func parseNMEATime(date, clock string) (time.Time, error) {
	if len(date) != 6 || len(clock) < 6 {
		return time.Time{}, errNMEAFormat
	}
	ts, err := time.Parse("020106150405", date+clock[:6])
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", errNMEAFormat, err)
	}
	if len(clock) > 7 && clock[6] == '.' {
		if frac, err := strconv.ParseFloat("0"+clock[6:], 64); err == nil {
			ts = ts.Add(time.Duration(frac * float64(time.Second)))
		}
	}
	return ts.UTC(), nil
}

// rateCommand builds the MediaTek PMTK220 sentence that sets the fix interval.
func rateCommand(d time.Duration) string {
	body := fmt.Sprintf("PMTK220,%d", d.Milliseconds())
	return fmt.Sprintf("$%s*%02X\r\n", body, checksum(body))
}
