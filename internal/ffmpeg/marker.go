package ffmpeg

import (
	"iter"
	"regexp"
	"strconv"
)

// startMarker matches the input start time ffmpeg prints in its stream
// summary, e.g. "  Duration: N/A, start: 1700000000.123456, bitrate: N/A".
var startMarker = regexp.MustCompile(`start: (\d+)\.(\d+)`)

// ParseStartMarker extracts the stream start instant from a diagnostic line
// as milliseconds since the Unix epoch.
func ParseStartMarker(line string) (int64, bool) {
	m := startMarker.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}

	secs, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}

	frac := m[2]
	switch {
	case len(frac) > 3:
		frac = frac[:3]
	case len(frac) < 3:
		frac += "000"[len(frac):]
	}
	millis, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, false
	}

	return secs*1000 + millis, true
}

// FindStartTime drains lines and returns the first start marker seen.
// It consumes the whole sequence, so for a live process it returns only
// after the process has exited.
func FindStartTime(lines iter.Seq[string]) (int64, bool) {
	var (
		start int64
		found bool
	)
	for line := range lines {
		if found {
			continue
		}
		start, found = ParseStartMarker(line)
	}
	return start, found
}
