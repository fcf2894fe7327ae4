package execute

import (
	"bytes"
	"strconv"
	"strings"
)

// stats is one decoded ffmpeg progress line.
type stats struct {
	Seconds float64
	FPS     float64
	Speed   float64
}

// splitStatusLines is a bufio.SplitFunc that treats carriage returns as line
// breaks. ffmpeg rewrites its stats line in place with \r, so a plain line
// scanner would only ever see the final one.
func splitStatusLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// parseStats decodes the time=, fps=, and speed= tokens from an ffmpeg stats
// line. Lines without a usable time token are not stats lines.
func parseStats(line string) (stats, bool) {
	clock := tokenAfter(line, "time=")
	if clock == "" {
		return stats{}, false
	}
	seconds, ok := parseClock(clock)
	if !ok {
		return stats{}, false
	}
	s := stats{Seconds: seconds}
	if fps := tokenAfter(line, "fps="); fps != "" {
		if v, err := strconv.ParseFloat(fps, 64); err == nil {
			s.FPS = v
		}
	}
	if speed := tokenAfter(line, "speed="); speed != "" {
		speed = strings.TrimSuffix(speed, "x")
		if v, err := strconv.ParseFloat(speed, 64); err == nil {
			s.Speed = v
		}
	}
	return s, true
}

// tokenAfter returns the whitespace-delimited token following key, tolerating
// the padding ffmpeg inserts between the key and its value.
func tokenAfter(line, key string) string {
	idx := strings.Index(line, key)
	if idx < 0 {
		return ""
	}
	rest := strings.TrimLeft(line[idx+len(key):], " ")
	if end := strings.IndexByte(rest, ' '); end >= 0 {
		rest = rest[:end]
	}
	if rest == "" || strings.EqualFold(rest, "N/A") {
		return ""
	}
	return rest
}

// parseClock converts an HH:MM:SS.cc timestamp to seconds.
func parseClock(clock string) (float64, bool) {
	parts := strings.Split(clock, ":")
	if len(parts) != 3 {
		return 0, false
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, false
	}
	return float64(hours)*3600 + float64(minutes)*60 + seconds, true
}

func percentOf(seconds, duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	percent := seconds / duration * 100
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}
	return percent
}
