package ffmpeg

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
)

var (
	durationPattern = regexp.MustCompile(`Duration:\s*(\d+:\d{2}:\d{2}(?:\.\d+)?)`)
	timePattern     = regexp.MustCompile(`time=\s*(\d+:\d{2}:\d{2}(?:\.\d+)?)`)
)

// progressTracker turns ffmpeg's stderr status lines into a completion ratio.
type progressTracker struct {
	total      float64
	fixedTotal bool
	offset     float64
}

// newProgressTracker derives the expected output length from the -t and -ss
// directives when present; otherwise it waits for the input's Duration line.
func newProgressTracker(args []string) *progressTracker {
	p := &progressTracker{}
	for i := 0; i+1 < len(args); i++ {
		v, err := strconv.ParseFloat(args[i+1], 64)
		if err != nil {
			continue
		}
		switch args[i] {
		case "-t":
			p.total = v
			p.fixedTotal = true
		case "-ss":
			p.offset = v
		}
	}
	return p
}

// Observe consumes one stderr line and returns a ratio in [0,1] when the line
// advanced the progress.
func (p *progressTracker) Observe(line string) (float64, bool) {
	if m := durationPattern.FindStringSubmatch(line); m != nil {
		if !p.fixedTotal {
			if d, ok := parseClock(m[1]); ok {
				p.total = d - p.offset
				if p.total < 0 {
					p.total = 0
				}
			}
		}
		return 0, false
	}
	m := timePattern.FindStringSubmatch(line)
	if m == nil || p.total <= 0 {
		return 0, false
	}
	elapsed, ok := parseClock(m[1])
	if !ok {
		return 0, false
	}
	ratio := elapsed / p.total
	switch {
	case ratio < 0:
		ratio = 0
	case ratio > 1:
		ratio = 1
	}
	return ratio, true
}

// parseClock parses HH:MM:SS(.frac) into seconds.
func parseClock(s string) (float64, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	sec, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, false
	}
	return float64(h)*3600 + float64(m)*60 + sec, true
}

// scanStatusLines splits on both \n and \r; ffmpeg rewrites its status line
// in place with carriage returns.
func scanStatusLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
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
