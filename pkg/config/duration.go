// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"strconv"
	"time"
)

// durationUnits maps unit tokens to their length. Go's standard units plus
// d=24h, w=7d, mm=30d, y=365d. "mm" must be looked up before "m", which
// parseDurationUnit handles by taking the longest token.
var durationUnits = map[string]time.Duration{
	"ns": time.Nanosecond,
	"us": time.Microsecond,
	"µs": time.Microsecond,
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
	"d":  24 * time.Hour,
	"w":  7 * 24 * time.Hour,
	"mm": 30 * 24 * time.Hour,
	"y":  365 * 24 * time.Hour,
}

// ParseDuration parses a duration written in Go's syntax extended with
// day-scale units: "90d", "1y", "2w12h", "1.5d". A bare "0" is permitted;
// a bare number without a unit is not.
func ParseDuration(s string) (time.Duration, error) {
	orig := s
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	negative := false
	if s[0] == '+' || s[0] == '-' {
		negative = s[0] == '-'
		s = s[1:]
	}
	if s == "0" {
		return 0, nil
	}

	var total time.Duration
	for len(s) > 0 {
		numEnd := 0
		for numEnd < len(s) && (s[numEnd] == '.' || (s[numEnd] >= '0' && s[numEnd] <= '9')) {
			numEnd++
		}
		if numEnd == 0 {
			return 0, fmt.Errorf("invalid duration %q", orig)
		}
		value, err := strconv.ParseFloat(s[:numEnd], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", orig, err)
		}
		s = s[numEnd:]

		unit, rest, err := parseDurationUnit(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", orig, err)
		}
		s = rest
		total += time.Duration(value * float64(unit))
	}

	if negative {
		total = -total
	}
	return total, nil
}

// parseDurationUnit takes the longest unit token at the head of s.
func parseDurationUnit(s string) (time.Duration, string, error) {
	end := 0
	for end < len(s) {
		r := rune(s[end])
		if r == 0xc2 && end+1 < len(s) { // first byte of µ
			end += 2
			continue
		}
		if r < 'a' || r > 'z' {
			break
		}
		end++
	}
	if end == 0 {
		return 0, "", fmt.Errorf("missing unit")
	}
	for l := end; l > 0; l-- {
		if unit, ok := durationUnits[s[:l]]; ok {
			return unit, s[l:], nil
		}
	}
	return 0, "", fmt.Errorf("unknown unit %q", s[:end])
}
