package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const ttlSuggestion = "Use a Go duration (90m, 1h), a number of seconds (3600), or '<n> <unit>' such as '1 hour'"

// Duration is a TTL read from YAML. See ParseTTL for accepted forms.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	ttl, err := ParseTTL(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(ttl)
	return nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

var humanDuration = regexp.MustCompile(`^(\d+)\s*([A-Za-z]+)$`)

var durationUnits = map[string]time.Duration{
	"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"d": 24 * time.Hour, "day": 24 * time.Hour, "days": 24 * time.Hour,
	"w": 7 * 24 * time.Hour, "week": 7 * 24 * time.Hour, "weeks": 7 * 24 * time.Hour,
}

// ParseTTL parses a positive duration given as a Go duration ("90m"), a
// number of seconds ("3600") or a count and unit ("1 hour", "2 days").
func ParseTTL(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	var ttl time.Duration
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		ttl = time.Duration(secs) * time.Second
	} else if d, err := time.ParseDuration(s); err == nil {
		ttl = d
	} else if m := humanDuration.FindStringSubmatch(s); m != nil {
		unit, ok := durationUnits[strings.ToLower(m[2])]
		if !ok {
			return 0, fmt.Errorf("invalid duration %q: unknown unit %q", s, m[2])
		}
		n, _ := strconv.ParseInt(m[1], 10, 64)
		ttl = time.Duration(n) * unit
	} else {
		return 0, fmt.Errorf("invalid duration %q", s)
	}

	if ttl <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", s)
	}
	return ttl, nil
}
