package retention

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/snappy-zfs/snappy/internal/errdefs"
)

// KeepSpec is a retention rule: either "keep N newest" or "keep one per
// time bucket, optionally capped to the N newest kept".
//
// It is represented as a closed sum type: Interval == 0 means
// MostRecent, matching the grammar in spec.md §6 where a bare count is
// a MostRecent rule and a count+unit is an Interval rule.
type KeepSpec struct {
	// Interval is zero for a MostRecent rule, or the bucket width for
	// an Interval rule.
	Interval time.Duration
	// Count is the cap: for MostRecent it is always set (the number to
	// keep); for Interval it is optional (zero means unbounded).
	Count int
}

// MostRecent builds a "keep the newest count matching snapshots" spec.
func MostRecent(count int) KeepSpec {
	return KeepSpec{Count: count}
}

// IntervalSpec builds a "keep one per bucket of width d" spec, capped
// to the count newest kept snapshots across buckets (0 means unbounded).
func IntervalSpec(d time.Duration, count int) KeepSpec {
	return KeepSpec{Interval: d, Count: count}
}

// IsInterval reports whether k is an Interval rule rather than a
// MostRecent one.
func (k KeepSpec) IsInterval() bool { return k.Interval > 0 }

var unitDurations = map[byte]time.Duration{
	's': time.Second,
	'm': time.Minute,
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// ParseKeepSpec parses one keep-spec per the grammar in spec.md §6:
//
//	spec      := count | interval [":" count]
//	count     := [1-9][0-9]*
//	interval  := [1-9][0-9]* unit
//	unit      := "s" | "m" | "h" | "d" | "w"
//
// A bare count is a MostRecent rule; an interval (with optional
// trailing ":count") is an Interval rule. A count of zero anywhere is
// rejected, per the historical MostRecentKeepSpec(0)/Interval(_,0)
// ambiguity resolved in spec.md §9(i).
func ParseKeepSpec(s string) (KeepSpec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return KeepSpec{}, errdefs.UserErrorf("keep-spec: empty")
	}

	body, capStr, hasCap := strings.Cut(s, ":")
	if body == "" {
		return KeepSpec{}, errdefs.UserErrorf("keep-spec %q: missing count/interval", s)
	}

	last := body[len(body)-1]
	if unit, isUnit := unitDurations[last]; isUnit {
		n, err := parsePositiveInt(body[:len(body)-1])
		if err != nil {
			return KeepSpec{}, errdefs.UserErrorf("keep-spec %q: %w", s, err)
		}
		count := 0
		if hasCap {
			count, err = parsePositiveInt(capStr)
			if err != nil {
				return KeepSpec{}, errdefs.UserErrorf("keep-spec %q: %w", s, err)
			}
		}
		return IntervalSpec(time.Duration(n)*unit, count), nil
	}

	if hasCap {
		return KeepSpec{}, errdefs.UserErrorf("keep-spec %q: a bare count cannot carry a \":count\" cap", s)
	}
	n, err := parsePositiveInt(body)
	if err != nil {
		return KeepSpec{}, errdefs.UserErrorf("keep-spec %q: %w", s, err)
	}
	return MostRecent(n), nil
}

// ParseKeepSpecs parses a comma-separated list of keep-specs, as used
// on the command line (spec.md §6).
func ParseKeepSpecs(s string) ([]KeepSpec, error) {
	var specs []KeepSpec
	for _, part := range strings.Split(s, ",") {
		spec, err := ParseKeepSpec(part)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("count must be positive, got %d", n)
	}
	return n, nil
}
