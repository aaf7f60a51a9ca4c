// Package naming converts between (prefix, timestamp) pairs and the
// canonical on-disk snapshot name snappy manages, and defines the
// epoch interval buckets are aligned to.
package naming

import (
	"fmt"
	"time"
)

// layout is the %Y-%m-%d-%H%M%S timestamp serialization used on disk.
const layout = "2006-01-02-150405"

// DefaultPrefix is used when the operator does not supply one.
const DefaultPrefix = "snappy"

// Epoch is the fixed point interval buckets are aligned to: Monday
// 2001-01-01 00:00:00, chosen because it is a Monday, so weekly
// buckets align with week boundaries.
var Epoch = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)

// MakeName renders the canonical snapshot name for prefix and ts,
// truncated to whole seconds.
func MakeName(prefix string, ts time.Time) string {
	return fmt.Sprintf("%s-%s", prefix, FormatTimestamp(ts))
}

// FormatTimestamp renders ts (truncated to whole seconds) using the
// same %Y-%m-%d-%H%M%S layout MakeName embeds, for callers that build
// other on-disk names carrying a timestamp (e.g. the moved-target
// rename in spec.md §6).
func FormatTimestamp(ts time.Time) string {
	return ts.Truncate(time.Second).Format(layout)
}

// ParseName returns the timestamp encoded in name if it begins with
// "<prefix>-" and the remainder parses strictly as %Y-%m-%d-%H%M%S. It
// returns ok=false for any other name, including one managed under a
// different prefix.
func ParseName(name, prefix string) (ts time.Time, ok bool) {
	want := prefix + "-"
	if len(name) <= len(want) || name[:len(want)] != want {
		return time.Time{}, false
	}
	rest := name[len(want):]
	t, err := time.Parse(layout, rest)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Matches reports whether name is a snappy-managed snapshot name under
// prefix, without needing the full timestamp back.
func Matches(name, prefix string) bool {
	_, ok := ParseName(name, prefix)
	return ok
}
