// Package retention implements the Retention Engine (spec.md §4.3): a
// pure function reconciling multiple overlapping keep-rules into the
// set of snapshots to destroy on a single dataset.
package retention

import (
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/snappy-zfs/snappy/internal/naming"
	"github.com/snappy-zfs/snappy/internal/zfs"
)

// candidate is a snapshot tagged with its parsed timestamp and its
// original descending-createtxg position, used to restore bucket
// ordering after the interval pass.
type candidate struct {
	info zfs.SnapshotInfo
	ts   time.Time
	pos  int
}

// FindExpired returns the set of snapshots to destroy: every snapshot
// in snapshots whose name parses under prefix and that is not kept by
// any keep-spec in keeps. Snapshots that don't parse under prefix are
// never expired (they belong to something else and are left alone).
func FindExpired(snapshots []zfs.SnapshotInfo, keeps []KeepSpec, prefix string) mapset.Set[zfs.Snapshot] {
	expired := mapset.NewThreadUnsafeSet[zfs.Snapshot]()

	matching := make([]candidate, 0, len(snapshots))
	for _, s := range snapshots {
		ts, ok := naming.ParseName(s.Ref.Name, prefix)
		if !ok {
			continue
		}
		matching = append(matching, candidate{info: s, ts: ts})
	}
	if len(matching) == 0 {
		return expired
	}

	// Sort descending by createtxg (newest first); Go's sort is stable,
	// matching spec.md's tie-break rule.
	sort.SliceStable(matching, func(i, j int) bool {
		return matching[i].info.Createtxg > matching[j].info.Createtxg
	})
	for i := range matching {
		matching[i].pos = i
	}

	kept := mapset.NewThreadUnsafeSet[zfs.Snapshot]()
	for _, spec := range keeps {
		for _, c := range candidatesFor(matching, spec) {
			kept.Add(c.info.Ref)
		}
	}

	for _, c := range matching {
		if !kept.Contains(c.info.Ref) {
			expired.Add(c.info.Ref)
		}
	}
	return expired
}

// WithNewestKept appends a MostRecent(1) rule to keeps. The
// orchestration layer always does this before calling FindExpired, so
// the globally newest snapshot on a dataset is never expired even when
// the operator supplies no keep-specs at all.
func WithNewestKept(keeps []KeepSpec) []KeepSpec {
	return append(append([]KeepSpec{}, keeps...), MostRecent(1))
}

// candidatesFor returns the snapshots spec keeps out of matching
// (already sorted newest-first).
func candidatesFor(matching []candidate, spec KeepSpec) []candidate {
	var selected []candidate
	if spec.IsInterval() {
		selected = intervalCandidates(matching, spec.Interval)
	} else {
		selected = matching
	}
	if spec.Count > 0 && spec.Count < len(selected) {
		selected = selected[:spec.Count]
	}
	return selected
}

// intervalCandidates partitions matching (newest-first) into fixed-
// width buckets aligned on naming.Epoch. Walking newest-to-oldest and
// overwriting each bucket's map entry means the final map holds the
// oldest snapshot seen per bucket. The result is reordered by original
// (newest-first) position, so the newest bucket's kept snapshot comes
// first.
func intervalCandidates(matching []candidate, width time.Duration) []candidate {
	byBucket := make(map[int64]candidate)
	for _, c := range matching {
		bucket := int64(c.ts.Sub(naming.Epoch) / width)
		byBucket[bucket] = c
	}

	selected := make([]candidate, 0, len(byBucket))
	for _, c := range byBucket {
		selected = append(selected, c)
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].pos < selected[j].pos
	})
	return selected
}
