// Package orchestrator implements the Orchestrator (spec.md §4.5) and
// Auto Mode (§4.6): it expands operator-supplied datasets, creates
// snapshots, drives replication, and prunes, wiring together the
// Storage Driver, Retention Engine, and Replication Engine.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/containerd/log"

	"github.com/snappy-zfs/snappy/internal/errdefs"
	"github.com/snappy-zfs/snappy/internal/naming"
	"github.com/snappy-zfs/snappy/internal/retention"
	"github.com/snappy-zfs/snappy/internal/zfs"
)

// StorageDriver is the subset of zfs.Driver the Orchestrator needs.
type StorageDriver interface {
	ListChildren(ctx context.Context, dataset zfs.Dataset) ([]zfs.Dataset, error)
	ListSnapshotsAndBookmarks(ctx context.Context, dataset zfs.Dataset, quiet bool) ([]zfs.SnapshotInfo, []zfs.BookmarkInfo, error)
	CreateSnapshots(ctx context.Context, snapshots []zfs.Snapshot) error
	DestroySnapshots(ctx context.Context, snapshots []zfs.Snapshot) error
}

// ReplicationEngine is the subset of replication.Engine the
// Orchestrator needs.
type ReplicationEngine interface {
	SendSnapshots(ctx context.Context, source, target zfs.Dataset, prefix string) error
}

// Clock supplies "now", called exactly once per run (spec.md §9).
type Clock interface {
	Now() time.Time
}

// Actions is the action mask restricting which phases of a run
// execute; Auto Mode (spec.md §4.6) uses this to let snapshot and send
// run on independent schedules.
type Actions struct {
	Snapshot bool
	Send     bool
}

// AllActions is the default mask: both snapshot and send run.
func AllActions() Actions { return Actions{Snapshot: true, Send: true} }

// Job is one Orchestrator invocation's full input, spec.md §4.5.
type Job struct {
	Datasets          []zfs.Dataset
	Recursive         bool
	Exclude           []zfs.Dataset
	Prefix            string
	TakeSnapshot      bool
	PreSnapshotScript string
	KeepSpecs         []retention.KeepSpec
	SendTarget        zfs.Dataset
	SendBase          zfs.Dataset
	Actions           Actions
}

// Orchestrator runs Jobs against the Storage Driver and Replication
// Engine.
type Orchestrator struct {
	Driver      StorageDriver
	Replication ReplicationEngine
	Clock       Clock
}

// Run executes job's steps in the order spec.md §4.5 lays out.
func (o Orchestrator) Run(ctx context.Context, job Job) error {
	logger := log.G(ctx)

	prefix := job.Prefix
	if prefix == "" {
		prefix = naming.DefaultPrefix
	}

	if job.Actions.Snapshot && job.PreSnapshotScript != "" {
		if err := runPreSnapshotScript(ctx, job.PreSnapshotScript); err != nil {
			return err
		}
	}

	selected, err := o.resolveSelected(ctx, job.Datasets, job.Exclude, job.Recursive)
	if err != nil {
		return err
	}

	if job.Actions.Snapshot && job.TakeSnapshot {
		now := o.Clock.Now()
		name := naming.MakeName(prefix, now)
		snaps := make([]zfs.Snapshot, len(selected))
		for i, d := range selected {
			snaps[i] = zfs.Snapshot{Dataset: d, Name: name}
		}
		logger.WithField("name", name).WithField("count", len(snaps)).Info("orchestrator: creating snapshots")
		if err := o.Driver.CreateSnapshots(ctx, snaps); err != nil {
			return fmt.Errorf("orchestrator: creating snapshots: %w", err)
		}
	}

	pairs, doPrune, pruneDatasets, err := o.computeSendPlan(job, selected)
	if err != nil {
		return err
	}
	if job.Actions.Send && job.SendTarget != "" {
		for _, p := range pairs {
			if err := o.Replication.SendSnapshots(ctx, p.Source, p.Target, prefix); err != nil {
				return fmt.Errorf("orchestrator: replicating %q to %q: %w", p.Source, p.Target, err)
			}
		}
	}

	if doPrune && job.KeepSpecs != nil {
		keeps := retention.WithNewestKept(job.KeepSpecs)
		for _, d := range pruneDatasets {
			snaps, _, err := o.Driver.ListSnapshotsAndBookmarks(ctx, d, false)
			if err != nil {
				return fmt.Errorf("orchestrator: listing %q for prune: %w", d, err)
			}
			expired := retention.FindExpired(snaps, keeps, prefix)
			if expired.Cardinality() == 0 {
				continue
			}
			logger.WithField("dataset", d).WithField("count", expired.Cardinality()).Info("orchestrator: pruning")
			if err := o.Driver.DestroySnapshots(ctx, expired.ToSlice()); err != nil {
				return fmt.Errorf("orchestrator: pruning %q: %w", d, err)
			}
		}
	}

	return nil
}

// Plan is the read-only inspection report the --dry-run flag produces
// (an ambient CLI addition, SPEC_FULL.md "ADDITIONAL CLI CONVENIENCES"
// item 2):
// everything Run would do, without invoking the Storage Driver's
// mutating calls or the Replication Engine.
type Plan struct {
	Prefix       string
	Selected     []zfs.Dataset
	SnapshotName string
	SendPairs    []SendPair
	Expired      map[zfs.Dataset][]zfs.Snapshot
}

// Plan computes what Run would do for job without taking any action
// that mutates storage state.
func (o Orchestrator) Plan(ctx context.Context, job Job) (Plan, error) {
	prefix := job.Prefix
	if prefix == "" {
		prefix = naming.DefaultPrefix
	}

	selected, err := o.resolveSelected(ctx, job.Datasets, job.Exclude, job.Recursive)
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{Prefix: prefix, Selected: selected}
	if job.Actions.Snapshot && job.TakeSnapshot {
		plan.SnapshotName = naming.MakeName(prefix, o.Clock.Now())
	}

	pairs, doPrune, pruneDatasets, err := o.computeSendPlan(job, selected)
	if err != nil {
		return Plan{}, err
	}
	plan.SendPairs = pairs

	if doPrune && job.KeepSpecs != nil {
		keeps := retention.WithNewestKept(job.KeepSpecs)
		plan.Expired = make(map[zfs.Dataset][]zfs.Snapshot, len(pruneDatasets))
		for _, d := range pruneDatasets {
			snaps, _, err := o.Driver.ListSnapshotsAndBookmarks(ctx, d, false)
			if err != nil {
				return Plan{}, fmt.Errorf("orchestrator: listing %q for prune: %w", d, err)
			}
			plan.Expired[d] = retention.FindExpired(snaps, keeps, prefix).ToSlice()
		}
	}

	return plan, nil
}

// SendPair is one (source, target) dataset pair replication would run
// against, per spec.md §4.5 step 5's rebase rule.
type SendPair struct {
	Source zfs.Dataset
	Target zfs.Dataset
}

// computeSendPlan implements step 5 of spec.md §4.5 without executing
// anything: it decides the prune-dataset set, whether to prune, and
// (when send_target is set) the source→target pairs replication would
// run against.
func (o Orchestrator) computeSendPlan(job Job, selected []zfs.Dataset) (pairs []SendPair, doPrune bool, pruneDatasets []zfs.Dataset, err error) {
	if job.SendTarget == "" {
		return nil, job.Actions.Snapshot, selected, nil
	}

	sendBase := job.SendBase
	if sendBase == "" {
		if len(job.Datasets) != 1 {
			return nil, false, nil, errdefs.UserErrorf("orchestrator: send_base is required when more than one dataset is given")
		}
		sendBase = job.Datasets[0]
	}

	pairs = make([]SendPair, len(selected))
	targets := make([]zfs.Dataset, len(selected))
	for i, source := range selected {
		target, rebaseErr := rebase(source, sendBase, job.SendTarget)
		if rebaseErr != nil {
			return nil, false, nil, rebaseErr
		}
		pairs[i] = SendPair{Source: source, Target: target}
		targets[i] = target
	}

	return pairs, job.Actions.Send, targets, nil
}

// rebase maps source onto the send-target tree by stripping the
// send_base prefix (treated as an exact string prefix, spec.md §9
// open question iii) and prepending sendTarget.
func rebase(source, sendBase, sendTarget zfs.Dataset) (zfs.Dataset, error) {
	if !strings.HasPrefix(source, sendBase) {
		return "", errdefs.UserErrorf("orchestrator: dataset %q does not start with send_base %q", source, sendBase)
	}
	return sendTarget + strings.TrimPrefix(source, sendBase), nil
}

// resolveSelected implements step 3 of spec.md §4.5.
func (o Orchestrator) resolveSelected(ctx context.Context, inputs, exclude []zfs.Dataset, recursive bool) ([]zfs.Dataset, error) {
	if !recursive {
		if len(exclude) > 0 {
			return nil, errdefs.UserErrorf("orchestrator: exclude requires recursive")
		}
		return append([]zfs.Dataset{}, inputs...), nil
	}

	inputSet := make(map[zfs.Dataset]bool, len(inputs))
	for _, d := range inputs {
		inputSet[d] = true
	}
	excludeSet := make(map[zfs.Dataset]bool, len(exclude))
	for _, d := range exclude {
		excludeSet[d] = true
	}

	sortedInputs := append([]zfs.Dataset{}, inputs...)
	sort.Strings(sortedInputs)

	seenRoots := make(map[zfs.Dataset]bool)
	seen := make(map[zfs.Dataset]bool)
	var selected []zfs.Dataset
	for _, root := range sortedInputs {
		if seenRoots[root] {
			continue
		}
		seenRoots[root] = true

		children, err := o.Driver.ListChildren(ctx, root)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: listing children of %q: %w", root, err)
		}
		for _, d := range children {
			if seen[d] {
				continue
			}
			if includeDataset(d, inputSet, excludeSet) {
				seen[d] = true
				selected = append(selected, d)
			}
		}
	}
	sort.Strings(selected)
	return selected, nil
}

// includeDataset walks d's ancestors (d itself first) and returns
// whether the first one found in either set is a member of inputSet.
func includeDataset(d zfs.Dataset, inputSet, excludeSet map[zfs.Dataset]bool) bool {
	for _, a := range ancestors(d) {
		if inputSet[a] {
			return true
		}
		if excludeSet[a] {
			return false
		}
	}
	return false
}

// ancestors returns d, then each successively shorter prefix of d's
// slash-separated path, ending at the pool root.
func ancestors(d zfs.Dataset) []zfs.Dataset {
	parts := strings.Split(d, "/")
	out := make([]zfs.Dataset, 0, len(parts))
	for i := len(parts); i >= 1; i-- {
		out = append(out, strings.Join(parts[:i], "/"))
	}
	return out
}

func runPreSnapshotScript(ctx context.Context, script string) error {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", script)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return errdefs.UserErrorf("orchestrator: pre-snapshot script failed: %w", err)
	}
	return nil
}
