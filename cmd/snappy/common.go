package main

import (
	"context"
	"fmt"

	"code.cloudfoundry.org/clock"
	"github.com/sirupsen/logrus"

	"github.com/snappy-zfs/snappy/internal/errdefs"
	"github.com/snappy-zfs/snappy/internal/orchestrator"
	"github.com/snappy-zfs/snappy/internal/replication"
	"github.com/snappy-zfs/snappy/internal/retention"
	"github.com/snappy-zfs/snappy/internal/zfs"
)

// runJob runs job, reclassifying a failure as Interrupted when ctx was
// canceled by trap.WithInterrupt, so main maps it to exit code 130
// instead of 1.
func runJob(ctx context.Context, o orchestrator.Orchestrator, job orchestrator.Job) error {
	err := o.Run(ctx, job)
	if err != nil && ctx.Err() != nil {
		return errdefs.Interrupted(err)
	}
	return err
}

// configureLogging sets the logrus level from --log-level; internal/*'s
// containerd/log.G(ctx) calls route through logrus's package logger.
func configureLogging(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return errdefs.UserErrorf("invalid --log-level %q: %w", level, err)
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}

// newOrchestrator wires the Storage Driver, Replication Engine, and a
// real wall clock into an Orchestrator, for CLI entry points.
func newOrchestrator() orchestrator.Orchestrator {
	driver := zfs.Driver{}
	return orchestrator.Orchestrator{
		Driver:      driver,
		Replication: replication.Engine{Driver: driver, Clock: clock.NewClock()},
		Clock:       clock.NewClock(),
	}
}

// parseActions parses the auto subcommand's --actions mask grammar
// ("snapshot" | "send" | "snapshot,send").
func parseActions(s string) (orchestrator.Actions, error) {
	if s == "" {
		return orchestrator.AllActions(), nil
	}
	var actions orchestrator.Actions
	for _, part := range splitComma(s) {
		switch part {
		case "snapshot":
			actions.Snapshot = true
		case "send":
			actions.Send = true
		default:
			return orchestrator.Actions{}, errdefs.UserErrorf("unknown action %q: want \"snapshot\" or \"send\"", part)
		}
	}
	return actions, nil
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// exitCode maps a run's terminal error to a process exit status per
// spec.md §7: 0 success, 1 user/storage error, 130 interrupted.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errdefs.IsInterrupted(err):
		return 130
	default:
		return 1
	}
}

// buildJob assembles an Orchestrator job from CLI/config inputs. It
// does not require a non-empty dataset list: root's own command args
// already enforce that for direct invocations (cobra.MinimumNArgs(1)),
// and Auto Mode jobs with an empty datasets list are valid upstream
// (see internal/config's Job.Validate).
func buildJob(datasets []string, recursive bool, exclude []string, prefix string, takeSnapshot bool, keepSpecString, sendTo, sendBase string, actions orchestrator.Actions) (orchestrator.Job, error) {
	var keepSpecs []retention.KeepSpec
	if keepSpecString != "" {
		specs, err := retention.ParseKeepSpecs(keepSpecString)
		if err != nil {
			return orchestrator.Job{}, err
		}
		keepSpecs = specs
	}

	return orchestrator.Job{
		Datasets:     toDatasets(datasets),
		Recursive:    recursive,
		Exclude:      toDatasets(exclude),
		Prefix:       prefix,
		TakeSnapshot: takeSnapshot,
		KeepSpecs:    keepSpecs,
		SendTarget:   sendTo,
		SendBase:     sendBase,
		Actions:      actions,
	}, nil
}

func toDatasets(s []string) []zfs.Dataset {
	out := make([]zfs.Dataset, len(s))
	for i, d := range s {
		out[i] = d
	}
	return out
}

func printPlan(plan orchestrator.Plan) {
	fmt.Printf("dry-run: prefix=%q selected=%v\n", plan.Prefix, plan.Selected)
	if plan.SnapshotName != "" {
		fmt.Printf("dry-run: would create snapshot %q on %v\n", plan.SnapshotName, plan.Selected)
	}
	for _, p := range plan.SendPairs {
		fmt.Printf("dry-run: would replicate %s -> %s\n", p.Source, p.Target)
	}
	for dataset, snaps := range plan.Expired {
		if len(snaps) == 0 {
			continue
		}
		fmt.Printf("dry-run: would prune %d snapshot(s) on %s: %v\n", len(snaps), dataset, snaps)
	}
}
