package main

import (
	"github.com/spf13/cobra"

	"github.com/snappy-zfs/snappy/cmd/snappy/trap"
	"github.com/snappy-zfs/snappy/internal/config"
	"github.com/snappy-zfs/snappy/internal/orchestrator"
)

// newAutoCommand implements Auto Mode (spec.md §4.6): read the job
// config and run the Orchestrator once per declared job, restricted to
// the given action mask.
func newAutoCommand() *cobra.Command {
	opts := newAutoOptions()

	cmd := &cobra.Command{
		Use:   "auto",
		Short: "run every job in the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := configureLogging(opts.LogLevel); err != nil {
				return err
			}
			actions, err := parseActions(opts.Actions)
			if err != nil {
				return err
			}

			ctx, stop := trap.WithInterrupt(cmd.Context())
			defer stop()

			file, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}

			o := newOrchestrator()
			for _, j := range file.Jobs {
				job := jobFromConfig(j, actions)
				if opts.DryRun {
					plan, err := o.Plan(ctx, job)
					if err != nil {
						return err
					}
					printPlan(plan)
					continue
				}
				if err := runJob(ctx, o, job); err != nil {
					return err
				}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	opts.installFlags(cmd.Flags())
	return cmd
}

func jobFromConfig(j config.Job, actions orchestrator.Actions) orchestrator.Job {
	job, err := buildJob(j.Datasets, j.Recursive, j.Exclude, j.Prefix, j.TakeSnapshotOrDefault(), joinStrings(j.PruneKeep), j.SendTarget, j.SendBase, actions)
	if err != nil {
		// config.Load already validated every job, including its
		// keep-specs; buildJob cannot fail on data Load accepted.
		panic(err)
	}
	job.PreSnapshotScript = j.PreSnapshotScript
	return job
}

func joinStrings(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}
