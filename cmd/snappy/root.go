package main

import (
	"github.com/spf13/cobra"

	"github.com/snappy-zfs/snappy/cmd/snappy/trap"
	"github.com/snappy-zfs/snappy/internal/orchestrator"
)

func newRootCommand() *cobra.Command {
	opts := newRootOptions()

	cmd := &cobra.Command{
		Use:   "snappy DATASET...",
		Short: "Snapshot, retention, and incremental replication for copy-on-write filesystems",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := configureLogging(opts.LogLevel); err != nil {
				return err
			}

			ctx, stop := trap.WithInterrupt(cmd.Context())
			defer stop()

			job, err := buildJob(args, opts.Recursive, opts.Exclude, opts.Prefix, !opts.NoSnapshot, opts.Keep, opts.SendTo, opts.SendBase, orchestrator.AllActions())
			if err != nil {
				return err
			}

			o := newOrchestrator()
			if opts.DryRun {
				plan, err := o.Plan(ctx, job)
				if err != nil {
					return err
				}
				printPlan(plan)
				return nil
			}
			return runJob(ctx, o, job)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	opts.installFlags(cmd.Flags())
	cmd.AddCommand(newAutoCommand(), newVersionCommand(), newKeepCheckCommand())
	return cmd
}
