package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version, GitCommit, and BuildTime are set via -ldflags at release
// build time; local builds fall back to these defaults.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("snappy version %s, commit %s, built %s\n", Version, GitCommit, BuildTime)
			return nil
		},
	}
}
