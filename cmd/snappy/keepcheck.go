package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snappy-zfs/snappy/internal/retention"
)

// newKeepCheckCommand implements the keep-spec sanity-check helper (an
// ambient CLI addition, SPEC_FULL.md "ADDITIONAL CLI CONVENIENCES" item
// 4): parse
// every positional keep-spec and echo back what it means, so an
// operator can validate a spec before wiring it into the config file.
func newKeepCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keep-check SPEC...",
		Short: "parse and describe keep-specs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, raw := range args {
				spec, err := retention.ParseKeepSpec(raw)
				if err != nil {
					return err
				}
				if spec.IsInterval() {
					if spec.Count > 0 {
						fmt.Printf("%s: keep one snapshot per %s bucket, newest %d kept buckets\n", raw, spec.Interval, spec.Count)
					} else {
						fmt.Printf("%s: keep one snapshot per %s bucket, unbounded\n", raw, spec.Interval)
					}
				} else {
					fmt.Printf("%s: keep the %d most recent snapshots\n", raw, spec.Count)
				}
			}
			return nil
		},
	}
}
