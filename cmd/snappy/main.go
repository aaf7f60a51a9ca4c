// Command snappy manages point-in-time snapshot lifecycle on a
// copy-on-write filesystem: creation, retention, and incremental
// replication, per spec.md.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/snappy-zfs/snappy/internal/errdefs"
)

func main() {
	cmd := newRootCommand()
	err := cmd.ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "snappy:", err)
		if args, ok := errdefs.StorageErrorArgs(err); ok {
			fmt.Fprintln(os.Stderr, "snappy: command was:", args)
		}
	}
	os.Exit(exitCode(err))
}
