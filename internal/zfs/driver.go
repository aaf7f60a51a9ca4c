package zfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/containerd/log"

	"github.com/snappy-zfs/snappy/internal/errdefs"
)

// DefaultBinary is the storage CLI invoked when Driver.Bin is empty.
const DefaultBinary = "zfs"

// Driver is the Storage Driver. It is stateless and safe to share; the
// zero value talks to DefaultBinary.
type Driver struct {
	// Bin overrides the storage CLI binary, for tests that point it at
	// a fake script capturing its argv.
	Bin string
}

func (d Driver) bin() string {
	if d.Bin == "" {
		return DefaultBinary
	}
	return d.Bin
}

// run executes the storage CLI with args, returning combined stdout.
// Any non-zero exit is reported as a errdefs.StorageError carrying the
// full argv and exit code.
func (d Driver) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, d.bin(), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.G(ctx).WithField("args", args).Debug("zfs: running storage CLI")
	err := cmd.Run()
	if err != nil {
		return stdout.String(), errdefs.StorageError(append([]string{d.bin()}, args...), exitCode(err), fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String())))
	}
	return stdout.String(), nil
}

func exitCode(err error) int {
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return -1
}

// ListChildren returns dataset and all of its descendants,
// depth-unlimited; ordering is unspecified.
func (d Driver) ListChildren(ctx context.Context, dataset Dataset) ([]Dataset, error) {
	out, err := d.run(ctx, "list", "-H", "-r", "-t", "filesystem,volume", "-o", "name", dataset)
	if err != nil {
		return nil, err
	}
	var result []Dataset
	for _, line := range splitLines(out) {
		result = append(result, line)
	}
	return result, nil
}

// ListSnapshotsAndBookmarks is a one-level (non-recursive) listing of
// dataset's snapshots and bookmarks, sorted ascending by createtxg.
// When quiet is true, the diagnostic stream is suppressed, used by
// callers for whom absence of dataset is an expected outcome.
func (d Driver) ListSnapshotsAndBookmarks(ctx context.Context, dataset Dataset, quiet bool) ([]SnapshotInfo, []BookmarkInfo, error) {
	args := []string{"list", "-Hpd1", "-t", "snapshot,bookmark", "-o", "name,guid,createtxg", "-s", "createtxg", dataset}
	out, err := d.run(ctx, args...)
	if err != nil {
		if quiet {
			log.G(ctx).WithField("dataset", dataset).Debug("zfs: list failed, treating as absent (quiet)")
		}
		return nil, nil, err
	}

	var snaps []SnapshotInfo
	var bmarks []BookmarkInfo
	for _, line := range splitLines(out) {
		cols := strings.Split(line, "\t")
		if len(cols) != 3 {
			return nil, nil, fmt.Errorf("zfs: unexpected list output line %q", line)
		}
		guid, err := strconv.ParseUint(cols[1], 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("zfs: parsing guid in %q: %w", line, err)
		}
		createtxg, err := strconv.ParseUint(cols[2], 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("zfs: parsing createtxg in %q: %w", line, err)
		}

		switch {
		case strings.Contains(cols[0], "@"):
			ds, name, _ := strings.Cut(cols[0], "@")
			snaps = append(snaps, SnapshotInfo{Ref: Snapshot{Dataset: ds, Name: name}, Guid: guid, Createtxg: createtxg})
		case strings.Contains(cols[0], "#"):
			ds, name, _ := strings.Cut(cols[0], "#")
			bmarks = append(bmarks, BookmarkInfo{Ref: Bookmark{Dataset: ds, Name: name}, Guid: guid, Createtxg: createtxg})
		default:
			return nil, nil, fmt.Errorf("zfs: unexpected ref %q in list output", cols[0])
		}
	}
	return snaps, bmarks, nil
}

// CreateSnapshots atomically creates every listed snapshot in one
// invocation, so sibling datasets share the same timestamp-name and
// stay consistent with each other.
func (d Driver) CreateSnapshots(ctx context.Context, snapshots []Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	args := append([]string{"snapshot", "--"}, refs(snapshots)...)
	_, err := d.run(ctx, args...)
	return err
}

func refs(snapshots []Snapshot) []string {
	out := make([]string, len(snapshots))
	for i, s := range snapshots {
		out[i] = s.String()
	}
	return out
}

// CreateBookmark creates bookmark from snapshot.
func (d Driver) CreateBookmark(ctx context.Context, snapshot Snapshot, bookmark Bookmark) error {
	_, err := d.run(ctx, "bookmark", "--", snapshot.String(), bookmark.String())
	return err
}

// DestroyBookmark destroys bookmark.
func (d Driver) DestroyBookmark(ctx context.Context, bookmark Bookmark) error {
	_, err := d.run(ctx, "destroy", "--", bookmark.String())
	return err
}

// DestroySnapshots destroys every listed snapshot, which must all
// share a dataset, in a single comma-joined invocation. It is a no-op
// on empty input.
func (d Driver) DestroySnapshots(ctx context.Context, snapshots []Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	dataset := snapshots[0].Dataset
	names := make([]string, len(snapshots))
	for i, s := range snapshots {
		if s.Dataset != dataset {
			return fmt.Errorf("zfs: DestroySnapshots: %q and %q do not share a dataset", s, snapshots[0])
		}
		names[i] = s.Name
	}
	arg := fmt.Sprintf("%s@%s", dataset, strings.Join(names, ","))
	_, err := d.run(ctx, "destroy", "--", arg)
	return err
}

// RenameDataset renames src to dst, retrying up to 5 times with a
// 1-second delay on a transient "cannot unmount" failure. The final
// failure surfaces the underlying error unchanged.
func (d Driver) RenameDataset(ctx context.Context, src, dst Dataset) error {
	op := func() (struct{}, error) {
		_, err := d.run(ctx, "rename", "--", src, dst)
		if err != nil && strings.Contains(err.Error(), "cannot unmount") {
			return struct{}{}, err
		}
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(1*time.Second)),
		backoff.WithMaxTries(5),
	)
	return err
}

// SendReceive runs a dry-run send first to log a size estimate, then
// pipes `send --raw --props [-i base] source | receive -F target`. The
// receive-side force flag only applies for incremental sends (base !=
// nil); the caller is expected to have vetted that destroying any
// divergent state on target is intended.
func (d Driver) SendReceive(ctx context.Context, base Base, source Snapshot, target Snapshot) error {
	sendArgs := sendArgv(base, source, false)

	if err := d.logDryRunEstimate(ctx, sendArgv(base, source, true), source, target); err != nil {
		log.G(ctx).WithError(err).Warn("zfs: dry-run size estimate failed, continuing")
	}

	recvArgs := []string{"receive"}
	if base != nil {
		recvArgs = append(recvArgs, "-F")
	}
	recvArgs = append(recvArgs, "--", target.String())

	sendCmd := exec.CommandContext(ctx, d.bin(), sendArgs...)
	recvCmd := exec.CommandContext(ctx, d.bin(), recvArgs...)

	pr, pw := io.Pipe()
	sendCmd.Stdout = pw
	recvCmd.Stdin = pr
	var sendErr, recvErr bytes.Buffer
	sendCmd.Stderr = &sendErr
	recvCmd.Stderr = &recvErr

	if err := recvCmd.Start(); err != nil {
		return errdefs.StorageError(recvCmd.Args, -1, err)
	}
	if err := sendCmd.Start(); err != nil {
		return errdefs.StorageError(sendCmd.Args, -1, err)
	}

	sendDone := sendCmd.Wait()
	pw.Close()
	recvDone := recvCmd.Wait()

	if sendDone != nil {
		return errdefs.StorageError(sendCmd.Args, exitCode(sendDone), fmt.Errorf("%w: %s", sendDone, strings.TrimSpace(sendErr.String())))
	}
	if recvDone != nil {
		return errdefs.StorageError(recvCmd.Args, exitCode(recvDone), fmt.Errorf("%w: %s", recvDone, strings.TrimSpace(recvErr.String())))
	}
	return nil
}

func sendArgv(base Base, source Snapshot, dryRun bool) []string {
	args := []string{"send"}
	if dryRun {
		args = append(args, "-nv")
	}
	args = append(args, "--raw", "--props")
	if base != nil {
		args = append(args, "-i", base.String())
	}
	return append(args, "--", source.String())
}

func (d Driver) logDryRunEstimate(ctx context.Context, dryArgs []string, source, target Snapshot) error {
	out, err := d.run(ctx, dryArgs...)
	if err != nil {
		return err
	}
	log.G(ctx).WithFields(log.Fields{
		"source": source.String(),
		"target": target.String(),
	}).Info(strings.TrimSpace(out))
	return nil
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}
