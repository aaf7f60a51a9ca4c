// Package replication implements the Replication Engine (spec.md
// §4.4): for one (source, target) dataset pair, it reconciles target
// with source's matching snapshots via incremental send/receive
// backed by bookmarks, so pruned source snapshots can still serve as
// incremental bases.
package replication

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/containerd/log"

	"github.com/snappy-zfs/snappy/internal/errdefs"
	"github.com/snappy-zfs/snappy/internal/naming"
	"github.com/snappy-zfs/snappy/internal/zfs"
)

// StorageDriver is the subset of zfs.Driver the Replication Engine
// needs, so tests can substitute a fake.
type StorageDriver interface {
	ListSnapshotsAndBookmarks(ctx context.Context, dataset zfs.Dataset, quiet bool) ([]zfs.SnapshotInfo, []zfs.BookmarkInfo, error)
	CreateBookmark(ctx context.Context, snapshot zfs.Snapshot, bookmark zfs.Bookmark) error
	DestroyBookmark(ctx context.Context, bookmark zfs.Bookmark) error
	DestroySnapshots(ctx context.Context, snapshots []zfs.Snapshot) error
	RenameDataset(ctx context.Context, src, dst zfs.Dataset) error
	SendReceive(ctx context.Context, base zfs.Base, source, target zfs.Snapshot) error
}

// Clock supplies "now" for the moved-target rename name, so tests can
// use a fixed or fake clock (spec.md §9).
type Clock interface {
	Now() time.Time
}

// Engine is the Replication Engine for one (source, target) pair.
type Engine struct {
	Driver StorageDriver
	Clock  Clock
}

// SendSnapshots reconciles target with source's matching snapshots, per
// spec.md §4.4. On success, every matching snapshot on source has been
// received on target and then destroyed on source; source bookmarks
// are pruned to at most the one protecting the next incremental base.
func (e Engine) SendSnapshots(ctx context.Context, source, target zfs.Dataset, prefix string) error {
	log := log.G(ctx).WithField("source", source).WithField("target", target)

	srcSnaps, srcBmarks, err := e.Driver.ListSnapshotsAndBookmarks(ctx, source, false)
	if err != nil {
		return fmt.Errorf("replication: listing source %q: %w", source, err)
	}

	targetSnaps, targetExists := e.listTarget(ctx, target)

	var tipGuid uint64
	var haveTip bool
	var base zfs.Base
	if len(targetSnaps) > 0 {
		tipGuid = targetSnaps[len(targetSnaps)-1].Guid
		haveTip = true
		for _, b := range srcBmarks {
			if b.Guid == tipGuid {
				base = b.Ref
				break
			}
		}
	}

	if base == nil && targetExists {
		if err := e.reparent(ctx, target); err != nil {
			return err
		}
	}

	if err := e.cleanupLeakedBookmarks(ctx, source, srcBmarks, base, prefix); err != nil {
		return fmt.Errorf("replication: cleaning up leaked bookmarks on %q: %w", source, err)
	}

	for _, s := range srcSnaps {
		if !naming.Matches(s.Ref.Name, prefix) {
			continue
		}

		if haveTip && s.Guid == tipGuid {
			log.WithField("snapshot", s.Ref).Debug("replication: already present on target, destroying source copy")
			if err := e.Driver.DestroySnapshots(ctx, []zfs.Snapshot{s.Ref}); err != nil {
				return fmt.Errorf("replication: destroying already-sent %q: %w", s.Ref, err)
			}
			continue
		}

		newBase := zfs.Bookmark{Dataset: source, Name: s.Ref.Name}
		if err := e.Driver.CreateBookmark(ctx, s.Ref, newBase); err != nil {
			return fmt.Errorf("replication: bookmarking %q before send: %w", s.Ref, err)
		}

		targetSnap := zfs.Snapshot{Dataset: target, Name: s.Ref.Name}
		if err := e.Driver.SendReceive(ctx, base, s.Ref, targetSnap); err != nil {
			return fmt.Errorf("replication: sending %q to %q: %w", s.Ref, targetSnap, err)
		}

		if base != nil {
			if oldBase, ok := base.(zfs.Bookmark); ok {
				if err := e.Driver.DestroyBookmark(ctx, oldBase); err != nil {
					return fmt.Errorf("replication: destroying superseded base %q: %w", oldBase, err)
				}
			}
		}
		base = newBase

		if err := e.Driver.DestroySnapshots(ctx, []zfs.Snapshot{s.Ref}); err != nil {
			return fmt.Errorf("replication: destroying sent source snapshot %q: %w", s.Ref, err)
		}
	}

	return nil
}

// listTarget attempts to list target's snapshots under quiet=true. Any
// error is taken to mean the target does not exist.
func (e Engine) listTarget(ctx context.Context, target zfs.Dataset) ([]zfs.SnapshotInfo, bool) {
	snaps, _, err := e.Driver.ListSnapshotsAndBookmarks(ctx, target, true)
	if err != nil {
		return nil, false
	}
	return snaps, true
}

// reparent renames an unrelated target out of the way so a fresh full
// send can land at the expected name.
func (e Engine) reparent(ctx context.Context, target zfs.Dataset) error {
	if isPoolRoot(target) {
		return errdefs.CannotMoveRootOfPool(target)
	}
	moved := fmt.Sprintf("%s-snappy-moved-%s", target, naming.FormatTimestamp(e.Clock.Now()))
	log.G(ctx).WithField("target", target).WithField("movedTo", moved).Info("replication: target shares no ancestor with source, moving it aside")
	if err := e.Driver.RenameDataset(ctx, target, moved); err != nil {
		return fmt.Errorf("replication: moving unrelated target %q aside: %w", target, err)
	}
	return nil
}

func isPoolRoot(dataset zfs.Dataset) bool {
	return !containsSlash(dataset)
}

func containsSlash(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return true
		}
	}
	return false
}

// cleanupLeakedBookmarks destroys every bookmark matching prefix except
// keep, remnants of earlier aborted runs or replaced incremental bases.
func (e Engine) cleanupLeakedBookmarks(ctx context.Context, source zfs.Dataset, bmarks []zfs.BookmarkInfo, keep zfs.Base, prefix string) error {
	keepBookmark, keepIsBookmark := keep.(zfs.Bookmark)
	var errs []error
	for _, b := range bmarks {
		if !naming.Matches(b.Ref.Name, prefix) {
			continue
		}
		if keepIsBookmark && b.Ref == keepBookmark {
			continue
		}
		if err := e.Driver.DestroyBookmark(ctx, b.Ref); err != nil {
			errs = append(errs, fmt.Errorf("destroying leaked bookmark %q on %q: %w", b.Ref, source, err))
		}
	}
	return errors.Join(errs...)
}
