// Package zfs is the Storage Driver: a thin, stateless wrapper around
// the storage CLI (see spec.md §4.1/§6). It owns no state of its own;
// every call is synchronous and blocks until the underlying subprocess
// exits.
package zfs

import "fmt"

// Dataset is an opaque, slash-separated path-like identifier. Parent/
// child relationships are derived from path prefixes; the first
// segment is the pool name.
type Dataset = string

// Snapshot is a (dataset, name) pair. Its printable form is
// "dataset@name".
type Snapshot struct {
	Dataset Dataset
	Name    string
}

func (s Snapshot) String() string { return fmt.Sprintf("%s@%s", s.Dataset, s.Name) }

// Bookmark is a (dataset, name) pair. Its printable form is
// "dataset#name". It cannot be received into but can serve as an
// incremental base even after its originating snapshot is destroyed.
type Bookmark struct {
	Dataset Dataset
	Name    string
}

func (b Bookmark) String() string { return fmt.Sprintf("%s#%s", b.Dataset, b.Name) }

// Base is the incremental-base argument to SendReceive: either a
// Snapshot or a Bookmark. Both serialize with the same @/# separator
// conventions, so the sum type only needs a String method.
type Base interface {
	String() string
	isBase()
}

func (Snapshot) isBase() {}
func (Bookmark) isBase() {}

// SnapshotInfo is the identity metadata the driver reports for a
// snapshot: its ref, its pool-unique guid, and its creation
// transaction-group id, used to order snapshots within a pool.
type SnapshotInfo struct {
	Ref       Snapshot
	Guid      uint64
	Createtxg uint64
}

// BookmarkInfo is the bookmark analogue of SnapshotInfo: it carries
// the same guid and createtxg as the snapshot it was created from.
type BookmarkInfo struct {
	Ref       Bookmark
	Guid      uint64
	Createtxg uint64
}
