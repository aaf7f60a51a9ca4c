package orchestrator

import (
	"context"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/snappy-zfs/snappy/internal/retention"
	"github.com/snappy-zfs/snappy/internal/zfs"
)

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

type fakeDriver struct {
	children  map[zfs.Dataset][]zfs.Dataset
	snapshots map[zfs.Dataset][]zfs.SnapshotInfo
	created   [][]zfs.Snapshot
	destroyed [][]zfs.Snapshot
	nextTxg   uint64
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{children: map[zfs.Dataset][]zfs.Dataset{}, snapshots: map[zfs.Dataset][]zfs.SnapshotInfo{}}
}

func (f *fakeDriver) ListChildren(ctx context.Context, dataset zfs.Dataset) ([]zfs.Dataset, error) {
	return f.children[dataset], nil
}

func (f *fakeDriver) ListSnapshotsAndBookmarks(ctx context.Context, dataset zfs.Dataset, quiet bool) ([]zfs.SnapshotInfo, []zfs.BookmarkInfo, error) {
	return f.snapshots[dataset], nil, nil
}

func (f *fakeDriver) CreateSnapshots(ctx context.Context, snapshots []zfs.Snapshot) error {
	f.created = append(f.created, snapshots)
	for _, s := range snapshots {
		f.nextTxg++
		f.snapshots[s.Dataset] = append(f.snapshots[s.Dataset], zfs.SnapshotInfo{Ref: s, Guid: f.nextTxg, Createtxg: f.nextTxg})
	}
	return nil
}

func (f *fakeDriver) DestroySnapshots(ctx context.Context, snapshots []zfs.Snapshot) error {
	f.destroyed = append(f.destroyed, snapshots)
	byDataset := map[zfs.Dataset]map[zfs.Snapshot]bool{}
	for _, s := range snapshots {
		if byDataset[s.Dataset] == nil {
			byDataset[s.Dataset] = map[zfs.Snapshot]bool{}
		}
		byDataset[s.Dataset][s] = true
	}
	for d, kill := range byDataset {
		kept := f.snapshots[d][:0]
		for _, s := range f.snapshots[d] {
			if !kill[s.Ref] {
				kept = append(kept, s)
			}
		}
		f.snapshots[d] = kept
	}
	return nil
}

type fakeReplication struct {
	calls []string
}

func (f *fakeReplication) SendSnapshots(ctx context.Context, source, target zfs.Dataset, prefix string) error {
	f.calls = append(f.calls, string(source)+"->"+string(target))
	return nil
}

func TestRunCreatesSnapshotAcrossSelectedDatasets(t *testing.T) {
	driver := newFakeDriver()
	clock := fixedClock{time.Date(2001, 2, 3, 8, 15, 0, 0, time.UTC)}
	o := Orchestrator{Driver: driver, Replication: &fakeReplication{}, Clock: clock}

	job := Job{
		Datasets:     []zfs.Dataset{"tank/fs"},
		TakeSnapshot: true,
		Actions:      AllActions(),
	}
	assert.NilError(t, o.Run(context.Background(), job))

	assert.Check(t, is.Len(driver.snapshots["tank/fs"], 1))
	assert.Check(t, is.Equal("snappy-2001-02-03-081500", driver.snapshots["tank/fs"][0].Ref.Name))
}

func TestRunRecursiveExpandsAndRespectsExclude(t *testing.T) {
	driver := newFakeDriver()
	driver.children["tank"] = []zfs.Dataset{"tank", "tank/fs", "tank/fs/scratch", "tank/other"}
	clock := fixedClock{time.Now()}
	o := Orchestrator{Driver: driver, Replication: &fakeReplication{}, Clock: clock}

	job := Job{
		Datasets:     []zfs.Dataset{"tank"},
		Recursive:    true,
		Exclude:      []zfs.Dataset{"tank/fs/scratch"},
		TakeSnapshot: true,
		Actions:      AllActions(),
	}
	assert.NilError(t, o.Run(context.Background(), job))

	assert.Check(t, is.Len(driver.snapshots["tank"], 1))
	assert.Check(t, is.Len(driver.snapshots["tank/fs"], 1))
	assert.Check(t, is.Len(driver.snapshots["tank/other"], 1))
	assert.Check(t, is.Len(driver.snapshots["tank/fs/scratch"], 0))
}

func TestRunPruneKeepsOnlyNewest(t *testing.T) {
	driver := newFakeDriver()
	driver.snapshots["tank/fs"] = []zfs.SnapshotInfo{
		{Ref: zfs.Snapshot{Dataset: "tank/fs", Name: "snappy-2023-01-01-000000"}, Guid: 1, Createtxg: 1},
		{Ref: zfs.Snapshot{Dataset: "tank/fs", Name: "snappy-2023-01-02-000000"}, Guid: 2, Createtxg: 2},
		{Ref: zfs.Snapshot{Dataset: "tank/fs", Name: "snappy-2023-01-03-000000"}, Guid: 3, Createtxg: 3},
	}
	o := Orchestrator{Driver: driver, Replication: &fakeReplication{}, Clock: fixedClock{time.Now()}}

	job := Job{
		Datasets:  []zfs.Dataset{"tank/fs"},
		KeepSpecs: []retention.KeepSpec{retention.MostRecent(1)},
		Actions:   Actions{Snapshot: true, Send: false},
	}
	assert.NilError(t, o.Run(context.Background(), job))

	assert.Check(t, is.Len(driver.snapshots["tank/fs"], 1))
	assert.Check(t, is.Equal("snappy-2023-01-03-000000", driver.snapshots["tank/fs"][0].Ref.Name))
}

func TestRunSendTargetReplicatesAndPrunesTargets(t *testing.T) {
	driver := newFakeDriver()
	driver.snapshots["pool2/backup"] = []zfs.SnapshotInfo{
		{Ref: zfs.Snapshot{Dataset: "pool2/backup", Name: "snappy-2023-01-01-000000"}, Guid: 1, Createtxg: 1},
		{Ref: zfs.Snapshot{Dataset: "pool2/backup", Name: "snappy-2023-01-02-000000"}, Guid: 2, Createtxg: 2},
	}
	repl := &fakeReplication{}
	o := Orchestrator{Driver: driver, Replication: repl, Clock: fixedClock{time.Now()}}

	job := Job{
		Datasets:   []zfs.Dataset{"tank/fs"},
		SendTarget: "pool2/backup",
		KeepSpecs:  []retention.KeepSpec{retention.MostRecent(1)},
		Actions:    Actions{Snapshot: false, Send: true},
	}
	assert.NilError(t, o.Run(context.Background(), job))

	assert.Check(t, is.Len(repl.calls, 1))
	assert.Check(t, is.Equal("tank/fs->pool2/backup", repl.calls[0]))
	assert.Check(t, is.Len(driver.snapshots["pool2/backup"], 1))
	assert.Check(t, is.Equal("snappy-2023-01-02-000000", driver.snapshots["pool2/backup"][0].Ref.Name))
}

func TestRunSendTargetRequiresSendBaseForMultipleDatasets(t *testing.T) {
	o := Orchestrator{Driver: newFakeDriver(), Replication: &fakeReplication{}, Clock: fixedClock{time.Now()}}
	job := Job{
		Datasets:   []zfs.Dataset{"tank/a", "tank/b"},
		SendTarget: "pool2/backup",
		Actions:    Actions{Send: true},
	}
	err := o.Run(context.Background(), job)
	assert.ErrorContains(t, err, "send_base is required")
}

func TestPlanReportsWithoutMutating(t *testing.T) {
	driver := newFakeDriver()
	driver.snapshots["tank/fs"] = []zfs.SnapshotInfo{
		{Ref: zfs.Snapshot{Dataset: "tank/fs", Name: "snappy-2023-01-01-000000"}, Guid: 1, Createtxg: 1},
	}
	repl := &fakeReplication{}
	clock := fixedClock{time.Date(2001, 2, 3, 8, 15, 0, 0, time.UTC)}
	o := Orchestrator{Driver: driver, Replication: repl, Clock: clock}

	job := Job{
		Datasets:     []zfs.Dataset{"tank/fs"},
		TakeSnapshot: true,
		KeepSpecs:    []retention.KeepSpec{retention.MostRecent(1)},
		Actions:      AllActions(),
	}
	plan, err := o.Plan(context.Background(), job)
	assert.NilError(t, err)

	assert.Check(t, is.Equal("snappy-2001-02-03-081500", plan.SnapshotName))
	assert.Check(t, is.Len(driver.created, 0), "Plan must not create any snapshot")
	assert.Check(t, is.Len(driver.destroyed, 0), "Plan must not destroy any snapshot")
	assert.Check(t, is.Len(repl.calls, 0), "Plan must not invoke replication")
	assert.Check(t, is.Len(plan.Expired["tank/fs"], 0), "sole snapshot is newest, never expired")
}

func TestRunExcludeWithoutRecursiveIsUserError(t *testing.T) {
	o := Orchestrator{Driver: newFakeDriver(), Replication: &fakeReplication{}, Clock: fixedClock{time.Now()}}
	job := Job{Datasets: []zfs.Dataset{"tank/fs"}, Exclude: []zfs.Dataset{"tank/fs/x"}}
	err := o.Run(context.Background(), job)
	assert.ErrorContains(t, err, "requires recursive")
}
