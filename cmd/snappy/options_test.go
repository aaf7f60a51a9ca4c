package main

import (
	"testing"

	"github.com/spf13/pflag"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/snappy-zfs/snappy/internal/orchestrator"
)

func TestRootOptionsInstallFlags(t *testing.T) {
	flags := pflag.NewFlagSet("testing", pflag.ContinueOnError)
	opts := newRootOptions()
	opts.installFlags(flags)

	err := flags.Parse([]string{
		"--recursive",
		"--exclude=tank/fs/scratch",
		"--exclude=tank/fs/tmp",
		"--prefix=nightly",
		"--keep=7,1d:4",
		"--send-to=pool2/backup",
	})
	assert.NilError(t, err)
	assert.Check(t, is.Equal(true, opts.Recursive))
	assert.Check(t, is.DeepEqual([]string{"tank/fs/scratch", "tank/fs/tmp"}, opts.Exclude))
	assert.Check(t, is.Equal("nightly", opts.Prefix))
	assert.Check(t, is.Equal("7,1d:4", opts.Keep))
	assert.Check(t, is.Equal("pool2/backup", opts.SendTo))
}

func TestRootOptionsInstallFlagsWithDefaults(t *testing.T) {
	flags := pflag.NewFlagSet("testing", pflag.ContinueOnError)
	opts := newRootOptions()
	opts.installFlags(flags)

	assert.NilError(t, flags.Parse(nil))
	assert.Check(t, is.Equal(false, opts.Recursive))
	assert.Check(t, is.Equal("info", opts.LogLevel))
	assert.Check(t, is.Equal(false, opts.DryRun))
}

func TestParseActions(t *testing.T) {
	all, err := parseActions("")
	assert.NilError(t, err)
	assert.Check(t, is.Equal(true, all.Snapshot))
	assert.Check(t, is.Equal(true, all.Send))

	snapOnly, err := parseActions("snapshot")
	assert.NilError(t, err)
	assert.Check(t, is.Equal(true, snapOnly.Snapshot))
	assert.Check(t, is.Equal(false, snapOnly.Send))

	_, err = parseActions("bogus")
	assert.ErrorContains(t, err, "unknown action")
}

// An empty dataset list is accepted by buildJob itself: the root
// command's own cobra.MinimumNArgs(1) is what rejects it there, while
// Auto Mode jobs with an empty datasets list are valid upstream.
func TestBuildJobAcceptsEmptyDatasets(t *testing.T) {
	job, err := buildJob(nil, false, nil, "", true, "", "", "", orchestrator.AllActions())
	assert.NilError(t, err)
	assert.Check(t, is.Len(job.Datasets, 0))
}
