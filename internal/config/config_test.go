package config

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snappy.toml")
	assert.NilError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorContains(t, err, "reading config")
}

func TestLoadBroken(t *testing.T) {
	path := writeConfig(t, "[[job\nbroken")
	_, err := Load(path)
	assert.ErrorContains(t, err, "parsing config")
}

func TestLoadValidJob(t *testing.T) {
	path := writeConfig(t, `
[[job]]
name = "nightly"
datasets = ["tank/fs"]
recursive = true
exclude = ["tank/fs/scratch"]
prune_keep = ["7", "1d:4"]
`)
	f, err := Load(path)
	assert.NilError(t, err)
	assert.Check(t, is.Len(f.Jobs, 1))
	assert.Check(t, is.Equal(true, f.Jobs[0].takeSnapshot()))
}

func TestValidateExcludeRequiresRecursive(t *testing.T) {
	j := Job{Datasets: []string{"tank/fs"}, Exclude: []string{"tank/fs/x"}}
	assert.ErrorContains(t, j.Validate(), "requires recursive")
}

func TestValidatePreScriptRequiresTakeSnapshot(t *testing.T) {
	no := false
	j := Job{Datasets: []string{"tank/fs"}, TakeSnapshot: &no, PreSnapshotScript: "echo hi"}
	assert.ErrorContains(t, j.Validate(), "requires take_snapshot")
}

func TestValidateSendBaseRequiredForMultipleDatasets(t *testing.T) {
	j := Job{Datasets: []string{"tank/a", "tank/b"}, SendTarget: "pool2/fs"}
	assert.ErrorContains(t, j.Validate(), "send_base is required")
}

func TestValidateRejectsBadKeepSpec(t *testing.T) {
	j := Job{Datasets: []string{"tank/fs"}, PruneKeep: []string{"0"}}
	assert.ErrorContains(t, j.Validate(), "prune_keep")
}

// An empty datasets list is accepted, matching the original
// implementation's test_auto.py::test_config_error_validation, which
// writes `datasets = []` and expects no error on that account.
func TestValidateEmptyDatasetsIsNotAnError(t *testing.T) {
	j := Job{Datasets: []string{}}
	assert.NilError(t, j.Validate())
}
