// Package config decodes and validates the TOML job configuration
// Auto Mode runs (spec.md §4.6/§6), in the decode-then-validate idiom
// daemon/config uses for the engine's own JSON config.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml"

	"github.com/snappy-zfs/snappy/internal/errdefs"
	"github.com/snappy-zfs/snappy/internal/retention"
)

// DefaultPath is where Auto Mode looks for its config absent --config.
const DefaultPath = "/etc/snappy/snappy.toml"

// Job is one entry of the config file's job list, mirroring the
// Orchestrator's inputs (spec.md §4.5) one-for-one.
type Job struct {
	Name              string   `toml:"name"`
	Datasets          []string `toml:"datasets"`
	Recursive         bool     `toml:"recursive"`
	Exclude           []string `toml:"exclude"`
	Prefix            string   `toml:"prefix"`
	TakeSnapshot      *bool    `toml:"take_snapshot"`
	PreSnapshotScript string   `toml:"pre_snapshot_script"`
	PruneKeep         []string `toml:"prune_keep"`
	SendTarget        string   `toml:"send_target"`
	SendBase          string   `toml:"send_base"`
}

// takeSnapshot resolves the take_snapshot default of true.
func (j Job) takeSnapshot() bool {
	if j.TakeSnapshot == nil {
		return true
	}
	return *j.TakeSnapshot
}

// TakeSnapshotOrDefault is the exported form of takeSnapshot, for
// callers outside the package building an Orchestrator job from a
// parsed Job.
func (j Job) TakeSnapshotOrDefault() bool {
	return j.takeSnapshot()
}

// File is the top-level shape of the config file: a list of jobs.
type File struct {
	Jobs []Job `toml:"job"`
}

// Load reads and parses the config file at path, then validates every
// job. A missing or malformed file, or a job that fails validation, is
// a errdefs.UserError.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errdefs.UserErrorf("reading config %q: %w", path, err)
	}

	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, errdefs.UserErrorf("parsing config %q: %w", path, err)
	}

	for i, j := range f.Jobs {
		if err := j.Validate(); err != nil {
			name := j.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i+1)
			}
			return nil, errdefs.UserErrorf("job %s: %w", name, err)
		}
	}
	return &f, nil
}

// Validate checks the field constraints spec.md §6 documents, beyond
// what decoding into Go types already enforces.
func (j Job) Validate() error {
	if len(j.Exclude) > 0 && !j.Recursive {
		return fmt.Errorf("exclude requires recursive")
	}
	if j.PreSnapshotScript != "" && !j.takeSnapshot() {
		return fmt.Errorf("pre_snapshot_script requires take_snapshot")
	}
	if _, err := retention.ParseKeepSpecs(joinKeeps(j.PruneKeep)); err != nil && len(j.PruneKeep) > 0 {
		return fmt.Errorf("prune_keep: %w", err)
	}
	if j.SendBase != "" && j.SendTarget == "" {
		return fmt.Errorf("send_base requires send_target")
	}
	if j.SendTarget != "" && j.SendBase == "" && len(j.Datasets) > 1 {
		return fmt.Errorf("send_base is required when send_target is set and more than one dataset is listed")
	}
	return nil
}

func joinKeeps(keeps []string) string {
	out := ""
	for i, k := range keeps {
		if i > 0 {
			out += ","
		}
		out += k
	}
	return out
}
