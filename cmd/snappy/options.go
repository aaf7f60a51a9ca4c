package main

import (
	"github.com/spf13/pflag"

	"github.com/snappy-zfs/snappy/internal/config"
)

// rootOptions holds every flag of the default (non-auto) invocation.
type rootOptions struct {
	Recursive  bool
	Exclude    []string
	Prefix     string
	NoSnapshot bool
	Keep       string
	SendTo     string
	SendBase   string
	ConfigPath string
	DryRun     bool
	LogLevel   string
}

func newRootOptions() *rootOptions {
	return &rootOptions{LogLevel: "info"}
}

func (o *rootOptions) installFlags(flags *pflag.FlagSet) {
	flags.BoolVarP(&o.Recursive, "recursive", "r", false, "include all descendants of each dataset")
	flags.StringArrayVarP(&o.Exclude, "exclude", "e", nil, "dataset subtree to exclude (repeatable, requires --recursive)")
	flags.StringVarP(&o.Prefix, "prefix", "p", "", "snapshot name prefix (default \"snappy\")")
	flags.BoolVarP(&o.NoSnapshot, "no-snapshot", "S", false, "skip taking a new snapshot this run")
	flags.StringVarP(&o.Keep, "keep", "k", "", "comma-separated keep-specs, e.g. \"7,1d:4,1w\"")
	flags.StringVarP(&o.SendTo, "send-to", "s", "", "replicate to this target dataset")
	flags.StringVarP(&o.SendBase, "send-base", "b", "", "dataset prefix stripped when mapping sources onto --send-to")
	flags.StringVar(&o.ConfigPath, "config", config.DefaultPath, "path to the job config file, for the auto subcommand")
	flags.BoolVar(&o.DryRun, "dry-run", false, "print what would happen instead of doing it")
	flags.StringVar(&o.LogLevel, "log-level", "info", "logging level: debug, info, warn, error")
}

// autoOptions holds the auto subcommand's flags: everything rootOptions
// has for logging/config, plus the restricted action mask.
type autoOptions struct {
	ConfigPath string
	DryRun     bool
	LogLevel   string
	Actions    string
}

func newAutoOptions() *autoOptions {
	return &autoOptions{LogLevel: "info", Actions: "snapshot,send"}
}

func (o *autoOptions) installFlags(flags *pflag.FlagSet) {
	flags.StringVar(&o.ConfigPath, "config", config.DefaultPath, "path to the job config file")
	flags.BoolVar(&o.DryRun, "dry-run", false, "print what would happen instead of doing it")
	flags.StringVar(&o.LogLevel, "log-level", "info", "logging level: debug, info, warn, error")
	flags.StringVar(&o.Actions, "actions", "snapshot,send", "restrict to \"snapshot\", \"send\", or \"snapshot,send\"")
}
