// Package main runs NanoUEM app lifecycle actions.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/micromdm/nanouem/action"
	"github.com/micromdm/nanouem/deploy"
	"github.com/micromdm/nanouem/engine"
	"github.com/micromdm/nanouem/log/logkeys"
	"github.com/micromdm/nanouem/uem"
	"github.com/micromdm/nanouem/uem/console"

	"github.com/micromdm/nanolib/envflag"
	"github.com/micromdm/nanolib/log/stdlogfmt"
)

// overridden by -ldflags -X
var version = "unknown"

const serve = "serve"

type config struct {
	creds *uem.Credentials

	bundleID    string
	keep        int
	policy      string
	status      string
	smartGroups string
	paramsFile  string

	deploy deploy.Request

	listen  string
	apiKey  string
	tmpDir  string
	storage string
	dsn     string
	options string
}

func usage() {
	w := flag.CommandLine.Output()
	fmt.Fprintf(w, "usage: %s [flags] <action>\n\nactions:\n", os.Args[0])
	for _, a := range []string{
		"versions",
		action.LatestVersion,
		action.DeletePreviousVersions,
		action.RetirePreviousVersions,
		action.UnretireAllVersions,
		action.AddOrUpdateAssignments,
		action.DeployBuild,
		serve,
	} {
		fmt.Fprintf(w, "  %s\n", a)
	}
	fmt.Fprintf(w, "\nflags:\n")
	flag.PrintDefaults()
}

func main() {
	cfg := &config{creds: new(uem.Credentials)}
	var (
		flDebug   = flag.Bool("debug", false, "log debug messages")
		flVersion = flag.Bool("version", false, "print version and exit")
		flDump    = flag.Bool("dump", false, "dump console responses to stderr and API requests to stdout")
		flKeep    = flag.Int("keep", -1, "number of most recent versions to keep (action default if negative)")
	)
	flag.StringVar(&cfg.creds.BaseURL, "host-url", "", "UEM console API host URL")
	flag.StringVar(&cfg.creds.TenantCode, "tenant-code", "", "UEM console API tenant code")
	flag.StringVar(&cfg.creds.Auth, "auth", "", "base64-encoded basic auth string")
	flag.StringVar(&cfg.creds.OrgGroupID, "org-group-id", "", "organization group ID")
	flag.StringVar(&cfg.bundleID, "bundle-id", "", "app bundle identifier")
	flag.StringVar(&cfg.policy, "policy", "", "keep policy when keep exceeds versions found: clamp or all (action default if empty)")
	flag.StringVar(&cfg.status, "status", "", "version status filter: any, active or retired")
	flag.StringVar(&cfg.smartGroups, "smart-groups", "", "comma-separated smart group names")
	flag.StringVar(&cfg.paramsFile, "params", "", "deployment parameters JSON or YAML file")
	flag.StringVar(&cfg.deploy.AppName, "app-name", "", "app name to deploy")
	flag.StringVar(&cfg.deploy.FilePath, "file", "", "path to the .ipa or .apk file to deploy")
	flag.StringVar(&cfg.deploy.PushMode, "push-mode", deploy.PushModeAuto, "deployment push mode")
	flag.StringVar(&cfg.deploy.Version, "app-version", "", "app version to deploy")
	flag.BoolVar(&cfg.deploy.CarryOverAssignments, "carry-over", false, "carry over assignments from the previous version")
	flag.StringVar(&cfg.listen, "listen", ":9005", "HTTP listen address (serve)")
	flag.StringVar(&cfg.apiKey, "api", "", "API key for API endpoints (serve)")
	flag.StringVar(&cfg.tmpDir, "tmp-dir", "", "directory for uploaded packages (serve)")
	flag.StringVar(&cfg.storage, "storage", "file", "name of history storage backend")
	flag.StringVar(&cfg.dsn, "storage-dsn", "", "data source name (e.g. connection string or path)")
	flag.StringVar(&cfg.options, "storage-options", "", "storage backend options (e.g. cache_size=1048576 for diskv)")
	flag.Usage = usage
	envflag.Parse("NANOUEM_", []string{"version"})

	if *flVersion {
		fmt.Println(version)
		return
	}

	logger := stdlogfmt.New(stdlogfmt.WithDebugFlag(*flDebug))

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}
	cfg.keep = *flKeep

	store, err := parseStorage(cfg.storage, cfg.dsn, cfg.options)
	if err != nil {
		logger.Info(logkeys.Message, "parse storage", logkeys.Error, err)
		os.Exit(1)
	}

	cOpts := []console.Option{console.WithLogger(logger.With("service", "console"))}
	if *flDump {
		cOpts = append(cOpts, console.WithDebugDump(os.Stderr))
	}
	runner := action.New(
		console.New(cOpts...),
		action.WithLogger(logger),
		action.WithHistory(store),
	)

	if flag.Arg(0) == serve {
		if err = runServer(cfg, logger, runner, store, *flDump); err != nil {
			logger.Info(logkeys.Message, "server shutdown", logkeys.Error, err)
			os.Exit(1)
		}
		return
	}

	result, err := run(context.Background(), cfg, runner, flag.Arg(0))
	if result != nil {
		if wErr := writeJSON(os.Stdout, result); wErr != nil {
			logger.Info(logkeys.Message, "encoding result", logkeys.Error, wErr)
		}
	}
	if err != nil {
		logger.Info(logkeys.Message, "running action", logkeys.Action, flag.Arg(0), logkeys.Error, err)
		os.Exit(1)
	}
}

// keepPolicy returns the configured keep count and policy falling back
// to keep and policy when unset.
func (c *config) keepPolicy(keep int, policy engine.KeepPolicy) (int, engine.KeepPolicy, error) {
	if c.keep >= 0 {
		keep = c.keep
	}
	if c.policy == "" {
		return keep, policy, nil
	}
	policy, err := engine.ParseKeepPolicy(c.policy)
	return keep, policy, err
}

// run runs the named action and returns its result.
// A result may be returned together with an error.
func run(ctx context.Context, cfg *config, runner *action.Runner, name string) (interface{}, error) {
	switch name {
	case "versions":
		filter, err := uem.ParseStatusFilter(cfg.status)
		if err != nil {
			return nil, err
		}
		versions, err := runner.Versions(ctx, cfg.creds, cfg.bundleID, filter)
		if err != nil {
			return nil, err
		}
		return versions, nil
	case action.LatestVersion:
		return report(runner.LatestVersion(ctx, cfg.creds, cfg.bundleID))
	case action.DeletePreviousVersions:
		keep, policy, err := cfg.keepPolicy(action.DefaultDeleteKeep, action.DefaultDeletePolicy)
		if err != nil {
			return nil, err
		}
		return report(runner.DeletePreviousVersions(ctx, cfg.creds, cfg.bundleID, keep, policy))
	case action.RetirePreviousVersions:
		keep, policy, err := cfg.keepPolicy(action.DefaultRetireKeep, action.DefaultRetirePolicy)
		if err != nil {
			return nil, err
		}
		return report(runner.RetirePreviousVersions(ctx, cfg.creds, cfg.bundleID, keep, policy))
	case action.UnretireAllVersions:
		return report(runner.UnretireAllVersions(ctx, cfg.creds, cfg.bundleID))
	case action.AddOrUpdateAssignments:
		names := splitNames(cfg.smartGroups)
		if len(names) < 1 {
			return nil, fmt.Errorf("%w: no smart group names given", uem.ErrConfiguration)
		}
		params, err := loadParams(cfg.paramsFile)
		if err != nil {
			return nil, err
		}
		return report(runner.AddOrUpdateAssignments(ctx, cfg.creds, cfg.bundleID, names, params))
	case action.DeployBuild:
		return report(runner.DeployBuild(ctx, cfg.creds, &cfg.deploy))
	}
	return nil, fmt.Errorf("%w: unknown action: %s", uem.ErrConfiguration, name)
}

// report avoids returning a nil report as a non-nil interface.
func report[T any](r *T, err error) (interface{}, error) {
	if r == nil {
		return nil, err
	}
	return r, err
}

func splitNames(s string) (names []string) {
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
