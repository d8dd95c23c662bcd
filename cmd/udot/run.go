package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/schuerik/uberdot/pkg/config"
	"github.com/schuerik/uberdot/pkg/diff"
	"github.com/schuerik/uberdot/pkg/dynfile"
	"github.com/schuerik/uberdot/pkg/errors"
	"github.com/schuerik/uberdot/pkg/executor"
	"github.com/schuerik/uberdot/pkg/paths"
	"github.com/schuerik/uberdot/pkg/state"
)

// runtimeEnv wires the packages a command needs, with the state lock
// held for the command's duration.
type runtimeEnv struct {
	cfg   *config.Config
	paths *paths.Paths
	store *state.Store
	doc   state.Document
	lock  *state.Lock
}

// setupRun loads configuration, resolves paths, takes the state lock
// and reads the installed state.
func setupRun() (*runtimeEnv, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	p, err := paths.New(cfg.Settings.TargetFiles, cfg.Settings.ProfileFiles)
	if err != nil {
		return nil, err
	}
	store := state.NewStore(p.StateFile(session), cfg.Settings.BackupExtension)
	lock, err := store.Acquire()
	if err != nil {
		return nil, err
	}
	doc, err := store.Load()
	if err != nil {
		lock.Release()
		return nil, err
	}
	return &runtimeEnv{cfg: cfg, paths: p, store: store, doc: doc, lock: lock}, nil
}

func (r *runtimeEnv) close() {
	if r.lock != nil {
		r.lock.Release()
	}
}

// applyOverrides folds --opt key=value pairs into the run's defaults.
func applyOverrides(defaults *config.Defaults, overrides map[string]string) error {
	for key, value := range overrides {
		switch key {
		case "directory":
			defaults.Directory = value
		case "name":
			defaults.Name = value
		case "owner":
			defaults.Owner = value
		case "prefix":
			defaults.Prefix = value
		case "suffix":
			defaults.Suffix = value
		case "extension":
			defaults.Extension = value
		case "replace":
			defaults.Replace = value
		case "replace_pattern":
			defaults.ReplacePattern = value
		case "permission":
			permission, err := strconv.Atoi(value)
			if err != nil {
				return errors.Newf(errors.ErrInvalidOption, "permission %q is not a number", value)
			}
			defaults.Permission = permission
		case "optional", "secure":
			enabled, err := strconv.ParseBool(value)
			if err != nil {
				return errors.Newf(errors.ErrInvalidOption, "%s %q is not a bool", key, value)
			}
			if key == "optional" {
				defaults.Optional = enabled
			} else {
				defaults.Secure = enabled
			}
		case "tags":
			defaults.Tags = append(defaults.Tags, strings.Split(value, ",")...)
		default:
			return errors.Newf(errors.ErrInvalidOption, "unknown option %q", key)
		}
	}
	return nil
}

// parseResolution maps the --divergence flag to an engine resolution.
func parseResolution(value string) (dynfile.Resolution, error) {
	switch value {
	case "abort":
		return dynfile.Abort, nil
	case "diff":
		return dynfile.ShowDiff, nil
	case "ignore":
		return dynfile.Ignore, nil
	case "patch":
		return dynfile.Patch, nil
	case "undo":
		return dynfile.Undo, nil
	default:
		return 0, errors.Newf(errors.ErrInvalidOption,
			"unknown divergence policy %q (abort, diff, ignore, patch, undo)", value)
	}
}

// checkDivergences inspects every dynamic-file target a run touches and
// applies the chosen policy to edited ones. That covers targets about to
// be replaced or removed, plus the installed links of the run's profiles:
// an unchanged profile produces no operations, but its generated files
// may still have been edited out-of-band since the last run.
func checkDivergences(engine *dynfile.Engine, ops []diff.Operation, installed []state.Link, res dynfile.Resolution) error {
	seen := make(map[string]bool)
	check := func(target string) error {
		if seen[target] {
			return nil
		}
		seen[target] = true
		div, err := engine.CheckDivergence(target)
		if err != nil {
			return err
		}
		if div == nil {
			return nil
		}
		return engine.Resolve(div, res)
	}
	for _, op := range ops {
		switch op := op.(type) {
		case diff.RemoveLink:
			if err := check(op.Link.Target); err != nil {
				return err
			}
		case diff.UpdateLink:
			if err := check(op.Old.Target); err != nil {
				return err
			}
		}
	}
	for _, link := range installed {
		if err := check(link.Target); err != nil {
			return err
		}
	}
	return nil
}

// printReport renders what a run did, or in a dry run, would do.
func printReport(w io.Writer, report *executor.Report, dryRun bool) {
	if len(report.Entries) == 0 {
		fmt.Fprintln(w, styleDim.Render("Everything is up to date, nothing to do"))
		return
	}
	for _, entry := range report.Entries {
		switch {
		case entry.Applied:
			fmt.Fprintf(w, "%s %s\n", styleApplied.Render("✓"), entry.Description)
		case dryRun:
			fmt.Fprintf(w, "%s %s\n", stylePlanned.Render("→"), entry.Description)
		default:
			fmt.Fprintf(w, "%s %s\n", styleFailed.Render("✗"), entry.Description)
		}
	}
	if dryRun {
		fmt.Fprintln(w, styleDim.Render("Dry run, nothing was changed"))
	}
}
