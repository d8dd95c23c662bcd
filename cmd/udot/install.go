package main

import (
	"github.com/spf13/cobra"

	"github.com/schuerik/uberdot/pkg/config"
	"github.com/schuerik/uberdot/pkg/diff"
	"github.com/schuerik/uberdot/pkg/dynfile"
	"github.com/schuerik/uberdot/pkg/executor"
	"github.com/schuerik/uberdot/pkg/logging"
	"github.com/schuerik/uberdot/pkg/paths"
	"github.com/schuerik/uberdot/pkg/profile"
	"github.com/schuerik/uberdot/pkg/state"
)

type installFlags struct {
	dryRun     bool
	force      bool
	superforce bool
	makedirs   bool
	dui        bool
	directory  string
	parent     string
	divergence string
	overrides  map[string]string
	tags       []string
}

func newInstallCmd() *cobra.Command {
	flags := &installFlags{}
	cmd := &cobra.Command{
		Use:   "install PROFILE...",
		Short: "Install or update the given profiles",
		Long: `Generates the named profiles, diffs them against the installed state
and creates, updates or removes symlinks until both match. Profiles
already installed are updated in place.`,
		Args: cobra.MinimumNArgs(1),
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runInstall(cmd, args, flags, cmd.Flags().Changed("parent"))
	}

	cmd.Flags().BoolVarP(&flags.dryRun, "dry-run", "d", false,
		"Preview operations without touching the filesystem")
	cmd.Flags().BoolVarP(&flags.force, "force", "f", false,
		"Overwrite files that exist but are not managed by uberdot")
	cmd.Flags().BoolVar(&flags.superforce, "superforce", false,
		"Also touch blacklisted files")
	cmd.Flags().BoolVarP(&flags.makedirs, "makedirs", "m", false,
		"Create missing parent directories for new links")
	cmd.Flags().BoolVar(&flags.dui, "dui", false,
		"Order operations deletes-updates-inserts across all profiles")
	cmd.Flags().StringVar(&flags.directory, "directory", "",
		"Initial link directory for the root profiles")
	cmd.Flags().StringVar(&flags.parent, "parent", "",
		"Install the root profiles as subprofiles of this installed profile")
	cmd.Flags().StringVar(&flags.divergence, "divergence", "abort",
		"What to do with edited dynamic files: abort, diff, ignore, patch or undo")
	cmd.Flags().StringToStringVar(&flags.overrides, "opt", nil,
		"Override a default option, e.g. --opt prefix=.")
	cmd.Flags().StringSliceVar(&flags.tags, "tag", nil,
		"Activate a tag for this run (repeatable)")
	return cmd
}

func runInstall(cmd *cobra.Command, args []string, flags *installFlags, parentSet bool) error {
	logger := logging.GetLogger("cli")
	done := logging.LogOperationStart(logger, "install")
	defer done()

	resolution, err := parseResolution(flags.divergence)
	if err != nil {
		return err
	}

	env, err := setupRun()
	if err != nil {
		return err
	}
	defer env.close()

	defaults := env.cfg.Defaults
	if err := applyOverrides(&defaults, flags.overrides); err != nil {
		return err
	}
	defaults.Tags = append(defaults.Tags, flags.tags...)
	env.cfg.Defaults = defaults

	directory := flags.directory
	if directory == "" {
		directory = defaults.Directory
	}
	directory = paths.NormPath(directory)

	interp := profile.New(env.paths, env.cfg)
	opts := profile.OptionsFromDefaults(defaults)
	profiles, err := interp.ExecuteAll(cmd.Context(), args, opts, directory)
	if err != nil {
		return err
	}

	solver := diff.NewInstallSolver(env.doc, profiles, diff.InstallOptions{
		Parent:    flags.parent,
		ParentSet: parentSet,
	})
	log, err := solver.Solve()
	if err != nil {
		return err
	}

	ordering := diff.OrderDefault
	if flags.dui {
		ordering = diff.OrderDUI
	}
	ordered := log.Reorder(ordering)

	blacklist, err := config.LoadBlacklist()
	if err != nil {
		return err
	}
	checker, err := diff.NewChecker(env.doc, diff.CheckOptions{
		Force:      flags.force,
		Superforce: flags.superforce,
		Makedirs:   flags.makedirs,
		Blacklist:  blacklist,
	})
	if err != nil {
		return err
	}
	if err := checker.Check(ordered); err != nil {
		return err
	}

	// Links already on record for the profiles of this run may point at
	// dynamic files edited since the last run, even when the solver found
	// nothing to do.
	var installedLinks []state.Link
	for _, p := range profiles {
		for _, name := range p.AllNames() {
			if rec, ok := env.doc[name]; ok {
				installedLinks = append(installedLinks, rec.Links...)
			}
		}
	}

	engine := dynfile.NewEngine(env.paths.DataDir(),
		env.cfg.Settings.HashSeparator, env.cfg.Settings.BackupExtension)
	if err := checkDivergences(engine, ordered, installedLinks, resolution); err != nil {
		return err
	}

	exec := executor.New(env.store, env.doc, executor.Options{
		DryRun:   flags.dryRun,
		Makedirs: flags.makedirs,
	})
	report, err := exec.Apply(ordered)
	printReport(cmd.OutOrStdout(), report, flags.dryRun)
	return err
}
