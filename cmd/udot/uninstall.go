package main

import (
	"github.com/spf13/cobra"

	"github.com/schuerik/uberdot/pkg/config"
	"github.com/schuerik/uberdot/pkg/diff"
	"github.com/schuerik/uberdot/pkg/dynfile"
	"github.com/schuerik/uberdot/pkg/executor"
	"github.com/schuerik/uberdot/pkg/logging"
)

func newUninstallCmd() *cobra.Command {
	var (
		dryRun     bool
		superforce bool
		dui        bool
		divergence string
	)
	cmd := &cobra.Command{
		Use:   "uninstall PROFILE...",
		Short: "Uninstall the given profiles and all their subprofiles",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.GetLogger("cli")
			done := logging.LogOperationStart(logger, "uninstall")
			defer done()

			resolution, err := parseResolution(divergence)
			if err != nil {
				return err
			}

			env, err := setupRun()
			if err != nil {
				return err
			}
			defer env.close()

			log, err := diff.NewUninstallSolver(env.doc, args).Solve()
			if err != nil {
				return err
			}

			ordering := diff.OrderDefault
			if dui {
				ordering = diff.OrderDUI
			}
			ordered := log.Reorder(ordering)

			blacklist, err := config.LoadBlacklist()
			if err != nil {
				return err
			}
			checker, err := diff.NewChecker(env.doc, diff.CheckOptions{
				Superforce: superforce,
				Blacklist:  blacklist,
			})
			if err != nil {
				return err
			}
			if err := checker.Check(ordered); err != nil {
				return err
			}

			engine := dynfile.NewEngine(env.paths.DataDir(),
				env.cfg.Settings.HashSeparator, env.cfg.Settings.BackupExtension)
			if err := checkDivergences(engine, ordered, nil, resolution); err != nil {
				return err
			}

			exec := executor.New(env.store, env.doc, executor.Options{DryRun: dryRun})
			report, err := exec.Apply(ordered)
			printReport(cmd.OutOrStdout(), report, dryRun)
			return err
		},
	}

	cmd.Flags().BoolVarP(&dryRun, "dry-run", "d", false,
		"Preview operations without touching the filesystem")
	cmd.Flags().BoolVar(&superforce, "superforce", false,
		"Also remove blacklisted links")
	cmd.Flags().BoolVar(&dui, "dui", false,
		"Order operations deletes-updates-inserts across all profiles")
	cmd.Flags().StringVar(&divergence, "divergence", "abort",
		"What to do with edited dynamic files: abort, diff, ignore, patch or undo")
	return cmd
}
