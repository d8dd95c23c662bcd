package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/schuerik/uberdot/internal/version"
	"github.com/schuerik/uberdot/pkg/logging"
)

var (
	verbosity  int
	configFile string
	session    string
)

// newRootCmd builds the full command tree. Flag variables are rebound on
// every call so repeated executions start from defaults.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "udot",
		Short: "A symlink based dotfile manager",
		Long: `uberdot manages your dotfiles as symlinks into a versioned file tree.
Profiles are small scripts that declare which files get linked where;
uberdot diffs them against what is installed and applies only the
difference.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.SetupLogger(verbosity)
			log.Debug().Str("command", cmd.Name()).Msg("Command started")
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v",
		"Increase verbosity (-v INFO, -vv DEBUG, -vvv TRACE)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"Explicit config file (merged over /etc/uberdot and $XDG_CONFIG_HOME/uberdot)")
	rootCmd.PersistentFlags().StringVar(&session, "state", "default",
		"Name of the installed-state session to operate on")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newInstallCmd())
	rootCmd.AddCommand(newUninstallCmd())
	rootCmd.AddCommand(newShowCmd())
	return rootCmd
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return newRootCmd().Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("uberdot version %s (state schema %s)\n", version.Version, version.SchemaVersion)
		fmt.Printf("  commit: %s\n", version.Commit)
		fmt.Printf("  built:  %s\n", version.Date)
	},
}
