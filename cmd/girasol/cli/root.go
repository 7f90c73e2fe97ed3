// Package cli implements the girasol command-line interface using Cobra.
// Catalog commands work against the running daemon when there is one and
// open the catalog directly otherwise; execution commands either run a
// tracer in-process (local) or ask the daemon to (submit).
package cli

import (
	"github.com/spf13/cobra"

	"github.com/majorcontext/girasol/internal/config"
	"github.com/majorcontext/girasol/internal/log"
	"github.com/majorcontext/girasol/internal/ui"
)

var (
	verbose bool
	jsonOut bool
	homeDir string

	globalCfg *config.GlobalConfig
	paths     config.Paths
)

var rootCmd = &cobra.Command{
	Use:   "girasol",
	Short: "Girasol - remotely controlled tracing daemon",
	Long: `Girasol stores named tracing jobs (SystemTap probes and perf branch
sampling) and supervises running instances of them, either in-process or
through a daemon that clients drive over a websocket.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if homeDir == "" {
			homeDir = config.HomeDir()
		}
		paths = config.Paths{Home: homeDir}

		cfg, err := config.LoadGlobal(homeDir)
		if err != nil {
			return err
		}
		globalCfg = cfg

		prefix := "cli"
		if cmd.Name() == "endpoint" {
			prefix = "daemon"
		}
		if err := log.Init(log.Options{
			Verbose:       verbose,
			JSONFormat:    jsonOut,
			DebugDir:      paths.Debug(),
			FilePrefix:    prefix,
			RetentionDays: cfg.Debug.RetentionDays,
		}); err != nil {
			// Non-fatal: the default stderr logger stays in place.
			ui.Warnf("failed to initialize debug logging: %v", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		log.Close()
	},
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		ui.Error(err.Error())
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "girasol home directory (env: "+config.EnvHome+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
}
