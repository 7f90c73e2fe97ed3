package cli

import (
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/majorcontext/girasol/internal/ui"
)

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "none"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of girasol",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ui.Printf("girasol %s\n", version)
		if commit != "none" {
			ui.Printf("  commit: %s\n", commit)
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			ui.Printf("  go:     %s\n", info.GoVersion)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
