package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/majorcontext/girasol/internal/ui"
)

var removeCmd = &cobra.Command{
	Use:     "remove <name>...",
	Aliases: []string{"rm"},
	Short:   "Remove trace definitions",
	Long: `Remove trace definitions from the catalog. An execution already
running from a removed definition keeps running.`,
	Args: cobra.MinimumNArgs(1),
	RunE: removeDefinitions,
}

func init() {
	rootCmd.AddCommand(removeCmd)
}

func removeDefinitions(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	backend, closeFn, err := openCatalog(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	if len(args) == 1 {
		if err := backend.Remove(ctx, args[0]); err != nil {
			return err
		}
		ui.Printf("Removed %s\n", args[0])
		return nil
	}

	failed := 0
	for _, name := range args {
		if err := backend.Remove(ctx, name); err != nil {
			ui.Errorf("%v", err)
			failed++
			continue
		}
		ui.Printf("Removed %s\n", name)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d definitions not removed", failed, len(args))
	}
	return nil
}
