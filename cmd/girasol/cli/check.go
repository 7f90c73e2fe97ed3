package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/majorcontext/girasol/internal/model"
	"github.com/majorcontext/girasol/internal/ui"
)

var checkCmd = &cobra.Command{
	Use:   "check <name>",
	Short: "Show one trace definition",
	Args:  cobra.ExactArgs(1),
	RunE:  checkDefinition,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func checkDefinition(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	backend, closeFn, err := openCatalog(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	def, err := backend.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(def)
	}
	data, err := model.MarshalYAMLBytes(def)
	if err != nil {
		return err
	}
	ui.Printf("%s", data)
	return nil
}
