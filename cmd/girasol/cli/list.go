package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/majorcontext/girasol/internal/model"
	"github.com/majorcontext/girasol/internal/ui"
)

var listDetail bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored trace definitions",
	Args:  cobra.NoArgs,
	RunE:  listDefinitions,
}

func init() {
	listCmd.Flags().BoolVarP(&listDetail, "detail", "d", false, "print every definition in full")
	rootCmd.AddCommand(listCmd)
}

func listDefinitions(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	backend, closeFn, err := openCatalog(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	defs, err := backend.QueryAll(ctx)
	if err != nil {
		return err
	}

	if jsonOut {
		if defs == nil {
			defs = []model.TraceDefinition{}
		}
		return printJSON(defs)
	}
	if len(defs) == 0 {
		ui.Println("No trace definitions found")
		return nil
	}

	if listDetail {
		for i, def := range defs {
			if i > 0 {
				ui.Println("---")
			}
			data, err := model.MarshalYAMLBytes(def)
			if err != nil {
				return err
			}
			ui.Printf("%s", data)
		}
		return nil
	}

	table := ui.NewTable("NAME", "METHOD", "LASTING", "INTERVAL", "TARGET")
	for _, def := range defs {
		table.Row(def.Name, def.Content.Method(),
			fmt.Sprintf("%d", def.Lasting),
			fmt.Sprintf("%dms", def.Interval),
			target(def))
	}
	return table.Flush()
}

// target summarizes what a definition traces.
func target(def model.TraceDefinition) string {
	switch c := def.Content.(type) {
	case *model.SystemTap:
		return fmt.Sprintf("%s [%s]", c.Process, strings.Join(c.FunctionList, ","))
	case *model.PerfBranch:
		return fmt.Sprintf("%s (freq %s)", c.AbsolutePath, c.Frequency)
	}
	return "-"
}
