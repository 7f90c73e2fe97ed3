package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/majorcontext/girasol/internal/execution"
	"github.com/majorcontext/girasol/internal/history"
	"github.com/majorcontext/girasol/internal/ui"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [name]",
	Short: "List finished executions",
	Long: `List finished executions, newest first, optionally for one
definition. Local and daemon executions share one history.`,
	Args: cobra.MaximumNArgs(1),
	RunE: showHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", history.DefaultLimit, "maximum number of results")
	rootCmd.AddCommand(historyCmd)
}

func showHistory(cmd *cobra.Command, args []string) error {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	// SQLite tolerates a concurrent reader, so no daemon round trip.
	store, err := history.Open(paths.History())
	if err != nil {
		return err
	}
	defer store.Close()

	results, err := store.List(ctx, name, historyLimit)
	if err != nil {
		return err
	}

	if jsonOut {
		if results == nil {
			results = []execution.Result{}
		}
		return printJSON(results)
	}
	if len(results) == 0 {
		ui.Println("No executions recorded")
		return nil
	}

	table := ui.NewTable("NAME", "EXECUTION", "STATE", "ITERATIONS", "EXIT", "FINISHED", "ERROR")
	for _, res := range results {
		state := res.State.String()
		if res.Stopped {
			state += " (stopped)"
		}
		table.Row(res.Name, res.ID, ui.State(state),
			fmt.Sprintf("%d", res.Iterations),
			fmt.Sprintf("%d", res.ExitCode),
			formatAge(res.FinishedAt),
			res.Error)
	}
	return table.Flush()
}
