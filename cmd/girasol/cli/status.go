package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/majorcontext/girasol/internal/daemon"
	"github.com/majorcontext/girasol/internal/supervisor"
	"github.com/majorcontext/girasol/internal/ui"
)

var statusServer string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon and its running executions",
	Args:  cobra.NoArgs,
	RunE:  showStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusServer, "server", "", "daemon address (default: the local daemon)")
	rootCmd.AddCommand(statusCmd)
}

func showStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	client, err := dialDaemon(ctx, statusServer)
	if err != nil {
		return err
	}
	defer client.Close()

	running, err := client.Status(ctx)
	if err != nil {
		return err
	}
	health, err := daemon.Health(ctx, client.Addr())
	if err != nil {
		return err
	}

	if jsonOut {
		if running == nil {
			running = []supervisor.Status{}
		}
		return printJSON(struct {
			Daemon     *daemon.HealthResponse `json:"daemon"`
			Executions []supervisor.Status    `json:"executions"`
		}{health, running})
	}

	ui.Printf("%s pid %d on %s, up %s\n", ui.Bold("daemon"), health.PID, health.Listen, health.Uptime)
	ui.Printf("  %d definition(s), %d connection(s)\n\n", health.Definitions, health.Connections)

	if len(running) == 0 {
		ui.Println("No running executions")
		return nil
	}
	table := ui.NewTable("NAME", "EXECUTION", "METHOD", "STATE", "REMAINING", "STARTED")
	for _, st := range running {
		table.Row(st.Name, st.ID, st.Method, ui.State(st.State),
			fmt.Sprintf("%d", st.Remaining), formatAge(st.StartedAt))
	}
	return table.Flush()
}
