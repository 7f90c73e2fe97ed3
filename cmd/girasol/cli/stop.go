package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/majorcontext/girasol/internal/ui"
)

var stopServer string

var stopCmd = &cobra.Command{
	Use:   "stop <name>",
	Short: "Stop an execution running on the daemon",
	Long: `Stop the daemon's running execution of a definition. The tracer gets
execution.kill_grace to exit before it is killed; the result is recorded
as completed and stopped.`,
	Args: cobra.ExactArgs(1),
	RunE: stopExecution,
}

func init() {
	stopCmd.Flags().StringVar(&stopServer, "server", "", "daemon address (default: the local daemon)")
	rootCmd.AddCommand(stopCmd)
}

func stopExecution(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	client, err := dialDaemon(ctx, stopServer)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Stop(ctx, args[0]); err != nil {
		return err
	}
	ui.Printf("Stopping %s\n", args[0])
	return nil
}
