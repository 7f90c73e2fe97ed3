package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/majorcontext/girasol/internal/daemon"
	"github.com/majorcontext/girasol/internal/ui"
)

var (
	shutdownServer string
	shutdownWait   bool
)

var shutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Stop the daemon",
	Long: `Ask the daemon to shut down: running executions are stopped, the
catalog is flushed and the listener closed. With --wait the command
returns once the daemon process has exited.`,
	Args: cobra.NoArgs,
	RunE: shutdownDaemon,
}

func init() {
	shutdownCmd.Flags().StringVar(&shutdownServer, "server", "", "daemon address (default: the local daemon)")
	shutdownCmd.Flags().BoolVarP(&shutdownWait, "wait", "w", false, "wait for the daemon to exit")
	rootCmd.AddCommand(shutdownCmd)
}

func shutdownDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	client, err := dialDaemon(ctx, shutdownServer)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Kill(ctx); err != nil {
		return err
	}
	ui.Printf("Shutdown requested for %s\n", client.Addr())
	if !shutdownWait {
		return nil
	}

	lock, _ := daemon.ReadLockFile(paths.Run())
	select {
	case <-client.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if lock == nil || lock.Listen != client.Addr() {
		return nil
	}
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for lock.IsAlive() {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	ui.Println("Daemon stopped")
	return nil
}
