package cli

import (
	"github.com/spf13/cobra"

	"github.com/majorcontext/girasol/internal/daemon"
	"github.com/majorcontext/girasol/internal/log"
	"github.com/majorcontext/girasol/internal/ui"
)

var endpointListen string

var endpointCmd = &cobra.Command{
	Use:   "endpoint",
	Short: "Run the tracing daemon",
	Long: `Run the daemon in the foreground. It owns the catalog, supervises
running executions and serves clients on a websocket at /v1/ws.

SIGINT or SIGTERM (or a client's shutdown request) stops running
executions, flushes the catalog and closes the listener before exit.`,
	Args: cobra.NoArgs,
	RunE: runEndpoint,
}

func init() {
	endpointCmd.Flags().StringVar(&endpointListen, "listen", "", "address to listen on (default from config)")
	rootCmd.AddCommand(endpointCmd)
}

func runEndpoint(cmd *cobra.Command, args []string) error {
	cfg := *globalCfg
	if endpointListen != "" {
		cfg.Listen = endpointListen
	}

	d, err := daemon.New(&cfg, paths)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	ui.Infof("girasol endpoint listening on %s", d.Addr())
	if err := d.Run(ctx); err != nil {
		log.Error("daemon exited with error", "error", err)
		return err
	}
	return nil
}
