package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/majorcontext/girasol/internal/daemon"
	"github.com/majorcontext/girasol/internal/ui"
)

var (
	submitRound   uint
	submitPattern string
	submitServer  string
	submitDetach  bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <name>",
	Short: "Run a trace definition on the daemon",
	Long: `Ask the daemon to run a stored trace definition. Matching output is
streamed back until the execution completes.

With --detach the command returns once the daemon admits the execution;
its completion is still recorded in history. Interrupting a streaming
submit stops the execution on the daemon.`,
	Example: `  girasol submit probe1 --round 3
  girasol submit probe1 --server 10.0.0.5:7878 --detach`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().UintVarP(&submitRound, "round", "r", 0, "iterations to run (default: the definition's lasting)")
	submitCmd.Flags().StringVarP(&submitPattern, "pattern", "p", "", "regular expression filtering output lines")
	submitCmd.Flags().StringVar(&submitServer, "server", "", "daemon address (default: the local daemon)")
	submitCmd.Flags().BoolVarP(&submitDetach, "detach", "d", false, "return once the execution is admitted")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	name := args[0]

	ctx, stop := signalContext()
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	client, err := dialDaemon(dialCtx, submitServer)
	if err != nil {
		return err
	}
	defer client.Close()

	started, err := client.Start(dialCtx, name, daemon.StartOptions{
		Rounds:  submitRound,
		Pattern: submitPattern,
	})
	if err != nil {
		return err
	}
	if submitDetach {
		if jsonOut {
			return printJSON(started)
		}
		ui.Printf("Submitted %s (%s), %d iteration(s)\n", ui.Bold(started.Name), started.ID, started.Remaining)
		return nil
	}
	ui.Infof("Running %s (%s) on %s", ui.Bold(name), started.ID, client.Addr())

	res, err := client.WaitCompleted(ctx, started.ID, func(line string) { ui.Println(line) })
	if err != nil && ctx.Err() != nil {
		ui.Info("Stopping...")
		stopCtx, cancelStop := context.WithTimeout(context.Background(), requestTimeout)
		defer cancelStop()
		if err := client.Stop(stopCtx, name); err != nil {
			return err
		}
		waitCtx, cancelWait := context.WithTimeout(context.Background(), globalCfg.Execution.KillGrace+10*time.Second)
		defer cancelWait()
		res, err = client.WaitCompleted(waitCtx, started.ID, func(line string) { ui.Println(line) })
	}
	if err != nil {
		return err
	}
	return printResult(res)
}
