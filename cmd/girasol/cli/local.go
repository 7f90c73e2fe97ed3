package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/majorcontext/girasol/internal/execution"
	"github.com/majorcontext/girasol/internal/history"
	"github.com/majorcontext/girasol/internal/log"
	"github.com/majorcontext/girasol/internal/supervisor"
	"github.com/majorcontext/girasol/internal/ui"
)

var (
	localRound   uint
	localPattern string
)

var localCmd = &cobra.Command{
	Use:   "local <name>",
	Short: "Run a trace definition in this process",
	Long: `Run a stored trace definition without a daemon and block until it
completes. Matching tracer output is printed as it arrives.

--round overrides the definition's lasting budget. --pattern is a regular
expression selecting which output lines are shown; empty shows all.
Interrupting stops the tracer and prints the partial result.`,
	Example: `  girasol local probe1
  girasol local probe1 --round 3 --pattern 'malloc|free'`,
	Args: cobra.ExactArgs(1),
	RunE: runLocal,
}

func init() {
	localCmd.Flags().UintVarP(&localRound, "round", "r", 0, "iterations to run (default: the definition's lasting)")
	localCmd.Flags().StringVarP(&localPattern, "pattern", "p", "", "regular expression filtering output lines")
	rootCmd.AddCommand(localCmd)
}

// lineReporter prints matched output as it arrives.
type lineReporter struct{}

func (lineReporter) Line(_, _, line string)    { ui.Println(line) }
func (lineReporter) Finished(execution.Result) {}

func runLocal(cmd *cobra.Command, args []string) error {
	name := args[0]

	lookupCtx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	backend, closeFn, err := openCatalog(lookupCtx)
	if err != nil {
		cancel()
		return err
	}
	def, err := backend.Get(lookupCtx, name)
	closeFn()
	cancel()
	if err != nil {
		return err
	}

	var recorder supervisor.Recorder
	if hist, err := history.Open(paths.History()); err != nil {
		log.Warn("execution history unavailable", "error", err)
	} else {
		defer hist.Close()
		recorder = hist
	}

	sup := supervisor.New(execution.Options{
		Tools:     execution.Tools{Stap: globalCfg.Tools.Stap, Perf: globalCfg.Tools.Perf},
		KillGrace: globalCfg.Execution.KillGrace,
		PTY:       globalCfg.Execution.PTY,
		OutputDir: paths.Traces(),
	}, recorder)
	defer sup.Close()

	ctx, stop := signalContext()
	defer stop()

	running, err := sup.Start(ctx, supervisor.StartRequest{
		Definition: def,
		Rounds:     localRound,
		Pattern:    localPattern,
		Reporter:   lineReporter{},
	})
	if err != nil {
		return err
	}
	ui.Infof("Running %s (%s), %d iteration(s) left", ui.Bold(name), running.ID(), running.Remaining().Remaining())

	// Blocks until the iteration budget is spent or the tracer ends early.
	if err := running.Remaining().Wait(ctx); err != nil {
		ui.Info("Stopping...")
		if err := sup.Stop(context.Background(), name); err != nil && !errors.Is(err, context.Canceled) {
			log.Debug("stop after interrupt", "error", err)
		}
	}

	waitCtx, cancelWait := context.WithTimeout(context.Background(), globalCfg.Execution.KillGrace+requestTimeout)
	defer cancelWait()
	res, err := running.Execution.Wait(waitCtx)
	if err != nil {
		return err
	}
	return printResult(res)
}
