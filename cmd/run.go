package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadcheck/internal/config"
	"github.com/sells-group/leadcheck/internal/pipeline"
)

var runFast bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process batches until the session completes",
	Long: "Runs batch after batch, waiting out the pause between batches. " +
		"Stops when the session completes or on interrupt. " +
		"Progress is saved after every batch, so an interrupted run resumes where it stopped.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if runFast {
			cfg.Batch.Mode = config.ModeFast
		}

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		out := cmd.OutOrStdout()
		err = env.Controller.RunAuto(ctx, pipeline.AutoHooks{
			OnBatch: func(rep *pipeline.BatchReport) {
				fmt.Fprintf(out, "batch %d: rows %d-%d of %d (cached %d, looked up %d, refreshed %d, failed %d)\n",
					rep.Number, rep.Start+1, rep.End, rep.Total, rep.Cached, rep.LookedUp, rep.Refreshed, rep.Failed)
			},
			OnWait: func(remaining time.Duration) {
				fmt.Fprintf(out, "waiting %s before the next batch\n", remaining.Round(time.Second))
			},
		})
		switch {
		case err == nil:
			return printResult(out, env.Controller.Status())
		case errors.Is(err, pipeline.ErrPaused):
			zap.L().Info("run stopped: session paused")
			return printResult(out, env.Controller.Status())
		case ctx.Err() != nil:
			zap.L().Info("run interrupted, progress saved", zap.Int("cursor", env.Controller.Status().Cursor))
			return nil
		default:
			return err
		}
	},
}

func init() {
	runCmd.Flags().BoolVar(&runFast, "fast", false, "use the short pause between batches")
	rootCmd.AddCommand(runCmd)
}
