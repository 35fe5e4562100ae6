package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/leadcheck/internal/pipeline"
)

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Process the next batch of the current session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(env *appEnv) error {
			rep, err := env.Controller.ProcessNextBatch(cmd.Context())
			if err != nil {
				var notReady *pipeline.NotReadyError
				if errors.As(err, &notReady) {
					return fmt.Errorf("next batch available in %s", notReady.Remaining.Round(time.Second))
				}
				return err
			}
			return printResult(cmd.OutOrStdout(), rep)
		})
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the current session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(env *appEnv) error {
			if err := env.Controller.Pause(cmd.Context()); err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), env.Controller.Status())
		})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(env *appEnv) error {
			if err := env.Controller.Resume(cmd.Context()); err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), env.Controller.Status())
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show progress of the current session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(env *appEnv) error {
			return printResult(cmd.OutOrStdout(), env.Controller.Status())
		})
	},
}

var discardCmd = &cobra.Command{
	Use:   "discard",
	Short: "Drop the current session. Stored companies are kept",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(env *appEnv) error {
			return env.Controller.Discard(cmd.Context())
		})
	},
}

func withApp(ctx context.Context, fn func(*appEnv) error) error {
	env, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(env)
}

func init() {
	rootCmd.AddCommand(nextCmd, pauseCmd, resumeCmd, statusCmd, discardCmd)
}
