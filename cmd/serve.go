package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadcheck/internal/api"
	"github.com/sells-group/leadcheck/internal/config"
	"github.com/sells-group/leadcheck/internal/pipeline"
)

var (
	servePort int
	serveAuto bool
)

// autoPollInterval is how often the background runner checks for a session
// to process when none is runnable.
var autoPollInterval = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		handler := api.New(api.Deps{
			Controller:      env.Controller,
			Store:           env.Store,
			ValidateOptions: cfg.ValidateOptions(),
			MaxUploadBytes:  int64(cfg.Server.MaxUploadMB) << 20,
			CORSOrigins:     cfg.Server.CORSOrigins,
		}).Routes()

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		// Graceful shutdown
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		if serveAuto || cfg.Batch.Mode == config.ModeAuto || cfg.Batch.Mode == config.ModeFast {
			g.Go(func() error {
				runAutoLoop(gctx, env.Controller)
				return nil
			})
		}

		return g.Wait()
	},
}

// runAutoLoop keeps processing whatever session is loaded until ctx is
// done. Idle, paused and completed sessions are polled.
func runAutoLoop(ctx context.Context, ctl *pipeline.Controller) {
	zap.L().Info("auto batch runner started")
	for {
		err := ctl.RunAuto(ctx, pipeline.AutoHooks{
			OnBatch: func(rep *pipeline.BatchReport) {
				zap.L().Info("auto batch done",
					zap.Int("batch", rep.Number),
					zap.Int("cursor", rep.Cursor),
					zap.Int("total", rep.Total),
				)
			},
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, pipeline.ErrNotLoaded) && !errors.Is(err, pipeline.ErrPaused) &&
			!errors.Is(err, pipeline.ErrBusy) {
			zap.L().Error("auto batch failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(autoPollInterval):
		}
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveAuto, "auto", false, "process loaded sessions in the background")
	rootCmd.AddCommand(serveCmd)
}
