package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadcheck/internal/pipeline"
	"github.com/sells-group/leadcheck/internal/store"
	"github.com/sells-group/leadcheck/pkg/registry"
)

// appEnv holds the store and the batch controller shared by the session,
// run and serve commands.
type appEnv struct {
	Store      store.Store
	Controller *pipeline.Controller
}

// Close releases the store.
func (a *appEnv) Close() {
	if a.Store != nil {
		_ = a.Store.Close()
	}
}

// openStore connects to the configured backend. Migrations are applied on
// every open.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.StoreOpenConfig())
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}

// newRegistry builds the registry client from config. Tests replace it.
var newRegistry = func() registry.Client {
	opts := []registry.Option{
		registry.WithBaseURL(cfg.Registry.BaseURL),
		registry.WithTimeout(cfg.RegistryTimeout()),
		registry.WithRetry(cfg.RetryPolicy()),
	}
	if b := cfg.Breaker(); b != nil {
		opts = append(opts, registry.WithBreaker(b))
	}
	return registry.NewClient(opts...)
}

// initApp opens the store, builds the controller and restores the last
// saved session, if any. Callers should defer env.Close().
func initApp(ctx context.Context) (*appEnv, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	ctl := pipeline.New(cfg.PipelineConfig(), st, newRegistry(), pipeline.WithSessionStore(st))
	restored, err := ctl.RestoreSaved(ctx)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "restore session")
	}
	if restored {
		s := ctl.Status()
		zap.L().Info("session restored",
			zap.String("session", s.SessionID),
			zap.String("source", s.Source),
			zap.Int("cursor", s.Cursor),
			zap.Int("total", s.Total),
		)
	}

	return &appEnv{Store: st, Controller: ctl}, nil
}
