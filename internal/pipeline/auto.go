package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// AutoHooks receives progress from RunAuto. Nil hooks are skipped.
type AutoHooks struct {
	OnBatch func(*BatchReport)
	// OnWait is called before sleeping until the next batch may start.
	OnWait func(remaining time.Duration)
}

// RunAuto processes batches until the session completes, is paused, or ctx
// is done. It waits for each batch not-before time through the clock.
// Reaching the end returns nil; a pause returns ErrPaused.
func (c *Controller) RunAuto(ctx context.Context, hooks AutoHooks) error {
	for {
		rep, err := c.ProcessNextBatch(ctx)
		var notReady *NotReadyError
		switch {
		case err == nil:
			if hooks.OnBatch != nil {
				hooks.OnBatch(rep)
			}
			if rep.Completed {
				zap.L().Info("pipeline: auto run completed", zap.String("session", rep.SessionID))
				return nil
			}
		case errors.As(err, &notReady):
			if hooks.OnWait != nil {
				hooks.OnWait(notReady.Remaining)
			}
			if err := c.clock.Sleep(ctx, notReady.Remaining); err != nil {
				return err
			}
		case errors.Is(err, ErrCompleted):
			return nil
		default:
			return err
		}
	}
}
