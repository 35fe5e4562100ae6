// Package pipeline drives a loaded spreadsheet through the registry in
// batches: existence check, paced lookup, and idempotent upsert per row.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadcheck/internal/model"
	"github.com/sells-group/leadcheck/internal/pacer"
	"github.com/sells-group/leadcheck/internal/store"
	"github.com/sells-group/leadcheck/pkg/registry"
)

// State is the externally visible controller state.
type State string

// Controller states.
const (
	StateIdle      State = "idle"
	StateLoaded    State = "loaded"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
)

// Refusals returned by ProcessNextBatch and the session commands.
var (
	ErrNotLoaded = eris.New("no spreadsheet loaded")
	ErrPaused    = eris.New("processing is paused")
	ErrCompleted = eris.New("all rows already processed")
	ErrBusy      = eris.New("a batch is already running")
	ErrNotReady  = eris.New("next batch not ready")
)

// NotReadyError is returned while the batch not-before time is in the future.
type NotReadyError struct {
	Remaining time.Duration
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("next batch not ready: wait %s", e.Remaining.Round(time.Second))
}

// Is makes errors.Is(err, ErrNotReady) match.
func (e *NotReadyError) Is(target error) bool {
	return target == ErrNotReady
}

// Store is the subset of store.Store the pipeline writes through.
type Store interface {
	Lookup(ctx context.Context, cnpj string) (*model.Company, error)
	Upsert(ctx context.Context, c model.Company) (store.UpsertOutcome, error)
}

// SessionStore persists the batch session between runs.
type SessionStore interface {
	SaveSession(ctx context.Context, s *model.BatchSession) error
	LoadSession(ctx context.Context) (*model.BatchSession, error)
	DeleteSession(ctx context.Context, id string) error
}

// Config holds batch sizing and pacing.
type Config struct {
	BatchSize  int
	RowDelay   time.Duration
	BatchDelay time.Duration
}

// DefaultBatchSize is used when Config.BatchSize is not positive.
const DefaultBatchSize = 3

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c pacer.Clock) Option {
	return func(ctl *Controller) {
		ctl.clock = c
	}
}

// WithSessionStore persists the session after every state change.
func WithSessionStore(s SessionStore) Option {
	return func(ctl *Controller) {
		ctl.sessions = s
	}
}

// Controller owns the single active batch session.
type Controller struct {
	cfg      Config
	store    Store
	sessions SessionStore
	registry registry.Client
	memo     *registry.Memo
	clock    pacer.Clock
	pacer    *pacer.Pacer

	mu      sync.Mutex
	session *model.BatchSession
	running bool
}

// New creates a Controller with no session loaded.
func New(cfg Config, st Store, reg registry.Client, opts ...Option) *Controller {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	c := &Controller{
		cfg:      cfg,
		store:    st,
		registry: reg,
		clock:    pacer.SystemClock{},
	}
	for _, o := range opts {
		o(c)
	}
	c.memo = registry.NewMemo(reg)
	c.pacer = pacer.New(cfg.RowDelay, c.clock)
	return c
}

// Config returns the effective configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// Load replaces any current session with a fresh one over rows.
func (c *Controller) Load(ctx context.Context, rows []model.Row, source string) (*model.BatchSession, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	prev := c.session
	now := c.clock.Now()
	c.session = &model.BatchSession{
		ID:         uuid.NewString(),
		SourceName: source,
		Rows:       append([]model.Row(nil), rows...),
		BatchSize:  c.cfg.BatchSize,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	snap := c.session.Clone()
	c.mu.Unlock()

	c.memo.Reset()
	zap.L().Info("pipeline: session loaded",
		zap.String("session", snap.ID),
		zap.String("source", source),
		zap.Int("rows", len(rows)),
		zap.Int("batch_size", snap.BatchSize),
	)

	if c.sessions != nil {
		if prev != nil {
			if err := c.sessions.DeleteSession(ctx, prev.ID); err != nil {
				zap.L().Warn("pipeline: delete previous session", zap.String("session", prev.ID), zap.Error(err))
			}
		}
		if err := c.sessions.SaveSession(ctx, snap); err != nil {
			return snap, eris.Wrap(err, "pipeline: save session")
		}
	}
	return snap, nil
}

// ProcessNextBatch runs the next batch of rows. The cursor only advances
// once every row of the batch has been looked up and stored.
func (c *Controller) ProcessNextBatch(ctx context.Context) (*BatchReport, error) {
	c.mu.Lock()
	if err := c.checkReadyLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.running = true
	start, end := c.session.NextRange()
	rows := append([]model.Row(nil), c.session.Rows[start:end]...)
	rep := &BatchReport{
		SessionID: c.session.ID,
		Number:    c.session.Batches + 1,
		Start:     start,
		End:       end,
		Total:     c.session.Total(),
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	log := zap.L().With(zap.String("session", rep.SessionID), zap.Int("batch", rep.Number))
	log.Info("pipeline: batch started", zap.Int("start", start), zap.Int("end", end))

	for _, row := range rows {
		res, err := c.processRow(ctx, row)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("pipeline: batch cancelled", zap.Int("line", row.Line))
				return rep, eris.Wrap(ctx.Err(), "pipeline: batch cancelled")
			}
			return rep, c.abort(ctx, rep, row, err)
		}
		rep.add(res)
	}

	c.mu.Lock()
	now := c.clock.Now()
	c.session.Cursor = end
	c.session.Batches++
	c.session.LastError = ""
	c.session.UpdatedAt = now
	if c.session.Completed() {
		c.session.NotBefore = time.Time{}
	} else {
		c.session.NotBefore = now.Add(c.cfg.BatchDelay)
	}
	rep.Cursor = c.session.Cursor
	rep.Completed = c.session.Completed()
	rep.NotBefore = c.session.NotBefore
	snap := c.session.Clone()
	c.mu.Unlock()

	log.Info("pipeline: batch finished",
		zap.Int("cursor", rep.Cursor),
		zap.Int("total", rep.Total),
		zap.Int("looked_up", rep.LookedUp),
		zap.Int("cached", rep.Cached),
		zap.Int("failed", rep.Failed),
		zap.Int("refreshed", rep.Refreshed),
		zap.Bool("completed", rep.Completed),
	)

	// Every row of the batch is committed, so a failed save only means the
	// next run re-checks rows that now short-circuit on the existence check.
	c.persist(ctx, snap)
	return rep, nil
}

func (c *Controller) checkReadyLocked() error {
	switch {
	case c.session == nil:
		return ErrNotLoaded
	case c.running:
		return ErrBusy
	case c.session.Paused:
		return ErrPaused
	case c.session.Completed():
		return ErrCompleted
	}
	now := c.clock.Now()
	if !pacer.Ready(now, c.session.NotBefore) {
		return &NotReadyError{Remaining: pacer.Remaining(now, c.session.NotBefore)}
	}
	return nil
}

func (c *Controller) processRow(ctx context.Context, row model.Row) (RowResult, error) {
	out := RowResult{Line: row.Line, CNPJ: row.CNPJ, Name: row.Name}

	existing, err := c.store.Lookup(ctx, row.CNPJ)
	if err != nil {
		return out, eris.Wrapf(err, "lookup stored %s", row.CNPJ)
	}
	if existing != nil && !existing.LookupRetryable {
		out.Status = existing.RegistrationStatus
		out.Outcome = OutcomeCached
		return out, nil
	}

	if err := c.pacer.Wait(ctx); err != nil {
		return out, err
	}
	res := c.memo.Lookup(ctx, row.CNPJ)
	if err := ctx.Err(); err != nil {
		return out, err
	}

	outcome, err := c.store.Upsert(ctx, model.Company{
		CNPJ:               row.CNPJ,
		Name:               row.Name,
		Phone:              row.Phone,
		RegistrationStatus: res.Value(),
		LookupRetryable:    res.Retryable(),
		Stage:              model.DefaultStage,
	})
	if err != nil {
		return out, eris.Wrapf(err, "store %s", row.CNPJ)
	}

	out.Status = res.Value()
	switch {
	case outcome == store.Refreshed:
		out.Outcome = OutcomeRefreshed
	case outcome == store.Skipped:
		out.Outcome = OutcomeCached
	case !res.OK():
		out.Outcome = OutcomeFailedLookup
	default:
		out.Outcome = OutcomeLookedUp
	}
	if !res.OK() {
		zap.L().Warn("pipeline: lookup failed",
			zap.String("cnpj", row.CNPJ),
			zap.String("status", res.Value()),
			zap.Bool("retryable", res.Retryable()),
		)
	}
	return out, nil
}

// abort records a store failure on the session without moving the cursor.
func (c *Controller) abort(ctx context.Context, rep *BatchReport, row model.Row, err error) error {
	err = eris.Wrapf(err, "pipeline: batch %d aborted at row %d", rep.Number, row.Line)

	c.mu.Lock()
	c.session.LastError = err.Error()
	c.session.UpdatedAt = c.clock.Now()
	rep.Cursor = c.session.Cursor
	snap := c.session.Clone()
	c.mu.Unlock()

	zap.L().Error("pipeline: batch aborted",
		zap.String("session", rep.SessionID),
		zap.Int("batch", rep.Number),
		zap.Int("line", row.Line),
		zap.Error(err),
	)
	c.persist(ctx, snap)
	return err
}

func (c *Controller) persist(ctx context.Context, snap *model.BatchSession) {
	if c.sessions == nil {
		return
	}
	if err := c.sessions.SaveSession(ctx, snap); err != nil {
		zap.L().Warn("pipeline: save session", zap.String("session", snap.ID), zap.Error(err))
	}
}

// Pause stops new batches from starting. A running batch finishes. A
// completed session can be paused too; resuming it leaves it completed.
func (c *Controller) Pause(ctx context.Context) error {
	return c.setPaused(ctx, true)
}

// Resume allows batches to start again.
func (c *Controller) Resume(ctx context.Context) error {
	return c.setPaused(ctx, false)
}

// TogglePause flips the paused flag and returns the new value.
func (c *Controller) TogglePause(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return false, ErrNotLoaded
	}
	paused := !c.session.Paused
	c.mu.Unlock()
	return paused, c.setPaused(ctx, paused)
}

func (c *Controller) setPaused(ctx context.Context, paused bool) error {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return ErrNotLoaded
	}
	c.session.Paused = paused
	c.session.UpdatedAt = c.clock.Now()
	snap := c.session.Clone()
	c.mu.Unlock()

	zap.L().Info("pipeline: pause changed", zap.String("session", snap.ID), zap.Bool("paused", paused))
	if c.sessions != nil {
		if err := c.sessions.SaveSession(ctx, snap); err != nil {
			return eris.Wrap(err, "pipeline: save session")
		}
	}
	return nil
}

// State reports the current controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	switch {
	case c.session == nil:
		return StateIdle
	case c.running:
		return StateRunning
	case c.session.Paused:
		return StatePaused
	case c.session.Completed():
		return StateCompleted
	default:
		return StateLoaded
	}
}

// Snapshot returns a copy of the current session, or nil when idle.
func (c *Controller) Snapshot() *model.BatchSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	return c.session.Clone()
}

// Restore installs a previously saved session. The persisted cursor is
// ground truth, so completed batches are never repeated.
func (c *Controller) Restore(s *model.BatchSession) error {
	if s == nil {
		return ErrNotLoaded
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrBusy
	}
	c.session = s.Clone()
	if c.session.BatchSize <= 0 {
		c.session.BatchSize = c.cfg.BatchSize
	}
	c.session.Cursor = min(max(c.session.Cursor, 0), len(c.session.Rows))
	return nil
}

// RestoreSaved loads the latest session from the session store. It reports
// false when nothing was saved.
func (c *Controller) RestoreSaved(ctx context.Context) (bool, error) {
	if c.sessions == nil {
		return false, nil
	}
	s, err := c.sessions.LoadSession(ctx)
	if err != nil {
		return false, eris.Wrap(err, "pipeline: load session")
	}
	if s == nil {
		return false, nil
	}
	if err := c.Restore(s); err != nil {
		return false, err
	}
	zap.L().Debug("pipeline: session restored", zap.String("session", s.ID), zap.Int("cursor", s.Cursor))
	return true, nil
}

// Discard drops the current session, in memory and in the session store.
func (c *Controller) Discard(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrBusy
	}
	prev := c.session
	c.session = nil
	c.mu.Unlock()

	if prev == nil || c.sessions == nil {
		return nil
	}
	return eris.Wrap(c.sessions.DeleteSession(ctx, prev.ID), "pipeline: delete session")
}
