package pipeline

import (
	"time"

	"github.com/sells-group/leadcheck/internal/pacer"
)

// Outcome classifies what happened to one row of a batch.
type Outcome string

// Row outcomes.
const (
	// OutcomeCached means the CNPJ was already stored and no lookup was made.
	OutcomeCached Outcome = "cached"
	// OutcomeLookedUp means the registry answered and the row was inserted.
	OutcomeLookedUp Outcome = "looked_up"
	// OutcomeFailedLookup means the lookup failed and its marker was stored.
	OutcomeFailedLookup Outcome = "failed_lookup"
	// OutcomeRefreshed means an earlier transient failure was replaced.
	OutcomeRefreshed Outcome = "refreshed"
)

// RowResult is the per-row line of a batch report.
type RowResult struct {
	Line    int     `json:"line" yaml:"line"`
	CNPJ    string  `json:"cnpj" yaml:"cnpj"`
	Name    string  `json:"name" yaml:"name"`
	Status  string  `json:"status" yaml:"status"`
	Outcome Outcome `json:"outcome" yaml:"outcome"`
}

// BatchReport summarizes one processed batch.
type BatchReport struct {
	SessionID string      `json:"session_id" yaml:"session_id"`
	Number    int         `json:"number" yaml:"number"`
	Start     int         `json:"start" yaml:"start"`
	End       int         `json:"end" yaml:"end"`
	Rows      []RowResult `json:"rows" yaml:"rows"`
	Cached    int         `json:"cached" yaml:"cached"`
	LookedUp  int         `json:"looked_up" yaml:"looked_up"`
	Failed    int         `json:"failed" yaml:"failed"`
	Refreshed int         `json:"refreshed" yaml:"refreshed"`
	Cursor    int         `json:"cursor" yaml:"cursor"`
	Total     int         `json:"total" yaml:"total"`
	Completed bool        `json:"completed" yaml:"completed"`
	NotBefore time.Time   `json:"not_before,omitzero" yaml:"not_before,omitempty"`
}

func (r *BatchReport) add(res RowResult) {
	r.Rows = append(r.Rows, res)
	switch res.Outcome {
	case OutcomeCached:
		r.Cached++
	case OutcomeLookedUp:
		r.LookedUp++
	case OutcomeFailedLookup:
		r.Failed++
	case OutcomeRefreshed:
		r.Refreshed++
	}
}

// StatusReport is a point-in-time view of the controller for the CLI and
// the HTTP API.
type StatusReport struct {
	State     State     `json:"state" yaml:"state"`
	SessionID string    `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	Source    string    `json:"source,omitempty" yaml:"source,omitempty"`
	Cursor    int       `json:"cursor" yaml:"cursor"`
	Total     int       `json:"total" yaml:"total"`
	Remaining int       `json:"remaining" yaml:"remaining"`
	Batches   int       `json:"batches" yaml:"batches"`
	BatchSize int       `json:"batch_size" yaml:"batch_size"`
	NotBefore time.Time `json:"not_before,omitzero" yaml:"not_before,omitempty"`
	// Wait is how long until the next batch may start.
	Wait time.Duration `json:"wait_ns" yaml:"wait"`
	// RowDelay is the spacing between registry calls; RowWait is how long
	// the next call would be held back right now.
	RowDelay  time.Duration `json:"row_delay_ns" yaml:"row_delay"`
	RowWait   time.Duration `json:"row_wait_ns" yaml:"row_wait"`
	Memoized  int           `json:"memoized" yaml:"memoized"`
	LastError string        `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// Status reports progress of the current session.
func (c *Controller) Status() StatusReport {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := StatusReport{
		State:     c.stateLocked(),
		BatchSize: c.cfg.BatchSize,
		RowDelay:  c.pacer.Interval(),
	}
	s := c.session
	if s == nil {
		return st
	}
	st.Memoized = c.memo.Len()
	st.SessionID = s.ID
	st.Source = s.SourceName
	st.Cursor = s.Cursor
	st.Total = s.Total()
	st.Remaining = s.Remaining()
	st.Batches = s.Batches
	st.BatchSize = s.BatchSize
	st.NotBefore = s.NotBefore
	st.LastError = s.LastError
	if !s.Completed() {
		now := c.clock.Now()
		st.Wait = pacer.Remaining(now, s.NotBefore)
		st.RowWait = c.pacer.Delay(now)
	}
	return st
}
