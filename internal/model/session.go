package model

import (
	"time"
)

// BatchSession is the resumable state of one spreadsheet processing run.
// It is serialized to the store between operator interactions so the cursor
// survives process restarts and automatic reschedules.
type BatchSession struct {
	ID         string    `json:"id"`
	SourceName string    `json:"source_name"`
	Rows       []Row     `json:"rows"`
	Cursor     int       `json:"cursor"`
	BatchSize  int       `json:"batch_size"`
	Batches    int       `json:"batches"`
	Paused     bool      `json:"paused"`
	NotBefore  time.Time `json:"not_before,omitzero"`
	LastError  string    `json:"last_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Total returns the number of rows in the session.
func (s *BatchSession) Total() int {
	return len(s.Rows)
}

// Completed reports whether the cursor has reached the end of the rows.
func (s *BatchSession) Completed() bool {
	return s.Cursor >= len(s.Rows)
}

// Remaining returns the number of rows not yet processed.
func (s *BatchSession) Remaining() int {
	if s.Completed() {
		return 0
	}
	return len(s.Rows) - s.Cursor
}

// NextRange returns the half-open row range of the next batch, clamped to
// the row count.
func (s *BatchSession) NextRange() (start, end int) {
	size := s.BatchSize
	if size <= 0 {
		size = 1
	}
	start = min(s.Cursor, len(s.Rows))
	end = min(start+size, len(s.Rows))
	return start, end
}

// Clone returns a deep copy of the session.
func (s *BatchSession) Clone() *BatchSession {
	c := *s
	c.Rows = make([]Row, len(s.Rows))
	copy(c.Rows, s.Rows)
	return &c
}
