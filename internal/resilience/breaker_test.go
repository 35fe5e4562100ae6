package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *time.Time) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(threshold, cooldown)
	b.Now = func() time.Time { return now }
	return b, &now
}

func TestBreaker_OpensAfterConsecutiveTransientFailures(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	transient := &StatusError{Code: 503}

	for range 2 {
		require.NoError(t, b.Allow())
		b.Record(transient)
	}
	assert.Equal(t, BreakerClosed, b.State())

	require.NoError(t, b.Allow())
	b.Record(transient)
	assert.Equal(t, BreakerOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestBreaker_PermanentFailureResetsCount(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)

	b.Record(&StatusError{Code: 503})
	b.Record(&StatusError{Code: 404})
	b.Record(&StatusError{Code: 503})
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_HalfOpenTrialCall(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)
	var changes []string
	b.OnChange = func(from, to BreakerState) { changes = append(changes, from.String()+">"+to.String()) }

	b.Record(&StatusError{Code: 500})
	require.ErrorIs(t, b.Allow(), ErrCircuitOpen)

	*now = now.Add(time.Minute)
	require.NoError(t, b.Allow(), "trial call allowed after cooldown")
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen, "only one trial call in flight")

	b.Record(nil)
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, []string{"closed>open", "open>half-open", "half-open>closed"}, changes)
}

func TestBreaker_FailedTrialReopens(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)

	b.Record(&StatusError{Code: 500})
	*now = now.Add(2 * time.Minute)
	require.NoError(t, b.Allow())
	b.Record(errors.New("i/o: connection reset"))

	assert.Equal(t, BreakerOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrCircuitOpen)
}

func TestBreaker_CancelledCallIsIgnored(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)
	b.Record(context.Canceled)
	assert.Equal(t, BreakerClosed, b.State())
}
