package pacer

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Pacer enforces a minimum interval between registry calls. The first call
// proceeds immediately; each later call waits until interval has elapsed
// since the previous one.
type Pacer struct {
	mu       sync.Mutex
	clock    Clock
	limiter  *rate.Limiter
	interval time.Duration
}

// New creates a Pacer. A non-positive interval disables pacing.
func New(interval time.Duration, clock Clock) *Pacer {
	if clock == nil {
		clock = SystemClock{}
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Pacer{
		clock:    clock,
		limiter:  rate.NewLimiter(limit, 1),
		interval: interval,
	}
}

// Interval returns the configured spacing.
func (p *Pacer) Interval() time.Duration {
	return p.interval
}

// Delay reports how long a call made at now would have to wait. It does not
// consume the slot.
func (p *Pacer) Delay(now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.limiter.TokensAt(now) >= 1 {
		return 0
	}
	r := p.limiter.ReserveN(now, 1)
	d := r.DelayFrom(now)
	r.CancelAt(now)
	return d
}

// Wait claims the next slot and sleeps through the clock until it opens.
// When ctx is cancelled during the sleep the slot is released.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	now := p.clock.Now()
	r := p.limiter.ReserveN(now, 1)
	if !r.OK() {
		p.mu.Unlock()
		return eris.New("pacer: reservation exceeds burst")
	}
	d := r.DelayFrom(now)
	p.mu.Unlock()

	if d <= 0 {
		return nil
	}
	if err := p.clock.Sleep(ctx, d); err != nil {
		p.mu.Lock()
		r.CancelAt(p.clock.Now())
		p.mu.Unlock()
		return err
	}
	return nil
}

// Ready reports whether now is at or past notBefore. A zero notBefore is
// always ready.
func Ready(now, notBefore time.Time) bool {
	return Remaining(now, notBefore) == 0
}

// Remaining returns how long until notBefore, or zero when it has passed.
func Remaining(now, notBefore time.Time) time.Duration {
	if notBefore.IsZero() || !now.Before(notBefore) {
		return 0
	}
	return notBefore.Sub(now)
}
