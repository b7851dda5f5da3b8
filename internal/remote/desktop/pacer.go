package desktop

import (
	"context"
	"time"
)

// Pacer holds a loop to a target rate by sleeping whatever is left of the
// period after each iteration. It never catches up: an iteration that
// overruns the period is followed immediately by the next one.
type Pacer struct {
	period time.Duration
	start  time.Time
	now    func() time.Time
}

func NewPacer(fps int) *Pacer {
	fps = clampInt(fps, 1, 60)
	return &Pacer{
		period: time.Second / time.Duration(fps),
		now:    time.Now,
	}
}

func (p *Pacer) Period() time.Duration {
	return p.period
}

// Mark records the start of an iteration.
func (p *Pacer) Mark() {
	p.start = p.now()
}

// Remaining is the unused part of the current period, never negative.
func (p *Pacer) Remaining() time.Duration {
	left := p.period - p.now().Sub(p.start)
	if left < 0 {
		return 0
	}
	return left
}

// Wait sleeps for Remaining or until ctx is done, returning ctx.Err() in
// the latter case.
func (p *Pacer) Wait(ctx context.Context) error {
	left := p.Remaining()
	if left <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(left)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
