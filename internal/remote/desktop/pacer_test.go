package desktop

import (
	"context"
	"testing"
	"time"
)

func fakeClock(start time.Time) (*time.Time, func() time.Time) {
	now := start
	return &now, func() time.Time { return now }
}

func TestPacerPeriod(t *testing.T) {
	tests := map[int]time.Duration{
		1:   time.Second,
		15:  time.Second / 15,
		60:  time.Second / 60,
		0:   time.Second,
		500: time.Second / 60,
	}
	for fps, want := range tests {
		if got := NewPacer(fps).Period(); got != want {
			t.Errorf("NewPacer(%d).Period() = %v, want %v", fps, got, want)
		}
	}
}

func TestPacerRemainingNeverNegative(t *testing.T) {
	p := NewPacer(10)
	now, clock := fakeClock(time.Unix(1000, 0))
	p.now = clock

	p.Mark()
	*now = now.Add(30 * time.Millisecond)
	if got := p.Remaining(); got != 70*time.Millisecond {
		t.Fatalf("Remaining = %v, want 70ms", got)
	}
	*now = now.Add(500 * time.Millisecond)
	if got := p.Remaining(); got != 0 {
		t.Fatalf("Remaining after overrun = %v, want 0", got)
	}
}

func TestPacerWaitOverrunReturnsImmediately(t *testing.T) {
	p := NewPacer(1)
	now, clock := fakeClock(time.Unix(1000, 0))
	p.now = clock
	p.Mark()
	*now = now.Add(2 * time.Second)

	start := time.Now()
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if d := time.Since(start); d > 50*time.Millisecond {
		t.Fatalf("Wait after overrun slept %v", d)
	}
}

func TestPacerWaitSleepsRemainder(t *testing.T) {
	p := NewPacer(20)
	p.Mark()
	start := time.Now()
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if d := time.Since(start); d < 40*time.Millisecond {
		t.Fatalf("Wait returned after %v, want about 50ms", d)
	}
}

func TestPacerWaitInterruptedByCancel(t *testing.T) {
	p := NewPacer(1)
	p.Mark()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	if err := p.Wait(ctx); err != context.Canceled {
		t.Fatalf("Wait = %v, want context.Canceled", err)
	}
	if d := time.Since(start); d > 500*time.Millisecond {
		t.Fatalf("cancel took %v to interrupt the wait", d)
	}
}
