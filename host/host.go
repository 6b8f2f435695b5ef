package host

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sleeper stands in for the standby mode of a board. `speedup` shortens every sleep, so a day of wakes can be watched
// in minutes.
type Sleeper struct {
	pin     <-chan struct{}
	speedup float64
	clock   *Clock
	logger  *slog.Logger
}

// NewSleeper creates a sleeper woken early by sends on `pin`, which may be nil.
func NewSleeper(clock *Clock, pin <-chan struct{}, speedup float64) *Sleeper {
	if speedup <= 0 {
		speedup = 1
	}
	return &Sleeper{
		pin:     pin,
		speedup: speedup,
		clock:   clock,
		logger:  slog.Default().With("component", "sleeper"),
	}
}

func (s *Sleeper) Standby(ctx context.Context, seconds uint32, respondToPin bool) (bool, error) {
	simulated := time.Duration(seconds) * time.Second
	wait := time.Duration(float64(simulated) / s.speedup)
	s.logger.Debug("Entering standby", "seconds", seconds, "respond_to_pin", respondToPin)

	pin := s.pin
	if !respondToPin {
		pin = nil
	}

	start := time.Now()
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
		s.clock.advance(simulated - wait)
		return false, nil
	case <-pin:
		slept := time.Since(start)
		s.clock.advance(time.Duration(float64(slept)*s.speedup) - slept)
		return true, nil
	}
}

// Clock is a wall clock that can be set without touching the host clock. It also carries the time skipped by a
// sped up sleeper.
type Clock struct {
	mu     sync.Mutex
	offset time.Duration
	now    func() time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now().Add(c.offset).UTC()
}

func (c *Clock) Set(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = t.Sub(c.now())
	return nil
}

func (c *Clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

// Watchdog logs the kicks an external watchdog would receive, and how long the node went without one.
type Watchdog struct {
	last   time.Time
	clock  *Clock
	logger *slog.Logger
}

func NewWatchdog(clock *Clock) *Watchdog {
	return &Watchdog{
		clock:  clock,
		logger: slog.Default().With("component", "watchdog"),
	}
}

func (w *Watchdog) Kick() {
	now := w.clock.Now()
	if !w.last.IsZero() {
		w.logger.Debug("Kicked", "since_last", now.Sub(w.last))
	}
	w.last = now
}

// Resetter ends the run of the node, leaving the restart to the process supervisor.
type Resetter struct {
	cancel context.CancelFunc
	logger *slog.Logger
}

func NewResetter(cancel context.CancelFunc) *Resetter {
	return &Resetter{
		cancel: cancel,
		logger: slog.Default().With("component", "resetter"),
	}
}

func (r *Resetter) Reset(reason string) {
	r.logger.Warn("Reset requested", "reason", reason)
	r.cancel()
}
