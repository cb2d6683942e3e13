// Package throttle runs resumable work in quanta sized to take a target
// wall-clock duration each.
package throttle

import (
	"context"
	"math"
	"time"
)

// Work processes up to n units and returns how many it processed. Returning
// fewer than n means the work is exhausted.
type Work func(n int) (int, error)

// Option configures a Throttle.
type Option func(*Throttle)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Throttle) { t.now = now }
}

// WithObserver registers fn to be called after every step with the quantum
// requested, the units done and the time taken.
func WithObserver(fn func(quantum, done int, elapsed time.Duration)) Option {
	return func(t *Throttle) { t.observe = fn }
}

// Throttle is a proportional controller over the quantum size: after each
// step it scales the quantum by how far the step was from the ideal
// duration.
type Throttle struct {
	cfg     Config
	quantum int
	now     func() time.Time
	observe func(quantum, done int, elapsed time.Duration)
}

// New creates a Throttle from cfg.
func New(cfg Config, opts ...Option) (*Throttle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Throttle{cfg: cfg, quantum: cfg.InitialQuantum, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Config returns the configuration the throttle was built with.
func (t *Throttle) Config() Config {
	return t.cfg
}

// Quantum is the number of units the next step will request.
func (t *Throttle) Quantum() int {
	if t.cfg.ThrottlingLimit > 0 {
		return t.cfg.ThrottlingLimit
	}
	return t.quantum
}

// Step runs one quantum of work. more is false once the work reported
// fewer units than requested, or failed.
func (t *Throttle) Step(work Work) (done int, more bool, err error) {
	n := t.Quantum()
	start := t.now()
	done, err = work(n)
	elapsed := t.now().Sub(start)
	if t.observe != nil {
		t.observe(n, done, elapsed)
	}
	if err != nil {
		return done, false, err
	}
	t.adjust(done, elapsed)
	return done, done >= n, nil
}

func (t *Throttle) adjust(done int, elapsed time.Duration) {
	if t.cfg.ThrottlingLimit > 0 || done <= 0 || elapsed <= 0 {
		return
	}
	next := math.Floor(float64(done) * float64(t.cfg.IdealDuration) / float64(elapsed))
	switch {
	case next > math.MaxInt32:
		t.quantum = math.MaxInt32
	case next < float64(t.cfg.MinimumQuantum):
		t.quantum = t.cfg.MinimumQuantum
	default:
		t.quantum = int(next)
	}
}

// Run steps through work until it is exhausted, fails, or ctx is done. It
// never yields between steps; callers that must return to an event loop
// drive Step themselves.
func (t *Throttle) Run(ctx context.Context, work Work) error {
	for {
		if err := context.Cause(ctx); err != nil {
			return err
		}
		_, more, err := t.Step(work)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}
