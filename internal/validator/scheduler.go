package validator

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Clock abstracts time for the scheduler so tests can drive cycles without
// sleeping.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Scheduler runs the dead-man's-switch on a fixed period. It re-arms only
// after the previous cycle completes, so cycles never overlap and never
// interleave writes to the license file.
type Scheduler struct {
	validator    *Validator
	interval     time.Duration
	cycleTimeout time.Duration
	clock        Clock
}

// NewScheduler creates a Scheduler over the validator.
func NewScheduler(v *Validator, interval, cycleTimeout time.Duration) *Scheduler {
	return &Scheduler{
		validator:    v,
		interval:     interval,
		cycleTimeout: cycleTimeout,
		clock:        realClock{},
	}
}

// WithClock replaces the scheduler clock. For tests.
func (s *Scheduler) WithClock(c Clock) *Scheduler {
	s.clock = c
	return s
}

// Run executes cycles until the context is cancelled. The first cycle runs
// immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		s.runOnce(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(s.interval):
		}
	}
}

// runOnce executes a single bounded cycle. A cycle exceeding its timeout is
// abandoned: the context expires, the network call fails as unreachable, and
// the result is absorbed by the state machine like any failed attempt.
func (s *Scheduler) runOnce(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, s.cycleTimeout)
	defer cancel()

	start := s.clock.Now()
	record, err := s.validator.RunCycle(cctx)
	elapsed := s.clock.Now().Sub(start)

	switch {
	case err == nil:
		slog.Debug("validation cycle complete",
			slog.String("status", string(record.Status)),
			slog.Duration("elapsed", elapsed),
		)
	case errors.Is(err, ErrCycleInFlight):
		slog.Warn("skipping validation cycle, previous cycle still running")
	default:
		// All revalidation errors are absorbed into state transitions or
		// logged; the scheduler itself never crashes.
		slog.Warn("validation cycle failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", elapsed),
		)
	}
}
