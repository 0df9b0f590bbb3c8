package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per cycle with the time the cycle started.
type TickFunc func(ctx context.Context, started time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	// Interval is the pause between the end of one cycle and the start of the next.
	Interval     time.Duration
	StartupDelay time.Duration
	// MaxCycles stops Run after that many cycles when positive.
	MaxCycles int
}

// Scheduler drives sequential poll cycles. A cycle always runs to completion before the next
// delay starts, so cycles never overlap.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks, invoking tick, then waiting Interval, until ctx is cancelled. Tick errors are logged
// and never stop the loop.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := wait(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	for cycles := 0; ; {
		if err := ctx.Err(); err != nil {
			return err
		}

		started := s.now()
		if err := tick(ctx, started); err != nil {
			s.logger.Error().Err(err).Time("started", started).Msg("cycle failed")
		}
		s.logger.Debug().
			Dur("elapsed", s.now().Sub(started)).
			Dur("next_in", s.opts.Interval).
			Msg("cycle finished")

		cycles++
		if s.opts.MaxCycles > 0 && cycles >= s.opts.MaxCycles {
			return nil
		}

		if err := wait(ctx, s.opts.Interval); err != nil {
			return err
		}
	}
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
