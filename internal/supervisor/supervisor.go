// Package supervisor restarts long-running tasks that fail or panic, with
// exponential backoff and a bounded number of consecutive restarts.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-promo-bot/internal/observability"
)

// ErrTooManyRestarts is returned when a task keeps failing.
var ErrTooManyRestarts = errors.New("supervisor: too many restarts")

// Task is a blocking function that returns when ctx is done or on failure.
type Task func(ctx context.Context) error

// Options control restart behaviour.
type Options struct {
	MaxRestarts    int           // consecutive restarts before giving up; <= 0 means 10
	InitialBackoff time.Duration // first delay; <= 0 means 1s
	MaxBackoff     time.Duration // delay cap; <= 0 means 1m
	// HealthyAfter resets the restart counter when a run lasted at least
	// this long; <= 0 means 1m.
	HealthyAfter time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRestarts <= 0 {
		o.MaxRestarts = 10
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = time.Minute
	}
	if o.HealthyAfter <= 0 {
		o.HealthyAfter = time.Minute
	}
	return o
}

// Run executes task until it returns nil, ctx is canceled, or it fails
// MaxRestarts times in a row. Panics count as failures.
func Run(ctx context.Context, name string, opts Options, task Task) error {
	opts = opts.withDefaults()
	l := log.With().Str("task", name).Logger()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.InitialBackoff
	b.MaxInterval = opts.MaxBackoff
	b.Reset()

	restarts := 0
	for {
		started := time.Now()
		err := runOnce(ctx, task)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			l.Info().Msg("supervisor: task finished")
			return nil
		}
		if time.Since(started) >= opts.HealthyAfter {
			restarts = 0
			b.Reset()
		}
		restarts++
		if restarts > opts.MaxRestarts {
			l.Error().Err(err).Int("restarts", restarts-1).Msg("supervisor: giving up")
			return fmt.Errorf("%w: %s: %w", ErrTooManyRestarts, name, err)
		}

		delay := b.NextBackOff()
		observability.SupervisorRestarts.WithLabelValues(name).Inc()
		l.Warn().Err(err).Int("restart", restarts).Dur("backoff", delay).Msg("supervisor: restarting task")

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func runOnce(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("supervisor: task panicked")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task(ctx)
}
