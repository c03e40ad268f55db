package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// ErrTaskPanicked is returned by Supervise when the task panicked.
var ErrTaskPanicked = errors.New("task panicked")

// Supervise runs fn until it returns nil or ctx ends. Returned errors restart
// it after an exponential backoff. A panic is not retried: Supervise returns
// an ErrTaskPanicked error and the caller is expected to bring the app down.
func Supervise(ctx context.Context, name string, fn func(context.Context) error) error {
	logger := slog.Default().With("module", "supervisor", "task", name)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = minBackoff
	b.MaxInterval = maxBackoff
	b.Reset()

	for {
		err := runGuarded(ctx, fn)
		switch {
		case errors.Is(err, ErrTaskPanicked):
			logger.Error("🛑 Task panicked, not restarting", slog.Any("error", err))
			return err
		case err == nil || ctx.Err() != nil:
			logger.Info("Task finished")
			return nil
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			wait = maxBackoff
		}
		logger.Error("Task failed, restarting", slog.Any("error", err), slog.Duration("backoff", wait))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func runGuarded(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return fn(ctx)
}
