// Package workers runs independent jobs with bounded concurrency.
package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Processor handles one item.
type Processor[T, R any] func(context.Context, T) (R, error)

// Pool processes items concurrently and returns results in input order.
type Pool[T, R any] struct {
	workers int
	timeout time.Duration
	logger  *slog.Logger
}

// Option allows customization of pool behavior
type Option func(*config)

type config struct {
	workers int
	timeout time.Duration
	logger  *slog.Logger
}

// WithWorkers sets the number of concurrent workers
func WithWorkers(workers int) Option {
	return func(c *config) {
		if workers > 0 {
			c.workers = workers
		}
	}
}

// WithTimeout sets the timeout for individual items
func WithTimeout(timeout time.Duration) Option {
	return func(c *config) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

func New[T, R any](options ...Option) *Pool[T, R] {
	cfg := config{
		workers: 4,
		timeout: 30 * time.Second,
		logger:  slog.Default(),
	}
	for _, option := range options {
		option(&cfg)
	}

	return &Pool[T, R]{
		workers: cfg.workers,
		timeout: cfg.timeout,
		logger:  cfg.logger,
	}
}

// Process runs processor on every item. The first error cancels the
// remaining items and is returned.
func (p *Pool[T, R]) Process(ctx context.Context, items []T, processor Processor[T, R]) ([]R, error) {
	if len(items) == 0 {
		return []R{}, nil
	}

	p.logger.Debug("Starting worker pool",
		"worker_count", p.workers,
		"item_count", len(items),
		"timeout", p.timeout)

	results := make([]R, len(items))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			itemCtx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()

			result, err := processor(itemCtx, item)
			if err != nil {
				return fmt.Errorf("processing item %d: %w", i, err)
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		p.logger.Error("Worker pool processing failed", "error", err)
		return nil, err
	}
	return results, nil
}
