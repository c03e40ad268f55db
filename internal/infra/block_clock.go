package infra

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MarkerAdvancer moves the deadline marker forward.
type MarkerAdvancer interface {
	AdvanceMarker(ctx context.Context, n uint64) (uint64, error)
}

// BlockClock produces devnet blocks: every interval it advances the deadline
// marker by one and reports the new height.
type BlockClock struct {
	store    MarkerAdvancer
	onBlock  func(uint64)
	interval time.Duration
	height   uint64
	mu       sync.RWMutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// NewBlockClock creates a clock. onBlock may be nil.
func NewBlockClock(store MarkerAdvancer, interval time.Duration, onBlock func(uint64)) *BlockClock {
	if interval <= 0 {
		interval = time.Second
	}
	return &BlockClock{
		store:    store,
		onBlock:  onBlock,
		interval: interval,
		logger:   slog.Default().With("module", "block_clock"),
	}
}

// Start begins producing blocks
func (c *BlockClock) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("Block clock panic recovered", slog.Any("panic", r))
			}
		}()

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.logger.Info("Block clock stopped")
				return
			case <-ticker.C:
				if err := c.tick(ctx); err != nil {
					c.logger.Warn("Block production failed", slog.Any("error", err))
				}
			}
		}
	}()

	return nil
}

// tick advances the marker with retry logic
func (c *BlockClock) tick(ctx context.Context) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if i > 0 {
			// Exponential backoff: 50ms, 100ms
			delay := time.Duration(1<<uint(i-1)) * 50 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		height, err := c.store.AdvanceMarker(ctx, 1)
		if err == nil {
			c.mu.Lock()
			c.height = height
			c.mu.Unlock()

			c.logger.Debug("Block produced", slog.Uint64("height", height))
			if c.onBlock != nil {
				c.onBlock(height)
			}
			return nil
		}
		lastErr = err
		c.logger.Warn("Advance marker attempt failed", slog.Int("attempt", i+1), slog.Any("error", err))
	}
	return lastErr
}

// Stop stops block production
func (c *BlockClock) Stop() {
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
	}
}

// Height returns the last produced height
func (c *BlockClock) Height() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.height
}
