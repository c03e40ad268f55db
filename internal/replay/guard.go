// Package replay tracks which authorizations have already been used.
package replay

import (
	"context"
	"fmt"

	"liquidation_go/internal/domain"
)

// Guard is the ReplayGuard over a ConsumedSet. Signatures are keyed by their
// keccak-256 hash; entries are never removed.
type Guard struct {
	set domain.ConsumedSet
}

// NewGuard wraps the ConsumedSet of the current invocation.
func NewGuard(set domain.ConsumedSet) *Guard {
	return &Guard{set: set}
}

// IsConsumed reports whether signature was consumed by an earlier settlement.
func (g *Guard) IsConsumed(ctx context.Context, signature []byte) (bool, error) {
	used, err := g.set.Contains(ctx, domain.KeyOf(signature))
	if err != nil {
		return false, fmt.Errorf("replay lookup: %w", err)
	}
	return used, nil
}

// Consume marks signature used. Consuming twice returns ErrDoubleConsume.
func (g *Guard) Consume(ctx context.Context, signature []byte) error {
	key := domain.KeyOf(signature)
	used, err := g.set.Contains(ctx, key)
	if err != nil {
		return fmt.Errorf("replay lookup: %w", err)
	}
	if used {
		return fmt.Errorf("%w: %s", domain.ErrDoubleConsume, key.Hex())
	}
	if err := g.set.Insert(ctx, key); err != nil {
		return fmt.Errorf("replay insert: %w", err)
	}
	return nil
}
