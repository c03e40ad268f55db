package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// SignatureAuthority checks that signature was produced by signer over message
// and deadline. Malformed signatures yield false, never an error.
type SignatureAuthority interface {
	Verify(signer common.Address, message []byte, deadline uint64, signature []byte) bool
}

// VaultLedger owns vault state. Liquidate pulls the debt repayment from the
// engine, so the engine must approve the ledger beforehand.
type VaultLedger interface {
	GetVault(ctx context.Context, id *uint256.Int) (Vault, error)
	Liquidate(ctx context.Context, id *uint256.Int) error
}

// PriceOracle accepts signed price-update payloads.
type PriceOracle interface {
	UpdatePriceFeeds(ctx context.Context, payloads [][]byte) error
}

// TokenApprover sets the engine's token allowances.
type TokenApprover interface {
	Approve(ctx context.Context, token, spender common.Address, amount *uint256.Int) error
}

// Treasury moves native value in and out of the engine account.
type Treasury interface {
	Credit(ctx context.Context, from common.Address, amount *uint256.Int) error
	Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error
}

// ConsumedSet is the append-only table of consumed signature keys.
type ConsumedSet interface {
	Contains(ctx context.Context, key SignatureKey) (bool, error)
	Insert(ctx context.Context, key SignatureKey) error
}

// State is the view of the world inside one atomic invocation. Every mutation
// made through it is discarded if the invocation fails.
type State interface {
	// Marker is the current deadline marker (block height).
	Marker() uint64
	Ledger() VaultLedger
	Oracle() PriceOracle
	Tokens() TokenApprover
	Treasury() Treasury
	Consumed() ConsumedSet
	Emit(ev Event) error
}

// Runtime executes fn as a single all-or-nothing unit of work. If fn returns
// an error, every mutation it made is rolled back.
type Runtime interface {
	Atomic(ctx context.Context, fn func(State) error) error
}

// EventSink receives events after their invocation committed.
type EventSink interface {
	Publish(ev Event)
}
