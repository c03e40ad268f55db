package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EventKind names an observation emitted by the engine.
type EventKind string

const (
	EventSettlementCompleted EventKind = "SettlementCompleted"
	EventValueReceived       EventKind = "ValueReceived"
)

// Event is an audit observation. Events are staged inside an invocation and
// only become visible once the invocation commits.
type Event interface {
	Kind() EventKind
}

// SettlementCompleted is emitted after a vault was liquidated and the bid paid.
type SettlementCompleted struct {
	VaultID *uint256.Int
	Bid     *uint256.Int
	Caller  common.Address
	// Signature is the consumed authorization key; zero on the owner path.
	Signature SignatureKey
	// Marker is the deadline marker the settlement executed at.
	Marker uint64
}

func (SettlementCompleted) Kind() EventKind { return EventSettlementCompleted }

// ValueReceived is emitted for unsolicited incoming value.
type ValueReceived struct {
	Sender common.Address
	Amount *uint256.Int
	Marker uint64
}

func (ValueReceived) Kind() EventKind { return EventValueReceived }
