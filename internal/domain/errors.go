package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// Settlement rejections. Each aborts the whole invocation.
var (
	// ErrUnauthorized is returned when the caller is neither the relay nor the owner.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidAuthorizationSignature is returned when the signature does not verify against the owner.
	ErrInvalidAuthorizationSignature = errors.New("invalid authorization signature")

	// ErrExpiredAuthorization is returned when the current marker is past validUntil.
	ErrExpiredAuthorization = errors.New("expired authorization")

	// ErrAuthorizationAlreadyUsed is returned when the signature was consumed before.
	ErrAuthorizationAlreadyUsed = errors.New("authorization already used")

	// ErrNotFound is returned by the ledger for unknown vaults.
	ErrNotFound = errors.New("not found")
)

// Ledger, oracle and treasury failures. Propagated verbatim by the engine.
var (
	ErrVaultNotLiquidatable  = errors.New("vault not liquidatable")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrPriceUnavailable      = errors.New("price unavailable")
	ErrStalePrice            = errors.New("stale price")
	ErrInvalidPriceUpdate    = errors.New("invalid price update")
	ErrAmountOverflow        = errors.New("amount overflow")

	// ErrDoubleConsume means a signature was consumed twice in one code path.
	// The engine always checks before consuming, so this is a programming error.
	ErrDoubleConsume = errors.New("signature consumed twice")
)

// CollaboratorError wraps a failure reported by an external collaborator
// (ledger, oracle, token approvals, value transfer).
type CollaboratorError struct {
	Op        string // e.g. "liquidate", "update_price_feeds", "pay_bid"
	Err       error
	Retriable bool // the same call may succeed once the collaborator state changes
}

func (e *CollaboratorError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *CollaboratorError) IsRetriable() bool {
	return e.Retriable
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// NewCollaboratorError classifies err. Balance, allowance and price problems
// can clear without a new authorization; everything else cannot.
func NewCollaboratorError(op string, err error) *CollaboratorError {
	retriable := errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInsufficientAllowance) ||
		errors.Is(err, ErrStalePrice) ||
		errors.Is(err, ErrPriceUnavailable) ||
		errors.Is(err, ErrVaultNotLiquidatable)
	return &CollaboratorError{Op: op, Err: err, Retriable: retriable}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
