// Package settlement authorizes and executes relay-brokered vault liquidations.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"liquidation_go/internal/domain"
	"liquidation_go/internal/replay"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Config holds the identities fixed at construction.
type Config struct {
	Relay common.Address
	Owner common.Address
	// Ledger is the account the ledger pulls debt repayments with.
	Ledger common.Address
}

// Engine is the settlement engine. It keeps no mutable state of its own:
// everything it changes goes through the Runtime of the invocation.
type Engine struct {
	relay     common.Address
	owner     common.Address
	ledger    common.Address
	authority domain.SignatureAuthority
	runtime   domain.Runtime
	logger    *slog.Logger
}

// NewEngine creates an Engine. Relay and owner must be distinct, non-zero accounts.
func NewEngine(cfg Config, authority domain.SignatureAuthority, runtime domain.Runtime) (*Engine, error) {
	zero := common.Address{}
	switch {
	case cfg.Relay == zero:
		return nil, errors.New("relay address is required")
	case cfg.Owner == zero:
		return nil, errors.New("owner address is required")
	case cfg.Ledger == zero:
		return nil, errors.New("ledger address is required")
	case cfg.Relay == cfg.Owner:
		return nil, errors.New("relay and owner must differ")
	case authority == nil || runtime == nil:
		return nil, errors.New("authority and runtime are required")
	}

	return &Engine{
		relay:     cfg.Relay,
		owner:     cfg.Owner,
		ledger:    cfg.Ledger,
		authority: authority,
		runtime:   runtime,
		logger:    slog.Default().With("module", "settlement"),
	}, nil
}

// Relay returns the configured relay address.
func (e *Engine) Relay() common.Address { return e.relay }

// Owner returns the configured owner address.
func (e *Engine) Owner() common.Address { return e.owner }

// Settle liquidates req.VaultID on behalf of caller and pays req.Bid to the relay.
// The call either completes entirely or leaves no trace.
func (e *Engine) Settle(ctx context.Context, caller common.Address, req domain.SettleRequest) error {
	req = normalize(req)

	err := e.runtime.Atomic(ctx, func(st domain.State) error {
		return e.settle(ctx, st, caller, req)
	})

	if err != nil {
		e.logger.Warn("Settlement rejected",
			slog.String("vault_id", req.VaultID.Dec()),
			slog.String("bid", domain.FormatAmount(req.Bid, domain.NativeDecimals)),
			slog.String("caller", caller.Hex()),
			slog.Any("error", err),
		)
		return err
	}

	e.logger.Info("Settlement completed",
		slog.String("vault_id", req.VaultID.Dec()),
		slog.String("bid_wei", req.Bid.Dec()),
		slog.String("bid", domain.FormatAmount(req.Bid, domain.NativeDecimals)),
		slog.String("caller", caller.Hex()),
	)
	return nil
}

func (e *Engine) settle(ctx context.Context, st domain.State, caller common.Address, req domain.SettleRequest) error {
	// 1. Access control
	relayed := caller == e.relay
	if !relayed && caller != e.owner {
		return fmt.Errorf("%w: caller %s", domain.ErrUnauthorized, caller.Hex())
	}

	if domain.IsPositive(req.Value) {
		if err := st.Treasury().Credit(ctx, caller, req.Value); err != nil {
			return domain.NewCollaboratorError("credit_value", err)
		}
	}

	// 2. Authorization (relay only). The owner path is trusted and never
	// touches the ConsumedSet.
	var consumed domain.SignatureKey
	if relayed {
		if err := e.authorize(ctx, st, req.Authorization); err != nil {
			return err
		}
		consumed = domain.KeyOf(req.Signature)
	}

	// 3. Fresh prices before eligibility is evaluated
	if len(req.UpdateData) > 0 {
		if err := st.Oracle().UpdatePriceFeeds(ctx, req.UpdateData); err != nil {
			return domain.NewCollaboratorError("update_price_feeds", err)
		}
	}

	// 4. Snapshot
	vault, err := st.Ledger().GetVault(ctx, req.VaultID)
	if err != nil {
		return domain.NewCollaboratorError("get_vault", err)
	}

	// 5. Let the ledger pull the debt repayment
	if err := st.Tokens().Approve(ctx, vault.DebtToken, e.ledger, vault.DebtAmount); err != nil {
		return domain.NewCollaboratorError("approve_debt", err)
	}

	// 6. Liquidate
	if err := st.Ledger().Liquidate(ctx, req.VaultID); err != nil {
		return domain.NewCollaboratorError("liquidate", err)
	}

	// 7. Pay the relay, strictly after a successful liquidation
	if domain.IsPositive(req.Bid) {
		if err := st.Treasury().Transfer(ctx, e.relay, req.Bid); err != nil {
			return domain.NewCollaboratorError("pay_bid", err)
		}
	}

	return st.Emit(domain.SettlementCompleted{
		VaultID:   req.VaultID.Clone(),
		Bid:       req.Bid.Clone(),
		Caller:    caller,
		Signature: consumed,
		Marker:    st.Marker(),
	})
}

// authorize validates a relayed authorization and consumes it. Consumption
// happens here, right on acceptance; the surrounding Atomic call undoes it
// if any later step fails.
func (e *Engine) authorize(ctx context.Context, st domain.State, auth domain.Authorization) error {
	msg := domain.EncodeAuthorization(auth.VaultID, auth.Bid)
	if !e.authority.Verify(e.owner, msg, auth.ValidUntil, auth.Signature) {
		return domain.ErrInvalidAuthorizationSignature
	}

	if marker := st.Marker(); marker > auth.ValidUntil {
		return fmt.Errorf("%w: marker %d is past %d", domain.ErrExpiredAuthorization, marker, auth.ValidUntil)
	}

	guard := replay.NewGuard(st.Consumed())
	used, err := guard.IsConsumed(ctx, auth.Signature)
	if err != nil {
		return err
	}
	if used {
		return fmt.Errorf("%w: %s", domain.ErrAuthorizationAlreadyUsed, domain.KeyOf(auth.Signature).Hex())
	}
	return guard.Consume(ctx, auth.Signature)
}

func normalize(req domain.SettleRequest) domain.SettleRequest {
	if req.VaultID == nil {
		req.VaultID = new(uint256.Int)
	}
	if req.Bid == nil {
		req.Bid = new(uint256.Int)
	}
	if req.Value == nil {
		req.Value = new(uint256.Int)
	}
	return req
}
