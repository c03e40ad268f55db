package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"liquidation_go/internal/domain"
	"liquidation_go/internal/event"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"gorm.io/gorm"
)

// state is the transaction-scoped view handed to domain.Runtime callers.
type state struct {
	store  *Storage
	tx     *gorm.DB
	marker uint64
	events []domain.Event
}

func (st *state) Marker() uint64 { return st.marker }
func (st *state) Ledger() domain.VaultLedger { return (*ledger)(st) }
func (st *state) Oracle() domain.PriceOracle { return (*oracle)(st) }
func (st *state) Tokens() domain.TokenApprover { return (*tokens)(st) }
func (st *state) Treasury() domain.Treasury { return (*treasury)(st) }
func (st *state) Consumed() domain.ConsumedSet { return (*consumed)(st) }

// Emit persists the event and stages it for publication after commit.
func (st *state) Emit(ev domain.Event) error {
	env := event.Encode(ev)
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	rec := eventRecord{
		UID:     uuid.NewString(),
		Kind:    env.Kind,
		Marker:  env.Marker,
		Payload: string(payload),
	}
	if err := st.tx.Create(&rec).Error; err != nil {
		return fmt.Errorf("store event: %w", err)
	}

	if sc, ok := ev.(domain.SettlementCompleted); ok {
		s := settlementRecord{
			ID:           rec.UID,
			VaultID:      sc.VaultID.Dec(),
			Bid:          domain.DecimalFromAmount(sc.Bid),
			Caller:       sc.Caller.Hex(),
			SignatureKey: env.Signature,
			Marker:       sc.Marker,
		}
		if err := st.tx.Create(&s).Error; err != nil {
			return fmt.Errorf("store settlement: %w", err)
		}
	}

	st.events = append(st.events, ev)
	return nil
}

// ======================================================================================
// Vault ledger
// ======================================================================================

type ledger state

func loadVault(db *gorm.DB, id *uint256.Int) (vaultRecord, error) {
	var rec vaultRecord
	err := db.Take(&rec, "id = ?", id.Dec()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rec, fmt.Errorf("vault %s: %w", id.Dec(), domain.ErrNotFound)
	}
	return rec, err
}

func (l *ledger) GetVault(_ context.Context, id *uint256.Int) (domain.Vault, error) {
	rec, err := loadVault(l.tx, id)
	if err != nil {
		return domain.Vault{}, err
	}
	return rec.toDomain()
}

// Liquidate closes an undercollateralised vault on behalf of the engine: the
// debt is pulled from the engine against its allowance and the collateral is
// released to it.
func (l *ledger) Liquidate(_ context.Context, id *uint256.Int) error {
	rec, err := loadVault(l.tx, id)
	if err != nil {
		return err
	}
	v, err := rec.toDomain()
	if err != nil {
		return err
	}
	if !v.IsOpen() {
		return fmt.Errorf("vault %s is %s: %w", id.Dec(), v.Status, domain.ErrVaultNotLiquidatable)
	}

	st := (*state)(l)
	if err := st.checkUndercollateralised(v); err != nil {
		return err
	}

	opts := l.store.opts
	allowance, err := getAllowance(l.tx, v.DebtToken, opts.Engine, opts.Ledger)
	if err != nil {
		return err
	}
	if allowance.Lt(v.DebtAmount) {
		return fmt.Errorf("allowance %s < debt %s: %w", allowance.Dec(), v.DebtAmount.Dec(), domain.ErrInsufficientAllowance)
	}
	if err := putAllowance(l.tx, v.DebtToken, opts.Engine, opts.Ledger, new(uint256.Int).Sub(allowance, v.DebtAmount)); err != nil {
		return err
	}
	if err := moveToken(l.tx, v.DebtToken, opts.Engine, opts.Ledger, v.DebtAmount); err != nil {
		return err
	}
	if err := moveToken(l.tx, v.CollateralToken, opts.Ledger, opts.Engine, v.CollateralAmount); err != nil {
		return err
	}

	rec.Status = string(domain.VaultLiquidated)
	rec.LiquidatedBy = opts.Engine.Hex()
	rec.LiquidatedAt = l.marker
	return l.tx.Save(&rec).Error
}

func (st *state) checkUndercollateralised(v domain.Vault) error {
	debtPrice, err := st.freshPrice(v.DebtToken)
	if err != nil {
		return err
	}
	collPrice, err := st.freshPrice(v.CollateralToken)
	if err != nil {
		return err
	}

	debtValue := domain.DecimalFromAmount(v.DebtAmount).Mul(debtPrice)
	collValue := domain.DecimalFromAmount(v.CollateralAmount).Mul(collPrice)
	required := debtValue.Mul(st.store.opts.MinCollateralRatio)
	if collValue.GreaterThanOrEqual(required) {
		return fmt.Errorf("vault %s is healthy (collateral value %s >= %s): %w",
			v.ID.Dec(), collValue, required, domain.ErrVaultNotLiquidatable)
	}
	return nil
}

// ======================================================================================
// Token approvals, treasury, consumed set
// ======================================================================================

type tokens state

func (t *tokens) Approve(_ context.Context, token, spender common.Address, amount *uint256.Int) error {
	return putAllowance(t.tx, token, t.store.opts.Engine, spender, amount)
}

type treasury state

// Credit moves attached value from the sender into the engine account.
func (t *treasury) Credit(_ context.Context, from common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	return moveNative(t.tx, from, t.store.opts.Engine, amount)
}

func (t *treasury) Transfer(_ context.Context, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	return moveNative(t.tx, t.store.opts.Engine, to, amount)
}

type consumed state

func (c *consumed) Contains(_ context.Context, key domain.SignatureKey) (bool, error) {
	var n int64
	err := c.tx.Model(&consumedSignature{}).Where("hash = ?", key.Hex()).Count(&n).Error
	return n > 0, err
}

func (c *consumed) Insert(_ context.Context, key domain.SignatureKey) error {
	return c.tx.Create(&consumedSignature{Hash: key.Hex(), Marker: c.marker}).Error
}
