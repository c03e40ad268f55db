package settlement

import (
	"context"
	"fmt"

	"liquidation_go/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// world is an in-memory ledger host. Atomic snapshots the whole world and
// restores it when the invocation fails.
type world struct {
	engine common.Address
	marker uint64

	vaults     map[string]domain.Vault
	consumed   map[domain.SignatureKey]bool
	native     map[common.Address]*uint256.Int
	tokens     map[common.Address]*uint256.Int // engine token balances
	allowances map[common.Address]*uint256.Int // engine -> ledger, per token
	events     []domain.Event
	prices     [][]byte

	trace []string

	liquidateErr error
	oracleErr    error
}

func newWorld(engine common.Address) *world {
	return &world{
		engine:     engine,
		vaults:     make(map[string]domain.Vault),
		consumed:   make(map[domain.SignatureKey]bool),
		native:     make(map[common.Address]*uint256.Int),
		tokens:     make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]*uint256.Int),
	}
}

func (w *world) clone() *world {
	c := *w
	c.vaults = make(map[string]domain.Vault, len(w.vaults))
	for k, v := range w.vaults {
		c.vaults[k] = v
	}
	c.consumed = make(map[domain.SignatureKey]bool, len(w.consumed))
	for k, v := range w.consumed {
		c.consumed[k] = v
	}
	c.native = cloneBalances(w.native)
	c.tokens = cloneBalances(w.tokens)
	c.allowances = cloneBalances(w.allowances)
	c.events = append([]domain.Event(nil), w.events...)
	c.prices = append([][]byte(nil), w.prices...)
	c.trace = append([]string(nil), w.trace...)
	return &c
}

func cloneBalances(in map[common.Address]*uint256.Int) map[common.Address]*uint256.Int {
	out := make(map[common.Address]*uint256.Int, len(in))
	for k, v := range in {
		out[k] = v.Clone()
	}
	return out
}

func (w *world) restore(snap *world) {
	liquidateErr, oracleErr := w.liquidateErr, w.oracleErr
	*w = *snap
	w.liquidateErr, w.oracleErr = liquidateErr, oracleErr
}

func (w *world) Atomic(_ context.Context, fn func(domain.State) error) error {
	snap := w.clone()
	if err := fn(&worldTx{w: w}); err != nil {
		w.restore(snap)
		return err
	}
	return nil
}

func (w *world) addVault(id uint64, debtToken common.Address, debt uint64) {
	w.vaults[uint256.NewInt(id).Dec()] = domain.Vault{
		ID:               uint256.NewInt(id),
		DebtToken:        debtToken,
		DebtAmount:       uint256.NewInt(debt),
		CollateralToken:  common.HexToAddress("0xc011"),
		CollateralAmount: uint256.NewInt(debt * 2),
		Status:           domain.VaultOpen,
	}
}

func (w *world) balance(m map[common.Address]*uint256.Int, a common.Address) *uint256.Int {
	if v, ok := m[a]; ok {
		return v
	}
	return new(uint256.Int)
}

func (w *world) vault(id uint64) domain.Vault {
	return w.vaults[uint256.NewInt(id).Dec()]
}

// worldTx implements State and every collaborator interface on top of world.
type worldTx struct{ w *world }

func (t *worldTx) Marker() uint64 { return t.w.marker }
func (t *worldTx) Ledger() domain.VaultLedger { return t }
func (t *worldTx) Oracle() domain.PriceOracle { return t }
func (t *worldTx) Tokens() domain.TokenApprover { return t }
func (t *worldTx) Treasury() domain.Treasury { return t }
func (t *worldTx) Consumed() domain.ConsumedSet { return t }
func (t *worldTx) Emit(ev domain.Event) error { t.w.events = append(t.w.events, ev); return nil }

func (t *worldTx) GetVault(_ context.Context, id *uint256.Int) (domain.Vault, error) {
	t.w.trace = append(t.w.trace, "get_vault")
	v, ok := t.w.vaults[id.Dec()]
	if !ok {
		return domain.Vault{}, fmt.Errorf("vault %s: %w", id.Dec(), domain.ErrNotFound)
	}
	return v, nil
}

func (t *worldTx) Liquidate(_ context.Context, id *uint256.Int) error {
	t.w.trace = append(t.w.trace, "liquidate")
	if t.w.liquidateErr != nil {
		return t.w.liquidateErr
	}
	v, ok := t.w.vaults[id.Dec()]
	if !ok {
		return domain.ErrNotFound
	}
	if !v.IsOpen() {
		return domain.ErrVaultNotLiquidatable
	}
	allowance := t.w.balance(t.w.allowances, v.DebtToken)
	if allowance.Lt(v.DebtAmount) {
		return domain.ErrInsufficientAllowance
	}
	bal := t.w.balance(t.w.tokens, v.DebtToken)
	if bal.Lt(v.DebtAmount) {
		return domain.ErrInsufficientBalance
	}
	t.w.allowances[v.DebtToken] = new(uint256.Int).Sub(allowance, v.DebtAmount)
	t.w.tokens[v.DebtToken] = new(uint256.Int).Sub(bal, v.DebtAmount)
	v.Status = domain.VaultLiquidated
	t.w.vaults[id.Dec()] = v
	return nil
}

func (t *worldTx) UpdatePriceFeeds(_ context.Context, payloads [][]byte) error {
	t.w.trace = append(t.w.trace, "update_price_feeds")
	if t.w.oracleErr != nil {
		return t.w.oracleErr
	}
	t.w.prices = append(t.w.prices, payloads...)
	return nil
}

func (t *worldTx) Approve(_ context.Context, token, _ common.Address, amount *uint256.Int) error {
	t.w.trace = append(t.w.trace, "approve")
	t.w.allowances[token] = amount.Clone()
	return nil
}

func (t *worldTx) Credit(_ context.Context, _ common.Address, amount *uint256.Int) error {
	bal := t.w.balance(t.w.native, t.w.engine)
	t.w.native[t.w.engine] = new(uint256.Int).Add(bal, amount)
	return nil
}

func (t *worldTx) Transfer(_ context.Context, to common.Address, amount *uint256.Int) error {
	t.w.trace = append(t.w.trace, "transfer")
	bal := t.w.balance(t.w.native, t.w.engine)
	if bal.Lt(amount) {
		return domain.ErrInsufficientBalance
	}
	t.w.native[t.w.engine] = new(uint256.Int).Sub(bal, amount)
	t.w.native[to] = new(uint256.Int).Add(t.w.balance(t.w.native, to), amount)
	return nil
}

func (t *worldTx) Contains(_ context.Context, key domain.SignatureKey) (bool, error) {
	return t.w.consumed[key], nil
}

func (t *worldTx) Insert(_ context.Context, key domain.SignatureKey) error {
	t.w.consumed[key] = true
	return nil
}
