package settlement

import (
	"context"
	"errors"
	"testing"

	"liquidation_go/internal/domain"
	"liquidation_go/internal/signature"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	engineAddr = common.HexToAddress("0x00000000000000000000000000000000000e0617")
	ledgerAddr = common.HexToAddress("0x0000000000000000000000000000000000001ed6")
	relayAddr  = common.HexToAddress("0x0000000000000000000000000000000000000e1a")
	tokenA     = common.HexToAddress("0x000000000000000000000000000000000000a0a0")
	stranger   = common.HexToAddress("0x000000000000000000000000000000000000bad0")
)

type fixture struct {
	world  *world
	owner  *signature.Signer
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	d := signature.AuthorizationDomain(31337, engineAddr)
	owner := signature.NewSigner(key, d)

	w := newWorld(engineAddr)
	w.addVault(1, tokenA, 100)
	w.tokens[tokenA] = uint256.NewInt(1_000)
	w.native[engineAddr] = uint256.NewInt(10)

	eng, err := NewEngine(Config{Relay: relayAddr, Owner: owner.Address(), Ledger: ledgerAddr}, signature.NewAuthority(d), w)
	require.NoError(t, err)
	return &fixture{world: w, owner: owner, engine: eng}
}

func (f *fixture) sign(t *testing.T, vaultID, bid, validUntil uint64) domain.SettleRequest {
	t.Helper()
	auth, err := f.owner.SignAuthorization(uint256.NewInt(vaultID), uint256.NewInt(bid), validUntil)
	require.NoError(t, err)
	return domain.SettleRequest{Authorization: auth}
}

func TestSettle_Scenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.world.marker = 999

	req := f.sign(t, 1, 5, 1000)
	require.NoError(t, f.engine.Settle(ctx, relayAddr, req))

	assert.Equal(t, domain.VaultLiquidated, f.world.vault(1).Status)
	assert.Equal(t, uint64(5), f.world.balance(f.world.native, relayAddr).Uint64())
	assert.Equal(t, uint64(5), f.world.balance(f.world.native, engineAddr).Uint64())
	assert.True(t, f.world.consumed[domain.KeyOf(req.Signature)])

	require.Len(t, f.world.events, 1)
	ev, ok := f.world.events[0].(domain.SettlementCompleted)
	require.True(t, ok)
	assert.Equal(t, uint64(1), ev.VaultID.Uint64())
	assert.Equal(t, uint64(5), ev.Bid.Uint64())
	assert.Equal(t, relayAddr, ev.Caller)
	assert.Equal(t, domain.KeyOf(req.Signature), ev.Signature)

	// Identical second call
	err := f.engine.Settle(ctx, relayAddr, req)
	assert.ErrorIs(t, err, domain.ErrAuthorizationAlreadyUsed)

	// Fresh, unused signature past its deadline
	f.world.addVault(2, tokenA, 100)
	f.world.marker = 1001
	fresh := f.sign(t, 2, 5, 1000)
	err = f.engine.Settle(ctx, relayAddr, fresh)
	assert.ErrorIs(t, err, domain.ErrExpiredAuthorization)
	assert.False(t, f.world.consumed[domain.KeyOf(fresh.Signature)])
	assert.Len(t, f.world.events, 1)
}

func TestSettle_ReplayAfterStateChanges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := f.sign(t, 1, 0, 10)
	require.NoError(t, f.engine.Settle(ctx, relayAddr, req))

	// Reopen the vault, refill funds, rewind nothing: the signature stays spent.
	v := f.world.vault(1)
	v.Status = domain.VaultOpen
	f.world.vaults[v.ID.Dec()] = v
	f.world.tokens[tokenA] = uint256.NewInt(1_000)

	err := f.engine.Settle(ctx, relayAddr, req)
	assert.ErrorIs(t, err, domain.ErrAuthorizationAlreadyUsed)
	assert.Equal(t, domain.VaultOpen, f.world.vault(1).Status)
}

func TestSettle_ReplayWithRecoveryIDRewrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.world.marker = 999
	req := f.sign(t, 1, 5, 1000)
	require.NoError(t, f.engine.Settle(ctx, relayAddr, req))

	f.world.addVault(1, tokenA, 100)

	// Same r and s, v in the raw 0/1 form.
	rewritten := req
	rewritten.Signature = append([]byte(nil), req.Signature...)
	rewritten.Signature[64] -= 27

	err := f.engine.Settle(ctx, relayAddr, rewritten)
	assert.ErrorIs(t, err, domain.ErrInvalidAuthorizationSignature)
	assert.Equal(t, uint64(5), f.world.balance(f.world.native, relayAddr).Uint64())
	assert.Equal(t, domain.VaultOpen, f.world.vault(1).Status)
	assert.False(t, f.world.consumed[domain.KeyOf(rewritten.Signature)])
}

func TestSettle_ExpiryBoundary(t *testing.T) {
	ctx := context.Background()

	t.Run("marker equal to validUntil succeeds", func(t *testing.T) {
		f := newFixture(t)
		f.world.marker = 1000
		require.NoError(t, f.engine.Settle(ctx, relayAddr, f.sign(t, 1, 5, 1000)))
	})

	t.Run("one past validUntil fails", func(t *testing.T) {
		f := newFixture(t)
		f.world.marker = 1001
		err := f.engine.Settle(ctx, relayAddr, f.sign(t, 1, 5, 1000))
		assert.ErrorIs(t, err, domain.ErrExpiredAuthorization)
		assert.Equal(t, domain.VaultOpen, f.world.vault(1).Status)
	})
}

func TestSettle_AccessControl(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := f.sign(t, 1, 5, 1000)

	err := f.engine.Settle(ctx, stranger, req)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Empty(t, f.world.consumed)
	assert.Empty(t, f.world.events)
	assert.Equal(t, domain.VaultOpen, f.world.vault(1).Status)

	// The rejected signature is still good for the relay.
	require.NoError(t, f.engine.Settle(ctx, relayAddr, req))
}

func TestSettle_OwnerBypass(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.world.marker = 5_000

	req := domain.SettleRequest{Authorization: domain.Authorization{
		VaultID:    uint256.NewInt(1),
		Bid:        uint256.NewInt(0),
		ValidUntil: 0,
	}}
	require.NoError(t, f.engine.Settle(ctx, f.owner.Address(), req))

	assert.Equal(t, domain.VaultLiquidated, f.world.vault(1).Status)
	assert.Empty(t, f.world.consumed, "owner path must not touch the consumed set")
	require.Len(t, f.world.events, 1)
	ev := f.world.events[0].(domain.SettlementCompleted)
	assert.Equal(t, f.owner.Address(), ev.Caller)
	assert.Equal(t, domain.SignatureKey{}, ev.Signature)
}

func TestSettle_OwnerBypassIgnoresSignature(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := f.sign(t, 1, 5, 1000)

	// The owner may settle with a signed request; it is not consumed.
	require.NoError(t, f.engine.Settle(ctx, f.owner.Address(), req))
	assert.Empty(t, f.world.consumed)
	assert.Equal(t, uint64(5), f.world.balance(f.world.native, relayAddr).Uint64())
}

func TestSettle_AtomicOnLiquidateFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	transient := errors.New("ledger busy")
	f.world.liquidateErr = transient

	req := f.sign(t, 1, 5, 1000)
	req.Value = uint256.NewInt(3)

	err := f.engine.Settle(ctx, relayAddr, req)
	require.ErrorIs(t, err, transient)

	var ce *domain.CollaboratorError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "liquidate", ce.Op)

	assert.False(t, f.world.consumed[domain.KeyOf(req.Signature)], "signature must stay unconsumed")
	assert.Equal(t, uint64(10), f.world.balance(f.world.native, engineAddr).Uint64(), "attached value rolled back")
	assert.True(t, f.world.balance(f.world.native, relayAddr).IsZero(), "no bid paid")
	assert.True(t, f.world.balance(f.world.allowances, tokenA).IsZero(), "approval rolled back")
	assert.Empty(t, f.world.events)

	// Same inputs succeed once the failure clears.
	f.world.liquidateErr = nil
	require.NoError(t, f.engine.Settle(ctx, relayAddr, req))
	assert.Equal(t, uint64(5), f.world.balance(f.world.native, relayAddr).Uint64())
	assert.Equal(t, uint64(8), f.world.balance(f.world.native, engineAddr).Uint64())
}

func TestSettle_AtomicOnBidPaymentFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.world.native[engineAddr] = uint256.NewInt(1)

	req := f.sign(t, 1, 5, 1000)
	err := f.engine.Settle(ctx, relayAddr, req)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.True(t, domain.IsRetriable(err))

	assert.Equal(t, domain.VaultOpen, f.world.vault(1).Status, "liquidation rolled back")
	assert.Equal(t, uint64(1_000), f.world.balance(f.world.tokens, tokenA).Uint64())
	assert.False(t, f.world.consumed[domain.KeyOf(req.Signature)])

	// Topping up the bid with attached value makes the same authorization succeed.
	req.Value = uint256.NewInt(4)
	require.NoError(t, f.engine.Settle(ctx, relayAddr, req))
	assert.Equal(t, uint64(5), f.world.balance(f.world.native, relayAddr).Uint64())
	assert.True(t, f.world.balance(f.world.native, engineAddr).IsZero())
}

func TestSettle_IdempotentRejection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := f.sign(t, 1, 5, 1000)
	req.Signature = req.Signature[:40]

	for i := 0; i < 3; i++ {
		err := f.engine.Settle(ctx, relayAddr, req)
		assert.ErrorIs(t, err, domain.ErrInvalidAuthorizationSignature, "attempt %d", i)
	}
	assert.Empty(t, f.world.consumed)
	assert.Equal(t, domain.VaultOpen, f.world.vault(1).Status)
}

func TestSettle_RejectsTamperedBid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := f.sign(t, 1, 5, 1000)
	req.Bid = uint256.NewInt(1)

	err := f.engine.Settle(ctx, relayAddr, req)
	assert.ErrorIs(t, err, domain.ErrInvalidAuthorizationSignature)
}

func TestSettle_CheckOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.world.marker = 2_000

	// Both expired and badly signed: the signature check comes first.
	req := f.sign(t, 1, 5, 1000)
	req.ValidUntil = 1500
	err := f.engine.Settle(ctx, relayAddr, req)
	assert.ErrorIs(t, err, domain.ErrInvalidAuthorizationSignature)
}

func TestSettle_OracleBeforeVaultRead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := f.sign(t, 1, 5, 1000)
	req.UpdateData = [][]byte{[]byte("feed-a"), []byte("feed-b")}

	require.NoError(t, f.engine.Settle(ctx, relayAddr, req))
	assert.Equal(t, []string{"update_price_feeds", "get_vault", "approve", "liquidate", "transfer"}, f.world.trace)
	assert.Len(t, f.world.prices, 2)
}

func TestSettle_NoOracleCallWithoutUpdateData(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.engine.Settle(ctx, relayAddr, f.sign(t, 1, 0, 1000)))
	assert.Equal(t, []string{"get_vault", "approve", "liquidate"}, f.world.trace, "zero bid moves no value")
}

func TestSettle_OracleFailureAborts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.world.oracleErr = domain.ErrInvalidPriceUpdate
	req := f.sign(t, 1, 5, 1000)
	req.UpdateData = [][]byte{[]byte("bad")}

	err := f.engine.Settle(ctx, relayAddr, req)
	assert.ErrorIs(t, err, domain.ErrInvalidPriceUpdate)
	assert.False(t, domain.IsRetriable(err))
	assert.Empty(t, f.world.consumed)
}

func TestSettle_VaultNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	req := f.sign(t, 42, 5, 1000)

	err := f.engine.Settle(ctx, relayAddr, req)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, f.world.consumed)
}

func TestSettle_LedgerRejectsRepeatLiquidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.engine.Settle(ctx, relayAddr, f.sign(t, 1, 1, 1000)))

	// A second, distinct authorization for the same vault is valid but the
	// ledger refuses to liquidate twice.
	second := f.sign(t, 1, 2, 1000)
	err := f.engine.Settle(ctx, relayAddr, second)
	assert.ErrorIs(t, err, domain.ErrVaultNotLiquidatable)
	assert.False(t, f.world.consumed[domain.KeyOf(second.Signature)])
}

type allowAll struct{}

func (allowAll) Verify(common.Address, []byte, uint64, []byte) bool { return true }

func TestSettle_InjectedAuthority(t *testing.T) {
	ctx := context.Background()
	w := newWorld(engineAddr)
	w.addVault(1, tokenA, 100)
	w.tokens[tokenA] = uint256.NewInt(100)
	owner := common.HexToAddress("0x0000000000000000000000000000000000000abc")

	eng, err := NewEngine(Config{Relay: relayAddr, Owner: owner, Ledger: ledgerAddr}, allowAll{}, w)
	require.NoError(t, err)

	req := domain.SettleRequest{Authorization: domain.Authorization{
		VaultID: uint256.NewInt(1), Bid: uint256.NewInt(0), ValidUntil: 1, Signature: []byte("opaque"),
	}}
	require.NoError(t, eng.Settle(ctx, relayAddr, req))
	assert.True(t, w.consumed[domain.KeyOf([]byte("opaque"))])
}

func TestReceiveValue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sender := common.HexToAddress("0x0000000000000000000000000000000000005e4d")

	require.NoError(t, f.engine.ReceiveValue(ctx, sender, uint256.NewInt(7)))

	assert.Equal(t, uint64(17), f.world.balance(f.world.native, engineAddr).Uint64())
	require.Len(t, f.world.events, 1)
	ev, ok := f.world.events[0].(domain.ValueReceived)
	require.True(t, ok)
	assert.Equal(t, sender, ev.Sender)
	assert.Equal(t, uint64(7), ev.Amount.Uint64())
	assert.Empty(t, f.world.consumed)
	assert.Equal(t, domain.VaultOpen, f.world.vault(1).Status)
}

func TestNewEngine_Validation(t *testing.T) {
	w := newWorld(engineAddr)
	auth := allowAll{}
	owner := common.HexToAddress("0x0abc")

	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing relay", Config{Owner: owner, Ledger: ledgerAddr}},
		{"missing owner", Config{Relay: relayAddr, Ledger: ledgerAddr}},
		{"missing ledger", Config{Relay: relayAddr, Owner: owner}},
		{"relay is owner", Config{Relay: relayAddr, Owner: relayAddr, Ledger: ledgerAddr}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(tt.cfg, auth, w)
			assert.Error(t, err)
		})
	}
}
