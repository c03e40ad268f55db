package storage

import (
	"context"
	"testing"

	"liquidation_go/internal/domain"
	"liquidation_go/internal/signature"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *testEnv) update(t *testing.T, payloads ...[]byte) error {
	t.Helper()
	ctx := context.Background()
	return e.store.Atomic(ctx, func(st domain.State) error {
		return st.Oracle().UpdatePriceFeeds(ctx, payloads)
	})
}

func (e *testEnv) signedPrice(t *testing.T, price string, height uint64) []byte {
	t.Helper()
	raw, err := SignPriceUpdate(e.publisher, collToken, decimal.RequireFromString(price), height)
	require.NoError(t, err)
	return raw
}

func TestOracle_AcceptsPublisherUpdate(t *testing.T) {
	env := setupTestDB(t)
	_, err := env.store.AdvanceMarker(context.Background(), 20)
	require.NoError(t, err)

	// Feeds seeded at 100 are stale at 120; a fresh drop makes the vault liquidatable again.
	require.ErrorIs(t, env.liquidate(t, 100), domain.ErrStalePrice)

	require.NoError(t, env.update(t,
		env.signedPrice(t, "0.5", 120),
	))
	require.NoError(t, env.store.PutPrice(context.Background(), debtToken, decimal.NewFromInt(1), 120))
	require.NoError(t, env.liquidate(t, 100))
}

func TestOracle_IgnoresOlderUpdates(t *testing.T) {
	env := setupTestDB(t)

	require.NoError(t, env.update(t, env.signedPrice(t, "2", 90)))

	// Still the seeded price of 1 at height 100, so the vault is liquidatable.
	require.NoError(t, env.liquidate(t, 100))
}

func TestOracle_RejectsInvalidPayloads(t *testing.T) {
	env := setupTestDB(t)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	impostor := signature.NewSigner(key, signature.PriceUpdateDomain(testChainID, ledgerAddr))
	forged, err := SignPriceUpdate(impostor, collToken, decimal.NewFromInt(5), 100)
	require.NoError(t, err)

	otherLedger := signature.NewSigner(env.publisherKey, signature.PriceUpdateDomain(testChainID, relayAddr))
	crossDomain, err := SignPriceUpdate(otherLedger, collToken, decimal.NewFromInt(5), 100)
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload []byte
	}{
		{"garbage", []byte("not json")},
		{"bad token", []byte(`{"token":"xyz","price":"1","publish_height":1,"signature":"0x00"}`)},
		{"non-positive price", []byte(`{"token":"0x000000000000000000000000000000000000c0c0","price":"0","publish_height":1,"signature":"0x00"}`)},
		{"future height", env.signedPrice(t, "5", 101)},
		{"not publisher", forged},
		{"other ledger domain", crossDomain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, env.update(t, tt.payload), domain.ErrInvalidPriceUpdate)
		})
	}
}

func TestOracle_BatchIsAllOrNothing(t *testing.T) {
	env := setupTestDB(t)

	err := env.update(t,
		env.signedPrice(t, "5", 100),
		[]byte("broken"),
	)
	require.ErrorIs(t, err, domain.ErrInvalidPriceUpdate)

	// The first update of the failed batch must not have landed: the vault
	// is still undercollateralised at price 1.
	require.NoError(t, env.liquidate(t, 100))
}
