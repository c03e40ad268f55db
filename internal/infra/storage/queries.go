package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"liquidation_go/internal/domain"
	"liquidation_go/internal/event"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func (r vaultRecord) toDomain() (domain.Vault, error) {
	id, err := uint256.FromDecimal(r.ID)
	if err != nil {
		return domain.Vault{}, fmt.Errorf("vault id %q: %w", r.ID, err)
	}
	debt, err := domain.AmountFromDecimal(r.DebtAmount)
	if err != nil {
		return domain.Vault{}, err
	}
	coll, err := domain.AmountFromDecimal(r.CollateralAmount)
	if err != nil {
		return domain.Vault{}, err
	}
	return domain.Vault{
		ID:               id,
		DebtToken:        common.HexToAddress(r.DebtToken),
		DebtAmount:       debt,
		CollateralToken:  common.HexToAddress(r.CollateralToken),
		CollateralAmount: coll,
		Status:           domain.VaultStatus(r.Status),
	}, nil
}

// ======================================================================================
// Vaults
// ======================================================================================

// PutVault creates or replaces a vault. An empty status means open.
func (s *Storage) PutVault(ctx context.Context, v domain.Vault) error {
	status := v.Status
	if status == "" {
		status = domain.VaultOpen
	}
	return upsert(s.db.WithContext(ctx), &vaultRecord{
		ID:               v.ID.Dec(),
		DebtToken:        v.DebtToken.Hex(),
		DebtAmount:       domain.DecimalFromAmount(v.DebtAmount),
		CollateralToken:  v.CollateralToken.Hex(),
		CollateralAmount: domain.DecimalFromAmount(v.CollateralAmount),
		Status:           string(status),
	})
}

// Vault returns the vault with the given id, or an error wrapping domain.ErrNotFound.
func (s *Storage) Vault(ctx context.Context, id *uint256.Int) (domain.Vault, error) {
	rec, err := loadVault(s.db.WithContext(ctx), id)
	if err != nil {
		return domain.Vault{}, err
	}
	return rec.toDomain()
}

// ======================================================================================
// Balances and prices
// ======================================================================================

// MintToken credits amount of token to holder.
func (s *Storage) MintToken(ctx context.Context, token, holder common.Address, amount *uint256.Int) error {
	return creditToken(s.db.WithContext(ctx), token, holder, amount)
}

// FundNative credits native value to holder.
func (s *Storage) FundNative(ctx context.Context, holder common.Address, amount *uint256.Int) error {
	return creditNative(s.db.WithContext(ctx), holder, amount)
}

func (s *Storage) TokenBalance(ctx context.Context, token, holder common.Address) (*uint256.Int, error) {
	return getTokenBalance(s.db.WithContext(ctx), token, holder)
}

func (s *Storage) NativeBalance(ctx context.Context, holder common.Address) (*uint256.Int, error) {
	return getNativeBalance(s.db.WithContext(ctx), holder)
}

func (s *Storage) Allowance(ctx context.Context, token, owner, spender common.Address) (*uint256.Int, error) {
	return getAllowance(s.db.WithContext(ctx), token, owner, spender)
}

// PutPrice stores a price directly, bypassing publisher signatures.
func (s *Storage) PutPrice(ctx context.Context, token common.Address, price decimal.Decimal, height uint64) error {
	return upsert(s.db.WithContext(ctx), &priceFeed{Token: token.Hex(), Price: price, PublishHeight: height})
}

// ======================================================================================
// Consumed signatures and history
// ======================================================================================

// Consumption records when an authorization was consumed.
type Consumption struct {
	Signature  string
	Marker     uint64
	ConsumedAt time.Time
}

// ConsumedAt looks up a consumed authorization by its signature key.
func (s *Storage) ConsumedAt(ctx context.Context, key domain.SignatureKey) (Consumption, bool, error) {
	var rec consumedSignature
	err := s.db.WithContext(ctx).Take(&rec, "hash = ?", key.Hex()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Consumption{}, false, nil
	}
	if err != nil {
		return Consumption{}, false, err
	}
	return Consumption{Signature: rec.Hash, Marker: rec.Marker, ConsumedAt: rec.CreatedAt}, true, nil
}

// Settlement is one completed liquidation.
type Settlement struct {
	ID        string    `json:"id"`
	VaultID   string    `json:"vault_id"`
	Bid       string    `json:"bid"`
	Caller    string    `json:"caller"`
	Signature string    `json:"signature,omitempty"`
	Marker    uint64    `json:"marker"`
	CreatedAt time.Time `json:"created_at"`
}

// Settlements returns completed settlements, newest first. A nil vaultID
// returns settlements of every vault.
func (s *Storage) Settlements(ctx context.Context, vaultID *uint256.Int, limit int) ([]Settlement, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if vaultID != nil {
		q = q.Where("vault_id = ?", vaultID.Dec())
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var recs []settlementRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}

	out := make([]Settlement, 0, len(recs))
	for _, r := range recs {
		out = append(out, Settlement{
			ID:        r.ID,
			VaultID:   r.VaultID,
			Bid:       r.Bid.String(),
			Caller:    r.Caller,
			Signature: r.SignatureKey,
			Marker:    r.Marker,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

// EventsAfter returns stored events with a sequence number greater than after,
// oldest first.
func (s *Storage) EventsAfter(ctx context.Context, after uint64, limit int) ([]event.Envelope, error) {
	q := s.db.WithContext(ctx).Where("seq > ?", after).Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var recs []eventRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}

	out := make([]event.Envelope, 0, len(recs))
	for _, r := range recs {
		var env event.Envelope
		if err := json.Unmarshal([]byte(r.Payload), &env); err != nil {
			return nil, fmt.Errorf("decode event %d: %w", r.Seq, err)
		}
		env.Seq = r.Seq
		out = append(out, env)
	}
	return out, nil
}
