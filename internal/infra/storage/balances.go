package storage

import (
	"errors"
	"fmt"

	"liquidation_go/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func upsert(db *gorm.DB, rec any) error {
	return db.Clauses(clause.OnConflict{UpdateAll: true}).Create(rec).Error
}

func amountOf(found error, d func() (*uint256.Int, error)) (*uint256.Int, error) {
	if errors.Is(found, gorm.ErrRecordNotFound) {
		return new(uint256.Int), nil
	}
	if found != nil {
		return nil, found
	}
	return d()
}

func getTokenBalance(db *gorm.DB, token, holder common.Address) (*uint256.Int, error) {
	var rec tokenBalance
	err := db.Where("token = ? AND holder = ?", token.Hex(), holder.Hex()).Take(&rec).Error
	return amountOf(err, func() (*uint256.Int, error) { return domain.AmountFromDecimal(rec.Amount) })
}

func putTokenBalance(db *gorm.DB, token, holder common.Address, amount *uint256.Int) error {
	return upsert(db, &tokenBalance{
		Token:  token.Hex(),
		Holder: holder.Hex(),
		Amount: domain.DecimalFromAmount(amount),
	})
}

func getNativeBalance(db *gorm.DB, holder common.Address) (*uint256.Int, error) {
	var rec nativeBalance
	err := db.Where("holder = ?", holder.Hex()).Take(&rec).Error
	return amountOf(err, func() (*uint256.Int, error) { return domain.AmountFromDecimal(rec.Amount) })
}

func putNativeBalance(db *gorm.DB, holder common.Address, amount *uint256.Int) error {
	return upsert(db, &nativeBalance{
		Holder: holder.Hex(),
		Amount: domain.DecimalFromAmount(amount),
	})
}

func getAllowance(db *gorm.DB, token, owner, spender common.Address) (*uint256.Int, error) {
	var rec allowanceRecord
	err := db.Where("token = ? AND owner = ? AND spender = ?", token.Hex(), owner.Hex(), spender.Hex()).Take(&rec).Error
	return amountOf(err, func() (*uint256.Int, error) { return domain.AmountFromDecimal(rec.Amount) })
}

func putAllowance(db *gorm.DB, token, owner, spender common.Address, amount *uint256.Int) error {
	return upsert(db, &allowanceRecord{
		Token:   token.Hex(),
		Owner:   owner.Hex(),
		Spender: spender.Hex(),
		Amount:  domain.DecimalFromAmount(amount),
	})
}

// moveToken transfers amount of token between two holders.
func moveToken(db *gorm.DB, token, from, to common.Address, amount *uint256.Int) error {
	src, err := getTokenBalance(db, token, from)
	if err != nil {
		return err
	}
	if src.Lt(amount) {
		return fmt.Errorf("%s holds %s of %s, needs %s: %w",
			from.Hex(), src.Dec(), token.Hex(), amount.Dec(), domain.ErrInsufficientBalance)
	}
	if err := putTokenBalance(db, token, from, new(uint256.Int).Sub(src, amount)); err != nil {
		return err
	}
	return creditToken(db, token, to, amount)
}

func creditToken(db *gorm.DB, token, holder common.Address, amount *uint256.Int) error {
	dst, err := getTokenBalance(db, token, holder)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(dst, amount)
	if overflow {
		return fmt.Errorf("credit %s to %s: %w", token.Hex(), holder.Hex(), domain.ErrAmountOverflow)
	}
	return putTokenBalance(db, token, holder, sum)
}

// moveNative transfers native value between two accounts.
func moveNative(db *gorm.DB, from, to common.Address, amount *uint256.Int) error {
	src, err := getNativeBalance(db, from)
	if err != nil {
		return err
	}
	if src.Lt(amount) {
		return fmt.Errorf("%s holds %s wei, needs %s: %w",
			from.Hex(), src.Dec(), amount.Dec(), domain.ErrInsufficientBalance)
	}
	if err := putNativeBalance(db, from, new(uint256.Int).Sub(src, amount)); err != nil {
		return err
	}
	return creditNative(db, to, amount)
}

func creditNative(db *gorm.DB, holder common.Address, amount *uint256.Int) error {
	dst, err := getNativeBalance(db, holder)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(dst, amount)
	if overflow {
		return fmt.Errorf("credit native to %s: %w", holder.Hex(), domain.ErrAmountOverflow)
	}
	return putNativeBalance(db, holder, sum)
}
