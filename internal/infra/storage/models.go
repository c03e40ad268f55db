package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Amount columns hold raw integer units as decimal text.

type vaultRecord struct {
	ID               string          `gorm:"primaryKey"`
	DebtToken        string          `gorm:"index"`
	DebtAmount       decimal.Decimal `gorm:"type:text"`
	CollateralToken  string
	CollateralAmount decimal.Decimal `gorm:"type:text"`
	Status           string          `gorm:"index"`
	LiquidatedBy     string
	LiquidatedAt     uint64
	UpdatedAt        time.Time
}

func (vaultRecord) TableName() string { return "vaults" }

type tokenBalance struct {
	Token     string          `gorm:"primaryKey"`
	Holder    string          `gorm:"primaryKey"`
	Amount    decimal.Decimal `gorm:"type:text"`
	UpdatedAt time.Time
}

func (tokenBalance) TableName() string { return "token_balances" }

type allowanceRecord struct {
	Token     string          `gorm:"primaryKey"`
	Owner     string          `gorm:"primaryKey"`
	Spender   string          `gorm:"primaryKey"`
	Amount    decimal.Decimal `gorm:"type:text"`
	UpdatedAt time.Time
}

func (allowanceRecord) TableName() string { return "allowances" }

type nativeBalance struct {
	Holder    string          `gorm:"primaryKey"`
	Amount    decimal.Decimal `gorm:"type:text"`
	UpdatedAt time.Time
}

func (nativeBalance) TableName() string { return "native_balances" }

type priceFeed struct {
	Token         string          `gorm:"primaryKey"`
	Price         decimal.Decimal `gorm:"type:text"`
	PublishHeight uint64
	UpdatedAt     time.Time
}

func (priceFeed) TableName() string { return "price_feeds" }

type consumedSignature struct {
	Hash      string `gorm:"primaryKey"`
	Marker    uint64
	CreatedAt time.Time
}

func (consumedSignature) TableName() string { return "consumed_signatures" }

type eventRecord struct {
	Seq       uint64 `gorm:"primaryKey;autoIncrement"`
	UID       string `gorm:"uniqueIndex"`
	Kind      string `gorm:"index"`
	Marker    uint64
	Payload   string
	CreatedAt time.Time
}

func (eventRecord) TableName() string { return "events" }

type settlementRecord struct {
	ID           string          `gorm:"primaryKey"`
	VaultID      string          `gorm:"index"`
	Bid          decimal.Decimal `gorm:"type:text"`
	Caller       string
	SignatureKey string `gorm:"index"`
	Marker       uint64
	CreatedAt    time.Time `gorm:"index"`
}

func (settlementRecord) TableName() string { return "settlements" }

type chainHead struct {
	ID        uint `gorm:"primaryKey"`
	Marker    uint64
	UpdatedAt time.Time
}

func (chainHead) TableName() string { return "chain_head" }

func allModels() []any {
	return []any{
		&vaultRecord{}, &tokenBalance{}, &allowanceRecord{}, &nativeBalance{},
		&priceFeed{}, &consumedSignature{}, &eventRecord{}, &settlementRecord{}, &chainHead{},
	}
}
