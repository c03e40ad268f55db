package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"liquidation_go/internal/domain"
	"liquidation_go/internal/signature"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PriceUpdate is the wire form of one signed oracle price. Price is quoted
// per raw unit of Token.
type PriceUpdate struct {
	Token         string `json:"token"`
	Price         string `json:"price"`
	PublishHeight uint64 `json:"publish_height"`
	Signature     string `json:"signature"`
}

// EncodePriceUpdate is the message a publisher signs for one price.
func EncodePriceUpdate(token common.Address, price decimal.Decimal) []byte {
	msg := make([]byte, 0, 64)
	msg = append(msg, common.LeftPadBytes(token.Bytes(), 32)...)
	return append(msg, crypto.Keccak256([]byte(price.String()))...)
}

// SignPriceUpdate builds a serialised, signed price update. signer must be
// bound to the PriceUpdate domain of the target ledger.
func SignPriceUpdate(signer *signature.Signer, token common.Address, price decimal.Decimal, height uint64) ([]byte, error) {
	sig, err := signer.Sign(EncodePriceUpdate(token, price), height)
	if err != nil {
		return nil, err
	}
	return json.Marshal(PriceUpdate{
		Token:         token.Hex(),
		Price:         price.String(),
		PublishHeight: height,
		Signature:     hexutil.Encode(sig),
	})
}

type oracle state

// UpdatePriceFeeds applies every payload or none. Updates not newer than the
// stored feed are ignored.
func (o *oracle) UpdatePriceFeeds(_ context.Context, payloads [][]byte) error {
	for i, raw := range payloads {
		token, price, height, err := o.decode(raw)
		if err != nil {
			return fmt.Errorf("payload %d: %w", i, err)
		}

		var cur priceFeed
		err = o.tx.Take(&cur, "token = ?", token.Hex()).Error
		switch {
		case err == nil && cur.PublishHeight >= height:
			continue
		case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		if err := upsert(o.tx, &priceFeed{Token: token.Hex(), Price: price, PublishHeight: height}); err != nil {
			return err
		}
	}
	return nil
}

func (o *oracle) decode(raw []byte) (common.Address, decimal.Decimal, uint64, error) {
	var u PriceUpdate
	if err := json.Unmarshal(raw, &u); err != nil {
		return common.Address{}, decimal.Zero, 0, fmt.Errorf("%w: %v", domain.ErrInvalidPriceUpdate, err)
	}
	if !common.IsHexAddress(u.Token) {
		return common.Address{}, decimal.Zero, 0, fmt.Errorf("%w: bad token %q", domain.ErrInvalidPriceUpdate, u.Token)
	}
	price, err := decimal.NewFromString(u.Price)
	if err != nil || !price.IsPositive() {
		return common.Address{}, decimal.Zero, 0, fmt.Errorf("%w: bad price %q", domain.ErrInvalidPriceUpdate, u.Price)
	}
	if u.PublishHeight > o.marker {
		return common.Address{}, decimal.Zero, 0, fmt.Errorf("%w: published at %d, head is %d",
			domain.ErrInvalidPriceUpdate, u.PublishHeight, o.marker)
	}
	sig, err := hexutil.Decode(u.Signature)
	if err != nil {
		return common.Address{}, decimal.Zero, 0, fmt.Errorf("%w: bad signature encoding", domain.ErrInvalidPriceUpdate)
	}

	token := common.HexToAddress(u.Token)
	if !o.store.priceDomain.Verify(o.store.opts.Publisher, EncodePriceUpdate(token, price), u.PublishHeight, sig) {
		return common.Address{}, decimal.Zero, 0, fmt.Errorf("%w: not signed by publisher", domain.ErrInvalidPriceUpdate)
	}
	return token, price, u.PublishHeight, nil
}

// freshPrice returns the price of token if it is recent enough to liquidate against.
func (st *state) freshPrice(token common.Address) (decimal.Decimal, error) {
	var feed priceFeed
	err := st.tx.Take(&feed, "token = ?", token.Hex()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, fmt.Errorf("no price for %s: %w", token.Hex(), domain.ErrPriceUnavailable)
	}
	if err != nil {
		return decimal.Zero, err
	}

	var age uint64
	if st.marker > feed.PublishHeight {
		age = st.marker - feed.PublishHeight
	}
	if age > st.store.opts.MaxPriceAge {
		return decimal.Zero, fmt.Errorf("price for %s is %d blocks old: %w", token.Hex(), age, domain.ErrStalePrice)
	}
	return feed.Price, nil
}
