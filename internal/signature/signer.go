package signature

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"liquidation_go/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Signer produces signatures an Authority of the same domain accepts.
type Signer struct {
	key       *ecdsa.PrivateKey
	address   common.Address
	authority *Authority
}

// NewSigner creates a Signer for the given key and domain.
func NewSigner(key *ecdsa.PrivateKey, d Domain) *Signer {
	return &Signer{
		key:       key,
		address:   crypto.PubkeyToAddress(key.PublicKey),
		authority: NewAuthority(d),
	}
}

// NewSignerFromHex parses a hex private key (with or without 0x).
func NewSignerFromHex(hexKey string, d Domain) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewSigner(key, d), nil
}

// Address returns the signer's account address.
func (s *Signer) Address() common.Address {
	return s.address
}

// Sign signs message bound to deadline. V is returned in the 27/28 form.
func (s *Signer) Sign(message []byte, deadline uint64) ([]byte, error) {
	sig, err := crypto.Sign(s.authority.Digest(message, deadline), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SignAuthorization produces an owner authorization for a liquidation.
func (s *Signer) SignAuthorization(vaultID, bid *uint256.Int, validUntil uint64) (domain.Authorization, error) {
	sig, err := s.Sign(domain.EncodeAuthorization(vaultID, bid), validUntil)
	if err != nil {
		return domain.Authorization{}, err
	}
	return domain.Authorization{
		VaultID:    new(uint256.Int).Set(vaultID),
		Bid:        new(uint256.Int).Set(bid),
		ValidUntil: validUntil,
		Signature:  sig,
	}, nil
}
