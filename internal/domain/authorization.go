package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Authorization is an owner-signed permission to liquidate VaultID for Bid,
// valid up to and including marker ValidUntil. It is never mutated; consumption
// is tracked in the ConsumedSet.
type Authorization struct {
	VaultID    *uint256.Int
	Bid        *uint256.Int
	ValidUntil uint64
	Signature  []byte
}

// SettleRequest is the full input of one settle invocation.
type SettleRequest struct {
	Authorization

	// UpdateData holds optional signed oracle payloads, applied before the vault is read.
	UpdateData [][]byte
	// Value is native value attached by the caller, credited to the engine first.
	Value *uint256.Int
}

// SignatureKey is the fixed-size ConsumedSet key of a signature.
type SignatureKey [32]byte

// KeyOf hashes a signature into its ConsumedSet key.
func KeyOf(signature []byte) SignatureKey {
	return SignatureKey(crypto.Keccak256Hash(signature))
}

// Hex returns the 0x-prefixed hex form of the key.
func (k SignatureKey) Hex() string {
	return common.Hash(k).Hex()
}

// EncodeAuthorization returns the canonical message signed by the owner:
// vaultID and bid as two 32-byte big-endian words.
func EncodeAuthorization(vaultID, bid *uint256.Int) []byte {
	out := make([]byte, 0, 64)
	v := word(vaultID)
	b := word(bid)
	out = append(out, v[:]...)
	return append(out, b[:]...)
}

func word(x *uint256.Int) [32]byte {
	if x == nil {
		return [32]byte{}
	}
	return x.Bytes32()
}

