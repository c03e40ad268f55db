package signature

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Domain scopes signatures to one purpose, chain and verifying account, so a
// signature made for one engine can never be presented to another.
type Domain struct {
	Name     string
	ChainID  uint64
	Verifier common.Address
}

// Separator returns keccak256(keccak256(name) || chainId || verifier).
func (d Domain) Separator() common.Hash {
	chainID := common.BigToHash(new(big.Int).SetUint64(d.ChainID))
	return crypto.Keccak256Hash(
		crypto.Keccak256([]byte(d.Name)),
		chainID[:],
		common.LeftPadBytes(d.Verifier[:], 32),
	)
}

// Authority verifies secp256k1 signatures over domain-separated digests.
// It holds no state besides the domain and is safe for concurrent use.
type Authority struct {
	separator common.Hash
}

// NewAuthority creates an Authority for the given domain.
func NewAuthority(d Domain) *Authority {
	return &Authority{separator: d.Separator()}
}

// Digest is the hash that gets signed:
// EIP-191 personal message of keccak256(separator || message || uint256(deadline)).
func (a *Authority) Digest(message []byte, deadline uint64) []byte {
	dl := common.BigToHash(new(big.Int).SetUint64(deadline))
	inner := crypto.Keccak256(a.separator[:], message, dl[:])
	return accounts.TextHash(inner)
}

// Verify reports whether signature is signer's signature over message and deadline.
// Any malformed input yields false, as does v in the raw 0/1 form.
func (a *Authority) Verify(signer common.Address, message []byte, deadline uint64, signature []byte) bool {
	if signer == (common.Address{}) || len(signature) != crypto.SignatureLength {
		return false
	}

	// One encoding per signature: v must be 27 or 28 and s must be low.
	// The 0/1 and high-s twins recover the same key but hash to different
	// ConsumedSet entries.
	v := signature[crypto.RecoveryIDOffset]
	if v != 27 && v != 28 {
		return false
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	sig[crypto.RecoveryIDOffset] = v - 27

	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(sig[crypto.RecoveryIDOffset], r, s, true) {
		return false
	}

	pub, err := crypto.SigToPub(a.Digest(message, deadline), sig)
	if err != nil {
		return false
	}
	return crypto.PubkeyToAddress(*pub) == signer
}
