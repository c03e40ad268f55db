package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// VaultStatus is the lifecycle state of a vault in the ledger.
type VaultStatus string

const (
	VaultOpen       VaultStatus = "OPEN"
	VaultLiquidated VaultStatus = "LIQUIDATED"
)

// Vault is a read-only snapshot of a collateralized debt position.
// The ledger owns the position; the engine only reads it and asks for liquidation.
type Vault struct {
	ID               *uint256.Int
	DebtToken        common.Address
	DebtAmount       *uint256.Int
	CollateralToken  common.Address
	CollateralAmount *uint256.Int
	Status           VaultStatus
}

// IsOpen reports whether the vault can still be liquidated.
func (v *Vault) IsOpen() bool {
	return v.Status == VaultOpen
}
