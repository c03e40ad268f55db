package signature

import "github.com/ethereum/go-ethereum/common"

// Domain names.
const (
	AuthorizationDomainName = "LiquidationAuthorization"
	PriceUpdateDomainName   = "PriceUpdate"
)

// AuthorizationDomain scopes owner authorizations to one settlement engine.
func AuthorizationDomain(chainID uint64, engine common.Address) Domain {
	return Domain{Name: AuthorizationDomainName, ChainID: chainID, Verifier: engine}
}

// PriceUpdateDomain scopes oracle publisher signatures to one ledger.
func PriceUpdateDomain(chainID uint64, ledger common.Address) Domain {
	return Domain{Name: PriceUpdateDomainName, ChainID: chainID, Verifier: ledger}
}
