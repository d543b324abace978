package entity

import (
	"math/big"
	"time"
)

// BalanceSnapshot is one consistent read of the bound account's vault and token balances.
// A newer snapshot replaces an older one wholesale.
type BalanceSnapshot struct {
	Account      string   `json:"account"`
	VaultAddress string   `json:"vaultAddress"`
	TokenAddress string   `json:"tokenAddress"`
	Decimals     uint8    `json:"decimals"`
	VaultBalance string   `json:"vaultBalance"`
	TokenBalance string   `json:"tokenBalance"`
	VaultAmount  *big.Int `json:"-"`
	TokenAmount  *big.Int `json:"-"`
	// AsOf is a logical version, strictly increasing across refreshes.
	AsOf      uint64    `json:"asOf"`
	Epoch     uint64    `json:"epoch"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// IsZero reports whether the snapshot was never populated.
func (s BalanceSnapshot) IsZero() bool {
	return s.AsOf == 0
}
