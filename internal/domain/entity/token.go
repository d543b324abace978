package entity

// TokenMetadata is the token a vault accepts, resolved from the vault contract.
// Decimals never change for a given token address within a session.
type TokenMetadata struct {
	VaultAddress string `json:"vaultAddress"`
	TokenAddress string `json:"tokenAddress"`
	Decimals     uint8  `json:"decimals"`
}

// ZeroAddress represents the Ethereum zero address.
const ZeroAddress = "0x0000000000000000000000000000000000000000"
