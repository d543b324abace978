package port

import (
	"context"
	"math/big"

	"vaultsync/internal/domain/entity"
)

// TxHandle is a submitted transaction whose confirmation can be awaited.
type TxHandle interface {
	Hash() string
	// Wait blocks until the ledger reports the transaction as confirmed or failed,
	// or ctx is done. It has no timeout of its own.
	Wait(ctx context.Context) error
}

// VaultLedger defines the reads and writes the synchronizer needs from the vault and its token.
// All amounts are integers in the token's base units.
type VaultLedger interface {
	// VaultToken returns the address of the token the vault accepts (vault.token()).
	VaultToken(ctx context.Context, vaultAddress string) (string, error)
	// TokenDecimals returns token.decimals().
	TokenDecimals(ctx context.Context, tokenAddress string) (uint8, error)
	// VaultBalance returns vault.getBalance(account).
	VaultBalance(ctx context.Context, vaultAddress string, account string) (*big.Int, error)
	// TokenBalance returns token.balanceOf(account).
	TokenBalance(ctx context.Context, tokenAddress string, account string) (*big.Int, error)
	// Allowance returns token.allowance(owner, spender).
	Allowance(ctx context.Context, tokenAddress string, owner string, spender string) (*big.Int, error)

	Approve(ctx context.Context, signer Signer, tokenAddress string, spender string, amount *big.Int) (TxHandle, error)
	Deposit(ctx context.Context, signer Signer, vaultAddress string, amount *big.Int) (TxHandle, error)
	Withdraw(ctx context.Context, signer Signer, vaultAddress string, amount *big.Int) (TxHandle, error)
}

// NetworkDefinitionProvider defines the interface for providing network definitions.
type NetworkDefinitionProvider interface {
	// GetAllNetworkDefinitions returns all available network definitions as a slice.
	GetAllNetworkDefinitions() []entity.NetworkDefinition

	// GetNetworkDefinitionByName returns a specific network definition by its name (or identifier).
	GetNetworkDefinitionByName(nameOrIdentifier string) (entity.NetworkDefinition, bool)
}

// LedgerProvider hands out a connected ledger client per network.
type LedgerProvider interface {
	GetLedger(ctx context.Context, networkDefinition entity.NetworkDefinition) (VaultLedger, error)
}

// TokenPriceService looks up USD prices for display. A missing price is not an error.
type TokenPriceService interface {
	GetPriceUSD(ctx context.Context, dexScreenerChainID string, tokenAddress string) (float64, bool)
	// CachedPriceUSD answers from the cache only and never blocks on the network.
	CachedPriceUSD(dexScreenerChainID string, tokenAddress string) (float64, bool)
}
