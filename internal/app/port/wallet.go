package port

import (
	"context"

	"vaultsync/internal/domain/entity"
)

// Signer is the transaction-signing capability bound to one account.
// Ledger implementations type-assert it to whatever signing interface they need.
type Signer interface {
	Account() string
}

// Subscription is a wallet event registration that must be released explicitly.
type Subscription interface {
	Unsubscribe()
}

// WalletProvider is the external wallet/session layer.
type WalletProvider interface {
	// RequestAccounts asks the wallet to connect and returns its accounts, active account first.
	// It fails with entity.ErrWalletUnavailable or entity.ErrConnectionRejected.
	RequestAccounts(ctx context.Context) ([]string, error)
	// HasSigner reports whether the wallet can sign for account.
	HasSigner(account string) bool
	Signer(account string) (Signer, error)
	Subscribe(handler func(entity.WalletEvent)) Subscription
}
