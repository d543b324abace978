package service

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"vaultsync/internal/app/port"
	"vaultsync/internal/domain/entity"
	"vaultsync/internal/pkg/utils"

	"golang.org/x/sync/errgroup"
)

// snapshotVersion is shared by every reader in the process so AsOf never goes backwards.
var snapshotVersion atomic.Uint64

// BalanceReader fetches the vault and token balances of the bound account.
type BalanceReader struct {
	ledger port.VaultLedger
	logger port.Logger
	now    func() time.Time
}

// NewBalanceReader creates a BalanceReader.
func NewBalanceReader(ledger port.VaultLedger, logger port.Logger) *BalanceReader {
	return &BalanceReader{ledger: ledger, logger: logger, now: time.Now}
}

// Refresh reads both balances. It has no side effects beyond the returned snapshot.
func (r *BalanceReader) Refresh(ctx context.Context, session entity.Session, md entity.TokenMetadata) (entity.BalanceSnapshot, error) {
	if !session.Bound() {
		return entity.BalanceSnapshot{}, fmt.Errorf("%w: no account bound", entity.ErrReadUnavailable)
	}

	var vaultAmount, tokenAmount *big.Int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := r.ledger.VaultBalance(gctx, md.VaultAddress, session.Account)
		if err != nil {
			return fmt.Errorf("vault.getBalance(%s): %w", session.Account, err)
		}
		vaultAmount = v
		return nil
	})
	g.Go(func() error {
		v, err := r.ledger.TokenBalance(gctx, md.TokenAddress, session.Account)
		if err != nil {
			return fmt.Errorf("token.balanceOf(%s): %w", session.Account, err)
		}
		tokenAmount = v
		return nil
	})
	if err := g.Wait(); err != nil {
		r.logger.Warn("Balance read failed", "account", session.Account, "error", err)
		return entity.BalanceSnapshot{}, fmt.Errorf("%w: %v", entity.ErrReadUnavailable, err)
	}

	vaultDisplay, err := utils.ToDisplayUnits(vaultAmount, md.Decimals)
	if err != nil {
		return entity.BalanceSnapshot{}, fmt.Errorf("%w: vault balance: %v", entity.ErrReadUnavailable, err)
	}
	tokenDisplay, err := utils.ToDisplayUnits(tokenAmount, md.Decimals)
	if err != nil {
		return entity.BalanceSnapshot{}, fmt.Errorf("%w: token balance: %v", entity.ErrReadUnavailable, err)
	}

	snap := entity.BalanceSnapshot{
		Account:      session.Account,
		VaultAddress: md.VaultAddress,
		TokenAddress: md.TokenAddress,
		Decimals:     md.Decimals,
		VaultBalance: vaultDisplay,
		TokenBalance: tokenDisplay,
		VaultAmount:  nonNil(vaultAmount),
		TokenAmount:  nonNil(tokenAmount),
		AsOf:         snapshotVersion.Add(1),
		Epoch:        session.Epoch,
		FetchedAt:    r.now(),
	}
	r.logger.Debug("Balances read", "account", session.Account, "vault_balance", vaultDisplay, "token_balance", tokenDisplay, "as_of", snap.AsOf)
	return snap, nil
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
