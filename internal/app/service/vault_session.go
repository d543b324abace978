package service

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"vaultsync/internal/app/port"
	"vaultsync/internal/domain/entity"
	"vaultsync/internal/pkg/metrics"
	"vaultsync/internal/pkg/observable"
)

const defaultRefreshTimeout = 30 * time.Second

// VaultSessionOptions configures a VaultSession.
type VaultSessionOptions struct {
	VaultAddress           string
	SkipApproveWhenAllowed bool
	// AutoRefreshOnRebind reads balances in the background whenever a new account is bound.
	AutoRefreshOnRebind bool
	RefreshTimeout      time.Duration
}

// VaultSession is the synchronizer: account binding gates metadata resolution, which gates
// balance reads, which the orchestrator triggers after each confirmed transaction.
type VaultSession struct {
	binding      *AccountBinding
	cache        *TokenMetadataCache
	reader       *BalanceReader
	orchestrator *TransactionOrchestrator
	ledger       port.VaultLedger
	logger       port.Logger
	metrics      *metrics.Metrics
	opts         VaultSessionOptions

	snapshot *observable.Value[entity.BalanceSnapshot]

	lifecycleMu sync.Mutex
	started     bool
	unwatch     func()
	lastEpoch   uint64
	background  sync.WaitGroup
	closing     chan struct{}
}

// NewVaultSession wires the synchronizer components over the given wallet and ledger.
func NewVaultSession(
	wallet port.WalletProvider,
	ledger port.VaultLedger,
	notifier port.Notifier,
	logger port.Logger,
	m *metrics.Metrics,
	opts VaultSessionOptions,
) *VaultSession {
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = defaultRefreshTimeout
	}
	s := &VaultSession{
		binding:  NewAccountBinding(wallet, notifier, logger, m),
		cache:    NewTokenMetadataCache(ledger, logger, m),
		reader:   NewBalanceReader(ledger, logger),
		ledger:   ledger,
		logger:   logger,
		metrics:  m,
		opts:     opts,
		snapshot: observable.New(entity.BalanceSnapshot{}),
	}
	s.orchestrator = NewTransactionOrchestrator(s.binding, s.cache, ledger, wallet, s, notifier, logger, m, OrchestratorOptions{
		VaultAddress:           opts.VaultAddress,
		SkipApproveWhenAllowed: opts.SkipApproveWhenAllowed,
	})
	return s
}

// Start subscribes to wallet events and session changes.
func (s *VaultSession) Start() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.closing = make(chan struct{})
	s.lastEpoch = s.binding.Current().Epoch
	s.unwatch = s.binding.Subscribe(s.onSessionChange)
	s.binding.Start()
	s.logger.Info("Vault session started", "vault", s.opts.VaultAddress)
}

// Close releases subscriptions and waits for background refreshes.
func (s *VaultSession) Close() {
	s.lifecycleMu.Lock()
	if !s.started {
		s.lifecycleMu.Unlock()
		return
	}
	s.started = false
	s.binding.Close()
	s.unwatch()
	close(s.closing)
	s.lifecycleMu.Unlock()

	s.background.Wait()
	s.logger.Info("Vault session closed", "vault", s.opts.VaultAddress)
}

// Binding exposes the account binding.
func (s *VaultSession) Binding() *AccountBinding { return s.binding }

// Orchestrator exposes the transaction orchestrator.
func (s *VaultSession) Orchestrator() *TransactionOrchestrator { return s.orchestrator }

// VaultAddress returns the vault this session operates on.
func (s *VaultSession) VaultAddress() string { return s.opts.VaultAddress }

// Snapshot returns the balances for the bound account. A zero AsOf means none have been read yet.
func (s *VaultSession) Snapshot() entity.BalanceSnapshot {
	return s.snapshot.Get()
}

// SubscribeSnapshots registers fn for every stored snapshot.
func (s *VaultSession) SubscribeSnapshots(fn func(entity.BalanceSnapshot)) (unsubscribe func()) {
	return s.snapshot.Subscribe(fn)
}

// TokenMetadata resolves the vault token through the cache.
func (s *VaultSession) TokenMetadata(ctx context.Context) (entity.TokenMetadata, error) {
	return s.cache.Resolve(ctx, s.opts.VaultAddress)
}

// RefreshBalances reads balances for the bound account and stores them unless the account
// changed while the read was outstanding, in which case the result is dropped and
// entity.ErrStaleResult is returned. On error the previous snapshot is returned unchanged.
func (s *VaultSession) RefreshBalances(ctx context.Context) (entity.BalanceSnapshot, error) {
	session := s.binding.Current()
	if !session.Bound() {
		s.metrics.ObserveRefresh("unavailable")
		return s.Snapshot(), fmt.Errorf("%w: no account bound", entity.ErrReadUnavailable)
	}

	md, err := s.cache.Resolve(ctx, s.opts.VaultAddress)
	if err != nil {
		s.metrics.ObserveRefresh("error")
		return s.Snapshot(), err
	}

	snap, err := s.reader.Refresh(ctx, session, md)
	if err != nil {
		s.metrics.ObserveRefresh("error")
		return s.Snapshot(), err
	}

	stale := false
	stored := s.snapshot.Update(func(cur entity.BalanceSnapshot) (entity.BalanceSnapshot, bool) {
		if s.binding.Current().Epoch != session.Epoch {
			stale = true
			return cur, false
		}
		if cur.Epoch == snap.Epoch && cur.AsOf > snap.AsOf {
			// A later refresh for the same account already landed.
			return cur, false
		}
		return snap, true
	})
	if stale {
		s.metrics.ObserveRefresh("stale")
		s.logger.Info("Discarding balances read for a superseded account", "account", session.Account, "as_of", snap.AsOf)
		return stored, fmt.Errorf("%w: balances for %s", entity.ErrStaleResult, session.Account)
	}
	s.metrics.ObserveRefresh("ok")
	return stored, nil
}

// Allowance returns token.allowance(account, vault) for the bound account.
func (s *VaultSession) Allowance(ctx context.Context) (*big.Int, entity.TokenMetadata, error) {
	session := s.binding.Current()
	if !session.Bound() {
		return nil, entity.TokenMetadata{}, fmt.Errorf("%w: no account bound", entity.ErrReadUnavailable)
	}
	md, err := s.cache.Resolve(ctx, s.opts.VaultAddress)
	if err != nil {
		return nil, entity.TokenMetadata{}, err
	}
	allowance, err := s.ledger.Allowance(ctx, md.TokenAddress, session.Account, s.opts.VaultAddress)
	if err != nil {
		return nil, md, fmt.Errorf("%w: token.allowance(%s): %v", entity.ErrReadUnavailable, session.Account, err)
	}
	return allowance, md, nil
}

// Execute runs a transaction request to completion.
func (s *VaultSession) Execute(ctx context.Context, req entity.TransactionRequest) (entity.OperationStatus, error) {
	return s.orchestrator.Execute(ctx, req)
}

// StartTransaction validates req and runs it in the background.
func (s *VaultSession) StartTransaction(ctx context.Context, req entity.TransactionRequest) (*Ticket, error) {
	return s.orchestrator.Start(ctx, req)
}

func (s *VaultSession) onSessionChange(session entity.Session) {
	s.lifecycleMu.Lock()
	if session.Epoch == s.lastEpoch {
		s.lifecycleMu.Unlock()
		return
	}
	s.lastEpoch = session.Epoch
	autoRefresh := s.started && s.opts.AutoRefreshOnRebind && session.Bound()
	closing := s.closing
	if autoRefresh {
		s.background.Add(1)
	}
	s.lifecycleMu.Unlock()

	s.cache.Invalidate()
	s.snapshot.Update(func(cur entity.BalanceSnapshot) (entity.BalanceSnapshot, bool) {
		if !cur.IsZero() && cur.Epoch == session.Epoch {
			// A refresh for the new account already landed.
			return cur, false
		}
		return entity.BalanceSnapshot{Account: session.Account, Epoch: session.Epoch}, true
	})

	if autoRefresh {
		go s.backgroundRefresh(session, closing)
	}
}

func (s *VaultSession) backgroundRefresh(session entity.Session, closing <-chan struct{}) {
	defer s.background.Done()
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.RefreshTimeout)
	defer cancel()
	go func() {
		select {
		case <-closing:
			cancel()
		case <-ctx.Done():
		}
	}()

	if _, err := s.RefreshBalances(ctx); err != nil {
		s.logger.Warn("Background balance refresh failed", "account", session.Account, "error", err)
	}
}
