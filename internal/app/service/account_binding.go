package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"vaultsync/internal/app/port"
	"vaultsync/internal/domain/entity"
	"vaultsync/internal/pkg/metrics"
	"vaultsync/internal/pkg/observable"
	"vaultsync/internal/pkg/utils"
)

// AccountBinding tracks the session reported by the wallet layer.
// It makes no network calls except through RequestConnection.
type AccountBinding struct {
	wallet   port.WalletProvider
	notifier port.Notifier
	logger   port.Logger
	metrics  *metrics.Metrics

	session *observable.Value[entity.Session]

	subMu sync.Mutex
	sub   port.Subscription
}

// NewAccountBinding creates an AccountBinding with an empty session.
func NewAccountBinding(wallet port.WalletProvider, notifier port.Notifier, logger port.Logger, m *metrics.Metrics) *AccountBinding {
	return &AccountBinding{
		wallet:   wallet,
		notifier: notifier,
		logger:   logger,
		metrics:  m,
		session:  observable.New(entity.Session{}),
	}
}

// Start subscribes to wallet events. Calling Start twice is a no-op.
func (b *AccountBinding) Start() {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	if b.sub != nil {
		return
	}
	b.sub = b.wallet.Subscribe(b.HandleEvent)
	b.logger.Debug("Account binding subscribed to wallet events")
}

// Close releases the wallet subscription.
func (b *AccountBinding) Close() {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	if b.sub == nil {
		return
	}
	b.sub.Unsubscribe()
	b.sub = nil
	b.logger.Debug("Account binding unsubscribed from wallet events")
}

// Current returns the current session.
func (b *AccountBinding) Current() entity.Session {
	return b.session.Get()
}

// Status returns the discriminated status of the current session.
func (b *AccountBinding) Status() entity.SessionStatus {
	return b.session.Get().Status()
}

// Subscribe registers fn for every session change.
func (b *AccountBinding) Subscribe(fn func(entity.Session)) (unsubscribe func()) {
	return b.session.Subscribe(fn)
}

// HandleEvent applies a wallet event to the session synchronously.
func (b *AccountBinding) HandleEvent(ev entity.WalletEvent) {
	b.logger.Debug("Wallet event received", "type", ev.Type.String(), "accounts", len(ev.Accounts))
	switch ev.Type {
	case entity.WalletDisconnect:
		b.bind("", false)
	default:
		if len(ev.Accounts) == 0 {
			b.bind("", false)
			return
		}
		b.bind(ev.Accounts[0], ev.HasSigner)
	}
}

// RequestConnection asks the wallet to connect and binds its first account.
func (b *AccountBinding) RequestConnection(ctx context.Context) (entity.Session, error) {
	accounts, err := b.wallet.RequestAccounts(ctx)
	if err != nil {
		if !errors.Is(err, entity.ErrWalletUnavailable) && !errors.Is(err, entity.ErrConnectionRejected) {
			err = fmt.Errorf("%w: %v", entity.ErrConnectionRejected, err)
		}
		b.logger.Warn("Wallet connection failed", "error", err)
		b.notify("Connection Failed", err.Error(), entity.NotificationDestructive)
		return b.Current(), err
	}
	if len(accounts) == 0 {
		err := fmt.Errorf("%w: wallet returned no accounts", entity.ErrConnectionRejected)
		b.notify("Connection Failed", err.Error(), entity.NotificationDestructive)
		return b.Current(), err
	}

	session := b.bind(accounts[0], b.wallet.HasSigner(accounts[0]))
	b.notify("Wallet Connected", "Connected to "+utils.ShortAddress(session.Account), entity.NotificationDefault)
	return session, nil
}

// bind moves the session to account. A different account, including none, starts a new epoch.
func (b *AccountBinding) bind(account string, hasSigner bool) entity.Session {
	var rebound bool
	var previous string
	next := b.session.Update(func(cur entity.Session) (entity.Session, bool) {
		previous = cur.Account
		if entity.SameAccount(cur.Account, account) {
			if cur.HasSigner == hasSigner || account == "" {
				return cur, false
			}
			cur.HasSigner = hasSigner
			return cur, true
		}
		rebound = true
		return entity.Session{Account: account, HasSigner: hasSigner && account != "", Epoch: cur.Epoch + 1}, true
	})

	if rebound {
		b.metrics.ObserveSessionChange()
		switch {
		case account == "":
			b.logger.Info("Session cleared", "previous_account", previous, "epoch", next.Epoch)
			b.notify("Wallet Disconnected", "Your wallet has been disconnected", entity.NotificationDefault)
		case previous == "":
			b.logger.Info("Session bound", "account", account, "has_signer", next.HasSigner, "epoch", next.Epoch)
		default:
			b.logger.Info("Session rebound", "previous_account", previous, "account", account, "epoch", next.Epoch)
		}
	}
	return next
}

func (b *AccountBinding) notify(title, description string, variant entity.NotificationVariant) {
	if b.notifier == nil {
		return
	}
	b.notifier.Notify(entity.Notification{Title: title, Description: description, Variant: variant, At: time.Now()})
}
