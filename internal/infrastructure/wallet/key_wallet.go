// Package wallet is a local key-file wallet that behaves like an injected browser wallet:
// it hands out accounts on request and emits accountsChanged, connect and disconnect events.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"vaultsync/internal/app/port"
	"vaultsync/internal/domain/entity"
	"vaultsync/internal/infrastructure/walletloader"

	"github.com/ethereum/go-ethereum/core/types"
)

// KeyWallet implements port.WalletProvider over accounts loaded from a wallet file.
type KeyWallet struct {
	logger port.Logger

	mu        sync.Mutex
	entries   []walletloader.Entry
	active    int
	connected bool
	handlers  map[int]func(entity.WalletEvent)
	nextID    int
}

// NewKeyWallet creates a disconnected wallet. The first entry is the active account.
func NewKeyWallet(entries []walletloader.Entry, logger port.Logger) *KeyWallet {
	return &KeyWallet{
		logger:   logger,
		entries:  entries,
		handlers: make(map[int]func(entity.WalletEvent)),
	}
}

// RequestAccounts connects the wallet and returns its accounts, active account first.
func (w *KeyWallet) RequestAccounts(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrConnectionRejected, err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.entries) == 0 {
		return nil, fmt.Errorf("%w: no accounts loaded", entity.ErrWalletUnavailable)
	}
	w.connected = true
	return w.orderedLocked(), nil
}

// HasSigner reports whether account is connected and backed by a private key.
func (w *KeyWallet) HasSigner(account string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.findLocked(account)
	return ok && w.connected && e.CanSign()
}

// Signer returns a transaction signer for account.
func (w *KeyWallet) Signer(account string) (port.Signer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.connected {
		return nil, fmt.Errorf("%w: wallet is not connected", entity.ErrWalletUnavailable)
	}
	e, ok := w.findLocked(account)
	if !ok {
		return nil, fmt.Errorf("%w: unknown account %s", entity.ErrWalletUnavailable, account)
	}
	if !e.CanSign() {
		return nil, fmt.Errorf("%w: account %s is watch-only", entity.ErrWalletUnavailable, account)
	}
	return &keySigner{address: e.Address, key: e.Key}, nil
}

// Subscribe registers handler for wallet events.
func (w *KeyWallet) Subscribe(handler func(entity.WalletEvent)) port.Subscription {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	w.handlers[id] = handler
	return &subscription{wallet: w, id: id}
}

// Accounts lists every loaded account in file order.
func (w *KeyWallet) Accounts() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.entries))
	for _, e := range w.entries {
		out = append(out, e.Address)
	}
	return out
}

// Connected reports whether the wallet has been connected.
func (w *KeyWallet) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

// Connect marks the wallet connected and emits a connect event, as a previously
// authorised browser wallet does on page load.
func (w *KeyWallet) Connect() error {
	w.mu.Lock()
	if len(w.entries) == 0 {
		w.mu.Unlock()
		return fmt.Errorf("%w: no accounts loaded", entity.ErrWalletUnavailable)
	}
	w.connected = true
	ev := w.eventLocked(entity.WalletConnect)
	w.mu.Unlock()

	w.logger.Info("Wallet connected", "account", ev.Accounts[0])
	w.emit(ev)
	return nil
}

// SelectAccount makes account the active one and emits accountsChanged if connected.
func (w *KeyWallet) SelectAccount(account string) error {
	w.mu.Lock()
	idx := -1
	for i, e := range w.entries {
		if strings.EqualFold(e.Address, account) {
			idx = i
			break
		}
	}
	if idx < 0 {
		w.mu.Unlock()
		return fmt.Errorf("%w: unknown account %s", entity.ErrWalletUnavailable, account)
	}
	changed := idx != w.active
	w.active = idx
	connected := w.connected
	ev := w.eventLocked(entity.WalletAccountsChanged)
	w.mu.Unlock()

	if changed && connected {
		w.logger.Info("Wallet account switched", "account", ev.Accounts[0])
		w.emit(ev)
	}
	return nil
}

// Disconnect emits a disconnect event. Further signing requires RequestAccounts or Connect.
func (w *KeyWallet) Disconnect() {
	w.mu.Lock()
	if !w.connected {
		w.mu.Unlock()
		return
	}
	w.connected = false
	w.mu.Unlock()

	w.logger.Info("Wallet disconnected")
	w.emit(entity.WalletEvent{Type: entity.WalletDisconnect})
}

func (w *KeyWallet) orderedLocked() []string {
	out := make([]string, 0, len(w.entries))
	out = append(out, w.entries[w.active].Address)
	for i, e := range w.entries {
		if i != w.active {
			out = append(out, e.Address)
		}
	}
	return out
}

func (w *KeyWallet) eventLocked(t entity.WalletEventType) entity.WalletEvent {
	return entity.WalletEvent{
		Type:      t,
		Accounts:  w.orderedLocked(),
		HasSigner: w.connected && w.entries[w.active].CanSign(),
	}
}

func (w *KeyWallet) findLocked(account string) (walletloader.Entry, bool) {
	for _, e := range w.entries {
		if strings.EqualFold(e.Address, account) {
			return e, true
		}
	}
	return walletloader.Entry{}, false
}

// emit delivers ev synchronously, outside the lock, so handlers may call back into the wallet.
func (w *KeyWallet) emit(ev entity.WalletEvent) {
	w.mu.Lock()
	handlers := make([]func(entity.WalletEvent), 0, len(w.handlers))
	for _, h := range w.handlers {
		handlers = append(handlers, h)
	}
	w.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

type subscription struct {
	wallet *KeyWallet
	id     int
	once   sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.wallet.mu.Lock()
		defer s.wallet.mu.Unlock()
		delete(s.wallet.handlers, s.id)
	})
}

// keySigner signs transactions with an in-memory private key.
type keySigner struct {
	address string
	key     *ecdsa.PrivateKey
}

func (s *keySigner) Account() string {
	return s.address
}

// SignTx signs tx for chainID with the latest signer rules.
func (s *keySigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}
