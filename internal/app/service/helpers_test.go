package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"vaultsync/internal/app/port"
	"vaultsync/internal/domain/entity"
)

const (
	testVault   = "0x00000000000000000000000000000000000000aa"
	testToken   = "0x00000000000000000000000000000000000000bb"
	testAccount = "0x1111111111111111111111111111111111111111"
	otherAcct   = "0x2222222222222222222222222222222222222222"
)

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type recordingNotifier struct {
	mu    sync.Mutex
	items []entity.Notification
}

func (n *recordingNotifier) Notify(item entity.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, item)
}

func (n *recordingNotifier) titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.items))
	for _, item := range n.items {
		out = append(out, item.Title)
	}
	return out
}

type fakeSigner struct{ account string }

func (s fakeSigner) Account() string { return s.account }

type fakeSubscription struct {
	w  *fakeWallet
	id int
}

func (s fakeSubscription) Unsubscribe() {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	delete(s.w.handlers, s.id)
}

type fakeWallet struct {
	mu         sync.Mutex
	accounts   []string
	canSign    bool
	requestErr error
	requests   int
	handlers   map[int]func(entity.WalletEvent)
	nextID     int
}

func newFakeWallet(accounts ...string) *fakeWallet {
	return &fakeWallet{accounts: accounts, canSign: true, handlers: make(map[int]func(entity.WalletEvent))}
}

func (w *fakeWallet) RequestAccounts(ctx context.Context) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.requests++
	if w.requestErr != nil {
		return nil, w.requestErr
	}
	return append([]string(nil), w.accounts...), nil
}

func (w *fakeWallet) HasSigner(string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.canSign
}

func (w *fakeWallet) Signer(account string) (port.Signer, error) {
	if !w.HasSigner(account) {
		return nil, entity.ErrWalletUnavailable
	}
	return fakeSigner{account: account}, nil
}

func (w *fakeWallet) Subscribe(handler func(entity.WalletEvent)) port.Subscription {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	w.handlers[id] = handler
	return fakeSubscription{w: w, id: id}
}

func (w *fakeWallet) emit(ev entity.WalletEvent) {
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

func (w *fakeWallet) subscribers() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.handlers)
}

// fakeTx confirms with err once gate (if any) is closed.
type fakeTx struct {
	hash string
	err  error
	gate chan struct{}
}

func (t *fakeTx) Hash() string { return t.hash }

func (t *fakeTx) Wait(ctx context.Context) error {
	if t.gate != nil {
		select {
		case <-t.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return t.err
}

type fakeLedger struct {
	mu sync.Mutex

	token       string
	decimals    uint8
	tokenErr    error
	decimalsErr error
	balanceErr  error
	vaultBal    map[string]*big.Int
	tokenBal    map[string]*big.Int
	allowance   *big.Int

	// Gates block the named call until closed.
	tokenGate        chan struct{}
	vaultBalanceGate chan struct{}

	approveErr      error
	approveWaitErr  error
	approveWaitGate chan struct{}
	executeErr      error
	executeWaitErr  error
	executeWaitGate chan struct{}

	calls   []string
	amounts map[string]*big.Int
	started chan string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		token:     testToken,
		decimals:  2,
		vaultBal:  map[string]*big.Int{},
		tokenBal:  map[string]*big.Int{},
		allowance: big.NewInt(0),
		amounts:   map[string]*big.Int{},
		started:   make(chan string, 64),
	}
}

func (l *fakeLedger) record(name string) {
	l.mu.Lock()
	l.calls = append(l.calls, name)
	l.mu.Unlock()
	select {
	case l.started <- name:
	default:
	}
}

func (l *fakeLedger) count(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (l *fakeLedger) callLog() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *fakeLedger) waitStarted(ctx context.Context, name string) error {
	for {
		select {
		case got := <-l.started:
			if got == name {
				return nil
			}
		case <-ctx.Done():
			return fmt.Errorf("%s never started: %w", name, ctx.Err())
		}
	}
}

func gateWait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *fakeLedger) VaultToken(ctx context.Context, vault string) (string, error) {
	l.record("vault.token")
	if err := gateWait(ctx, l.tokenGate); err != nil {
		return "", err
	}
	return l.token, l.tokenErr
}

func (l *fakeLedger) TokenDecimals(ctx context.Context, token string) (uint8, error) {
	l.record("token.decimals")
	return l.decimals, l.decimalsErr
}

func (l *fakeLedger) VaultBalance(ctx context.Context, vault, account string) (*big.Int, error) {
	l.record("vault.getBalance")
	if err := gateWait(ctx, l.vaultBalanceGate); err != nil {
		return nil, err
	}
	if l.balanceErr != nil {
		return nil, l.balanceErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.vaultBal[strings.ToLower(account)]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (l *fakeLedger) TokenBalance(ctx context.Context, token, account string) (*big.Int, error) {
	l.record("token.balanceOf")
	if l.balanceErr != nil {
		return nil, l.balanceErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.tokenBal[strings.ToLower(account)]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (l *fakeLedger) Allowance(ctx context.Context, token, owner, spender string) (*big.Int, error) {
	l.record("token.allowance")
	return l.allowance, nil
}

func (l *fakeLedger) Approve(ctx context.Context, signer port.Signer, token, spender string, amount *big.Int) (port.TxHandle, error) {
	l.record("token.approve")
	l.mu.Lock()
	l.amounts["approve"] = amount
	l.mu.Unlock()
	if l.approveErr != nil {
		return nil, l.approveErr
	}
	return &fakeTx{hash: "0xapprove", err: l.approveWaitErr, gate: l.approveWaitGate}, nil
}

func (l *fakeLedger) Deposit(ctx context.Context, signer port.Signer, vault string, amount *big.Int) (port.TxHandle, error) {
	l.record("vault.deposit")
	l.mu.Lock()
	l.amounts["deposit"] = amount
	l.mu.Unlock()
	if l.executeErr != nil {
		return nil, l.executeErr
	}
	return &fakeTx{hash: "0xdeposit", err: l.executeWaitErr, gate: l.executeWaitGate}, nil
}

func (l *fakeLedger) Withdraw(ctx context.Context, signer port.Signer, vault string, amount *big.Int) (port.TxHandle, error) {
	l.record("vault.withdraw")
	l.mu.Lock()
	l.amounts["withdraw"] = amount
	l.mu.Unlock()
	if l.executeErr != nil {
		return nil, l.executeErr
	}
	return &fakeTx{hash: "0xwithdraw", err: l.executeWaitErr, gate: l.executeWaitGate}, nil
}

var errBoom = errors.New("boom")
