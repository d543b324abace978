package restapi

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"vaultsync/internal/app/port"
	"vaultsync/internal/app/service"
	"vaultsync/internal/domain/entity"
	"vaultsync/internal/infrastructure/notify"
	"vaultsync/internal/infrastructure/wallet"
	"vaultsync/internal/infrastructure/walletloader"
	"vaultsync/internal/pkg/metrics"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const (
	testVault     = "0x00000000000000000000000000000000000000aa"
	testToken     = "0x00000000000000000000000000000000000000bb"
	watchOnlyAcct = "0x2222222222222222222222222222222222222222"
)

var testNetwork = entity.NetworkDefinition{
	Identifier:         "camp_testnet",
	Name:               "Camp Network Testnet V2",
	ChainID:            325000,
	BlockExplorerURL:   "https://explorer.test",
	DEXScreenerChainID: "camp",
}

func init() {
	gin.SetMode(gin.TestMode)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type stubTx struct {
	hash string
	wait func(ctx context.Context) error
}

func (t *stubTx) Hash() string { return t.hash }

func (t *stubTx) Wait(ctx context.Context) error {
	if t.wait == nil {
		return nil
	}
	return t.wait(ctx)
}

// stubLedger keeps balances in memory; deposits and withdrawals move funds on confirmation.
type stubLedger struct {
	mu          sync.Mutex
	decimals    uint8
	vault       map[string]*big.Int
	tokens      map[string]*big.Int
	allowance   *big.Int
	depositGate chan struct{}
	txCount     int
}

func newStubLedger() *stubLedger {
	return &stubLedger{
		decimals:  6,
		vault:     make(map[string]*big.Int),
		tokens:    make(map[string]*big.Int),
		allowance: big.NewInt(0),
	}
}

func (l *stubLedger) setBalances(account string, vault, token int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.vault[strings.ToLower(account)] = big.NewInt(vault)
	l.tokens[strings.ToLower(account)] = big.NewInt(token)
}

func (l *stubLedger) balance(m map[string]*big.Int, account string) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := m[strings.ToLower(account)]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

func (l *stubLedger) nextHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txCount++
	return fmt.Sprintf("0x%064x", l.txCount)
}

func (l *stubLedger) VaultToken(context.Context, string) (string, error) { return testToken, nil }

func (l *stubLedger) TokenDecimals(context.Context, string) (uint8, error) { return l.decimals, nil }

func (l *stubLedger) VaultBalance(_ context.Context, _ string, account string) (*big.Int, error) {
	return l.balance(l.vault, account), nil
}

func (l *stubLedger) TokenBalance(_ context.Context, _ string, account string) (*big.Int, error) {
	return l.balance(l.tokens, account), nil
}

func (l *stubLedger) Allowance(context.Context, string, string, string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.allowance), nil
}

func (l *stubLedger) Approve(_ context.Context, _ port.Signer, _ string, _ string, amount *big.Int) (port.TxHandle, error) {
	return &stubTx{hash: l.nextHash(), wait: func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.allowance = new(big.Int).Set(amount)
		return nil
	}}, nil
}

func (l *stubLedger) move(account string, amount *big.Int, toVault bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := strings.ToLower(account)
	from, to := l.tokens, l.vault
	if !toVault {
		from, to = l.vault, l.tokens
	}
	if from[key] == nil {
		from[key] = big.NewInt(0)
	}
	if to[key] == nil {
		to[key] = big.NewInt(0)
	}
	from[key] = new(big.Int).Sub(from[key], amount)
	to[key] = new(big.Int).Add(to[key], amount)
}

func (l *stubLedger) Deposit(_ context.Context, signer port.Signer, _ string, amount *big.Int) (port.TxHandle, error) {
	gate := l.depositGate
	return &stubTx{hash: l.nextHash(), wait: func(ctx context.Context) error {
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		l.move(signer.Account(), amount, true)
		return nil
	}}, nil
}

func (l *stubLedger) Withdraw(_ context.Context, signer port.Signer, _ string, amount *big.Int) (port.TxHandle, error) {
	return &stubTx{hash: l.nextHash(), wait: func(context.Context) error {
		l.move(signer.Account(), amount, false)
		return nil
	}}, nil
}

type fixedPrices struct{ price float64 }

func (p fixedPrices) GetPriceUSD(context.Context, string, string) (float64, bool) {
	return p.price, p.price > 0
}

func (p fixedPrices) CachedPriceUSD(string, string) (float64, bool) {
	return p.price, p.price > 0
}

// slowPrices has nothing cached and holds every lookup until gate is closed.
type slowPrices struct {
	gate    chan struct{}
	lookups atomic.Int32
}

func (p *slowPrices) GetPriceUSD(ctx context.Context, _, _ string) (float64, bool) {
	p.lookups.Add(1)
	select {
	case <-p.gate:
	case <-ctx.Done():
	}
	return 0, false
}

func (p *slowPrices) CachedPriceUSD(string, string) (float64, bool) {
	return 0, false
}

type apiFixture struct {
	ledger  *stubLedger
	wallet  *wallet.KeyWallet
	session *service.VaultSession
	hub     *notify.Hub
	router  *gin.Engine
	signer  string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	return newAPIFixtureWithPrices(t, fixedPrices{price: 2})
}

func newAPIFixtureWithPrices(t *testing.T, prices port.TokenPriceService) *apiFixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey).Hex()

	ledger := newStubLedger()
	ledger.setBalances(signer, 10_500_000, 5_000_000)

	kw := wallet.NewKeyWallet([]walletloader.Entry{
		{Address: signer, Key: key},
		{Address: watchOnlyAcct},
	}, nopLogger{})
	hub := notify.NewHub(nopLogger{})
	reg := prometheus.NewRegistry()
	session := service.NewVaultSession(kw, ledger, notify.NewNotifier(hub, nopLogger{}), nopLogger{}, metrics.New(reg),
		service.VaultSessionOptions{VaultAddress: testVault})

	unbridge := []func(){
		session.Binding().Subscribe(func(s entity.Session) { hub.Publish(notify.EventSession, s) }),
		session.SubscribeSnapshots(func(s entity.BalanceSnapshot) { hub.Publish(notify.EventSnapshot, s) }),
		session.Orchestrator().Subscribe(func(s entity.OperationStatus) { hub.Publish(notify.EventStatus, s) }),
	}
	session.Start()
	t.Cleanup(func() {
		for _, stop := range unbridge {
			stop()
		}
		session.Close()
		hub.Close()
	})

	vh := NewVaultHandler(session, kw, prices, testNetwork, 0, nopLogger{})
	eh := NewEventsHandler(hub, session, prices, testNetwork, []string{"*"}, nopLogger{})
	router := SetupRouter(vh, eh, RouterConfig{Gatherer: reg})

	return &apiFixture{ledger: ledger, wallet: kw, session: session, hub: hub, router: router, signer: signer}
}

func (f *apiFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) connect(t *testing.T) {
	t.Helper()
	rec := f.do(http.MethodPost, "/api/v1/session/connect", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	var env struct {
		Data jsoniter.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	var apiErr APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr), rec.Body.String())
	return apiErr
}
