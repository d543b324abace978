package client

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"vaultsync/internal/app/port"
	"vaultsync/internal/domain/entity"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Vault ABI minimal part: token(), getBalance(address), deposit(uint256), withdraw(uint256)
const vaultABI = `[
{"constant":true,"inputs":[],"name":"token","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"},
{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"getBalance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"name":"amount","type":"uint256"}],"name":"deposit","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[{"name":"amount","type":"uint256"}],"name":"withdraw","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// ERC20 ABI minimal part: decimals, balanceOf, allowance, approve
const erc20ABI = `[
{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"stateMutability":"view","type":"function"},
{"constant":true,"inputs":[{"name":"_owner","type":"address"},{"name":"_spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"name":"_spender","type":"address"},{"name":"_value","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

var (
	parsedVaultABI abi.ABI
	parsedERC20ABI abi.ABI
	parseABIsOnce  sync.Once
)

func initParsedABIs() {
	parseABIsOnce.Do(func() {
		var err error
		parsedVaultABI, err = abi.JSON(strings.NewReader(vaultABI))
		if err != nil {
			panic(fmt.Sprintf("failed to parse vault ABI: %v", err))
		}
		parsedERC20ABI, err = abi.JSON(strings.NewReader(erc20ABI))
		if err != nil {
			panic(fmt.Sprintf("failed to parse ERC20 ABI: %v", err))
		}
	})
}

const (
	defaultConnectionTimeout   = 10 * time.Second
	defaultRPCCallTimeout      = 10 * time.Second
	defaultReceiptPollInterval = 2 * time.Second
	// gasHeadroomPercent is added on top of eth_estimateGas.
	gasHeadroomPercent = 20
)

// TxSigner is a port.Signer holding a key for its account.
type TxSigner interface {
	port.Signer
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// chainBackend is the subset of *ethclient.Client the ledger uses.
type chainBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// Options tunes an EVMClient. Zero values fall back to defaults.
type Options struct {
	ConnectionTimeout   time.Duration
	RPCCallTimeout      time.Duration
	ReceiptPollInterval time.Duration
	// RequestsPerSecond limits outgoing RPC calls; zero means unlimited.
	RequestsPerSecond float64
	Burst             int
}

func (o Options) withDefaults() Options {
	if o.ConnectionTimeout <= 0 {
		o.ConnectionTimeout = defaultConnectionTimeout
	}
	if o.RPCCallTimeout <= 0 {
		o.RPCCallTimeout = defaultRPCCallTimeout
	}
	if o.ReceiptPollInterval <= 0 {
		o.ReceiptPollInterval = defaultReceiptPollInterval
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	return o
}

// EVMClient implements port.VaultLedger against an EVM JSON-RPC endpoint.
type EVMClient struct {
	backend chainBackend
	netDef  entity.NetworkDefinition
	chainID *big.Int
	opts    Options
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewEVMClient connects to the first reachable RPC URL of netDef whose chain ID matches.
func NewEVMClient(ctx context.Context, netDef entity.NetworkDefinition, opts Options, logger *zap.Logger) (*EVMClient, error) {
	opts = opts.withDefaults()
	rpcURLs := append([]string{netDef.PrimaryRPCURL}, netDef.FallbackRPCURLs...)
	var lastErr error

	for _, rpcURL := range rpcURLs {
		if rpcURL == "" {
			continue
		}
		dialCtx, cancel := context.WithTimeout(ctx, opts.ConnectionTimeout)
		ethClient, err := ethclient.DialContext(dialCtx, rpcURL)
		if err != nil {
			cancel()
			lastErr = fmt.Errorf("failed to connect to RPC %s: %w", rpcURL, err)
			continue
		}
		chainID, err := ethClient.ChainID(dialCtx)
		cancel()
		if err != nil {
			ethClient.Close()
			lastErr = fmt.Errorf("failed to verify chainID for %s: %w", rpcURL, err)
			continue
		}
		if chainID.Uint64() != netDef.ChainID {
			ethClient.Close()
			lastErr = fmt.Errorf("chainID mismatch for %s: expected %d, got %d", rpcURL, netDef.ChainID, chainID.Uint64())
			continue
		}
		logger.Info("Connected to RPC", zap.String("network", netDef.Identifier), zap.String("rpc", rpcURL))
		return newEVMClient(ethClient, netDef, chainID, opts, logger), nil
	}

	if lastErr == nil {
		lastErr = errors.New("no RPC URL configured")
	}
	return nil, fmt.Errorf("all RPC connection attempts failed for network %s: %w", netDef.Name, lastErr)
}

func newEVMClient(backend chainBackend, netDef entity.NetworkDefinition, chainID *big.Int, opts Options, logger *zap.Logger) *EVMClient {
	initParsedABIs()
	opts = opts.withDefaults()
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &EVMClient{
		backend: backend,
		netDef:  netDef,
		chainID: chainID,
		opts:    opts,
		limiter: rate.NewLimiter(limit, opts.Burst),
		logger:  logger.Named("evm_client").With(zap.String("network", netDef.Identifier)),
	}
}

// Definition returns the network definition for this client.
func (c *EVMClient) Definition() entity.NetworkDefinition {
	return c.netDef
}

// Close releases the underlying RPC connection.
func (c *EVMClient) Close() {
	c.backend.Close()
}

// VaultToken calls vault.token().
func (c *EVMClient) VaultToken(ctx context.Context, vaultAddress string) (string, error) {
	out, err := c.call(ctx, vaultAddress, parsedVaultABI, "token")
	if err != nil {
		return "", err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return "", fmt.Errorf("unexpected token() result type %T", out[0])
	}
	return addr.Hex(), nil
}

// TokenDecimals calls token.decimals().
func (c *EVMClient) TokenDecimals(ctx context.Context, tokenAddress string) (uint8, error) {
	out, err := c.call(ctx, tokenAddress, parsedERC20ABI, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals() result type %T", out[0])
	}
	return decimals, nil
}

// VaultBalance calls vault.getBalance(account).
func (c *EVMClient) VaultBalance(ctx context.Context, vaultAddress string, account string) (*big.Int, error) {
	holder, err := parseAddress(account)
	if err != nil {
		return nil, err
	}
	return c.callBigInt(ctx, vaultAddress, parsedVaultABI, "getBalance", holder)
}

// TokenBalance calls token.balanceOf(account).
func (c *EVMClient) TokenBalance(ctx context.Context, tokenAddress string, account string) (*big.Int, error) {
	holder, err := parseAddress(account)
	if err != nil {
		return nil, err
	}
	return c.callBigInt(ctx, tokenAddress, parsedERC20ABI, "balanceOf", holder)
}

// Allowance calls token.allowance(owner, spender).
func (c *EVMClient) Allowance(ctx context.Context, tokenAddress string, owner string, spender string) (*big.Int, error) {
	ownerAddr, err := parseAddress(owner)
	if err != nil {
		return nil, err
	}
	spenderAddr, err := parseAddress(spender)
	if err != nil {
		return nil, err
	}
	return c.callBigInt(ctx, tokenAddress, parsedERC20ABI, "allowance", ownerAddr, spenderAddr)
}

// Approve sends token.approve(spender, amount).
func (c *EVMClient) Approve(ctx context.Context, signer port.Signer, tokenAddress string, spender string, amount *big.Int) (port.TxHandle, error) {
	spenderAddr, err := parseAddress(spender)
	if err != nil {
		return nil, err
	}
	return c.transact(ctx, signer, tokenAddress, parsedERC20ABI, "approve", spenderAddr, amount)
}

// Deposit sends vault.deposit(amount).
func (c *EVMClient) Deposit(ctx context.Context, signer port.Signer, vaultAddress string, amount *big.Int) (port.TxHandle, error) {
	return c.transact(ctx, signer, vaultAddress, parsedVaultABI, "deposit", amount)
}

// Withdraw sends vault.withdraw(amount).
func (c *EVMClient) Withdraw(ctx context.Context, signer port.Signer, vaultAddress string, amount *big.Int) (port.TxHandle, error) {
	return c.transact(ctx, signer, vaultAddress, parsedVaultABI, "withdraw", amount)
}

func (c *EVMClient) callBigInt(ctx context.Context, contract string, parsed abi.ABI, method string, args ...interface{}) (*big.Int, error) {
	out, err := c.call(ctx, contract, parsed, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("failed to assert %s result to *big.Int. Got: %T", method, out[0])
	}
	return v, nil
}

// call runs an eth_call against contract and unpacks the outputs.
func (c *EVMClient) call(ctx context.Context, contract string, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	to, err := parseAddress(contract)
	if err != nil {
		return nil, err
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.opts.RPCCallTimeout)
	defer cancel()

	raw, err := c.backend.CallContract(callCtx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("eth_call %s on %s failed: %w", method, contract, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s on %s returned no data (is it a contract?)", method, contract)
	}
	out, err := parsed.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s unpack returned no data", method)
	}
	return out, nil
}

// transact builds, signs and broadcasts a contract call from signer's account.
func (c *EVMClient) transact(ctx context.Context, signer port.Signer, contract string, parsed abi.ABI, method string, args ...interface{}) (port.TxHandle, error) {
	txSigner, ok := signer.(TxSigner)
	if !ok {
		return nil, fmt.Errorf("signer for %s cannot sign EVM transactions", signer.Account())
	}
	from, err := parseAddress(signer.Account())
	if err != nil {
		return nil, err
	}
	to, err := parseAddress(contract)
	if err != nil {
		return nil, err
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s call: %w", method, err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.opts.RPCCallTimeout)
	defer cancel()

	nonce, err := c.backend.PendingNonceAt(callCtx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce for %s: %w", from.Hex(), err)
	}
	msg := ethereum.CallMsg{From: from, To: &to, Data: data}
	var tx *types.Transaction

	head, err := c.backend.HeaderByNumber(callCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest header: %w", err)
	}
	if head.BaseFee != nil {
		tip, err := c.backend.SuggestGasTipCap(callCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to suggest gas tip: %w", err)
		}
		feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
		msg.GasTipCap, msg.GasFeeCap = tip, feeCap
		gas, err := c.estimateGas(callCtx, msg, method)
		if err != nil {
			return nil, err
		}
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   c.chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gas,
			To:        &to,
			Value:     big.NewInt(0),
			Data:      data,
		})
	} else {
		gasPrice, err := c.backend.SuggestGasPrice(callCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to suggest gas price: %w", err)
		}
		msg.GasPrice = gasPrice
		gas, err := c.estimateGas(callCtx, msg, method)
		if err != nil {
			return nil, err
		}
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gas,
			To:       &to,
			Value:    big.NewInt(0),
			Data:     data,
		})
	}

	signed, err := txSigner.SignTx(tx, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s transaction: %w", method, err)
	}
	if err := c.backend.SendTransaction(callCtx, signed); err != nil {
		return nil, fmt.Errorf("failed to send %s transaction: %w", method, err)
	}

	c.logger.Info("Transaction sent",
		zap.String("method", method),
		zap.String("from", from.Hex()),
		zap.String("to", to.Hex()),
		zap.String("tx", signed.Hash().Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas", signed.Gas()),
	)
	return &pendingTx{client: c, hash: signed.Hash(), method: method}, nil
}

func (c *EVMClient) estimateGas(ctx context.Context, msg ethereum.CallMsg, method string) (uint64, error) {
	gas, err := c.backend.EstimateGas(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("failed to estimate gas for %s: %w", method, err)
	}
	return gas + gas*gasHeadroomPercent/100, nil
}

// pendingTx is a broadcast transaction awaiting its receipt.
type pendingTx struct {
	client *EVMClient
	hash   common.Hash
	method string
}

func (t *pendingTx) Hash() string {
	return t.hash.Hex()
}

// Wait polls for the receipt until it arrives or ctx is done.
func (t *pendingTx) Wait(ctx context.Context) error {
	ticker := time.NewTicker(t.client.opts.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := t.receipt(ctx)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("%s transaction %s reverted in block %s", t.method, t.hash.Hex(), receipt.BlockNumber)
			}
			t.client.logger.Info("Transaction confirmed",
				zap.String("method", t.method),
				zap.String("tx", t.hash.Hex()),
				zap.Uint64("gas_used", receipt.GasUsed),
			)
			return nil
		case !errors.Is(err, ethereum.NotFound):
			t.client.logger.Debug("Receipt lookup failed, retrying", zap.String("tx", t.hash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (t *pendingTx) receipt(ctx context.Context) (*types.Receipt, error) {
	if err := t.client.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, t.client.opts.RPCCallTimeout)
	defer cancel()
	return t.client.backend.TransactionReceipt(callCtx, t.hash)
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}
