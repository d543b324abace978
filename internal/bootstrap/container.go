// Package bootstrap builds the object graph shared by vaultd and vaultctl.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"vaultsync/internal/app/port"
	"vaultsync/internal/app/service"
	"vaultsync/internal/domain/entity"
	"vaultsync/internal/infrastructure/configloader"
	clientprovider "vaultsync/internal/infrastructure/network/client"
	networkdefinition "vaultsync/internal/infrastructure/network/definition"
	"vaultsync/internal/infrastructure/notify"
	"vaultsync/internal/infrastructure/pricing"
	"vaultsync/internal/infrastructure/wallet"
	"vaultsync/internal/infrastructure/walletloader"
	"vaultsync/internal/pkg/logger"
	"vaultsync/internal/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// Options adjusts what Build wires for a particular binary.
type Options struct {
	// Events enables the hub that feeds websocket clients.
	Events bool
	// Account selects the active wallet account instead of the first one in the file.
	Account string
	// RuntimeCollectors registers Go and process collectors on the registry.
	RuntimeCollectors bool
}

// Container holds everything a binary needs to serve the vault session.
type Container struct {
	Config   *configloader.Config
	Network  entity.NetworkDefinition
	Networks *networkdefinition.NetworkDefinitionProvider
	Ledgers  *clientprovider.EVMLedgerProvider
	Wallet   *wallet.KeyWallet
	Session  *service.VaultSession
	Hub      *notify.Hub
	// Prices is nil when the price feed is disabled or the network has no DEXScreener chain.
	Prices   port.TokenPriceService
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	unbridge []func()
}

// Build wires the synchronizer for cfg. It dials the configured network, so ctx bounds
// the connection attempt.
func Build(ctx context.Context, cfg *configloader.Config, zapLogger *zap.Logger, opts Options) (*Container, error) {
	appLogger := logger.NewSlogAdapter()

	networks := networkdefinition.NewNetworkDefinitionProvider(logger.With("component", "networks"), cfg.Network.Definitions)
	netDef, ok := networks.GetNetworkDefinitionByName(cfg.Network.Identifier)
	if !ok {
		return nil, fmt.Errorf("unknown network %q", cfg.Network.Identifier)
	}

	ledgers := clientprovider.NewEVMLedgerProvider(clientprovider.Options{
		ConnectionTimeout:   cfg.ConnectionTimeout(),
		RPCCallTimeout:      cfg.RPCCallTimeout(),
		ReceiptPollInterval: cfg.ReceiptPollInterval(),
		RequestsPerSecond:   cfg.Performance.RPCRateLimit,
		Burst:               cfg.Performance.RPCBurstLimit,
	}, zapLogger.Named("EVMLedgerProvider"))
	ledger, err := ledgers.GetLedger(ctx, netDef)
	if err != nil {
		return nil, fmt.Errorf("connect ledger: %w", err)
	}

	entries, err := walletloader.LoadWallets(cfg.Wallet.File, appLogger.Info)
	if err != nil {
		ledgers.Close()
		return nil, fmt.Errorf("load wallets: %w", err)
	}
	kw := wallet.NewKeyWallet(entries, logger.With("component", "wallet"))
	if opts.Account != "" {
		if err := kw.SelectAccount(opts.Account); err != nil {
			ledgers.Close()
			return nil, err
		}
	}

	registry := prometheus.NewRegistry()
	if opts.RuntimeCollectors {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m := metrics.New(registry)

	var hub *notify.Hub
	if opts.Events {
		hub = notify.NewHub(logger.With("component", "events"))
	}
	notifier := notify.NewNotifier(hub, logger.With("component", "notifier"))

	session := service.NewVaultSession(kw, ledger, notifier, appLogger, m, service.VaultSessionOptions{
		VaultAddress:           cfg.Vault.Address,
		SkipApproveWhenAllowed: cfg.Transactions.SkipApproveWhenAllowed,
		AutoRefreshOnRebind:    cfg.Vault.AutoRefreshOnRebind,
		RefreshTimeout:         cfg.RefreshTimeout(),
	})

	c := &Container{
		Config:   cfg,
		Network:  netDef,
		Networks: networks,
		Ledgers:  ledgers,
		Wallet:   kw,
		Session:  session,
		Hub:      hub,
		Registry: registry,
		Metrics:  m,
	}
	if hub != nil {
		c.unbridge = []func(){
			session.Binding().Subscribe(func(s entity.Session) { hub.Publish(notify.EventSession, s) }),
			session.SubscribeSnapshots(func(s entity.BalanceSnapshot) { hub.Publish(notify.EventSnapshot, s) }),
			session.Orchestrator().Subscribe(func(s entity.OperationStatus) { hub.Publish(notify.EventStatus, s) }),
		}
	}

	if cfg.DEXScreener.Enabled && netDef.DEXScreenerChainID != "" {
		dexClient := pricing.NewDEXScreenerClient(
			cfg.DEXScreener.BaseURL,
			time.Duration(cfg.DEXScreener.RequestTimeoutMillis)*time.Millisecond,
			zapLogger.Named("DEXScreenerAPIClient"),
			cfg.DEXScreener.MaxTokensPerRequest,
		)
		c.Prices = pricing.NewTokenPriceService(
			zapLogger.Named("TokenPriceService"),
			dexClient,
			time.Duration(cfg.TokenPriceSvc.CacheTTLMinutes)*time.Minute,
			time.Duration(cfg.TokenPriceSvc.RequestTimeoutMillis)*time.Millisecond,
		)
	} else if cfg.DEXScreener.Enabled {
		logger.Warn("Price feed enabled but network has no DEXScreener chain ID", "network", netDef.Identifier)
	}

	logger.Info("Vault session wired",
		"network", netDef.Identifier,
		"chainId", netDef.ChainID,
		"vault", cfg.Vault.Address,
		"accounts", len(entries),
	)
	return c, nil
}

// Start begins consuming wallet events and, if configured, connects the wallet.
func (c *Container) Start() {
	c.Session.Start()
	if c.Config.Wallet.AutoConnect {
		if err := c.Wallet.Connect(); err != nil {
			logger.Warn("Wallet auto-connect failed", "error", err)
		}
	}
}

// Close stops the session and releases network connections.
func (c *Container) Close() {
	for _, stop := range c.unbridge {
		stop()
	}
	c.Session.Close()
	if c.Hub != nil {
		c.Hub.Close()
	}
	c.Ledgers.Close()
}
