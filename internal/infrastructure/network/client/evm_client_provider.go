package client

import (
	"context"
	"fmt"
	"sync"

	"vaultsync/internal/app/port"
	"vaultsync/internal/domain/entity"

	"go.uber.org/zap"
)

// dialFunc connects a client for a network; replaced in tests.
type dialFunc func(ctx context.Context, netDef entity.NetworkDefinition, opts Options, logger *zap.Logger) (*EVMClient, error)

// EVMLedgerProvider implements port.LedgerProvider over EVMClient.
type EVMLedgerProvider struct {
	clients map[string]*EVMClient
	mu      sync.Mutex
	opts    Options
	logger  *zap.Logger
	dial    dialFunc
}

// NewEVMLedgerProvider creates a provider that connects lazily and caches one client per network.
func NewEVMLedgerProvider(opts Options, logger *zap.Logger) *EVMLedgerProvider {
	return &EVMLedgerProvider{
		clients: make(map[string]*EVMClient),
		opts:    opts,
		logger:  logger.Named("ledger_provider"),
		dial:    NewEVMClient,
	}
}

var _ port.LedgerProvider = (*EVMLedgerProvider)(nil)

// GetLedger returns the cached client for netDef, connecting on first use.
func (p *EVMLedgerProvider) GetLedger(ctx context.Context, netDef entity.NetworkDefinition) (port.VaultLedger, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if client, exists := p.clients[netDef.Identifier]; exists {
		p.logger.Debug("Returning cached EVM client", zap.String("network", netDef.Identifier))
		return client, nil
	}

	p.logger.Info("Creating new EVM client", zap.String("network", netDef.Identifier), zap.String("rpc_primary", netDef.PrimaryRPCURL))
	newClient, err := p.dial(ctx, netDef, p.opts, p.logger)
	if err != nil {
		p.logger.Error("Failed to create EVM client", zap.String("network", netDef.Identifier), zap.Error(err))
		return nil, fmt.Errorf("failed to create EVM client for %s: %w", netDef.Name, err)
	}

	p.clients[netDef.Identifier] = newClient
	return newClient, nil
}

// Close disconnects every cached client.
func (p *EVMLedgerProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, c := range p.clients {
		c.Close()
		delete(p.clients, id)
	}
}
