package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"vaultsync/internal/app/port"
	"vaultsync/internal/domain/entity"
	"vaultsync/internal/pkg/metrics"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// TokenMetadataCache resolves and caches the token behind a vault for the current session.
type TokenMetadataCache struct {
	ledger  port.VaultLedger
	logger  port.Logger
	metrics *metrics.Metrics

	store      *cache.Cache
	group      singleflight.Group
	generation atomic.Uint64
}

// NewTokenMetadataCache creates an empty cache over ledger.
func NewTokenMetadataCache(ledger port.VaultLedger, logger port.Logger, m *metrics.Metrics) *TokenMetadataCache {
	return &TokenMetadataCache{
		ledger:  ledger,
		logger:  logger,
		metrics: m,
		store:   cache.New(cache.NoExpiration, 0),
	}
}

// Resolve returns the token metadata for vaultAddress. Concurrent callers for the same vault
// share one underlying resolution and receive the same result or failure.
func (c *TokenMetadataCache) Resolve(ctx context.Context, vaultAddress string) (entity.TokenMetadata, error) {
	key := strings.ToLower(vaultAddress)
	if cached, ok := c.store.Get(key); ok {
		return cached.(entity.TokenMetadata), nil
	}

	gen := c.generation.Load()
	flightKey := strconv.FormatUint(gen, 10) + ":" + key
	// The flight is detached so one impatient caller does not fail the others sharing it;
	// each caller still stops waiting when its own context ends.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flightKey, func() (interface{}, error) {
		return c.flight(flightCtx, vaultAddress, key, gen)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.logger.Debug("Joined in-flight token metadata resolution", "vault", vaultAddress)
		}
		if res.Err != nil {
			return entity.TokenMetadata{}, res.Err
		}
		return res.Val.(entity.TokenMetadata), nil
	case <-ctx.Done():
		c.logger.Debug("Stopped waiting for token metadata", "vault", vaultAddress, "error", ctx.Err())
		return entity.TokenMetadata{}, fmt.Errorf("%w: %v", entity.ErrMetadataUnavailable, ctx.Err())
	}
}

// flight runs inside the singleflight group. A caller that missed the cache just before an
// earlier flight stored its entry lands here after that flight finished.
func (c *TokenMetadataCache) flight(ctx context.Context, vaultAddress, key string, gen uint64) (entity.TokenMetadata, error) {
	if cached, ok := c.store.Get(key); ok {
		return cached.(entity.TokenMetadata), nil
	}
	return c.resolve(ctx, vaultAddress, key, gen)
}

func (c *TokenMetadataCache) resolve(ctx context.Context, vaultAddress, key string, gen uint64) (entity.TokenMetadata, error) {
	c.logger.Debug("Resolving token metadata", "vault", vaultAddress)

	tokenAddress, err := c.ledger.VaultToken(ctx, vaultAddress)
	if err != nil {
		c.metrics.ObserveResolution("error")
		c.logger.Warn("Failed to read vault token", "vault", vaultAddress, "error", err)
		return entity.TokenMetadata{}, fmt.Errorf("%w: vault.token() on %s: %v", entity.ErrMetadataUnavailable, vaultAddress, err)
	}
	if tokenAddress == "" || strings.EqualFold(tokenAddress, entity.ZeroAddress) {
		c.metrics.ObserveResolution("error")
		return entity.TokenMetadata{}, fmt.Errorf("%w: vault %s reports no token", entity.ErrMetadataUnavailable, vaultAddress)
	}

	decimals, err := c.ledger.TokenDecimals(ctx, tokenAddress)
	if err != nil {
		c.metrics.ObserveResolution("error")
		c.logger.Warn("Failed to read token decimals", "token", tokenAddress, "error", err)
		return entity.TokenMetadata{}, fmt.Errorf("%w: token.decimals() on %s: %v", entity.ErrMetadataUnavailable, tokenAddress, err)
	}

	md := entity.TokenMetadata{VaultAddress: vaultAddress, TokenAddress: tokenAddress, Decimals: decimals}
	c.metrics.ObserveResolution("ok")

	if c.generation.Load() != gen {
		c.logger.Debug("Session changed during metadata resolution, not caching", "vault", vaultAddress)
		return md, nil
	}
	c.store.Set(key, md, cache.NoExpiration)
	c.logger.Info("Token metadata resolved", "vault", vaultAddress, "token", tokenAddress, "decimals", decimals)
	return md, nil
}

// Peek returns the cached metadata without touching the ledger.
func (c *TokenMetadataCache) Peek(vaultAddress string) (entity.TokenMetadata, bool) {
	if cached, ok := c.store.Get(strings.ToLower(vaultAddress)); ok {
		return cached.(entity.TokenMetadata), true
	}
	return entity.TokenMetadata{}, false
}

// Invalidate drops every entry. In-flight resolutions still answer their callers but are not stored.
func (c *TokenMetadataCache) Invalidate() {
	c.generation.Add(1)
	c.store.Flush()
	c.logger.Debug("Token metadata cache invalidated")
}
