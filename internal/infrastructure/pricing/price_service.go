package pricing

import (
	"context"
	"strconv"
	"strings"
	"time"

	"vaultsync/internal/app/port"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var stablecoinSymbols = map[string]struct{}{
	"USDC": {},
	"USDT": {},
	"DAI":  {},
}

// missingPriceTTL keeps "no price" answers from hammering the API.
const missingPriceTTL = time.Minute

type tokenPriceServiceImpl struct {
	logger  *zap.Logger
	client  DEXScreenerClient
	prices  *cache.Cache
	group   singleflight.Group
	timeout time.Duration
}

// NewTokenPriceService creates a caching price lookup over client.
func NewTokenPriceService(logger *zap.Logger, client DEXScreenerClient, cacheTTL, requestTimeout time.Duration) port.TokenPriceService {
	return &tokenPriceServiceImpl{
		logger:  logger.Named("TokenPriceService"),
		client:  client,
		prices:  cache.New(cacheTTL, 10*time.Minute),
		timeout: requestTimeout,
	}
}

// GetPriceUSD returns the USD price of tokenAddress, or false when none is known.
func (s *tokenPriceServiceImpl) GetPriceUSD(ctx context.Context, dexScreenerChainID string, tokenAddress string) (float64, bool) {
	if dexScreenerChainID == "" || tokenAddress == "" {
		return 0, false
	}
	if price, found := s.cached(dexScreenerChainID, tokenAddress); found {
		return price, price > 0
	}

	cacheKey := priceCacheKey(dexScreenerChainID, tokenAddress)
	v, _, _ := s.group.Do(cacheKey, func() (interface{}, error) {
		return s.fetch(ctx, dexScreenerChainID, tokenAddress, cacheKey), nil
	})
	price := v.(float64)
	return price, price > 0
}

// CachedPriceUSD returns a cached price without calling DEXScreener.
func (s *tokenPriceServiceImpl) CachedPriceUSD(dexScreenerChainID string, tokenAddress string) (float64, bool) {
	price, found := s.cached(dexScreenerChainID, tokenAddress)
	return price, found && price > 0
}

func (s *tokenPriceServiceImpl) cached(chainID, tokenAddress string) (float64, bool) {
	if chainID == "" || tokenAddress == "" {
		return 0, false
	}
	v, found := s.prices.Get(priceCacheKey(chainID, tokenAddress))
	if !found {
		return 0, false
	}
	return v.(float64), true
}

func priceCacheKey(chainID, tokenAddress string) string {
	return chainID + "_" + strings.ToLower(tokenAddress)
}

func (s *tokenPriceServiceImpl) fetch(ctx context.Context, chainID, tokenAddress, cacheKey string) float64 {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	pairs, err := s.client.GetTokenPairsByAddresses(ctx, chainID, []string{tokenAddress})
	if err != nil {
		// Errors are not cached; the next caller retries.
		s.logger.Warn("Failed to get token pairs from DEXScreener", zap.String("tokenAddress", tokenAddress), zap.Error(err))
		return 0
	}

	priceStr := s.selectBestPriceFromPairs(pairs, tokenAddress)
	price, err := strconv.ParseFloat(priceStr, 64)
	if priceStr == "" || err != nil || price <= 0 {
		s.logger.Debug("No usable price for token", zap.String("dexChainID", chainID), zap.String("tokenAddress", tokenAddress))
		s.prices.Set(cacheKey, float64(0), missingPriceTTL)
		return 0
	}

	s.prices.Set(cacheKey, price, cache.DefaultExpiration)
	s.logger.Debug("Cached price for token", zap.String("cacheKey", cacheKey), zap.Float64("price", price))
	return price
}

// selectBestPriceFromPairs prefers the most liquid stablecoin-quoted pair, then the most liquid pair overall.
func (s *tokenPriceServiceImpl) selectBestPriceFromPairs(pairs []PairData, baseTokenAddress string) string {
	var bestOverall, bestStable *PairData
	for i := range pairs {
		pair := &pairs[i]
		if !strings.EqualFold(pair.BaseToken.Address, baseTokenAddress) {
			continue
		}
		if pair.PriceUsd == "" || pair.PriceUsd == "0" {
			continue
		}
		if _, stable := stablecoinSymbols[strings.ToUpper(pair.QuoteToken.Symbol)]; stable {
			if bestStable == nil || pair.liquidityUSD() > bestStable.liquidityUSD() {
				bestStable = pair
			}
		}
		if bestOverall == nil || pair.liquidityUSD() > bestOverall.liquidityUSD() {
			bestOverall = pair
		}
	}

	switch {
	case bestStable != nil:
		s.logger.Debug("Selected best price from stablecoin pair",
			zap.String("pairAddress", bestStable.PairAddress),
			zap.String("quoteToken", bestStable.QuoteToken.Symbol))
		return bestStable.PriceUsd
	case bestOverall != nil:
		return bestOverall.PriceUsd
	default:
		return ""
	}
}
