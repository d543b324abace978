package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"vaultsync/internal/domain/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenMetadataCacheResolve(t *testing.T) {
	l := newFakeLedger()
	c := NewTokenMetadataCache(l, nopLogger{}, nil)

	md, err := c.Resolve(context.Background(), testVault)
	require.NoError(t, err)
	assert.Equal(t, entity.TokenMetadata{VaultAddress: testVault, TokenAddress: testToken, Decimals: 2}, md)

	again, err := c.Resolve(context.Background(), testVault)
	require.NoError(t, err)
	assert.Equal(t, md, again)
	assert.Equal(t, []string{"vault.token", "token.decimals"}, l.callLog())

	peeked, ok := c.Peek(testVault)
	assert.True(t, ok)
	assert.Equal(t, md, peeked)
}

func TestTokenMetadataCacheCoalescesConcurrentResolutions(t *testing.T) {
	l := newFakeLedger()
	l.tokenGate = make(chan struct{})
	c := NewTokenMetadataCache(l, nopLogger{}, nil)

	const callers = 2
	results := make([]entity.TokenMetadata, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Resolve(context.Background(), testVault)
		}(i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, l.waitStarted(ctx, "vault.token"))
	time.Sleep(50 * time.Millisecond)
	close(l.tokenGate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0], results[i])
	}
	assert.Equal(t, 1, l.count("vault.token"))
	assert.Equal(t, 1, l.count("token.decimals"))
}

func TestTokenMetadataCacheSharesFailure(t *testing.T) {
	l := newFakeLedger()
	l.tokenGate = make(chan struct{})
	l.tokenErr = errBoom
	c := NewTokenMetadataCache(l, nopLogger{}, nil)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := c.Resolve(context.Background(), testVault)
			errs <- err
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, l.waitStarted(ctx, "vault.token"))
	time.Sleep(50 * time.Millisecond)
	close(l.tokenGate)

	for i := 0; i < 2; i++ {
		err := <-errs
		require.ErrorIs(t, err, entity.ErrMetadataUnavailable)
		assert.Contains(t, err.Error(), "boom")
	}
	assert.Equal(t, 1, l.count("vault.token"))
	assert.Zero(t, l.count("token.decimals"))
}

func TestTokenMetadataCacheFailures(t *testing.T) {
	t.Run("decimals read fails", func(t *testing.T) {
		l := newFakeLedger()
		l.decimalsErr = errBoom
		c := NewTokenMetadataCache(l, nopLogger{}, nil)

		_, err := c.Resolve(context.Background(), testVault)
		require.ErrorIs(t, err, entity.ErrMetadataUnavailable)
		_, ok := c.Peek(testVault)
		assert.False(t, ok)
	})

	t.Run("vault reports zero token", func(t *testing.T) {
		l := newFakeLedger()
		l.token = entity.ZeroAddress
		c := NewTokenMetadataCache(l, nopLogger{}, nil)

		_, err := c.Resolve(context.Background(), testVault)
		require.ErrorIs(t, err, entity.ErrMetadataUnavailable)
		assert.Zero(t, l.count("token.decimals"))
	})

	t.Run("failure is not cached", func(t *testing.T) {
		l := newFakeLedger()
		l.tokenErr = errBoom
		c := NewTokenMetadataCache(l, nopLogger{}, nil)

		_, err := c.Resolve(context.Background(), testVault)
		require.Error(t, err)

		l.tokenErr = nil
		md, err := c.Resolve(context.Background(), testVault)
		require.NoError(t, err)
		assert.Equal(t, testToken, md.TokenAddress)
	})
}

func TestTokenMetadataCacheInvalidate(t *testing.T) {
	l := newFakeLedger()
	c := NewTokenMetadataCache(l, nopLogger{}, nil)

	_, err := c.Resolve(context.Background(), testVault)
	require.NoError(t, err)

	c.Invalidate()
	_, ok := c.Peek(testVault)
	assert.False(t, ok)

	_, err = c.Resolve(context.Background(), testVault)
	require.NoError(t, err)
	assert.Equal(t, 2, l.count("vault.token"))
}

func TestTokenMetadataCacheDropsResultAfterInvalidate(t *testing.T) {
	l := newFakeLedger()
	l.tokenGate = make(chan struct{})
	c := NewTokenMetadataCache(l, nopLogger{}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := c.Resolve(context.Background(), testVault)
		done <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, l.waitStarted(ctx, "vault.token"))
	c.Invalidate()
	close(l.tokenGate)

	require.NoError(t, <-done)
	_, ok := c.Peek(testVault)
	assert.False(t, ok)
}

func TestTokenMetadataCacheCallerDeadline(t *testing.T) {
	l := newFakeLedger()
	l.tokenGate = make(chan struct{})
	c := NewTokenMetadataCache(l, nopLogger{}, nil)

	shared := make(chan error, 1)
	go func() {
		_, err := c.Resolve(context.Background(), testVault)
		shared <- err
	}()
	started, cancelStarted := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelStarted()
	require.NoError(t, l.waitStarted(started, "vault.token"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	begin := time.Now()
	_, err := c.Resolve(ctx, testVault)
	require.ErrorIs(t, err, entity.ErrMetadataUnavailable)
	assert.Contains(t, err.Error(), context.DeadlineExceeded.Error())
	assert.Less(t, time.Since(begin), time.Second)

	// The flight keeps going for the caller that is still waiting.
	close(l.tokenGate)
	require.NoError(t, <-shared)
	_, ok := c.Peek(testVault)
	assert.True(t, ok)
	assert.Equal(t, 1, l.count("vault.token"))
}

func TestTokenMetadataCacheFlightRechecksStore(t *testing.T) {
	l := newFakeLedger()
	c := NewTokenMetadataCache(l, nopLogger{}, nil)

	md, err := c.Resolve(context.Background(), testVault)
	require.NoError(t, err)

	// A caller that missed the cache before the first flight stored its entry.
	again, err := c.flight(context.Background(), testVault, strings.ToLower(testVault), c.generation.Load())
	require.NoError(t, err)
	assert.Equal(t, md, again)
	assert.Equal(t, 1, l.count("vault.token"))
	assert.Equal(t, 1, l.count("token.decimals"))
}
