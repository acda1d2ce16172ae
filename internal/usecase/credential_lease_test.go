package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitos/stock_auto_trader/internal/domain"
	"github.com/vitos/stock_auto_trader/internal/usecase"
)

func TestEnsureValid_SingleFlight(t *testing.T) {
	provider := &MockTokenProvider{TTL: time.Hour, Delay: 50 * time.Millisecond}
	lease := usecase.NewCredentialLease(provider, zap.NewNop())

	const callers = 10
	tokens := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = lease.EnsureValid(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, provider.CallCount(), "concurrent callers must share one refresh")
	for _, token := range tokens {
		assert.Equal(t, tokens[0], token)
	}
}

func TestEnsureValid_ReusesValidToken(t *testing.T) {
	provider := &MockTokenProvider{TTL: time.Hour}
	lease := usecase.NewCredentialLease(provider, zap.NewNop())

	first, err := lease.EnsureValid(context.Background())
	require.NoError(t, err)
	second, err := lease.EnsureValid(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, provider.CallCount())
}

func TestEnsureValid_RefreshesWithinSafetyMargin(t *testing.T) {
	// Tokens live shorter than the 60s margin, so every call refreshes.
	provider := &MockTokenProvider{TTL: 30 * time.Second}
	lease := usecase.NewCredentialLease(provider, zap.NewNop())

	_, err := lease.EnsureValid(context.Background())
	require.NoError(t, err)
	_, err = lease.EnsureValid(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, provider.CallCount())
}

func TestEnsureValid_ProviderFailure(t *testing.T) {
	provider := &MockTokenProvider{Err: errors.New("connection refused")}
	lease := usecase.NewCredentialLease(provider, zap.NewNop())

	_, err := lease.EnsureValid(context.Background())
	require.Error(t, err)

	var authErr *domain.AuthError
	assert.True(t, errors.As(err, &authErr))
}

func TestRefreshLoop_IssuesInitialToken(t *testing.T) {
	provider := &MockTokenProvider{TTL: time.Hour}
	lease := usecase.NewCredentialLease(provider, zap.NewNop())

	lease.Start()
	defer lease.Stop()

	require.Eventually(t, func() bool {
		return provider.CallCount() >= 1
	}, time.Second, 10*time.Millisecond)

	// A warm token means callers never block.
	token, err := lease.EnsureValid(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, 1, provider.CallCount())
}
