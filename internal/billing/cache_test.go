package billing

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *SummaryCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSummaryCache(client, time.Minute)
}

func TestSummaryCacheFetchPopulatesOnce(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t)

	calls := 0
	loader := func(ctx context.Context) (*CustomerSummary, error) {
		calls++
		return &CustomerSummary{CustomerID: 1, TotalDue: 700, PaidTotal: 350}, nil
	}

	var first CustomerSummary
	require.NoError(t, cache.Fetch(ctx, 1, &first, loader))
	require.Equal(t, int64(700), first.TotalDue)
	require.Equal(t, 1, calls)

	var second CustomerSummary
	require.NoError(t, cache.Fetch(ctx, 1, &second, loader))
	require.Equal(t, first, second)
	require.Equal(t, 1, calls)
}

func TestSummaryCacheBumpInvalidates(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t)

	due := int64(700)
	loader := func(ctx context.Context) (*CustomerSummary, error) {
		return &CustomerSummary{CustomerID: 1, TotalDue: due}, nil
	}

	var summary CustomerSummary
	require.NoError(t, cache.Fetch(ctx, 1, &summary, loader))
	require.Equal(t, int64(700), summary.TotalDue)

	due = 350
	require.NoError(t, cache.Bump(ctx, 1))
	require.NoError(t, cache.Fetch(ctx, 1, &summary, loader))
	require.Equal(t, int64(350), summary.TotalDue)
}

func TestSummaryCacheVersionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t)

	v1, err := cache.Version(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), v1)

	require.NoError(t, cache.Bump(ctx, 1))
	v1, err = cache.Version(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(2), v1)

	v2, err := cache.Version(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, int64(1), v2)
}

func TestSummaryCacheNilClientFallsThrough(t *testing.T) {
	ctx := context.Background()
	var cache *SummaryCache

	var summary CustomerSummary
	err := cache.Fetch(ctx, 1, &summary, func(ctx context.Context) (*CustomerSummary, error) {
		return &CustomerSummary{CustomerID: 1, TotalDue: 42}, nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(42), summary.TotalDue)
	require.NoError(t, cache.Bump(ctx, 1))
}
