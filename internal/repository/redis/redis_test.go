package redis

import (
	"context"
	"testing"
	"time"

	"github.com/DRSN-tech/product-matcher/internal/cfg"
	"github.com/DRSN-tech/product-matcher/internal/domain"
	"github.com/DRSN-tech/product-matcher/internal/repository/redis/converter"
	"github.com/DRSN-tech/product-matcher/pkg/clients"
	"github.com/DRSN-tech/product-matcher/pkg/logger"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *clients.RedisClient, *cfg.RedisCfg) {
	t.Helper()

	mr := miniredis.RunT(t)
	c := &cfg.RedisCfg{Addr: mr.Addr(), MatchTTL: time.Minute}
	client := clients.NewRedisClient(c)
	t.Cleanup(func() { _ = client.Close() })

	return mr, client, c
}

func TestMatchCacheRepo_RoundTripAndTTL(t *testing.T) {
	mr, client, c := newTestClient(t)
	repo := NewMatchCacheRepo(client, converter.MatchResultConverterImpl{}, c, logger.NewNop())
	ctx := context.Background()

	miss, err := repo.Get(ctx, "abc:1:5")
	require.NoError(t, err)
	assert.Nil(t, miss)

	res := &domain.MatchResult{
		Candidates: []domain.Candidate{
			{ProductID: "gid://shopify/Product/2", URL: "https://shop.example/products/two", Score: 0.93},
			{ProductID: "gid://shopify/Product/1", URL: "https://shop.example/products/one", Score: 0.41},
		},
		ModelVersion: "local-colorgrid-16",
		IndexVersion: 1,
	}
	require.NoError(t, repo.Set(ctx, "abc:1:5", res))

	got, err := repo.Get(ctx, "abc:1:5")
	require.NoError(t, err)
	assert.Equal(t, res, got)

	mr.FastForward(2 * time.Minute)

	expired, err := repo.Get(ctx, "abc:1:5")
	require.NoError(t, err)
	assert.Nil(t, expired)
}

func TestMatchCacheRepo_CorruptEntryIsMiss(t *testing.T) {
	mr, client, c := newTestClient(t)
	repo := NewMatchCacheRepo(client, converter.MatchResultConverterImpl{}, c, logger.NewNop())

	require.NoError(t, mr.Set(matchKeyPrefix+"bad", "{not json"))

	got, err := repo.Get(context.Background(), "bad")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, mr.Exists(matchKeyPrefix+"bad"))
}

func TestLockRepo_Exclusive(t *testing.T) {
	_, client, _ := newTestClient(t)
	locks := NewLockRepo(client)
	ctx := context.Background()

	token, ok, err := locks.TryLock(ctx, "attachment:9001", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, err = locks.TryLock(ctx, "attachment:9001", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, locks.Unlock(ctx, "attachment:9001", token))

	_, ok, err = locks.TryLock(ctx, "attachment:9001", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockRepo_ForeignTokenDoesNotUnlock(t *testing.T) {
	mr, client, _ := newTestClient(t)
	locks := NewLockRepo(client)
	ctx := context.Background()

	_, ok, err := locks.TryLock(ctx, "attachment:1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, locks.Unlock(ctx, "attachment:1", "someone-else"))
	assert.True(t, mr.Exists(lockKeyPrefix+"attachment:1"))
}

func TestLockRepo_ExpiresAfterTTL(t *testing.T) {
	mr, client, _ := newTestClient(t)
	locks := NewLockRepo(client)
	ctx := context.Background()

	_, ok, err := locks.TryLock(ctx, "attachment:2", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = locks.TryLock(ctx, "attachment:2", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}
