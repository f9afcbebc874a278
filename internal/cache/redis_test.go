package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/stockledger/internal/domain"
)

type fakeRedis struct {
	values  map[string]string
	ttls    map[string]time.Duration
	deleted []string
	err     error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	value, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.values[key] = value.(string)
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	for _, key := range keys {
		delete(f.values, key)
		f.deleted = append(f.deleted, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func TestStockCache_SetGet(t *testing.T) {
	client := newFakeRedis()
	c := newStockCache(client, WithTTL(time.Minute))
	ctx := context.Background()
	product := domain.StockTarget{ProductID: "p1"}
	variant := domain.StockTarget{ProductID: "p1", VariantID: "v1"}

	_, found, err := c.Get(ctx, product)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, c.Set(ctx, product, 50))
	require.NoError(t, c.Set(ctx, variant, 7))
	require.Equal(t, time.Minute, client.ttls["stock:product:p1"])
	require.Equal(t, "7", client.values["stock:variant:v1"])

	stock, found, err := c.Get(ctx, product)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 50, stock)
}

func TestStockCache_Delete(t *testing.T) {
	client := newFakeRedis()
	c := newStockCache(client, WithKeyPrefix("ledger"))
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, domain.StockTarget{ProductID: "p1"}, 1))
	require.NoError(t, c.Delete(ctx, domain.StockTarget{ProductID: "p1"}, domain.StockTarget{ProductID: "p1", VariantID: "v2"}))
	require.Equal(t, []string{"ledger:product:p1", "ledger:variant:v2"}, client.deleted)
	require.Empty(t, client.values)

	require.NoError(t, c.Delete(ctx))
}

func TestStockCache_MalformedEntryIsMiss(t *testing.T) {
	client := newFakeRedis()
	client.values["stock:product:p1"] = "not-a-number"
	c := newStockCache(client)

	_, found, err := c.Get(context.Background(), domain.StockTarget{ProductID: "p1"})
	require.NoError(t, err)
	require.False(t, found)
	require.Equal(t, []string{"stock:product:p1"}, client.deleted)
}

func TestStockCache_ClientErrors(t *testing.T) {
	client := newFakeRedis()
	client.err = errors.New("connection refused")
	c := newStockCache(client)
	ctx := context.Background()
	target := domain.StockTarget{ProductID: "p1"}

	_, _, err := c.Get(ctx, target)
	require.ErrorContains(t, err, "redis get")
	require.ErrorContains(t, c.Set(ctx, target, 1), "redis set")
	require.ErrorContains(t, c.Delete(ctx, target), "redis del")
}

func TestNewStockCache_DefaultTTL(t *testing.T) {
	c := NewStockCache(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), WithTTL(-time.Second))
	require.Equal(t, defaultTTL, c.ttl)
}
