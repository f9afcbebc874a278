package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockledger/internal/domain"
)

const (
	defaultTTL       = 30 * time.Second
	defaultKeyPrefix = "stock"
	pingTimeout      = 5 * time.Second
)

// commander — подмножество redis.Cmdable, которое использует кэш.
type commander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Option настраивает StockCache.
type Option func(*StockCache)

// WithTTL задаёт время жизни записи.
func WithTTL(ttl time.Duration) Option {
	return func(c *StockCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithKeyPrefix задаёт префикс ключей.
func WithKeyPrefix(prefix string) Option {
	return func(c *StockCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// StockCache хранит текущие остатки в Redis. Записи инвалидируются после
// каждой зафиксированной мутации и живут не дольше TTL.
type StockCache struct {
	client commander
	ttl    time.Duration
	prefix string
	logger *log.Entry
}

// NewRedisClient подключается к Redis и проверяет соединение.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// NewStockCache создаёт кэш остатков поверх клиента Redis.
func NewStockCache(client redis.Cmdable, opts ...Option) *StockCache {
	return newStockCache(client, opts...)
}

func newStockCache(client commander, opts ...Option) *StockCache {
	c := &StockCache{
		client: client,
		ttl:    defaultTTL,
		prefix: defaultKeyPrefix,
		logger: log.WithField("component", "stock-cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get возвращает остаток из кэша; found=false при промахе.
func (c *StockCache) Get(ctx context.Context, target domain.StockTarget) (int, bool, error) {
	raw, err := c.client.Get(ctx, c.key(target)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get: %w", err)
	}

	stock, err := strconv.Atoi(raw)
	if err != nil {
		c.logger.WithField("key", c.key(target)).Warn("dropping malformed cache entry")
		_ = c.client.Del(ctx, c.key(target)).Err()
		return 0, false, nil
	}
	return stock, true, nil
}

// Set сохраняет остаток с TTL.
func (c *StockCache) Set(ctx context.Context, target domain.StockTarget, stock int) error {
	if err := c.client.Set(ctx, c.key(target), strconv.Itoa(stock), c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete удаляет записи целей.
func (c *StockCache) Delete(ctx context.Context, targets ...domain.StockTarget) error {
	if len(targets) == 0 {
		return nil
	}
	keys := make([]string, 0, len(targets))
	for _, target := range targets {
		keys = append(keys, c.key(target))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (c *StockCache) key(target domain.StockTarget) string {
	if target.HasVariant() {
		return c.prefix + ":variant:" + target.VariantID
	}
	return c.prefix + ":product:" + target.ProductID
}

var _ commander = (redis.Cmdable)(nil)
