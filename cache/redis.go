// Package cache keeps catalog products in redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nerkean/gnizde.4ko/config"
	"github.com/nerkean/gnizde.4ko/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const ProductTTL = 5 * time.Minute

func InitRedis(cfg config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established")
	return rdb, nil
}

// ProductCache is safe to use with a nil client, in which case every lookup
// misses and writes are dropped.
type ProductCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewProductCache(rdb *redis.Client, logger *zap.Logger) *ProductCache {
	return &ProductCache{rdb: rdb, ttl: ProductTTL, logger: logger}
}

func productKey(id int64) string {
	return "product:" + strconv.FormatInt(id, 10)
}

// Get returns the cached product, or nil on a miss or any redis error.
func (c *ProductCache) Get(ctx context.Context, id int64) *models.Product {
	if c == nil || c.rdb == nil {
		return nil
	}
	data, err := c.rdb.Get(ctx, productKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Redis get failed", zap.Int64("product_id", id), zap.Error(err))
		}
		return nil
	}
	var p models.Product
	if err := json.Unmarshal(data, &p); err != nil {
		c.logger.Warn("Dropping undecodable cached product", zap.Int64("product_id", id), zap.Error(err))
		c.Invalidate(ctx, id)
		return nil
	}
	return &p
}

func (c *ProductCache) Set(ctx context.Context, p *models.Product) {
	if c == nil || c.rdb == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, productKey(p.ID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("Redis set failed", zap.Int64("product_id", p.ID), zap.Error(err))
	}
}

func (c *ProductCache) Invalidate(ctx context.Context, id int64) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, productKey(id)).Err(); err != nil {
		c.logger.Warn("Redis delete failed", zap.Int64("product_id", id), zap.Error(err))
	}
}
