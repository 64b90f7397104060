package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when no balance is cached for the user.
var ErrMiss = errors.New("cache miss")

const balanceTTL = 30 * time.Second

type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewBalanceCache(ctx context.Context, redisURL string) (*BalanceCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.MaxRetries = 5
	opts.DialTimeout = 10 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &BalanceCache{client: client, ttl: balanceTTL}, nil
}

func balanceKey(userID int64) string {
	return "mess:balance:" + strconv.FormatInt(userID, 10)
}

func (c *BalanceCache) GetBalance(ctx context.Context, userID int64) (int64, error) {
	credits, err := c.client.Get(ctx, balanceKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, ErrMiss
	}
	if err != nil {
		return 0, err
	}
	return credits, nil
}

func (c *BalanceCache) SetBalance(ctx context.Context, userID int64, credits int64) error {
	return c.client.Set(ctx, balanceKey(userID), credits, c.ttl).Err()
}

func (c *BalanceCache) InvalidateBalance(ctx context.Context, userID int64) error {
	return c.client.Del(ctx, balanceKey(userID)).Err()
}

func (c *BalanceCache) Close() error {
	return c.client.Close()
}
