package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	model "live-auction/internal/models"
	"live-auction/utils"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds connection settings for the external highest-bid store.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// Timeout bounds dial, read and write on every call.
	Timeout time.Duration
}

// RedisStore keeps highest-bid records in Redis so several processes can share them.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore connects to Redis and verifies the connection with a ping.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     20,
		MinIdleConns: 2,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		MaxRetries:   1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	utils.Info("redis highest-bid store connected", map[string]any{
		"addr": cfg.Addr,
		"db":   cfg.DB,
	})
	return NewRedisStoreFromClient(client, cfg.KeyPrefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "auction"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (r *RedisStore) key(auctionID string) string {
	return r.keyPrefix + ":" + auctionID + ":highest_bid"
}

// Get retrieves the record for an auction from Redis.
func (r *RedisStore) Get(ctx context.Context, auctionID string) (model.HighestBidRecord, error) {
	data, err := r.client.Get(ctx, r.key(auctionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.HighestBidRecord{}, ErrCacheMiss
	}
	if err != nil {
		return model.HighestBidRecord{}, fmt.Errorf("redis get %s: %w", auctionID, err)
	}

	var rec model.HighestBidRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return model.HighestBidRecord{}, fmt.Errorf("decode highest bid for %s: %w", auctionID, err)
	}
	return rec, nil
}

// Set stores the record for an auction in Redis. Records do not expire;
// a closed auction's record remains its final result.
func (r *RedisStore) Set(ctx context.Context, auctionID string, record model.HighestBidRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode highest bid for %s: %w", auctionID, err)
	}
	if err := r.client.Set(ctx, r.key(auctionID), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", auctionID, err)
	}
	return nil
}

// Ping checks that Redis is reachable.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

var _ Store = (*RedisStore)(nil)
