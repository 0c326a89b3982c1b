package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tourbook/internal/config"
	"tourbook/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisWishlistRepository keeps one sorted set per user, scored by save time.
type RedisWishlistRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient builds a client from config.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisWishlistRepository(client *redis.Client, ttl time.Duration) *RedisWishlistRepository {
	return &RedisWishlistRepository{
		client: client,
		ttl:    ttl,
	}
}

func wishlistKey(userID string) string {
	return "wishlist:" + userID
}

func (r *RedisWishlistRepository) AddToWishlist(ctx context.Context, userID, activityID string, savedAt time.Time) error {
	if r.client == nil {
		return errors.New("redis client is nil")
	}
	key := wishlistKey(userID)

	pipe := r.client.TxPipeline()
	// NX keeps the original save time when an activity is saved twice.
	pipe.ZAddNX(ctx, key, redis.Z{Score: float64(savedAt.Unix()), Member: activityID})
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add to wishlist: %w", err)
	}
	return nil
}

func (r *RedisWishlistRepository) RemoveFromWishlist(ctx context.Context, userID, activityID string) error {
	if r.client == nil {
		return errors.New("redis client is nil")
	}
	if err := r.client.ZRem(ctx, wishlistKey(userID), activityID).Err(); err != nil {
		return fmt.Errorf("failed to remove from wishlist: %w", err)
	}
	return nil
}

// GetWishlist returns saved activities, most recent first.
func (r *RedisWishlistRepository) GetWishlist(ctx context.Context, userID string) ([]models.WishlistEntry, error) {
	if r.client == nil {
		return nil, errors.New("redis client is nil")
	}
	members, err := r.client.ZRevRangeWithScores(ctx, wishlistKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get wishlist: %w", err)
	}

	entries := make([]models.WishlistEntry, 0, len(members))
	for _, m := range members {
		id, ok := m.Member.(string)
		if !ok {
			continue
		}
		entries = append(entries, models.WishlistEntry{
			ActivityID: id,
			SavedAt:    time.Unix(int64(m.Score), 0),
		})
	}
	return entries, nil
}

func (r *RedisWishlistRepository) ClearWishlist(ctx context.Context, userID string) error {
	if r.client == nil {
		return errors.New("redis client is nil")
	}
	if err := r.client.Del(ctx, wishlistKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to clear wishlist: %w", err)
	}
	return nil
}

func (r *RedisWishlistRepository) CheckRateLimit(ctx context.Context, chatID int64, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, errors.New("redis client is nil")
	}
	key := fmt.Sprintf("rate_limit:%d", chatID)
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	if count == 1 {
		r.client.Expire(ctx, key, window)
	}

	return count <= int64(limit), nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close is nil-safe.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
