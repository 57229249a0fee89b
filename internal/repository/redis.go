package repository

import (
	"context"
	"fmt"
	"time"

	"kajabook/internal/config"
	"kajabook/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisTypingRepository shares typing flags between API instances.
// Each role is its own key and Redis expires it.
type RedisTypingRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisTypingRepository(client *redis.Client, ttl time.Duration) *RedisTypingRepository {
	if ttl <= 0 {
		ttl = models.TypingTTL
	}
	return &RedisTypingRepository{client: client, ttl: ttl}
}

func typingKey(threadID, role string) string {
	return fmt.Sprintf("typing:%s:%s", threadID, role)
}

func (r *RedisTypingRepository) SetTyping(ctx context.Context, threadID, role string, typing bool) error {
	if err := validateTyping(threadID, role); err != nil {
		return err
	}
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}

	key := typingKey(threadID, role)
	if !typing {
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("failed to clear typing flag: %w", err)
		}
		return nil
	}
	if err := r.client.Set(ctx, key, "1", r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set typing flag: %w", err)
	}
	return nil
}

func (r *RedisTypingRepository) GetTyping(ctx context.Context, threadID string) (models.TypingState, error) {
	if r.client == nil {
		return models.TypingState{}, fmt.Errorf("redis client is nil")
	}
	vals, err := r.client.MGet(ctx, typingKey(threadID, models.RoleMember), typingKey(threadID, models.RoleSupport)).Result()
	if err != nil {
		return models.TypingState{}, fmt.Errorf("failed to get typing flags: %w", err)
	}
	return models.TypingState{
		Member:  len(vals) > 0 && vals[0] != nil,
		Support: len(vals) > 1 && vals[1] != nil,
	}, nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}
