package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/codecraft/billing-service/internal/models"
	"github.com/codecraft/billing-service/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	accountKeyPrefix = "account:"

	// TTL для кэша
	defaultCacheTTL = 15 * time.Minute
)

// RedisCacheRepository реализует кеширование аккаунтов с использованием Redis
type RedisCacheRepository struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisCacheRepository создает новый экземпляр Redis репозитория
func NewRedisCacheRepository(redisAddr, redisPassword string, redisDB int, log *logger.Logger) (*RedisCacheRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})

	// Проверяем соединение с Redis
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Errorw("Failed to connect to Redis", "error", err)
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("Connected to Redis successfully", "addr", redisAddr)
	return &RedisCacheRepository{
		client: client,
		log:    log,
	}, nil
}

// Close закрывает соединение с Redis
func (r *RedisCacheRepository) Close() error {
	return r.client.Close()
}

// CacheAccount кеширует аккаунт в Redis
func (r *RedisCacheRepository) CacheAccount(ctx context.Context, account *models.Account) error {
	key := accountKeyPrefix + account.UserID

	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}

	if err := r.client.Set(ctx, key, data, defaultCacheTTL).Err(); err != nil {
		r.log.Errorw("Failed to cache account in Redis", "error", err, "userID", account.UserID)
		return fmt.Errorf("failed to cache account: %w", err)
	}

	return nil
}

// GetCachedAccount получает аккаунт из кеша. nil без ошибки — промах кеша.
func (r *RedisCacheRepository) GetCachedAccount(ctx context.Context, userID string) (*models.Account, error) {
	key := accountKeyPrefix + userID

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		r.log.Errorw("Error getting account from Redis", "error", err, "userID", userID)
		return nil, fmt.Errorf("failed to get account from cache: %w", err)
	}

	var account models.Account
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached account: %w", err)
	}

	return &account, nil
}

// InvalidateAccount удаляет аккаунт из кеша
func (r *RedisCacheRepository) InvalidateAccount(ctx context.Context, userID string) error {
	key := accountKeyPrefix + userID

	if err := r.client.Del(ctx, key).Err(); err != nil {
		r.log.Errorw("Failed to invalidate account cache", "error", err, "userID", userID)
		return fmt.Errorf("failed to invalidate account cache: %w", err)
	}

	return nil
}
