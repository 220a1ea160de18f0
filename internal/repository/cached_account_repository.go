package repository

import (
	"context"

	"github.com/codecraft/billing-service/internal/models"
	"github.com/codecraft/billing-service/pkg/logger"
)

// CachedAccountRepository реализует AccountRepository с кешированием чтений.
// Кеш — чистая оптимизация: корректность апгрейда держится на журнале платежей
// и базе, а не на состоянии Redis.
type CachedAccountRepository struct {
	repo  AccountRepository
	cache *RedisCacheRepository
	log   *logger.Logger
}

// NewCachedAccountRepository создает новый репозиторий аккаунтов с кешированием
func NewCachedAccountRepository(repo AccountRepository, cache *RedisCacheRepository, log *logger.Logger) AccountRepository {
	return &CachedAccountRepository{
		repo:  repo,
		cache: cache,
		log:   log,
	}
}

// GetByUserID получает аккаунт (сначала из кеша, потом из БД).
func (r *CachedAccountRepository) GetByUserID(ctx context.Context, userID string) (*models.Account, error) {
	cached, err := r.cache.GetCachedAccount(ctx, userID)
	if err != nil {
		r.log.Warnw("Error getting account from cache", "error", err, "userID", userID)
		// Продолжаем выполнение при ошибке кеша
	}
	if cached != nil {
		return cached, nil
	}

	account, err := r.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := r.cache.CacheAccount(ctx, account); err != nil {
		r.log.Warnw("Failed to cache account after fetching", "error", err, "userID", userID)
	}

	return account, nil
}

// Upsert создает или обновляет аккаунт и обновляет кеш.
func (r *CachedAccountRepository) Upsert(ctx context.Context, userID, email, name string, imageURL *string) (*models.Account, error) {
	account, err := r.repo.Upsert(ctx, userID, email, name, imageURL)
	if err != nil {
		return nil, err
	}

	if err := r.cache.CacheAccount(ctx, account); err != nil {
		r.log.Warnw("Failed to cache account after upsert", "error", err, "userID", userID)
	}

	return account, nil
}

// UpgradeToPro переводит аккаунт на pro-тариф и обновляет кеш.
func (r *CachedAccountRepository) UpgradeToPro(ctx context.Context, userID, stripeCustomerID, stripeSubscriptionID string, amount float64) (*models.Account, error) {
	account, err := r.repo.UpgradeToPro(ctx, userID, stripeCustomerID, stripeSubscriptionID, amount)
	if err != nil {
		// Сбрасываем кеш: неизвестно, в каком состоянии запись после ошибки
		if cerr := r.cache.InvalidateAccount(ctx, userID); cerr != nil {
			r.log.Warnw("Failed to invalidate account cache after failed upgrade", "error", cerr, "userID", userID)
		}
		return nil, err
	}

	if err := r.cache.CacheAccount(ctx, account); err != nil {
		r.log.Warnw("Failed to cache account after upgrade", "error", err, "userID", userID)
	}

	return account, nil
}
