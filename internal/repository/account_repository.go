package repository

import (
	"context"
	"sync"
	"time"

	"github.com/codecraft/billing-service/internal/models"
	"github.com/codecraft/billing-service/pkg/logger"
)

// AccountRepository интерфейс для работы с аккаунтами пользователей.
type AccountRepository interface {
	// GetByUserID возвращает аккаунт по Clerk user id. ErrNotFound если аккаунта нет.
	GetByUserID(ctx context.Context, userID string) (*models.Account, error)

	// Upsert создает аккаунт или обновляет профильные поля существующего.
	// Вызывается из вебхука Clerk (user.created / user.updated), идемпотентен.
	Upsert(ctx context.Context, userID, email, name string, imageURL *string) (*models.Account, error)

	// UpgradeToPro переводит аккаунт на pro-тариф и сохраняет платежные метаданные.
	// ErrNotFound если аккаунта нет. Сам по себе не защищен от повторов:
	// идемпотентность обеспечивает журнал платежей уровнем выше.
	UpgradeToPro(ctx context.Context, userID, stripeCustomerID, stripeSubscriptionID string, amount float64) (*models.Account, error)
}

// InMemoryAccountRepository реализация репозитория аккаунтов в памяти.
type InMemoryAccountRepository struct {
	accounts map[string]models.Account
	mutex    sync.RWMutex
	log      *logger.Logger
}

// NewInMemoryAccountRepository создает новый репозиторий аккаунтов в памяти.
func NewInMemoryAccountRepository(log *logger.Logger) *InMemoryAccountRepository {
	return &InMemoryAccountRepository{
		accounts: make(map[string]models.Account),
		log:      log,
	}
}

// GetByUserID возвращает аккаунт по user id.
func (r *InMemoryAccountRepository) GetByUserID(ctx context.Context, userID string) (*models.Account, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	account, exists := r.accounts[userID]
	if !exists {
		return nil, ErrNotFound
	}

	return &account, nil
}

// Upsert создает или обновляет аккаунт.
func (r *InMemoryAccountRepository) Upsert(ctx context.Context, userID, email, name string, imageURL *string) (*models.Account, error) {
	if userID == "" {
		return nil, ErrInvalidData
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := time.Now()
	account, exists := r.accounts[userID]
	if !exists {
		account = models.Account{
			UserID:    userID,
			CreatedAt: now,
		}
	}

	account.Email = email
	account.Name = name
	account.ImageURL = imageURL
	account.UpdatedAt = now

	r.accounts[userID] = account
	return &account, nil
}

// UpgradeToPro переводит аккаунт на pro-тариф.
func (r *InMemoryAccountRepository) UpgradeToPro(ctx context.Context, userID, stripeCustomerID, stripeSubscriptionID string, amount float64) (*models.Account, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	account, exists := r.accounts[userID]
	if !exists {
		return nil, ErrNotFound
	}

	now := time.Now()
	account.IsPro = true
	if account.ProSince == nil {
		account.ProSince = &now
	}
	if stripeCustomerID != "" {
		account.StripeCustomerID = &stripeCustomerID
	}
	if stripeSubscriptionID != "" {
		account.StripeSubscriptionID = &stripeSubscriptionID
	}
	account.Amount = &amount
	account.LastPayment = &now
	account.UpdatedAt = now

	r.accounts[userID] = account
	return &account, nil
}
