package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/codecraft/billing-service/internal/models"
	"github.com/codecraft/billing-service/internal/repository"
	"github.com/codecraft/billing-service/pkg/logger"
)

// Сумма, проставляемая при административном апгрейде (в долларах).
const forceUpgradeAmount = 10.0

// AccountService управляет аккаунтами: синхронизация из Clerk,
// чтение состояния подписки, административный апгрейд.
type AccountService struct {
	accounts repository.AccountRepository
	log      *logger.Logger
}

// NewAccountService конструктор сервиса аккаунтов.
func NewAccountService(accounts repository.AccountRepository, log *logger.Logger) *AccountService {
	return &AccountService{
		accounts: accounts,
		log:      log,
	}
}

// SyncUser создает или обновляет аккаунт по событию Clerk (user.created / user.updated).
// Идемпотентен: повторная доставка того же события безвредна.
func (s *AccountService) SyncUser(ctx context.Context, userID, email, name string, imageURL *string) (*models.Account, error) {
	if userID == "" || email == "" {
		return nil, ErrInvalidInput
	}

	account, err := s.accounts.Upsert(ctx, userID, email, name, imageURL)
	if err != nil {
		s.log.Errorw("Failed to sync user account", "error", err, "userID", userID)
		return nil, fmt.Errorf("account: failed to sync user: %w", err)
	}

	s.log.Infow("User account synced", "userID", userID, "email", email)
	return account, nil
}

// GetAccount возвращает аккаунт пользователя. ErrAccountNotFound если его нет.
func (s *AccountService) GetAccount(ctx context.Context, userID string) (*models.Account, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}

	account, err := s.accounts.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, userID)
		}
		return nil, fmt.Errorf("account: failed to get account: %w", err)
	}

	return account, nil
}

// ForceUpgradeToPro — административный апгрейд в обход платежного шлюза.
// Журнал платежей не трогается: привязанной checkout-сессии здесь нет.
func (s *AccountService) ForceUpgradeToPro(ctx context.Context, userID string) (*models.Account, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}

	account, err := s.accounts.UpgradeToPro(ctx, userID, "", "", forceUpgradeAmount)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, userID)
		}
		s.log.Errorw("Failed to force upgrade account", "error", err, "userID", userID)
		return nil, fmt.Errorf("%w: %v", ErrUpgradeFailed, err)
	}

	s.log.Warnw("Account force-upgraded to pro by administrator", "userID", userID)
	return account, nil
}
