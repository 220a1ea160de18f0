package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/codecraft/billing-service/internal/models"
	"github.com/codecraft/billing-service/internal/repository"
	"github.com/codecraft/billing-service/pkg/logger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const accountColumns = `user_id, email, name, image_url, is_pro, pro_since,
	       stripe_customer_id, stripe_subscription_id, amount, last_payment,
	       created_at, updated_at`

// PostgresAccountRepository реализация репозитория аккаунтов через PostgreSQL
type PostgresAccountRepository struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewPostgresAccountRepository создает новый репозиторий аккаунтов через PostgreSQL
func NewPostgresAccountRepository(db *pgxpool.Pool, log *logger.Logger) *PostgresAccountRepository {
	return &PostgresAccountRepository{
		db:  db,
		log: log,
	}
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(
		&a.UserID,
		&a.Email,
		&a.Name,
		&a.ImageURL,
		&a.IsPro,
		&a.ProSince,
		&a.StripeCustomerID,
		&a.StripeSubscriptionID,
		&a.Amount,
		&a.LastPayment,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetByUserID возвращает аккаунт по Clerk user id.
func (r *PostgresAccountRepository) GetByUserID(ctx context.Context, userID string) (*models.Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE user_id = $1`, accountColumns)

	account, err := scanAccount(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		r.log.Errorw("Failed to get account from DB", "error", err, "userID", userID)
		return nil, fmt.Errorf("repository: failed to get account: %w", err)
	}

	return account, nil
}

// Upsert создает аккаунт или обновляет профильные поля существующего.
// Платежные поля (is_pro и далее) конфликтная ветка не трогает.
func (r *PostgresAccountRepository) Upsert(ctx context.Context, userID, email, name string, imageURL *string) (*models.Account, error) {
	if userID == "" {
		return nil, repository.ErrInvalidData
	}

	query := fmt.Sprintf(`
		INSERT INTO accounts (user_id, email, name, image_url, is_pro, created_at, updated_at)
		VALUES ($1, $2, $3, $4, false, now(), now())
		ON CONFLICT (user_id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			image_url = EXCLUDED.image_url,
			updated_at = now()
		RETURNING %s`, accountColumns)

	account, err := scanAccount(r.db.QueryRow(ctx, query, userID, email, name, imageURL))
	if err != nil {
		r.log.Errorw("Failed to upsert account in DB", "error", err, "userID", userID)
		return nil, fmt.Errorf("repository: failed to upsert account: %w", err)
	}

	r.log.Debugw("Account upserted", "userID", userID)
	return account, nil
}

// UpgradeToPro переводит аккаунт на pro-тариф и сохраняет платежные метаданные.
func (r *PostgresAccountRepository) UpgradeToPro(ctx context.Context, userID, stripeCustomerID, stripeSubscriptionID string, amount float64) (*models.Account, error) {
	query := fmt.Sprintf(`
		UPDATE accounts SET
			is_pro = true,
			pro_since = COALESCE(pro_since, now()),
			stripe_customer_id = NULLIF($2, ''),
			stripe_subscription_id = NULLIF($3, ''),
			amount = $4,
			last_payment = now(),
			updated_at = now()
		WHERE user_id = $1
		RETURNING %s`, accountColumns)

	account, err := scanAccount(r.db.QueryRow(ctx, query, userID, stripeCustomerID, stripeSubscriptionID, amount))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.log.Warnw("Account not found for upgrade", "userID", userID)
			return nil, repository.ErrNotFound
		}
		r.log.Errorw("Failed to upgrade account in DB", "error", err, "userID", userID)
		return nil, fmt.Errorf("repository: failed to upgrade account: %w", err)
	}

	r.log.Infow("Account upgraded to pro", "userID", userID, "amount", amount)
	return account, nil
}
