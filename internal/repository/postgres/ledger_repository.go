package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codecraft/billing-service/internal/models"
	"github.com/codecraft/billing-service/internal/repository"
	"github.com/codecraft/billing-service/pkg/logger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedgerRepository реализация журнала платежных сессий через PostgreSQL.
// Первичный ключ processed_payments.session_id — тот самый constraint,
// который делает RecordIfAbsent атомарным между конкурентными вызовами.
type PostgresLedgerRepository struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewPostgresLedgerRepository создает новый журнал через PostgreSQL
func NewPostgresLedgerRepository(db *pgxpool.Pool, log *logger.Logger) *PostgresLedgerRepository {
	return &PostgresLedgerRepository{
		db:  db,
		log: log,
	}
}

func scanProcessedPayment(row pgx.Row) (*models.ProcessedPayment, error) {
	var p models.ProcessedPayment
	err := row.Scan(&p.SessionID, &p.UserID, &p.Amount, &p.Status, &p.ProcessedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Find возвращает запись журнала по session id.
func (r *PostgresLedgerRepository) Find(ctx context.Context, sessionID string) (*models.ProcessedPayment, error) {
	query := `
		SELECT session_id, user_id, amount, status, processed_at
		FROM processed_payments
		WHERE session_id = $1`

	rec, err := scanProcessedPayment(r.db.QueryRow(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		r.log.Errorw("Failed to find processed payment in DB", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("repository: failed to find processed payment: %w", err)
	}

	return rec, nil
}

// RecordIfAbsent атомарно создает запись журнала для сессии.
// INSERT ... ON CONFLICT DO NOTHING: при гонке проигравший получает 0 вставленных
// строк и перечитывает уже существующую запись.
func (r *PostgresLedgerRepository) RecordIfAbsent(ctx context.Context, rec models.ProcessedPayment) (bool, *models.ProcessedPayment, error) {
	if rec.SessionID == "" {
		return false, nil, repository.ErrInvalidData
	}
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now()
	}

	query := `
		INSERT INTO processed_payments (session_id, user_id, amount, status, processed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO NOTHING`

	tag, err := r.db.Exec(ctx, query, rec.SessionID, rec.UserID, rec.Amount, rec.Status, rec.ProcessedAt)
	if err != nil {
		r.log.Errorw("Failed to record processed payment in DB", "error", err, "sessionID", rec.SessionID)
		return false, nil, fmt.Errorf("repository: failed to record processed payment: %w", err)
	}

	if tag.RowsAffected() == 1 {
		r.log.Debugw("Processed payment recorded", "sessionID", rec.SessionID, "status", rec.Status)
		return true, &rec, nil
	}

	// Конфликт: сессия уже занята другим вызовом, возвращаем его результат
	stored, err := r.Find(ctx, rec.SessionID)
	if err != nil {
		return false, nil, err
	}

	r.log.Debugw("Processed payment already recorded by concurrent caller", "sessionID", rec.SessionID, "status", stored.Status)
	return false, stored, nil
}
