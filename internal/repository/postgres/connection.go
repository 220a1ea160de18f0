package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/codecraft/billing-service/pkg/logger"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Пул по умолчанию: minConns держит соединения прогретыми между
// всплесками вебхуков, maxConns ограничивает нагрузку на базу.
const (
	defaultMaxConns = int32(10)
	defaultMinConns = int32(2)
)

// poolConfig собирает конфигурацию пула из строки подключения и лимитов.
// Нулевые или отрицательные лимиты заменяются значениями по умолчанию.
func poolConfig(connString string, maxConns, minConns int32) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}
	if minConns <= 0 {
		minConns = defaultMinConns
	}
	if minConns > maxConns {
		minConns = maxConns
	}

	cfg.MaxConns = maxConns
	cfg.MinConns = minConns
	cfg.MaxConnLifetime = 1 * time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	return cfg, nil
}

// NewConnection создает пул подключений к PostgreSQL и проверяет его ping-ом.
func NewConnection(ctx context.Context, connString string, maxConns, minConns int32, log *logger.Logger) (*pgxpool.Pool, error) {
	log.Info("Connecting to PostgreSQL")

	cfg, err := poolConfig(connString, maxConns, minConns)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Infow("Successfully connected to PostgreSQL", "max_conns", cfg.MaxConns, "min_conns", cfg.MinConns)
	return pool, nil
}
