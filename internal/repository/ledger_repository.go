package repository

import (
	"context"
	"sync"
	"time"

	"github.com/codecraft/billing-service/internal/models"
	"github.com/codecraft/billing-service/pkg/logger"
)

// LedgerRepository интерфейс журнала обработанных платежных сессий.
// Журнал — единственная точка сериализации при конкурентной обработке
// одной и той же сессии (вебхук и клиентская верификация могут гоняться).
type LedgerRepository interface {
	// Find возвращает запись журнала по session id. ErrNotFound если сессия не обрабатывалась.
	Find(ctx context.Context, sessionID string) (*models.ProcessedPayment, error)

	// RecordIfAbsent атомарно создает запись журнала для сессии.
	// При гонке ровно один вызов получает created=true; проигравший получает
	// created=false и уже сохраненную запись.
	RecordIfAbsent(ctx context.Context, rec models.ProcessedPayment) (created bool, stored *models.ProcessedPayment, err error)
}

// InMemoryLedgerRepository реализация журнала в памяти.
type InMemoryLedgerRepository struct {
	records map[string]models.ProcessedPayment
	mutex   sync.RWMutex
	log     *logger.Logger
}

// NewInMemoryLedgerRepository создает новый журнал в памяти.
func NewInMemoryLedgerRepository(log *logger.Logger) *InMemoryLedgerRepository {
	return &InMemoryLedgerRepository{
		records: make(map[string]models.ProcessedPayment),
		log:     log,
	}
}

// Find возвращает запись журнала по session id.
func (r *InMemoryLedgerRepository) Find(ctx context.Context, sessionID string) (*models.ProcessedPayment, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	rec, exists := r.records[sessionID]
	if !exists {
		return nil, ErrNotFound
	}

	return &rec, nil
}

// RecordIfAbsent атомарно создает запись журнала.
func (r *InMemoryLedgerRepository) RecordIfAbsent(ctx context.Context, rec models.ProcessedPayment) (bool, *models.ProcessedPayment, error) {
	if rec.SessionID == "" {
		return false, nil, ErrInvalidData
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if existing, exists := r.records[rec.SessionID]; exists {
		return false, &existing, nil
	}

	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now()
	}

	r.records[rec.SessionID] = rec
	return true, &rec, nil
}
