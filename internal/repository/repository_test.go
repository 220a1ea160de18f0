package repository

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/codecraft/billing-service/internal/models"
	"github.com/codecraft/billing-service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logger.Logger {
	log := logger.New(logger.ERROR)
	log.SetOutput(io.Discard)
	return log
}

func TestInMemoryLedger_FindUnknownSession(t *testing.T) {
	ledger := NewInMemoryLedgerRepository(testLogger())

	_, err := ledger.Find(context.Background(), "cs_missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInMemoryLedger_RecordIfAbsent(t *testing.T) {
	ledger := NewInMemoryLedgerRepository(testLogger())

	created, stored, err := ledger.RecordIfAbsent(context.Background(), models.ProcessedPayment{
		SessionID: "cs_1",
		UserID:    "user_1",
		Amount:    9.99,
		Status:    models.PaymentStatusSuccess,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, stored.ProcessedAt.IsZero())

	// Повторная запись возвращает уже сохраненную, а не перезаписывает
	created, stored, err = ledger.RecordIfAbsent(context.Background(), models.ProcessedPayment{
		SessionID: "cs_1",
		UserID:    "user_other",
		Amount:    0.01,
		Status:    models.PaymentStatusError,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "user_1", stored.UserID)
	assert.Equal(t, models.PaymentStatusSuccess, stored.Status)
}

func TestInMemoryLedger_RecordIfAbsentRejectsEmptySessionID(t *testing.T) {
	ledger := NewInMemoryLedgerRepository(testLogger())

	_, _, err := ledger.RecordIfAbsent(context.Background(), models.ProcessedPayment{UserID: "user_1"})
	require.ErrorIs(t, err, ErrInvalidData)
}

func TestInMemoryLedger_ConcurrentRecordIfAbsentSingleWinner(t *testing.T) {
	ledger := NewInMemoryLedgerRepository(testLogger())

	const writers = 32
	var winners int64
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, _, err := ledger.RecordIfAbsent(context.Background(), models.ProcessedPayment{
				SessionID: "cs_race",
				UserID:    "user_1",
				Amount:    9.99,
				Status:    models.PaymentStatusSuccess,
			})
			assert.NoError(t, err)
			if created {
				atomic.AddInt64(&winners, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), winners)
}

func TestInMemoryAccounts_UpsertCreatesAndUpdates(t *testing.T) {
	accounts := NewInMemoryAccountRepository(testLogger())
	ctx := context.Background()

	created, err := accounts.Upsert(ctx, "user_1", "a@example.com", "Alice", nil)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", created.Email)
	assert.False(t, created.IsPro)

	img := "https://img.example.com/a.png"
	updated, err := accounts.Upsert(ctx, "user_1", "a2@example.com", "Alice B", &img)
	require.NoError(t, err)
	assert.Equal(t, "a2@example.com", updated.Email)
	require.NotNil(t, updated.ImageURL)
	assert.Equal(t, img, *updated.ImageURL)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
}

func TestInMemoryAccounts_UpsertRejectsEmptyUserID(t *testing.T) {
	accounts := NewInMemoryAccountRepository(testLogger())

	_, err := accounts.Upsert(context.Background(), "", "a@example.com", "Alice", nil)
	require.ErrorIs(t, err, ErrInvalidData)
}

func TestInMemoryAccounts_UpgradeToPro(t *testing.T) {
	accounts := NewInMemoryAccountRepository(testLogger())
	ctx := context.Background()

	_, err := accounts.UpgradeToPro(ctx, "user_ghost", "cus_1", "sub_1", 9.99)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = accounts.Upsert(ctx, "user_1", "a@example.com", "Alice", nil)
	require.NoError(t, err)

	upgraded, err := accounts.UpgradeToPro(ctx, "user_1", "cus_1", "sub_1", 9.99)
	require.NoError(t, err)
	assert.True(t, upgraded.IsPro)
	require.NotNil(t, upgraded.ProSince)
	require.NotNil(t, upgraded.StripeCustomerID)
	assert.Equal(t, "cus_1", *upgraded.StripeCustomerID)

	// Повторный апгрейд не сдвигает pro_since и не затирает id пустыми значениями
	firstProSince := *upgraded.ProSince
	again, err := accounts.UpgradeToPro(ctx, "user_1", "", "", 19.99)
	require.NoError(t, err)
	assert.True(t, again.IsPro)
	assert.Equal(t, firstProSince, *again.ProSince)
	require.NotNil(t, again.StripeCustomerID)
	assert.Equal(t, "cus_1", *again.StripeCustomerID)
	require.NotNil(t, again.Amount)
	assert.InDelta(t, 19.99, *again.Amount, 0.0001)
}
