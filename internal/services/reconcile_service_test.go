package services

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/codecraft/billing-service/internal/metrics"
	"github.com/codecraft/billing-service/internal/models"
	"github.com/codecraft/billing-service/internal/repository"
	stripeclient "github.com/codecraft/billing-service/internal/stripe"
	"github.com/codecraft/billing-service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"
)

// --- Моки ---

type mockStripeGateway struct {
	mock.Mock
}

func (m *mockStripeGateway) CreateCheckoutSession(ctx context.Context, userID, email, origin string) (*stripeclient.CheckoutLink, error) {
	args := m.Called(ctx, userID, email, origin)
	if link := args.Get(0); link != nil {
		return link.(*stripeclient.CheckoutLink), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStripeGateway) RetrieveCheckoutSession(ctx context.Context, sessionID string) (*stripeclient.CheckoutSession, error) {
	args := m.Called(ctx, sessionID)
	if session := args.Get(0); session != nil {
		return session.(*stripeclient.CheckoutSession), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStripeGateway) VerifyWebhookEvent(payload []byte, signature string) (stripe.Event, error) {
	args := m.Called(payload, signature)
	return args.Get(0).(stripe.Event), args.Error(1)
}

type mockAccountRepository struct {
	mock.Mock
}

func (m *mockAccountRepository) GetByUserID(ctx context.Context, userID string) (*models.Account, error) {
	args := m.Called(ctx, userID)
	if acc := args.Get(0); acc != nil {
		return acc.(*models.Account), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAccountRepository) Upsert(ctx context.Context, userID, email, name string, imageURL *string) (*models.Account, error) {
	args := m.Called(ctx, userID, email, name, imageURL)
	if acc := args.Get(0); acc != nil {
		return acc.(*models.Account), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAccountRepository) UpgradeToPro(ctx context.Context, userID, stripeCustomerID, stripeSubscriptionID string, amount float64) (*models.Account, error) {
	args := m.Called(ctx, userID, stripeCustomerID, stripeSubscriptionID, amount)
	if acc := args.Get(0); acc != nil {
		return acc.(*models.Account), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockLedgerRepository struct {
	mock.Mock
}

func (m *mockLedgerRepository) Find(ctx context.Context, sessionID string) (*models.ProcessedPayment, error) {
	args := m.Called(ctx, sessionID)
	if rec := args.Get(0); rec != nil {
		return rec.(*models.ProcessedPayment), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockLedgerRepository) RecordIfAbsent(ctx context.Context, rec models.ProcessedPayment) (bool, *models.ProcessedPayment, error) {
	args := m.Called(ctx, rec)
	if stored := args.Get(1); stored != nil {
		return args.Bool(0), stored.(*models.ProcessedPayment), args.Error(2)
	}
	return args.Bool(0), nil, args.Error(2)
}

// --- Хелперы ---

func testLogger() *logger.Logger {
	log := logger.New(logger.ERROR)
	log.SetOutput(io.Discard)
	return log
}

func paidSession(sessionID, userID string, amountCents int64) *stripeclient.CheckoutSession {
	return &stripeclient.CheckoutSession{
		ID:                sessionID,
		ClientReferenceID: userID,
		PaymentStatus:     "paid",
		CustomerID:        "cus_test_1",
		AmountTotal:       amountCents,
	}
}

type fixture struct {
	accounts *repository.InMemoryAccountRepository
	ledger   *repository.InMemoryLedgerRepository
	gateway  *mockStripeGateway
	svc      *ReconcileService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := testLogger()
	accounts := repository.NewInMemoryAccountRepository(log)
	ledger := repository.NewInMemoryLedgerRepository(log)
	gateway := new(mockStripeGateway)
	svc := NewReconcileService(accounts, ledger, gateway, nil, metrics.NoOpBillingMetrics{}, log)
	return &fixture{accounts: accounts, ledger: ledger, gateway: gateway, svc: svc}
}

func (f *fixture) seedAccount(t *testing.T, userID string) {
	t.Helper()
	_, err := f.accounts.Upsert(context.Background(), userID, userID+"@example.com", "Test User", nil)
	require.NoError(t, err)
}

// --- Тесты ---

func TestReconcile_PaidSessionUpgradesAccount(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "user_1")
	f.gateway.On("RetrieveCheckoutSession", mock.Anything, "cs_1").
		Return(paidSession("cs_1", "user_1", 999), nil).Once()

	result, err := f.svc.Reconcile(context.Background(), "cs_1", "user_1")

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.AlreadyProcessed)
	assert.False(t, result.AlreadyPro)
	assert.Equal(t, models.PaymentStatusSuccess, result.Status)
	assert.InDelta(t, 9.99, result.Amount, 0.0001)

	account, err := f.accounts.GetByUserID(context.Background(), "user_1")
	require.NoError(t, err)
	assert.True(t, account.IsPro)
	require.NotNil(t, account.Amount)
	assert.InDelta(t, 9.99, *account.Amount, 0.0001)
	require.NotNil(t, account.StripeCustomerID)
	assert.Equal(t, "cus_test_1", *account.StripeCustomerID)

	rec, err := f.ledger.Find(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSuccess, rec.Status)
	assert.Equal(t, "user_1", rec.UserID)

	f.gateway.AssertExpectations(t)
}

func TestReconcile_ReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "user_1")
	f.gateway.On("RetrieveCheckoutSession", mock.Anything, "cs_1").
		Return(paidSession("cs_1", "user_1", 999), nil).Once()

	first, err := f.svc.Reconcile(context.Background(), "cs_1", "user_1")
	require.NoError(t, err)
	require.True(t, first.Success)

	// Повторная доставка не должна ходить в Stripe и повторять апгрейд
	second, err := f.svc.Reconcile(context.Background(), "cs_1", "user_1")
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.True(t, second.AlreadyProcessed)
	assert.InDelta(t, 9.99, second.Amount, 0.0001)

	f.gateway.AssertNumberOfCalls(t, "RetrieveCheckoutSession", 1)
}

func TestReconcile_OwnershipMismatchRejectedWithoutLedgerWrite(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "user_attacker")
	f.gateway.On("RetrieveCheckoutSession", mock.Anything, "cs_1").
		Return(paidSession("cs_1", "user_owner", 999), nil)

	result, err := f.svc.Reconcile(context.Background(), "cs_1", "user_attacker")

	require.ErrorIs(t, err, ErrSessionOwnershipMismatch)
	assert.Nil(t, result)

	// Журнал не тронут: законный владелец сможет реконсилировать позже
	_, err = f.ledger.Find(context.Background(), "cs_1")
	require.ErrorIs(t, err, repository.ErrNotFound)

	account, err := f.accounts.GetByUserID(context.Background(), "user_attacker")
	require.NoError(t, err)
	assert.False(t, account.IsPro)
}

func TestReconcile_UnpaidSessionRejectedWithoutLedgerWrite(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "user_1")
	session := paidSession("cs_1", "user_1", 999)
	session.PaymentStatus = "unpaid"
	f.gateway.On("RetrieveCheckoutSession", mock.Anything, "cs_1").Return(session, nil)

	result, err := f.svc.Reconcile(context.Background(), "cs_1", "user_1")

	require.ErrorIs(t, err, ErrPaymentNotCompleted)
	assert.Nil(t, result)

	// Сессия может быть оплачена позже, поэтому журнал не пишем
	_, err = f.ledger.Find(context.Background(), "cs_1")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestReconcile_MissingAccountRecordsErrorOutcome(t *testing.T) {
	f := newFixture(t)
	f.gateway.On("RetrieveCheckoutSession", mock.Anything, "cs_1").
		Return(paidSession("cs_1", "user_ghost", 999), nil).Once()

	_, err := f.svc.Reconcile(context.Background(), "cs_1", "user_ghost")
	require.ErrorIs(t, err, ErrAccountNotFound)

	rec, lerr := f.ledger.Find(context.Background(), "cs_1")
	require.NoError(t, lerr)
	assert.Equal(t, models.PaymentStatusError, rec.Status)

	// Повтор идет по быстрому пути и возвращает зафиксированный исход
	result, err := f.svc.Reconcile(context.Background(), "cs_1", "user_ghost")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.AlreadyProcessed)
	assert.Equal(t, models.PaymentStatusError, result.Status)

	f.gateway.AssertNumberOfCalls(t, "RetrieveCheckoutSession", 1)
}

func TestReconcile_UpgradeFailureRecordsErrorOutcome(t *testing.T) {
	log := testLogger()
	ledger := repository.NewInMemoryLedgerRepository(log)
	gateway := new(mockStripeGateway)
	accounts := new(mockAccountRepository)

	gateway.On("RetrieveCheckoutSession", mock.Anything, "cs_1").
		Return(paidSession("cs_1", "user_1", 999), nil)
	accounts.On("GetByUserID", mock.Anything, "user_1").
		Return(&models.Account{UserID: "user_1"}, nil)
	accounts.On("UpgradeToPro", mock.Anything, "user_1", "cus_test_1", "", 9.99).
		Return(nil, errors.New("connection reset"))

	svc := NewReconcileService(accounts, ledger, gateway, nil, metrics.NoOpBillingMetrics{}, log)

	_, err := svc.Reconcile(context.Background(), "cs_1", "user_1")
	require.ErrorIs(t, err, ErrUpgradeFailed)

	rec, lerr := ledger.Find(context.Background(), "cs_1")
	require.NoError(t, lerr)
	assert.Equal(t, models.PaymentStatusError, rec.Status)

	// Повторная доставка не дергает мутацию аккаунта заново
	result, err := svc.Reconcile(context.Background(), "cs_1", "user_1")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.True(t, result.AlreadyProcessed)
	accounts.AssertNumberOfCalls(t, "UpgradeToPro", 1)
}

func TestReconcile_UpgradeAndLedgerFailureIsTransient(t *testing.T) {
	log := testLogger()
	gateway := new(mockStripeGateway)
	accounts := new(mockAccountRepository)
	ledger := new(mockLedgerRepository)

	// Коррелированный отказ: и мутация аккаунта, и запись журнала падают
	// (общая база недоступна). Без долговечной записи постоянный отказ
	// отдавать нельзя — вызывающий должен получить транзиентную ошибку.
	gateway.On("RetrieveCheckoutSession", mock.Anything, "cs_1").
		Return(paidSession("cs_1", "user_1", 999), nil)
	accounts.On("GetByUserID", mock.Anything, "user_1").
		Return(&models.Account{UserID: "user_1"}, nil)
	accounts.On("UpgradeToPro", mock.Anything, "user_1", "cus_test_1", "", 9.99).
		Return(nil, errors.New("connection refused"))
	ledger.On("Find", mock.Anything, "cs_1").Return(nil, repository.ErrNotFound)
	ledger.On("RecordIfAbsent", mock.Anything, mock.Anything).
		Return(false, nil, errors.New("connection refused"))

	svc := NewReconcileService(accounts, ledger, gateway, nil, metrics.NoOpBillingMetrics{}, log)

	_, err := svc.Reconcile(context.Background(), "cs_1", "user_1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUpgradeFailed)
	assert.NotErrorIs(t, err, ErrAccountNotFound)
}

func TestReconcile_MissingAccountWithLedgerFailureIsTransient(t *testing.T) {
	log := testLogger()
	gateway := new(mockStripeGateway)
	ledger := new(mockLedgerRepository)
	accounts := repository.NewInMemoryAccountRepository(log)

	gateway.On("RetrieveCheckoutSession", mock.Anything, "cs_1").
		Return(paidSession("cs_1", "user_ghost", 999), nil)
	ledger.On("Find", mock.Anything, "cs_1").Return(nil, repository.ErrNotFound)
	ledger.On("RecordIfAbsent", mock.Anything, mock.Anything).
		Return(false, nil, errors.New("connection refused"))

	svc := NewReconcileService(accounts, ledger, gateway, nil, metrics.NoOpBillingMetrics{}, log)

	_, err := svc.Reconcile(context.Background(), "cs_1", "user_ghost")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAccountNotFound)
}

func TestReconcile_AlreadyProClaimsSession(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "user_1")
	_, err := f.accounts.UpgradeToPro(context.Background(), "user_1", "cus_old", "", 9.99)
	require.NoError(t, err)

	f.gateway.On("RetrieveCheckoutSession", mock.Anything, "cs_2").
		Return(paidSession("cs_2", "user_1", 999), nil).Once()

	result, err := f.svc.Reconcile(context.Background(), "cs_2", "user_1")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.AlreadyPro)
	assert.False(t, result.AlreadyProcessed)

	// Сессия занята навсегда: после ручного даунгрейда ее нельзя переиграть
	rec, err := f.ledger.Find(context.Background(), "cs_2")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSuccess, rec.Status)
}

func TestReconcile_SessionLookupFailureIsTransient(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "user_1")
	f.gateway.On("RetrieveCheckoutSession", mock.Anything, "cs_1").
		Return(nil, errors.New("stripe: 503"))

	_, err := f.svc.Reconcile(context.Background(), "cs_1", "user_1")
	require.ErrorIs(t, err, ErrSessionLookup)

	// Транзиентная ошибка не фиксируется: ретрай должен иметь шанс
	_, err = f.ledger.Find(context.Background(), "cs_1")
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestReconcile_InvalidInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Reconcile(context.Background(), "", "user_1")
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Reconcile(context.Background(), "cs_1", "")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestReconcile_ConcurrentCallersUpgradeOnce(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "user_1")
	f.gateway.On("RetrieveCheckoutSession", mock.Anything, "cs_race").
		Return(paidSession("cs_race", "user_1", 1999), nil)

	const callers = 16
	results := make([]*ReconcileResult, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Reconcile(context.Background(), "cs_race", "user_1")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i], "caller %d", i)
		assert.True(t, results[i].Success, "caller %d", i)
	}

	account, err := f.accounts.GetByUserID(context.Background(), "user_1")
	require.NoError(t, err)
	assert.True(t, account.IsPro)

	rec, err := f.ledger.Find(context.Background(), "cs_race")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSuccess, rec.Status)
	assert.InDelta(t, 19.99, rec.Amount, 0.0001)
}
