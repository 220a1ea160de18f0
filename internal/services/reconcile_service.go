package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/codecraft/billing-service/internal/kafka"
	"github.com/codecraft/billing-service/internal/metrics"
	"github.com/codecraft/billing-service/internal/models"
	"github.com/codecraft/billing-service/internal/repository"
	"github.com/codecraft/billing-service/internal/stripe"
	"github.com/codecraft/billing-service/pkg/logger"
)

// --- Определения кастомных ошибок сервиса ---
var (
	// ErrInvalidInput неверные входные данные
	ErrInvalidInput = errors.New("invalid input data")

	// ErrSessionLookup транзиентная ошибка получения сессии из Stripe, можно повторять
	ErrSessionLookup = errors.New("session lookup failed")

	// ErrSessionOwnershipMismatch сессия принадлежит другому пользователю, повторять нельзя
	ErrSessionOwnershipMismatch = errors.New("session does not belong to the claimed user")

	// ErrPaymentNotCompleted платеж по сессии не завершен, журнал не пишется
	ErrPaymentNotCompleted = errors.New("payment not completed")

	// ErrAccountNotFound аккаунта нет; сессия фиксируется в журнале со статусом error
	ErrAccountNotFound = errors.New("account not found")

	// ErrUpgradeFailed мутация аккаунта не удалась; сессия зафиксирована со статусом error
	ErrUpgradeFailed = errors.New("failed to upgrade account")
)

// ReconcileResult — наблюдаемый исход реконсиляции для вызывающего адаптера.
type ReconcileResult struct {
	Success          bool                 `json:"success"`
	AlreadyProcessed bool                 `json:"alreadyProcessed"`
	AlreadyPro       bool                 `json:"alreadyPro"`
	Status           models.PaymentStatus `json:"status"`
	Amount           float64              `json:"amount"`
}

// ReconcileService превращает завершенную checkout-сессию в апгрейд аккаунта,
// ровно один раз. Вызывается из двух независимых триггеров (вебхук Stripe и
// клиентская верификация после редиректа); вся координация между ними идет
// через журнал processed_payments, без внутрипроцессных блокировок.
type ReconcileService struct {
	accounts repository.AccountRepository
	ledger   repository.LedgerRepository
	gateway  stripe.Client
	producer kafka.Producer // Может быть nil, если Kafka недоступен
	metrics  metrics.BillingMetrics
	log      *logger.Logger
}

// NewReconcileService конструктор сервиса реконсиляции.
func NewReconcileService(
	accounts repository.AccountRepository,
	ledger repository.LedgerRepository,
	gateway stripe.Client,
	producer kafka.Producer, // Принимаем интерфейс, может быть nil
	m metrics.BillingMetrics,
	log *logger.Logger,
) *ReconcileService {
	if producer == nil {
		log.Warnw("Kafka producer is nil, upgrade events will not be published")
	}
	if m == nil {
		m = metrics.NoOpBillingMetrics{}
	}
	return &ReconcileService{
		accounts: accounts,
		ledger:   ledger,
		gateway:  gateway,
		producer: producer,
		metrics:  m,
		log:      log,
	}
}

// Reconcile применяет checkout-сессию sessionID к аккаунту claimedUserID.
//
// Порядок шагов фиксирован:
//  1. быстрый идемпотентный выход по журналу;
//  2. авторитетное состояние сессии из Stripe;
//  3. проверка принадлежности сессии;
//  4. проверка оплаты;
//  5. short-circuit для уже-pro аккаунта (журнал все равно пишется);
//  6. апгрейд + запись журнала, исход фиксируется и при ошибке.
//
// Окно между шагом 1 и записью журнала закрывается атомарностью RecordIfAbsent:
// проигравший гонку вызов получает created=false и отчитывается alreadyProcessed.
func (s *ReconcileService) Reconcile(ctx context.Context, sessionID, claimedUserID string) (*ReconcileResult, error) {
	if sessionID == "" || claimedUserID == "" {
		return nil, ErrInvalidInput
	}

	// 1. Быстрый путь: сессия уже обработана
	if existing, err := s.ledger.Find(ctx, sessionID); err == nil {
		s.log.Infow("Payment session already processed", "sessionID", sessionID, "status", existing.Status)
		s.metrics.IncReconciliation(metrics.OutcomeAlreadyProcessed)
		return resultFromLedger(existing, false), nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("reconcile: ledger lookup failed: %w", err)
	}

	// 2. Авторитетное состояние сессии из Stripe
	session, err := s.gateway.RetrieveCheckoutSession(ctx, sessionID)
	if err != nil {
		s.log.Errorw("Failed to retrieve checkout session", "error", err, "sessionID", sessionID)
		s.metrics.IncReconciliation(metrics.OutcomeLookupError)
		return nil, fmt.Errorf("%w: %v", ErrSessionLookup, err)
	}

	// 3. Принадлежность: client_reference_id привязан при создании сессии
	if session.ClientReferenceID != claimedUserID {
		s.log.Warnw("Session ownership mismatch",
			"sessionID", sessionID,
			"claimedUserID", claimedUserID,
			"sessionUserID", session.ClientReferenceID,
		)
		s.metrics.IncReconciliation(metrics.OutcomeOwnershipReject)
		return nil, ErrSessionOwnershipMismatch
	}

	// 4. Оплата: только статус paid дает апгрейд. Журнал не пишем —
	// сессия может быть оплачена позже и реконсилирована повторно.
	if session.PaymentStatus != string(stripePaymentStatusPaid) {
		s.log.Warnw("Payment not completed for session", "sessionID", sessionID, "paymentStatus", session.PaymentStatus)
		s.metrics.IncReconciliation(metrics.OutcomeUnpaidReject)
		return nil, ErrPaymentNotCompleted
	}

	amount := float64(session.AmountTotal) / 100

	// 5. Аккаунт должен существовать (создается вебхуком Clerk)
	account, err := s.accounts.GetByUserID(ctx, claimedUserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Фиксируем сессию со статусом error: бесконечные ретраи
			// по несуществующему аккаунту бессмысленны. Пока записи в
			// журнале нет, исход не постоянен — ошибку записи отдаем
			// как транзиентную, чтобы доставка повторилась.
			if lerr := s.recordOutcome(ctx, sessionID, claimedUserID, amount, models.PaymentStatusError); lerr != nil {
				return nil, fmt.Errorf("reconcile: ledger write failed: %w", lerr)
			}
			s.metrics.IncReconciliation(metrics.OutcomeAccountMissing)
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, claimedUserID)
		}
		return nil, fmt.Errorf("reconcile: account lookup failed: %w", err)
	}

	// 5a. Уже pro: апгрейд не повторяем, но сессию занимаем навсегда,
	// чтобы ее нельзя было переиграть после ручного даунгрейда
	if account.IsPro {
		created, stored, lerr := s.ledger.RecordIfAbsent(ctx, models.ProcessedPayment{
			SessionID: sessionID,
			UserID:    claimedUserID,
			Amount:    amount,
			Status:    models.PaymentStatusSuccess,
		})
		if lerr != nil {
			return nil, fmt.Errorf("reconcile: ledger write failed: %w", lerr)
		}
		if !created {
			s.metrics.IncReconciliation(metrics.OutcomeAlreadyProcessed)
			return resultFromLedger(stored, true), nil
		}

		s.log.Infow("Account already pro, session claimed without re-upgrade", "sessionID", sessionID, "userID", claimedUserID)
		s.metrics.IncReconciliation(metrics.OutcomeAlreadyPro)
		return &ReconcileResult{
			Success:    true,
			AlreadyPro: true,
			Status:     models.PaymentStatusSuccess,
			Amount:     amount,
		}, nil
	}

	// 6. Апгрейд аккаунта
	if _, err := s.accounts.UpgradeToPro(ctx, claimedUserID, session.CustomerID, session.SubscriptionID, amount); err != nil {
		// Исход фиксируется и при ошибке: повторная доставка не будет
		// заново дергать мутацию аккаунта. Если запись журнала тоже не
		// удалась (типично при недоступной базе), постоянный отказ
		// отдавать нельзя — возвращаем транзиентную ошибку записи.
		if lerr := s.recordOutcome(ctx, sessionID, claimedUserID, amount, models.PaymentStatusError); lerr != nil {
			return nil, fmt.Errorf("reconcile: ledger write failed: %w", lerr)
		}
		s.metrics.IncReconciliation(metrics.OutcomeUpgradeError)

		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, claimedUserID)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpgradeFailed, err)
	}

	created, stored, err := s.ledger.RecordIfAbsent(ctx, models.ProcessedPayment{
		SessionID: sessionID,
		UserID:    claimedUserID,
		Amount:    amount,
		Status:    models.PaymentStatusSuccess,
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile: ledger write failed: %w", err)
	}
	if !created {
		// Конкурентный вызов успел первым; наш апгрейд был избыточным, но
		// безвредным — аккаунт и так pro
		s.log.Infow("Lost ledger race, session claimed by concurrent caller", "sessionID", sessionID)
		s.metrics.IncReconciliation(metrics.OutcomeAlreadyProcessed)
		return resultFromLedger(stored, false), nil
	}

	s.log.Infow("Account upgraded to pro", "sessionID", sessionID, "userID", claimedUserID, "amount", amount)
	s.metrics.IncReconciliation(metrics.OutcomeUpgraded)
	s.metrics.ObserveUpgradeAmount(amount)
	s.publishUpgradeEvent(ctx, claimedUserID, sessionID, amount)

	return &ReconcileResult{
		Success: true,
		Status:  models.PaymentStatusSuccess,
		Amount:  amount,
	}, nil
}

// recordOutcome фиксирует исход в журнале. Ошибка записи возвращается
// вызывающему: исход считается постоянным только после долговечной записи.
func (s *ReconcileService) recordOutcome(ctx context.Context, sessionID, userID string, amount float64, status models.PaymentStatus) error {
	if _, _, err := s.ledger.RecordIfAbsent(ctx, models.ProcessedPayment{
		SessionID: sessionID,
		UserID:    userID,
		Amount:    amount,
		Status:    status,
	}); err != nil {
		s.log.Errorw("Failed to record reconciliation outcome", "error", err, "sessionID", sessionID, "status", status)
		return err
	}
	return nil
}

// publishUpgradeEvent отправляет событие в Kafka, не блокируя ответ вызывающему.
func (s *ReconcileService) publishUpgradeEvent(ctx context.Context, userID, sessionID string, amount float64) {
	if s.producer == nil {
		return
	}
	go func(ctx context.Context) {
		if err := s.producer.PublishAccountUpgraded(ctx, userID, sessionID, amount); err != nil {
			s.log.Errorw("Failed to publish upgrade event", "error", err, "userID", userID, "sessionID", sessionID)
		}
	}(context.WithoutCancel(ctx))
}

func resultFromLedger(rec *models.ProcessedPayment, alreadyPro bool) *ReconcileResult {
	return &ReconcileResult{
		Success:          rec.Status == models.PaymentStatusSuccess,
		AlreadyProcessed: true,
		AlreadyPro:       alreadyPro,
		Status:           rec.Status,
		Amount:           rec.Amount,
	}
}

const stripePaymentStatusPaid = "paid"
