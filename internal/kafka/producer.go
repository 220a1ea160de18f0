package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/codecraft/billing-service/pkg/logger"
	"github.com/google/uuid"

	"github.com/segmentio/kafka-go"
)

const (
	// TopicAccountUpgraded — топик событий апгрейда аккаунтов
	TopicAccountUpgraded = "account_upgraded"
)

// AccountUpgradedEvent — событие успешного апгрейда аккаунта на pro.
type AccountUpgradedEvent struct {
	EventID    string    `json:"eventId"`
	UserID     string    `json:"userId"`
	SessionID  string    `json:"sessionId"`
	Amount     float64   `json:"amount"`
	UpgradedAt time.Time `json:"upgradedAt"`
}

// Producer определяет интерфейс для публикации событий биллинга в Kafka.
type Producer interface {
	// PublishAccountUpgraded отправляет событие апгрейда.
	// Ключ сообщения — UserID: события одного пользователя попадают в одну партицию.
	PublishAccountUpgraded(ctx context.Context, userID, sessionID string, amount float64) error
	// Close закрывает соединение продюсера Kafka.
	Close() error
}

// kafkaProducer реализует интерфейс Producer, используя segmentio/kafka-go.
type kafkaProducer struct {
	writer *kafka.Writer
	log    *logger.Logger
}

// NewKafkaProducer создает и настраивает новый продюсер Kafka.
func NewKafkaProducer(brokers []string, topic string, log *logger.Logger) (Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are not configured")
	}
	if topic == "" {
		topic = TopicAccountUpgraded
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	log.Infow("Kafka producer initialized", "brokers", brokers, "topic", topic)

	return &kafkaProducer{
		writer: writer,
		log:    log,
	}, nil
}

// PublishAccountUpgraded сериализует событие в JSON и отправляет в Kafka.
func (k *kafkaProducer) PublishAccountUpgraded(ctx context.Context, userID, sessionID string, amount float64) error {
	event := AccountUpgradedEvent{
		EventID:    uuid.NewString(),
		UserID:     userID,
		SessionID:  sessionID,
		Amount:     amount,
		UpgradedAt: time.Now(),
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("kafka: failed to marshal upgrade event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(userID),
		Value: value,
		Time:  event.UpgradedAt,
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := k.writer.WriteMessages(writeCtx, msg); err != nil {
		k.log.Errorw("Failed to publish account upgrade event", "error", err, "userID", userID, "sessionID", sessionID)
		return fmt.Errorf("kafka: failed to publish upgrade event: %w", err)
	}

	k.log.Debugw("Account upgrade event published", "eventID", event.EventID, "userID", userID)
	return nil
}

// Close закрывает writer Kafka.
func (k *kafkaProducer) Close() error {
	return k.writer.Close()
}
