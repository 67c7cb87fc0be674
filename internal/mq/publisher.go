package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shaiso/Stepwright/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeRunRequested MessageType = "run.requested"
	MessageTypeRunUpdated   MessageType = "run.updated"
	MessageTypeRunFinished  MessageType = "run.finished"
)

// Message — конверт сообщения.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage создаёт сообщение с новым ID.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// RunRequestedPayload — запрос на run.
// Пустой Steps означает перезапуск опубликованного StepSet.
type RunRequestedPayload struct {
	TestCaseID  string        `json:"test_case_id"`
	Steps       []domain.Step `json:"steps,omitempty"`
	RequestedBy string        `json:"requested_by,omitempty"`
}

// RunEventPayload — событие о run для наблюдателей.
type RunEventPayload struct {
	RunID      uuid.UUID          `json:"run_id"`
	TestCaseID string             `json:"test_case_id"`
	Phase      domain.Phase       `json:"phase"`
	Progress   int                `json:"progress"`
	Message    string             `json:"message,omitempty"`
	Outcome    *domain.RunOutcome `json:"outcome,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Publish публикует сообщение и ждёт подтверждения брокера.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx,
			string(exchange), string(routingKey),
			false, false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		acked, err := confirm.WaitContext(ctx)
		if err != nil {
			return fmt.Errorf("await confirm for %s: %w", msg.ID, err)
		}
		if !acked {
			return fmt.Errorf("%w: %s/%s %s", ErrNotConfirmed, exchange, routingKey, msg.ID)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishRunRequested ставит запрос на run в очередь.
// Потребитель: run service.
func (p *Publisher) PublishRunRequested(ctx context.Context, payload RunRequestedPayload) error {
	return p.Publish(ctx, ExchangeRuns, RoutingKeyRequested, NewMessage(MessageTypeRunRequested, payload))
}

// PublishRunUpdated публикует смену фазы или прогресса.
func (p *Publisher) PublishRunUpdated(ctx context.Context, payload RunEventPayload) error {
	return p.Publish(ctx, ExchangeEvents, RoutingKeyRunUpdated, NewMessage(MessageTypeRunUpdated, payload))
}

// PublishRunFinished публикует итог run.
func (p *Publisher) PublishRunFinished(ctx context.Context, payload RunEventPayload) error {
	return p.Publish(ctx, ExchangeEvents, RoutingKeyRunFinished, NewMessage(MessageTypeRunFinished, payload))
}
