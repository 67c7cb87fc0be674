package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// resubscribeDelay — пауза перед повторной подпиской, если канал
// закрылся без разрыва соединения (например, очередь удалили).
const resubscribeDelay = 5 * time.Second

// Handler обрабатывает одно сообщение.
//
// nil — ack. Ошибка — nack с возвратом в очередь.
// Ошибка, обёрнутая Permanent, — nack без возврата (сообщение уходит в DLQ).
type Handler func(ctx context.Context, d *Delivery) error

// Delivery — доставленное сообщение.
type Delivery struct {
	Message Message
	Raw     amqp.Delivery
}

// ConsumerConfig — конфигурация Consumer.
type ConsumerConfig struct {
	Queue   string
	Handler Handler

	// Prefetch — сколько неподтверждённых сообщений держать. По умолчанию 1.
	Prefetch int
}

// Consumer читает очередь на собственном канале.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    string
	handler  Handler
	prefetch int
}

// NewConsumer создаёт новый Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	return &Consumer{
		conn:     conn,
		logger:   logger.With("queue", cfg.Queue),
		queue:    cfg.Queue,
		handler:  cfg.Handler,
		prefetch: prefetch,
	}
}

// Start обрабатывает сообщения до отмены ctx, переподписываясь
// после разрывов. Возвращает ctx.Err().
func (c *Consumer) Start(ctx context.Context) error {
	for {
		reconnected := c.conn.Reconnected()

		err := c.serve(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("consumer interrupted", "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reconnected:
			c.logger.Info("resubscribing after reconnect")
		case <-time.After(resubscribeDelay):
		}
	}
}

// serve подписывается и обрабатывает сообщения, пока канал открыт.
func (c *Consumer) serve(ctx context.Context) error {
	ch, err := c.conn.OpenChannel()
	if err != nil {
		return err
	}
	// Закрытие канала возвращает неподтверждённые сообщения в очередь.
	defer ch.Close()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}
	c.logger.Info("consumer started", "prefetch", c.prefetch)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			c.handle(ctx, raw)
		}
	}
}

// handle декодирует конверт, вызывает обработчик и подтверждает сообщение.
func (c *Consumer) handle(ctx context.Context, raw amqp.Delivery) {
	d := &Delivery{Raw: raw}

	err := json.Unmarshal(raw.Body, &d.Message)
	if err != nil {
		err = Permanent(fmt.Errorf("decode envelope: %w", err))
	} else {
		c.logger.Debug("received message", "message_id", d.Message.ID, "type", d.Message.Type)
		err = c.handler(ctx, d)
	}

	c.settle(raw, err)
}

// settle делает ack или nack по результату обработки.
func (c *Consumer) settle(raw amqp.Delivery, err error) {
	if err == nil {
		if ackErr := raw.Ack(false); ackErr != nil {
			c.logger.Warn("ack failed", "message_id", raw.MessageId, "error", ackErr)
		}
		return
	}

	requeue := shouldRequeue(err)
	c.logger.Error("message rejected",
		"message_id", raw.MessageId,
		"type", raw.Type,
		"requeue", requeue,
		"error", err,
	)
	if nackErr := raw.Nack(false, requeue); nackErr != nil {
		c.logger.Warn("nack failed", "message_id", raw.MessageId, "error", nackErr)
	}
}

func shouldRequeue(err error) bool {
	return !errors.Is(err, ErrPermanent)
}

// ParsePayload декодирует Payload сообщения в T.
// После json.Unmarshal конверта Payload — map[string]any,
// поэтому он проходит через JSON ещё раз.
func ParsePayload[T any](msg *Message) (T, error) {
	var out T

	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return out, fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", msg.Type, err)
	}
	return out, nil
}
