package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeRuns   Exchange = "stepwright.runs"
	ExchangeEvents Exchange = "stepwright.events"
	ExchangeDLQ    Exchange = "stepwright.dlq"
)

// Queues — имена очередей.
const (
	QueueRunsRequested Queue = "runs.requested"
	QueueDLQRuns       Queue = "dlq.runs"
)

// Routing keys.
const (
	RoutingKeyRequested   RoutingKey = "requested"
	RoutingKeyRunUpdated  RoutingKey = "run.updated"
	RoutingKeyRunFinished RoutingKey = "run.finished"
	RoutingKeyDLQRuns     RoutingKey = "runs"
)

// exchangeDecl — exchange и привязанные к нему очереди.
type exchangeDecl struct {
	name     Exchange
	kind     string
	bindings []queueDecl
}

// queueDecl — durable очередь с ключом привязки.
type queueDecl struct {
	name Queue
	key  RoutingKey
	args amqp.Table
}

// topology — всё, что объявляет SetupTopology.
// У stepwright.events своих очередей нет: наблюдатели привязывают свои.
var topology = []exchangeDecl{
	{name: ExchangeRuns, kind: amqp.ExchangeDirect, bindings: []queueDecl{{
		name: QueueRunsRequested,
		key:  RoutingKeyRequested,
		args: amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQRuns),
		},
	}}},
	{name: ExchangeEvents, kind: amqp.ExchangeTopic},
	{name: ExchangeDLQ, kind: amqp.ExchangeDirect, bindings: []queueDecl{{
		name: QueueDLQRuns,
		key:  RoutingKeyDLQRuns,
	}}},
}

// SetupTopology объявляет exchanges, очереди и привязки. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range topology {
			if err := declare(ch, ex); err != nil {
				return err
			}
		}
		return nil
	})
}

func declare(ch *amqp.Channel, ex exchangeDecl) error {
	if err := ch.ExchangeDeclare(string(ex.name), ex.kind, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", ex.name, err)
	}

	for _, q := range ex.bindings {
		if _, err := ch.QueueDeclare(string(q.name), true, false, false, false, q.args); err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
		if err := ch.QueueBind(string(q.name), string(q.key), string(ex.name), false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", q.name, ex.name, err)
		}
	}
	return nil
}
