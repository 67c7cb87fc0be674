// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с reconnect, канал публикации с confirms
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация с ожиданием подтверждения
//   - consumer.go   — consumer на собственном канале, ack/nack/DLQ
//
// Типы сообщений:
//   - run.requested — запрос на run (API, scheduler) → run service
//   - run.updated   — смена фазы/прогресса run → наблюдатели
//   - run.finished  — run дошёл до COMPLETED/ABORTED → наблюдатели
//
// Exchanges:
//   - stepwright.runs   — запросы runs (direct)
//   - stepwright.events — события runs (topic, наблюдатели привязывают свои очереди)
//   - stepwright.dlq    — dead letter queue для отклонённых запросов
package mq
