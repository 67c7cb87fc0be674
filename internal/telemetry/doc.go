// Package telemetry обеспечивает наблюдаемость сервисов Stepwright.
//
// Включает:
//   - logging.go — structured logging через slog
//   - tracing.go — OpenTelemetry tracer provider (span на каждый run)
//
// Prometheus метрики runs живут в orchestrator/metrics.go
// и экспортируются на /metrics.
package telemetry
