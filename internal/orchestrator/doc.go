// Package orchestrator — RunOrchestrator: конечный автомат одного run.
//
// Run проходит фазы:
//
//	IDLE → PUBLISHING → TRIGGERING → COMPLETED
//
// с выходом в ABORTED при ошибке публикации, ошибке выполнения
// или таймауте. Состояние run (фаза, прогресс, лог, итог) живёт
// в RunSession; наружу отдаются только снимки RunSnapshot.
//
// Service — долгоживущая обёртка для API и scheduler: запускает runs
// в фоне, хранит снимки недавних сессий, сохраняет результаты
// и публикует события в RabbitMQ.
package orchestrator
