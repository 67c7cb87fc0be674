// Package scheduler перезапускает опубликованные StepSets по расписанию.
//
// Расписания задаются в конфигурации (cron или интервал). На каждом
// тике due schedules либо публикуют run.requested в RabbitMQ, либо,
// без брокера, запускают run напрямую через orchestrator.Service.
//
// Структура:
//   - scheduler.go — Scheduler (New, Tick, Run)
//   - cron.go      — вычисление следующего времени перезапуска
//
// Использование:
//
//	sched, err := scheduler.New(scheduler.Config{
//	    Schedules: cfg.Schedules,
//	    Requests:  publisher, // или Runner: service
//	    Logger:    logger,
//	})
//	go sched.Run(ctx, cfg.Scheduler.Tick)
//
// Leader election делается в main.go через pg_try_advisory_lock:
// Tick вызывается только лидером.
package scheduler
