package domain

import (
	"time"

	"github.com/google/uuid"
)

// Schedule — расписание регрессионного перезапуска test case.
//
// Перезапуск выполняет уже опубликованный StepSet: шаги не редактируются,
// run заново публикует их (replace-all) и запускает выполнение.
// Расписания задаются в конфигурации, состояние (NextDueAt, LastRunAt)
// живёт в памяти scheduler'а.
type Schedule struct {
	// Name — имя расписания (уникально в конфигурации).
	Name string `json:"name" yaml:"name"`

	// TestCaseID — test case, который нужно перезапускать.
	TestCaseID string `json:"test_case" yaml:"test_case"`

	// CronExpr — cron-выражение ("0 3 * * *" — каждый день в 3:00).
	// Если задан CronExpr, IntervalSec игнорируется.
	CronExpr string `json:"cron_expr,omitempty" yaml:"cron,omitempty"`

	// IntervalSec — интервал в секундах между запусками.
	IntervalSec int `json:"interval_sec,omitempty" yaml:"interval_sec,omitempty"`

	// Timezone — часовой пояс для cron. По умолчанию: "UTC".
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`

	// Enabled — флаг активности.
	Enabled bool `json:"enabled" yaml:"enabled"`

	NextDueAt *time.Time `json:"next_due_at,omitempty" yaml:"-"`
	LastRunAt *time.Time `json:"last_run_at,omitempty" yaml:"-"`
	LastRunID *uuid.UUID `json:"last_run_id,omitempty" yaml:"-"`
}

// IsCron возвращает true, если расписание использует cron-выражение.
func (s *Schedule) IsCron() bool {
	return s.CronExpr != ""
}

// IsInterval возвращает true, если расписание использует интервал.
func (s *Schedule) IsInterval() bool {
	return s.CronExpr == "" && s.IntervalSec > 0
}

// IsDue проверяет, пора ли запускать.
func (s *Schedule) IsDue(now time.Time) bool {
	if !s.Enabled || s.NextDueAt == nil {
		return false
	}
	return !now.Before(*s.NextDueAt)
}

// RecordRun записывает информацию о запуске.
// runID может быть uuid.Nil, если run ушёл в очередь и ID ещё неизвестен.
func (s *Schedule) RecordRun(runID uuid.UUID, at, nextDue time.Time) {
	s.LastRunAt = &at
	if runID != uuid.Nil {
		s.LastRunID = &runID
	}
	s.NextDueAt = &nextDue
}
