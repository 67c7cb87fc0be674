// Package config собирает конфигурацию сервисов Stepwright.
//
// Порядок: значения по умолчанию, затем YAML-файл из STEPWRIGHT_CONFIG
// (если задан), затем переменные окружения. Переменная окружения
// всегда побеждает файл.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/Stepwright/internal/domain"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Драйверы хранилища.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	// DriverBackend — шаги публикуются через HTTP API backend'а.
	DriverBackend = "backend"
)

// ErrInvalidConfig — конфигурация не прошла проверку.
var ErrInvalidConfig = errors.New("invalid config")

// Config — конфигурация сервисов.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Backend   BackendConfig   `yaml:"backend"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	API       APIConfig       `yaml:"api"`
	Run       RunConfig       `yaml:"run"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Schedules — расписания регрессионных перезапусков.
	Schedules []domain.Schedule `yaml:"schedules"`
}

// StoreConfig — хранилище шагов и результатов.
type StoreConfig struct {
	// Driver — "postgres" (по умолчанию), "sqlite" или "backend":
	// в последнем случае шаги пишутся через HTTP API backend'а,
	// а результаты не сохраняются.
	Driver string `yaml:"driver"`

	// DatabaseURL — DSN Postgres (DB_URL).
	DatabaseURL string `yaml:"database_url"`

	// SQLitePath — путь к файлу SQLite (SQLITE_PATH).
	SQLitePath string `yaml:"sqlite_path"`
}

// BackendConfig — Remote Execution Backend.
type BackendConfig struct {
	URL            string        `yaml:"url"`
	Timeout        time.Duration `yaml:"timeout"`
	ExecuteTimeout time.Duration `yaml:"execute_timeout"`
}

// RabbitMQConfig — брокер сообщений. Пустой URL — без брокера.
type RabbitMQConfig struct {
	URL string `yaml:"url"`
}

// APIConfig — HTTP API.
type APIConfig struct {
	Port int `yaml:"port"`
}

// RunConfig — параметры runs.
type RunConfig struct {
	// Timeout — предельное время run. 0 — без ограничения.
	Timeout time.Duration `yaml:"timeout"`

	// Retention — сколько завершённых сессий держать в памяти.
	Retention int `yaml:"retention"`

	// VerifyTestCase — отклонять runs для test cases, которых нет
	// в таблице test_cases (только postgres и sqlite).
	VerifyTestCase bool `yaml:"verify_test_case"`
}

// SchedulerConfig — scheduler.
type SchedulerConfig struct {
	Tick time.Duration `yaml:"tick"`
	Port int           `yaml:"port"`
}

// Default возвращает конфигурацию для локальной разработки.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:     DriverPostgres,
			SQLitePath: "data/stepwright.db",
		},
		Backend: BackendConfig{
			URL:            "http://localhost:5000",
			Timeout:        30 * time.Second,
			ExecuteTimeout: 10 * time.Minute,
		},
		API: APIConfig{Port: 8080},
		Run: RunConfig{
			Timeout:   15 * time.Minute,
			Retention: 100,
		},
		Scheduler: SchedulerConfig{
			Tick: 10 * time.Second,
			Port: 8082,
		},
	}
}

// Load собирает конфигурацию: default → файл STEPWRIGHT_CONFIG → env.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("STEPWRIGHT_CONFIG"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile накладывает YAML-файл на текущие значения.
// Поля, которых нет в файле, не меняются.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnv накладывает переменные окружения.
func (c *Config) applyEnv() error {
	var errs error

	setString(&c.Store.Driver, "STORE_DRIVER")
	setString(&c.Store.DatabaseURL, "DB_URL")
	setString(&c.Store.SQLitePath, "SQLITE_PATH")
	setString(&c.Backend.URL, "BACKEND_URL")
	setString(&c.RabbitMQ.URL, "RABBITMQ_URL")

	errs = multierr.Append(errs, setDuration(&c.Backend.Timeout, "BACKEND_TIMEOUT"))
	errs = multierr.Append(errs, setDuration(&c.Backend.ExecuteTimeout, "EXECUTE_TIMEOUT"))
	errs = multierr.Append(errs, setDuration(&c.Run.Timeout, "RUN_TIMEOUT"))
	errs = multierr.Append(errs, setDuration(&c.Scheduler.Tick, "SCHEDULER_TICK"))
	errs = multierr.Append(errs, setInt(&c.API.Port, "API_PORT"))
	errs = multierr.Append(errs, setInt(&c.Scheduler.Port, "SCHED_PORT"))
	errs = multierr.Append(errs, setInt(&c.Run.Retention, "RUN_RETENTION"))
	errs = multierr.Append(errs, setBool(&c.Run.VerifyTestCase, "RUN_VERIFY_TEST_CASE"))

	if errs != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errs)
	}
	return nil
}

// Validate проверяет согласованность конфигурации.
func (c *Config) Validate() error {
	var errs error

	switch c.Store.Driver {
	case DriverPostgres, DriverSQLite, DriverBackend:
	default:
		errs = multierr.Append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}
	if c.Store.Driver == DriverSQLite && c.Store.SQLitePath == "" {
		errs = multierr.Append(errs, errors.New("store.sqlite_path is required for sqlite"))
	}
	if strings.TrimSpace(c.Backend.URL) == "" {
		errs = multierr.Append(errs, errors.New("backend.url is required"))
	}
	if c.Run.VerifyTestCase && c.Store.Driver == DriverBackend {
		errs = multierr.Append(errs, errors.New("run.verify_test_case needs a postgres or sqlite store"))
	}
	if c.Run.Timeout < 0 {
		errs = multierr.Append(errs, errors.New("run.timeout must not be negative"))
	}
	if c.Scheduler.Tick <= 0 {
		errs = multierr.Append(errs, errors.New("scheduler.tick must be positive"))
	}

	names := make(map[string]bool, len(c.Schedules))
	for i, s := range c.Schedules {
		label := s.Name
		if label == "" {
			label = "#" + strconv.Itoa(i)
			errs = multierr.Append(errs, fmt.Errorf("schedule %s: name is required", label))
		}
		if names[s.Name] && s.Name != "" {
			errs = multierr.Append(errs, fmt.Errorf("schedule %s: duplicate name", label))
		}
		names[s.Name] = true

		if strings.TrimSpace(s.TestCaseID) == "" {
			errs = multierr.Append(errs, fmt.Errorf("schedule %s: test_case is required", label))
		}
		if !s.IsCron() && !s.IsInterval() {
			errs = multierr.Append(errs, fmt.Errorf("schedule %s: cron or interval_sec is required", label))
		}
	}

	if errs != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errs)
	}
	return nil
}

// Addr возвращает адрес HTTP API (":8080").
func (c APIConfig) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// Addr возвращает адрес служебного HTTP scheduler'а.
func (c SchedulerConfig) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
