// Package cli реализует инструмент командной строки Stepwright.
//
// # Обзор
//
// CLI — клиентская утилита для Stepwright API. Работает через HTTP
// и не импортирует internal/api; из внутренних пакетов использует
// только domain (модель шагов и проверку StepSet из YAML-файла).
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Stepwright API. Инкапсулирует HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок (APIError).
//
//	client := cli.NewClient("http://localhost:8080")
//	run, err := client.StartRun("TC001", steps)
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: stepwright results list TC001 --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - run: start (--steps steps.yaml, --wait), show, list
//   - steps: show
//   - results: list
//   - schedule: list
//
// Каждая группа создаётся через фабричную функцию (NewRunCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
