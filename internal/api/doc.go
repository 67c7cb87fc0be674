// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go          — Handler с DI (run service, хранилища, logger)
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — middleware (logging, recovery)
//   - response.go         — унифицированные JSON-ответы и обработка ошибок
//   - dto.go              — Data Transfer Objects (request/response)
//   - run_handler.go      — обработчики для /runs
//   - testcase_handler.go — шаги и результаты test case
//   - schedule_handler.go — расписания scheduler'а
//
// Успешный ответ — {"data": ...}, ошибка — {"error": {"code", "message"}}.
package api
