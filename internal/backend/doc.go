// Package backend — HTTP-клиент Remote Execution Backend.
//
// Backend хранит опубликованные шаги и выполняет их по запросу:
//
//	DELETE /api/teststeps/{tc}   — очистка раздела test case
//	POST   /api/teststeps/{tc}   — сохранение одного шага
//	POST   /api/execute/{tc}     — запуск выполнения опубликованного StepSet
//
// Client реализует publisher.Store (режим хранения шагов на стороне backend'а)
// и execution.Backend. Ответ execute проверяется по встроенной JSON-схеме
// до декодирования: ответ, не прошедший схему, считается некорректным.
package backend
