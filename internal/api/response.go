package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shaiso/Stepwright/internal/domain"
	"github.com/shaiso/Stepwright/internal/orchestrator"
	"github.com/shaiso/Stepwright/internal/repo"
)

// ErrorCode — код ошибки API.
type ErrorCode string

const (
	ErrCodeBadRequest    ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeUnavailable   ErrorCode = "UNAVAILABLE"
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorResponse — ответ с ошибкой: {"error": {"code", "message"}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail — детали ошибки.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// DataResponse — успешный ответ: {"data": ...}.
type DataResponse struct {
	Data any `json:"data"`
}

// ListResponse — ответ со списком и его размером.
type ListResponse struct {
	Data  any `json:"data"`
	Total int `json:"total"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// Success отправляет 200 с данными.
func Success(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, DataResponse{Data: data})
}

// Accepted отправляет 202: run принят и идёт в фоне.
func Accepted(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusAccepted, DataResponse{Data: data})
}

// List отправляет 200 со списком.
func List(w http.ResponseWriter, data any, total int) {
	writeJSON(w, http.StatusOK, ListResponse{Data: data, Total: total})
}

// Error отправляет ответ с ошибкой.
func Error(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// BadRequest отправляет 400.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// InternalError логирует err и отправляет 500 без подробностей.
func InternalError(w http.ResponseWriter, logger *slog.Logger, err error) {
	logger.Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}

// serviceErrors сопоставляет ошибки run service и хранилища с ответами.
// Первое совпадение выигрывает; остальное — 500.
var serviceErrors = []struct {
	match  func(error) bool
	status int
	code   ErrorCode
}{
	{domain.IsPrecondition, http.StatusBadRequest, ErrCodeBadRequest},
	{isErr(orchestrator.ErrRunNotFound), http.StatusNotFound, ErrCodeNotFound},
	{isErr(repo.ErrNotFound), http.StatusNotFound, ErrCodeNotFound},
	{isErr(orchestrator.ErrServiceStopped), http.StatusServiceUnavailable, ErrCodeUnavailable},
	{isErr(orchestrator.ErrNoStepStorage), http.StatusServiceUnavailable, ErrCodeUnavailable},
}

func isErr(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

// HandleServiceError пишет ответ для err и возвращает true, если err != nil.
// Для 404 вместо текста ошибки отдаётся notFoundMsg.
func HandleServiceError(w http.ResponseWriter, logger *slog.Logger, err error, notFoundMsg string) bool {
	if err == nil {
		return false
	}

	for _, m := range serviceErrors {
		if !m.match(err) {
			continue
		}
		msg := err.Error()
		if m.status == http.StatusNotFound {
			msg = notFoundMsg
		}
		Error(w, m.status, m.code, msg)
		return true
	}

	InternalError(w, logger, err)
	return true
}
