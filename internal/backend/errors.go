package backend

import "errors"

var (
	// ErrUnavailable — backend недоступен (сетевая ошибка, таймаут запроса).
	ErrUnavailable = errors.New("backend unavailable")

	// ErrBadStatus — backend ответил не-2xx статусом.
	ErrBadStatus = errors.New("backend returned error status")

	// ErrMalformedResponse — тело ответа не JSON или не прошло схему.
	ErrMalformedResponse = errors.New("malformed backend response")

	// ErrExecutionFailed — backend сообщил success=false.
	ErrExecutionFailed = errors.New("backend reported execution failure")
)
