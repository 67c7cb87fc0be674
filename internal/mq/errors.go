package mq

import "errors"

var (
	// ErrNoChannel — соединение ещё не установлено или переподключается.
	ErrNoChannel = errors.New("no channel available")

	// ErrDeliveriesClosed — брокер закрыл канал доставки consumer'а.
	ErrDeliveriesClosed = errors.New("deliveries channel closed")

	// ErrNotConfirmed — брокер ответил nack на публикацию.
	ErrNotConfirmed = errors.New("publish not confirmed by broker")

	// ErrPermanent — сообщение нельзя обработать повторно (уходит в DLQ).
	ErrPermanent = errors.New("permanent failure")
)

// permanentError помечает ошибку обработчика как неисправимую.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() []error {
	return []error{e.err, ErrPermanent}
}

// Permanent оборачивает ошибку: consumer не вернёт сообщение в очередь.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
