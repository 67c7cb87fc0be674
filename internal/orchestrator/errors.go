package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrRunNotFound — сессии с таким ID нет (не было или уже вытеснена).
	ErrRunNotFound = errors.New("run not found")

	// ErrInvalidTransition — недопустимый переход между фазами.
	ErrInvalidTransition = errors.New("invalid phase transition")

	// ErrServiceStopped — run service остановлен и не принимает runs.
	ErrServiceStopped = errors.New("run service stopped")

	// ErrNoStepStorage — перезапуск невозможен: хранилище шагов не настроено.
	ErrNoStepStorage = errors.New("step storage is not configured")
)
