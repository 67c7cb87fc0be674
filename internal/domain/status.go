package domain

// Phase — фаза RunSession.
//
// Жизненный цикл:
//
//	IDLE → PUBLISHING → TRIGGERING → COMPLETED
//	            ↘             ↘
//	             ABORTED       ABORTED
//
// COMPLETED и ABORTED — финальные: сессия не переиспользуется,
// новый run всегда начинается с новой сессии.
type Phase string

const (
	// PhaseIdle — сессия создана, публикация ещё не началась.
	PhaseIdle Phase = "IDLE"

	// PhasePublishing — шаги сохраняются в хранилище.
	PhasePublishing Phase = "PUBLISHING"

	// PhaseTriggering — backend выполняет опубликованный StepSet.
	PhaseTriggering Phase = "TRIGGERING"

	// PhaseCompleted — получен RunOutcome (PASS или FAIL).
	PhaseCompleted Phase = "COMPLETED"

	// PhaseAborted — run прерван ошибкой публикации, выполнения или таймаутом.
	PhaseAborted Phase = "ABORTED"
)

// IsTerminal возвращает true, если фаза финальная.
func (p Phase) IsTerminal() bool {
	switch p {
	case PhaseCompleted, PhaseAborted:
		return true
	default:
		return false
	}
}

// CanTransition проверяет допустимость перехода между фазами.
func (p Phase) CanTransition(next Phase) bool {
	switch p {
	case PhaseIdle:
		return next == PhasePublishing
	case PhasePublishing:
		return next == PhaseTriggering || next == PhaseAborted
	case PhaseTriggering:
		return next == PhaseCompleted || next == PhaseAborted
	default:
		return false
	}
}

// String возвращает строковое представление Phase.
func (p Phase) String() string {
	return string(p)
}
