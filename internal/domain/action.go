package domain

import (
	"fmt"
	"strings"
)

// ActionType — операция автоматизации, которую выполняет Remote Execution Backend.
//
// Словарь закрытый: значение вне списка отклоняется при публикации,
// а не во время удалённого выполнения. Семантика операций непрозрачна
// для оркестратора — он только передаёт их backend'у.
type ActionType string

const (
	// ActionOpenBrowser — открыть браузер и перейти по URL из Value.
	ActionOpenBrowser ActionType = "OPEN_BROWSER"

	// ActionClick — клик по элементу.
	ActionClick ActionType = "CLICK"

	// ActionClickAndSelect — клик по элементу и выбор значения.
	ActionClickAndSelect ActionType = "CLICK_AND_SELECT"

	// ActionClickAndSelectDate — выбор даты в календаре.
	ActionClickAndSelectDate ActionType = "CLICK_AND_SELECT_DATE"

	// ActionSelectCount — выбор количества (пассажиры, билеты).
	ActionSelectCount ActionType = "SELECT_COUNT"

	// ActionClickQuickDate — быстрый выбор даты (TODAY, TOMORROW).
	ActionClickQuickDate ActionType = "CLICK_QUICK_DATE"

	// ActionClickAndSelectAge — выбор возраста.
	ActionClickAndSelectAge ActionType = "CLICK_AND_SELECT_AGE"

	// ActionHandleCheckbox — переключение чекбокса.
	ActionHandleCheckbox ActionType = "HANDLE_CHECKBOX"

	// ActionClickBusQuickDate — быстрый выбор даты на странице автобусов.
	ActionClickBusQuickDate ActionType = "CLICK_BUS_QUICK_DATE"
)

// actionTypes — полный словарь в порядке отображения.
var actionTypes = []ActionType{
	ActionOpenBrowser,
	ActionClick,
	ActionClickAndSelect,
	ActionClickAndSelectDate,
	ActionSelectCount,
	ActionClickQuickDate,
	ActionClickAndSelectAge,
	ActionHandleCheckbox,
	ActionClickBusQuickDate,
}

// ActionTypes возвращает копию словаря поддерживаемых операций.
func ActionTypes() []ActionType {
	out := make([]ActionType, len(actionTypes))
	copy(out, actionTypes)
	return out
}

// ParseActionType парсит строку в ActionType (без учёта регистра и пробелов по краям).
func ParseActionType(s string) (ActionType, error) {
	candidate := ActionType(strings.ToUpper(strings.TrimSpace(s)))
	if candidate.IsValid() {
		return candidate, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// IsValid проверяет, входит ли значение в словарь.
func (a ActionType) IsValid() bool {
	for _, known := range actionTypes {
		if a == known {
			return true
		}
	}
	return false
}

// RequiresLocator возвращает true, если операция действует на конкретный элемент
// и без локатора выполнена быть не может.
func (a ActionType) RequiresLocator() bool {
	switch a {
	case ActionOpenBrowser, ActionClickQuickDate, ActionClickBusQuickDate:
		return false
	default:
		return true
	}
}

// RequiresValue возвращает true, если операции нужен Value.
func (a ActionType) RequiresValue() bool {
	switch a {
	case ActionOpenBrowser, ActionClickQuickDate, ActionClickBusQuickDate:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление ActionType.
func (a ActionType) String() string {
	return string(a)
}

// UnmarshalText позволяет декодировать ActionType из JSON/YAML с валидацией.
func (a *ActionType) UnmarshalText(text []byte) error {
	parsed, err := ParseActionType(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalText кодирует ActionType как строку.
func (a ActionType) MarshalText() ([]byte, error) {
	return []byte(a), nil
}
