package api

import (
	"net/http"
)

// ListSchedules возвращает расписания scheduler'а.
// GET /api/v1/schedules
func (h *Handler) ListSchedules(w http.ResponseWriter, _ *http.Request) {
	schedules := h.schedules.Schedules()

	result := make([]ScheduleResponse, len(schedules))
	for i, s := range schedules {
		result[i] = ScheduleFromDomain(s)
	}

	List(w, result, len(result))
}
