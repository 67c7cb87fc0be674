package api

import (
	"net/http"

	"github.com/shaiso/Stepwright/internal/domain"
)

// ListSteps возвращает опубликованный StepSet test case по возрастанию step_no.
// GET /api/v1/testcases/{id}/steps
func (h *Handler) ListSteps(w http.ResponseWriter, r *http.Request) {
	steps, err := h.steps.ListSteps(r.Context(), r.PathValue("id"))
	if HandleServiceError(w, h.logger, err, "test case not found") {
		return
	}
	if steps == nil {
		steps = []domain.Step{}
	}

	List(w, steps, len(steps))
}

// ListResults возвращает историю результатов test case, новые первыми.
// GET /api/v1/testcases/{id}/results?limit=...
func (h *Handler) ListResults(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, 50)
	if !ok {
		return
	}

	results, err := h.results.ListResults(r.Context(), r.PathValue("id"), limit)
	if HandleServiceError(w, h.logger, err, "test case not found") {
		return
	}

	out := make([]ResultResponse, len(results))
	for i, res := range results {
		out[i] = ResultFromDomain(res)
	}

	List(w, out, len(out))
}
