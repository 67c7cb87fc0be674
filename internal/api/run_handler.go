package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shaiso/Stepwright/internal/domain"
)

// maxRequestBody — ограничение на размер тела запроса.
const maxRequestBody = 1 << 20

// CreateRun запускает run для test case.
// POST /api/v1/testcases/{id}/runs
//
// Тело {"steps": [...]} — новый StepSet; пустое тело или пустой
// steps — перезапуск опубликованного StepSet. Run идёт в фоне,
// ответ 202 с run_id; прогресс — через GET /api/v1/runs/{id}.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	testCaseID := r.PathValue("id")

	var req CreateRunRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(w, "invalid request body: "+err.Error())
		return
	}

	var (
		runID uuid.UUID
		err   error
	)
	if len(req.Steps) == 0 {
		runID, err = h.runs.RunPersisted(r.Context(), testCaseID)
	} else {
		for i := range req.Steps {
			if req.Steps[i].TestCaseID == "" {
				req.Steps[i].TestCaseID = testCaseID
			}
		}
		runID, err = h.runs.Submit(r.Context(), testCaseID, domain.NewStepSet(req.Steps))
	}
	if HandleServiceError(w, h.logger, err, "test case not found") {
		return
	}

	Accepted(w, CreateRunResponse{RunID: runID, TestCaseID: testCaseID})
}

// GetRun возвращает снимок run.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	snap, err := h.runs.Snapshot(id)
	if HandleServiceError(w, h.logger, err, "run not found") {
		return
	}

	Success(w, RunFromSnapshot(snap))
}

// ListRuns возвращает runs, которые ещё хранятся в памяти, новые первыми.
// GET /api/v1/runs?test_case=...&limit=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	testCaseID := r.URL.Query().Get("test_case")
	limit, ok := parseLimit(w, r, 50)
	if !ok {
		return
	}

	result := make([]RunResponse, 0)
	for _, snap := range h.runs.Runs() {
		if testCaseID != "" && snap.TestCaseID != testCaseID {
			continue
		}
		result = append(result, RunFromSnapshot(snap))
		if len(result) == limit {
			break
		}
	}

	List(w, result, len(result))
}

// parseLimit читает ?limit=; при ошибке отвечает 400 и возвращает false.
func parseLimit(w http.ResponseWriter, r *http.Request, defaultVal int) (int, bool) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return defaultVal, true
	}

	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		BadRequest(w, "limit must be a positive integer")
		return 0, false
	}
	return n, true
}
