package api

import (
	"net/http"
)

// RegisterRoutes регистрирует маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	middlewares := []Middleware{Recovery(h.logger), Logging(h.logger)}
	if h.metrics != nil {
		middlewares = append(middlewares, h.metrics)
	}
	chain := Chain(middlewares...)

	// Runs
	if h.runs != nil {
		mux.Handle("POST /api/v1/testcases/{id}/runs", chain(http.HandlerFunc(h.CreateRun)))
		mux.Handle("GET /api/v1/runs", chain(http.HandlerFunc(h.ListRuns)))
		mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))
	}

	// Steps & results
	if h.steps != nil {
		mux.Handle("GET /api/v1/testcases/{id}/steps", chain(http.HandlerFunc(h.ListSteps)))
	}
	if h.results != nil {
		mux.Handle("GET /api/v1/testcases/{id}/results", chain(http.HandlerFunc(h.ListResults)))
	}

	// Schedules
	if h.schedules != nil {
		mux.Handle("GET /api/v1/schedules", chain(http.HandlerFunc(h.ListSchedules)))
	}
}
