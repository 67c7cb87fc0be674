package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/Stepwright/internal/domain"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// RunResponse — снимок run из API.
type RunResponse struct {
	RunID      string             `json:"run_id"`
	TestCaseID string             `json:"test_case_id"`
	Phase      string             `json:"phase"`
	Progress   int                `json:"progress"`
	Log        []string           `json:"log"`
	Outcome    *domain.RunOutcome `json:"outcome,omitempty"`
	Failure    string             `json:"failure,omitempty"`
	Summary    string             `json:"summary,omitempty"`
	StartedAt  string             `json:"started_at"`
	FinishedAt string             `json:"finished_at,omitempty"`
}

// IsTerminal возвращает true, если run завершён.
func (r RunResponse) IsTerminal() bool {
	return domain.Phase(r.Phase).IsTerminal()
}

// CreateRunResponse — ответ на запуск run.
type CreateRunResponse struct {
	RunID      string `json:"run_id"`
	TestCaseID string `json:"test_case_id"`
}

// ResultResponse — сохранённый результат run из API.
type ResultResponse struct {
	ID            string              `json:"id"`
	RunID         string              `json:"run_id"`
	TestCaseID    string              `json:"test_case_id"`
	Status        string              `json:"status"`
	TotalSteps    int                 `json:"total_steps"`
	PassedSteps   int                 `json:"passed_steps"`
	FailedSteps   int                 `json:"failed_steps"`
	ExecutionTime string              `json:"execution_time"`
	ExecutionMs   int64               `json:"execution_ms"`
	StepResults   []domain.StepResult `json:"step_results"`
	ErrorMessage  string              `json:"error_message,omitempty"`
	ExecutedAt    string              `json:"executed_at"`
}

// ScheduleResponse — расписание из API scheduler'а.
type ScheduleResponse struct {
	Name        string `json:"name"`
	TestCaseID  string `json:"test_case_id"`
	CronExpr    string `json:"cron_expr,omitempty"`
	IntervalSec int    `json:"interval_sec,omitempty"`
	Timezone    string `json:"timezone"`
	Enabled     bool   `json:"enabled"`
	NextDueAt   string `json:"next_due_at,omitempty"`
	LastRunAt   string `json:"last_run_at,omitempty"`
	LastRunID   string `json:"last_run_id,omitempty"`
}

// --- Request types ---

// CreateRunRequest — запуск run. Пустой Steps — перезапуск опубликованного StepSet.
type CreateRunRequest struct {
	Steps []domain.Step `json:"steps,omitempty"`
}

// envelope — конверт ответа API: {"data": ...} или {"error": {...}}.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError — ответ API с ошибкой.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// --- Client ---

// Client — HTTP-клиент для Stepwright API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// StartRun запускает run. Пустой steps — перезапуск опубликованного StepSet.
func (c *Client) StartRun(ctx context.Context, testCaseID string, steps []domain.Step) (*CreateRunResponse, error) {
	run, err := call[CreateRunResponse](ctx, c, http.MethodPost, testCasePath(testCaseID, "runs"), nil, CreateRunRequest{Steps: steps})
	return &run, err
}

// GetRun возвращает снимок run.
func (c *Client) GetRun(ctx context.Context, id string) (*RunResponse, error) {
	run, err := call[RunResponse](ctx, c, http.MethodGet, "/api/v1/runs/"+url.PathEscape(id), nil, nil)
	return &run, err
}

// ListRuns возвращает runs, которые API ещё хранит в памяти.
func (c *Client) ListRuns(ctx context.Context, testCaseID string, limit int) ([]RunResponse, error) {
	query := limitQuery(limit)
	if testCaseID != "" {
		query.Set("test_case", testCaseID)
	}
	return call[[]RunResponse](ctx, c, http.MethodGet, "/api/v1/runs", query, nil)
}

// ListSteps возвращает опубликованный StepSet test case.
func (c *Client) ListSteps(ctx context.Context, testCaseID string) ([]domain.Step, error) {
	return call[[]domain.Step](ctx, c, http.MethodGet, testCasePath(testCaseID, "steps"), nil, nil)
}

// ListResults возвращает историю результатов test case, новые первыми.
func (c *Client) ListResults(ctx context.Context, testCaseID string, limit int) ([]ResultResponse, error) {
	return call[[]ResultResponse](ctx, c, http.MethodGet, testCasePath(testCaseID, "results"), limitQuery(limit), nil)
}

// ListSchedules возвращает расписания scheduler'а.
func (c *Client) ListSchedules(ctx context.Context) ([]ScheduleResponse, error) {
	return call[[]ScheduleResponse](ctx, c, http.MethodGet, "/api/v1/schedules", nil, nil)
}

func testCasePath(testCaseID, resource string) string {
	return "/api/v1/testcases/" + url.PathEscape(testCaseID) + "/" + resource
}

func limitQuery(limit int) url.Values {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	return query
}

// call выполняет запрос и декодирует поле data ответа в T.
// Ответ 4xx/5xx возвращается как *APIError.
func call[T any](ctx context.Context, c *Client, method, path string, query url.Values, body any) (T, error) {
	var out T

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return out, fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return out, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return out, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)
	if errors.Is(decodeErr, io.EOF) {
		decodeErr = nil
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if decodeErr == nil && env.Error != nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return out, apiErr
	}
	if decodeErr != nil {
		return out, fmt.Errorf("decode response: %w", decodeErr)
	}

	if len(env.Data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return out, fmt.Errorf("decode data: %w", err)
	}
	return out, nil
}
