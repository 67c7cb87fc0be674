package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shaiso/Stepwright/internal/domain"
)

const (
	defaultTimeout = 30 * time.Second

	// maxBodySize — ограничение на размер читаемого ответа.
	maxBodySize = 4 << 20
)

// Config — конфигурация клиента.
type Config struct {
	// BaseURL — адрес backend'а, например "http://localhost:5000".
	BaseURL string

	// Timeout — таймаут одного запроса. По умолчанию: 30s.
	// Для execute обычно нужен больший таймаут, см. ExecuteTimeout.
	Timeout time.Duration

	// ExecuteTimeout — таймаут запроса execute. По умолчанию: Timeout.
	// Выполнение шагов в браузере может занимать минуты.
	ExecuteTimeout time.Duration

	// HTTPClient — опционально, для тестов и кастомного транспорта.
	HTTPClient *http.Client
}

// Client — HTTP-клиент Remote Execution Backend.
type Client struct {
	baseURL        string
	timeout        time.Duration
	executeTimeout time.Duration
	httpClient     *http.Client
}

// New создаёт клиент.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ExecuteTimeout <= 0 {
		cfg.ExecuteTimeout = cfg.Timeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		timeout:        cfg.Timeout,
		executeTimeout: cfg.ExecuteTimeout,
		httpClient:     cfg.HTTPClient,
	}
}

// ClearSteps удаляет все опубликованные шаги test case.
func (c *Client) ClearSteps(ctx context.Context, testCaseID string) error {
	_, err := c.do(ctx, c.timeout, http.MethodDelete, stepsPath(testCaseID), nil)
	return err
}

// stepRecord — запись шага в API backend'а. Backend читает все семь
// полей без значений по умолчанию, поэтому пустые поля тоже отправляются.
type stepRecord struct {
	TestCaseID    string `json:"tc_id"`
	StepNumber    int    `json:"step_no"`
	Description   string `json:"test_step_description"`
	TargetElement string `json:"element_name"`
	ActionType    string `json:"action_type"`
	Locator       string `json:"xpath"`
	Value         string `json:"values"`
}

// PutStep сохраняет один шаг test case.
func (c *Client) PutStep(ctx context.Context, testCaseID string, step domain.Step) error {
	record := stepRecord{
		TestCaseID:    step.TestCaseID,
		StepNumber:    step.StepNumber,
		Description:   step.Description,
		TargetElement: step.TargetElement,
		ActionType:    string(step.ActionType),
		Locator:       step.Locator,
		Value:         step.Value,
	}
	_, err := c.do(ctx, c.timeout, http.MethodPost, stepsPath(testCaseID), record)
	return err
}

// Execute запускает выполнение опубликованного StepSet и возвращает
// проверенный по схеме ответ. success=false возвращается как ErrExecutionFailed.
func (c *Client) Execute(ctx context.Context, testCaseID string) (*ExecuteResponse, error) {
	body, err := c.do(ctx, c.executeTimeout, http.MethodPost, "/api/execute/"+url.PathEscape(testCaseID), nil)
	if err != nil {
		return nil, err
	}

	if err := ValidateExecuteResponse(body); err != nil {
		return nil, err
	}

	var resp ExecuteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if !resp.Success {
		reason := resp.Reason()
		if reason == "" {
			reason = "no reason given"
		}
		return &resp, fmt.Errorf("%w: %s", ErrExecutionFailed, reason)
	}

	return &resp, nil
}

func stepsPath(testCaseID string) string {
	return "/api/teststeps/" + url.PathEscape(testCaseID)
}

// do выполняет запрос и возвращает тело 2xx-ответа.
func (c *Client) do(ctx context.Context, timeout time.Duration, method, path string, payload any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s %s: HTTP %d: %s",
			ErrBadStatus, method, path, resp.StatusCode, errorText(body))
	}

	return body, nil
}

// errorText извлекает сообщение из тела ошибки ({"error": "..."}) или
// возвращает обрезанное тело как есть.
func errorText(body []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	return truncate(strings.TrimSpace(string(body)), 200)
}

// truncate обрезает строку до maxLen байт, не разрывая UTF-8 символ.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
