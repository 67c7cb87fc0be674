package backend

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shaiso/Stepwright/internal/domain"
)

func TestParseExecutionTime(t *testing.T) {
	tests := []struct {
		raw    string
		want   time.Duration
		wantOK bool
	}{
		{`"0:00:12.500000"`, 12500 * time.Millisecond, true},
		{`"1:02:03"`, time.Hour + 2*time.Minute + 3*time.Second, true},
		{`"1 day, 0:00:01"`, 24*time.Hour + time.Second, true},
		{`"1m2.5s"`, time.Minute + 2500*time.Millisecond, true},
		{`12.25`, 12250 * time.Millisecond, true},
		{`"3.5"`, 3500 * time.Millisecond, true},
		{`null`, 0, false},
		{``, 0, false},
		{`"soon"`, 0, false},
		{`"0:61:00"`, 0, false},
		{`-4`, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParseExecutionTime(json.RawMessage(tt.raw))
			if ok != tt.wantOK {
				t.Fatalf("ok: expected %v, got %v", tt.wantOK, ok)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestDecodeStepResults(t *testing.T) {
	want := []domain.StepResult{
		{StepNumber: 1, Status: domain.OutcomePass},
		{StepNumber: 2, Status: domain.OutcomeFail},
	}

	for _, raw := range []string{`"1:PASS,2:FAIL"`, `[{"step_no":1,"status":"pass"},{"step_no":2,"status":"FAIL"}]`} {
		got, present, err := DecodeStepResults(json.RawMessage(raw))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", raw, err)
		}
		if !present {
			t.Fatalf("%s: expected present", raw)
		}
		if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
			t.Errorf("%s: expected %v, got %v", raw, want, got)
		}
	}

	if _, present, err := DecodeStepResults(json.RawMessage(`null`)); present || err != nil {
		t.Errorf("null: expected absent without error, got present=%v err=%v", present, err)
	}

	_, _, err := DecodeStepResults(json.RawMessage(`"1:MAYBE"`))
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestExecuteResponse_FailureText(t *testing.T) {
	resp := ExecuteResponse{Message: "Test execution completed"}
	if resp.FailureText() != "" {
		t.Errorf("message must not be used as failure text")
	}
	if resp.Reason() != "Test execution completed" {
		t.Errorf("reason should fall back to message, got %q", resp.Reason())
	}

	resp.ErrorMessage = "Step 2: element not found;"
	if resp.FailureText() != "Step 2: element not found;" {
		t.Errorf("unexpected failure text %q", resp.FailureText())
	}
}

func TestValidateExecuteResponse(t *testing.T) {
	ok := `{"success": true, "status": "fail", "total_steps": 3, "passed_steps": 2, "failed_steps": 1,
		"execution_time": 4.2, "step_results": "1:PASS,2:PASS,3:FAIL", "error_message": "Step 3: timeout"}`
	if err := ValidateExecuteResponse([]byte(ok)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := ValidateExecuteResponse([]byte(`{"status": "PASS"}`)); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("missing success: expected ErrMalformedResponse, got %v", err)
	}
	if err := ValidateExecuteResponse([]byte(`[]`)); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("array: expected ErrMalformedResponse, got %v", err)
	}
}
