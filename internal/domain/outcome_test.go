package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunOutcome_Validate(t *testing.T) {
	pass := RunOutcome{
		Status:      OutcomePass,
		TotalSteps:  2,
		PassedSteps: 2,
		StepResults: []StepResult{{1, OutcomePass}, {2, OutcomePass}},
	}
	require.NoError(t, pass.Validate())

	fail := RunOutcome{
		Status:       OutcomeFail,
		TotalSteps:   2,
		PassedSteps:  1,
		FailedSteps:  1,
		StepResults:  []StepResult{{1, OutcomePass}, {2, OutcomeFail}},
		ErrorMessage: "Step 2: element not found",
	}
	require.NoError(t, fail.Validate())

	tests := []struct {
		name   string
		mutate func(o *RunOutcome)
		base   RunOutcome
	}{
		{"pass with failed steps", func(o *RunOutcome) { o.FailedSteps = 1; o.TotalSteps = 3 }, pass},
		{"fail without failed steps", func(o *RunOutcome) { o.Status = OutcomeFail }, pass},
		{"counters do not add up", func(o *RunOutcome) { o.TotalSteps = 5 }, pass},
		{"result length mismatch", func(o *RunOutcome) { o.StepResults = o.StepResults[:1] }, pass},
		{"negative counters", func(o *RunOutcome) { o.PassedSteps = -1 }, pass},
		{"unknown status", func(o *RunOutcome) { o.Status = "SKIPPED" }, pass},
		{"pass with error message", func(o *RunOutcome) { o.ErrorMessage = "boom" }, pass},
		{"results disagree with counters", func(o *RunOutcome) {
			o.StepResults = []StepResult{{1, OutcomePass}, {2, OutcomePass}}
		}, fail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := tt.base
			o.StepResults = append([]StepResult(nil), tt.base.StepResults...)
			tt.mutate(&o)
			err := o.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidOutcome))
		})
	}
}

func TestRunOutcome_ValidateWithoutBreakdown(t *testing.T) {
	fail := RunOutcome{
		Status:       OutcomeFail,
		TotalSteps:   3,
		PassedSteps:  2,
		FailedSteps:  1,
		ErrorMessage: "Step 2: element not found",
	}
	require.NoError(t, fail.Validate())

	fail.PassedSteps = 1
	assert.ErrorIs(t, fail.Validate(), ErrInvalidOutcome)

	fail.StepResults = []StepResult{}
	fail.PassedSteps = 2
	assert.ErrorIs(t, fail.Validate(), ErrInvalidOutcome, "empty breakdown is still checked")
}

func TestAttributeFailures(t *testing.T) {
	steps := []int{1, 2, 3, 4}

	got := AttributeFailures(steps, "Step 2: element not found; step 4: timeout;", 2)
	assert.Equal(t, []StepResult{
		{1, OutcomePass}, {2, OutcomeFail}, {3, OutcomePass}, {4, OutcomeFail},
	}, got)

	got = AttributeFailures(steps, "Step 3: stale element; Step 3: retry failed", 1)
	require.Len(t, got, 4)
	assert.Equal(t, OutcomeFail, got[2].Status)

	assert.Nil(t, AttributeFailures(steps, "browser crashed", 1), "no step mentioned")
	assert.Nil(t, AttributeFailures(steps, "Step 2: element not found", 2), "count differs")
	assert.Nil(t, AttributeFailures(steps, "Step 9: element not found", 1), "unknown step")
}

func TestStepResults_FormatAndParse(t *testing.T) {
	results := []StepResult{{1, OutcomePass}, {2, OutcomeFail}, {4, OutcomePass}}

	encoded := FormatStepResults(results)
	assert.Equal(t, "1:PASS,2:FAIL,4:PASS", encoded)

	decoded, err := ParseStepResults(" 1:pass, 2:FAIL ,4:PASS")
	require.NoError(t, err)
	assert.Equal(t, results, decoded)

	empty, err := ParseStepResults("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = ParseStepResults("1-PASS")
	assert.Error(t, err)
	_, err = ParseStepResults("x:PASS")
	assert.Error(t, err)
	_, err = ParseStepResults("1:MAYBE")
	assert.Error(t, err)
}

func TestRunOutcome_Summary(t *testing.T) {
	o := RunOutcome{Status: OutcomeFail, TotalSteps: 4, PassedSteps: 3, FailedSteps: 1, ExecutionTime: 1500 * time.Millisecond}
	assert.Equal(t, "FAIL: 3/4 steps passed in 1.5s", o.Summary())
}

func TestPhase_Transitions(t *testing.T) {
	assert.True(t, PhaseIdle.CanTransition(PhasePublishing))
	assert.False(t, PhaseIdle.CanTransition(PhaseTriggering))
	assert.True(t, PhasePublishing.CanTransition(PhaseAborted))
	assert.True(t, PhasePublishing.CanTransition(PhaseTriggering))
	assert.False(t, PhasePublishing.CanTransition(PhaseCompleted))
	assert.True(t, PhaseTriggering.CanTransition(PhaseCompleted))
	assert.False(t, PhaseCompleted.CanTransition(PhaseAborted))
	assert.False(t, PhaseAborted.CanTransition(PhasePublishing))

	assert.True(t, PhaseCompleted.IsTerminal())
	assert.True(t, PhaseAborted.IsTerminal())
	assert.False(t, PhaseTriggering.IsTerminal())
}

func TestErrors_Unwrap(t *testing.T) {
	cause := errors.New("disk full")

	pubErr := &PublishError{StepNumber: 2, Cause: cause}
	assert.ErrorIs(t, pubErr, cause)
	assert.Equal(t, "publish: step 2: disk full", pubErr.Error())

	clearErr := &PublishError{Cause: cause}
	assert.Contains(t, clearErr.Error(), "clear previous steps")

	execErr := &ExecutionError{Cause: ErrTimeout}
	assert.ErrorIs(t, execErr, ErrTimeout)

	preErr := &PreconditionError{Cause: ErrEmptyStepSet}
	assert.True(t, IsPrecondition(preErr))
	assert.False(t, IsPrecondition(execErr))
	assert.ErrorIs(t, preErr, ErrEmptyStepSet)
}
