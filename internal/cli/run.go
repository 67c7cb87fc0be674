package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shaiso/Stepwright/internal/domain"
	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start and inspect runs",
	}

	cmd.AddCommand(
		newRunStartCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunListCmd(clientFn, outputFn),
	)

	return cmd
}

func newRunStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var stepsFile string
	var wait bool
	var interval time.Duration
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "start TEST_CASE",
		Short: "Publish steps and execute a test case",
		Long: `Publish a StepSet and trigger its execution.

Without --steps the StepSet already published for the test case is run again.
With --wait the command polls the run until it finishes and exits non-zero
if the run was aborted or any step failed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()
			testCaseID := args[0]

			var steps []domain.Step
			if stepsFile != "" {
				var err error
				steps, err = LoadStepFile(stepsFile, testCaseID)
				if err != nil {
					return err
				}
			}

			started, err := client.StartRun(cmd.Context(), testCaseID, steps)
			if err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Run started: %s", started.RunID))

			if !wait {
				out.Print([]string{"RUN_ID", "TEST_CASE"}, [][]string{{started.RunID, started.TestCaseID}}, started)
				return nil
			}

			run, err := WaitRun(cmd.Context(), client, started.RunID, interval, timeout, func(r *RunResponse) {
				if !out.IsJSON() {
					out.Success(fmt.Sprintf("%-10s %3d%%", r.Phase, r.Progress))
				}
			})
			if err != nil {
				return err
			}

			printRun(out, run)
			return runExitError(run)
		},
	}

	cmd.Flags().StringVarP(&stepsFile, "steps", "s", "", "YAML file with the StepSet (rerun published steps if empty)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the run to finish")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Polling interval for --wait")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "Give up waiting after this long")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show run progress, log and outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := clientFn().GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			printRun(outputFn(), run)
			return nil
		},
	}
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var testCaseID string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := clientFn().ListRuns(cmd.Context(), testCaseID, limit)
			if err != nil {
				return err
			}

			headers := []string{"RUN_ID", "TEST_CASE", "PHASE", "PROGRESS", "SUMMARY", "STARTED"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{r.RunID, r.TestCaseID, r.Phase, strconv.Itoa(r.Progress) + "%", r.Summary, r.StartedAt}
			}

			outputFn().Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&testCaseID, "test-case", "", "Filter by test case")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

// WaitRun опрашивает run, пока он не завершится, ctx не отменят
// или не выйдет timeout. onUpdate вызывается при смене фазы или прогресса.
func WaitRun(ctx context.Context, client *Client, runID string, interval, timeout time.Duration, onUpdate func(*RunResponse)) (*RunResponse, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *RunResponse
	for {
		run, err := client.GetRun(ctx, runID)
		switch {
		case err != nil && ctx.Err() != nil && last != nil:
			return last, fmt.Errorf("run %s still %s: %w", runID, last.Phase, ctx.Err())
		case err != nil:
			return nil, err
		}

		if onUpdate != nil && (last == nil || run.Phase != last.Phase || run.Progress != last.Progress) {
			onUpdate(run)
		}
		last = run
		if run.IsTerminal() {
			return run, nil
		}

		select {
		case <-ctx.Done():
			return run, fmt.Errorf("run %s still %s: %w", runID, run.Phase, ctx.Err())
		case <-ticker.C:
		}
	}
}

// printRun выводит снимок run: итог и лог, в JSON — весь снимок.
func printRun(out *Output, run *RunResponse) {
	if out.IsJSON() {
		out.JSON(run)
		return
	}

	out.Table(
		[]string{"RUN_ID", "TEST_CASE", "PHASE", "PROGRESS"},
		[][]string{{run.RunID, run.TestCaseID, run.Phase, strconv.Itoa(run.Progress) + "%"}},
	)
	if run.Summary != "" {
		out.Line("\n%s", run.Summary)
	}

	if run.Outcome != nil && len(run.Outcome.StepResults) > 0 {
		out.Line("")
		rows := make([][]string, len(run.Outcome.StepResults))
		for i, r := range run.Outcome.StepResults {
			rows[i] = []string{strconv.Itoa(r.StepNumber), string(r.Status)}
		}
		out.Table([]string{"STEP", "STATUS"}, rows)
	}

	if len(run.Log) > 0 {
		out.Line("\nLog:")
		for _, line := range run.Log {
			out.Line("  %s", line)
		}
	}
}

// runExitError превращает неуспешный run в ошибку команды.
func runExitError(run *RunResponse) error {
	switch {
	case run.Phase == string(domain.PhaseAborted):
		return fmt.Errorf("run aborted: %s", run.Failure)
	case run.Outcome != nil && run.Outcome.Status == domain.OutcomeFail:
		return fmt.Errorf("%d of %d steps failed", run.Outcome.FailedSteps, run.Outcome.TotalSteps)
	}
	return nil
}
