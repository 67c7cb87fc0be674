package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewStepsCmd создаёт группу команд для просмотра опубликованных шагов.
func NewStepsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "steps",
		Short: "Inspect published steps",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show TEST_CASE",
		Short: "Show the StepSet published for a test case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := clientFn().ListSteps(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			headers := []string{"STEP", "ACTION", "DESCRIPTION", "LOCATOR", "VALUE"}
			rows := make([][]string, len(steps))
			for i, s := range steps {
				rows[i] = []string{strconv.Itoa(s.StepNumber), string(s.ActionType), s.Description, s.Locator, s.Value}
			}

			outputFn().Print(headers, rows, steps)
			return nil
		},
	})

	return cmd
}

// NewResultsCmd создаёт группу команд для истории результатов.
func NewResultsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Inspect run results",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list TEST_CASE",
		Short: "List stored results of a test case, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := clientFn().ListResults(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}

			headers := []string{"RUN_ID", "STATUS", "PASSED", "FAILED", "TIME", "EXECUTED", "ERROR"}
			rows := make([][]string, len(results))
			for i, r := range results {
				rows[i] = []string{
					r.RunID,
					r.Status,
					strconv.Itoa(r.PassedSteps) + "/" + strconv.Itoa(r.TotalSteps),
					strconv.Itoa(r.FailedSteps),
					r.ExecutionTime,
					r.ExecutedAt,
					r.ErrorMessage,
				}
			}

			outputFn().Print(headers, rows, results)
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "Maximum number of results")

	cmd.AddCommand(list)
	return cmd
}
