package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewScheduleCmd создаёт группу команд для расписаний.
// Расписания отдаёт stepwright-scheduler: --api-url должен указывать на него.
func NewScheduleCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect regression schedules",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List schedules with their next due time",
		RunE: func(cmd *cobra.Command, args []string) error {
			schedules, err := clientFn().ListSchedules(cmd.Context())
			if err != nil {
				return err
			}

			headers := []string{"NAME", "TEST_CASE", "CRON/INTERVAL", "TIMEZONE", "ENABLED", "NEXT_DUE", "LAST_RUN"}
			rows := make([][]string, len(schedules))
			for i, s := range schedules {
				trigger := s.CronExpr
				if trigger == "" {
					trigger = strconv.Itoa(s.IntervalSec) + "s"
				}
				rows[i] = []string{s.Name, s.TestCaseID, trigger, s.Timezone, strconv.FormatBool(s.Enabled), s.NextDueAt, s.LastRunAt}
			}

			outputFn().Print(headers, rows, schedules)
			return nil
		},
	})

	return cmd
}
