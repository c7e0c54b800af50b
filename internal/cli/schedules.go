package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ErlanBelekov/workflow-scheduler/internal/catalog"
	"github.com/ErlanBelekov/workflow-scheduler/internal/coord"
	"github.com/ErlanBelekov/workflow-scheduler/internal/state"
	"github.com/ErlanBelekov/workflow-scheduler/internal/usecase"
	"github.com/spf13/cobra"
)

type scheduleRow struct {
	ID             string     `json:"id"`
	WorkflowID     string     `json:"workflow_id"`
	Repetition     string     `json:"repetition"`
	ExecutionCount int        `json:"execution_count"`
	LastStart      *time.Time `json:"last_start,omitempty"`
	Due            bool       `json:"due"`
}

func newSchedulesCmd(withStore func(context.Context, func(coord.Store) error) error, opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedules",
		Short: "Manage schedules",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List schedules with their last execution and whether they are due now",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx := cmd.Context()
				return withStore(ctx, func(store coord.Store) error {
					cache := state.NewCache(store, quietLogger())
					if err := cache.Load(ctx); err != nil {
						return err
					}
					statuses := usecase.NewScheduleUsecase(catalog.NewRepository(store)).Statuses(cache.Snapshot(), time.Now())
					return printStatuses(&output{jsonMode: opts.jsonOutput, w: cmd.OutOrStdout()}, statuses)
				})
			},
		},
		&cobra.Command{
			Use:   "delete SCHEDULE_ID",
			Short: "Delete a schedule and its execution bookkeeping",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				return withStore(ctx, func(store coord.Store) error {
					if err := usecase.NewScheduleUsecase(catalog.NewRepository(store)).DeleteSchedule(ctx, args[0]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted schedule %s\n", args[0])
					return nil
				})
			},
		},
	)

	return cmd
}

func printStatuses(out *output, statuses []usecase.ScheduleStatus) error {
	data := make([]scheduleRow, 0, len(statuses))
	rows := make([][]string, 0, len(statuses))
	for _, st := range statuses {
		row := scheduleRow{
			ID:         string(st.Schedule.ID),
			WorkflowID: string(st.Schedule.WorkflowID),
			Repetition: st.Schedule.Repetition.String(),
			Due:        st.Due,
		}
		last := "never"
		if e := st.LastExecution; e != nil {
			row.ExecutionCount = e.ExecutionCount
			if e.Started() {
				started := e.LastExecutionStart
				row.LastStart = &started
				last = started.Format(time.RFC3339)
			}
		} else {
			last = "missing"
		}
		data = append(data, row)
		rows = append(rows, []string{
			row.ID, row.WorkflowID, row.Repetition,
			strconv.Itoa(row.ExecutionCount), last, strconv.FormatBool(row.Due),
		})
	}
	return out.print([]string{"ID", "WORKFLOW", "REPETITION", "COUNT", "LAST_START", "DUE"}, rows, data)
}
