package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/ErlanBelekov/workflow-scheduler/internal/catalog"
	"github.com/ErlanBelekov/workflow-scheduler/internal/coord"
	"github.com/ErlanBelekov/workflow-scheduler/internal/domain"
	"github.com/ErlanBelekov/workflow-scheduler/internal/execution"
	"github.com/ErlanBelekov/workflow-scheduler/internal/usecase"
	"github.com/spf13/cobra"
)

func newExecutionsCmd(withStore func(context.Context, func(coord.Store) error) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "executions",
		Short: "Stand in for the execution engine",
	}

	var (
		at         string
		keepMarker bool
	)
	record := &cobra.Command{
		Use:   "record SCHEDULE_ID",
		Short: "Record a run of a schedule and clear its execution marker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			startedAt := time.Now()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				startedAt = t
			}

			ctx := cmd.Context()
			return withStore(ctx, func(store coord.Store) error {
				e, err := usecase.NewScheduleUsecase(catalog.NewRepository(store)).RecordExecution(ctx, args[0], startedAt)
				if err != nil {
					return err
				}
				if !keepMarker {
					if err := execution.NewStore(store, 0).Clear(ctx, domain.ScheduleID(args[0])); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schedule %s: execution %d started %s\n",
					e.ScheduleID, e.ExecutionCount, e.LastExecutionStart.Format(time.RFC3339))
				return nil
			})
		},
	}
	record.Flags().StringVar(&at, "at", "", "Run start time, RFC3339 (default now)")
	record.Flags().BoolVar(&keepMarker, "keep-marker", false, "Leave the execution marker in place")

	cmd.AddCommand(record)
	return cmd
}
