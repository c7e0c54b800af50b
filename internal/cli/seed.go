package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/ErlanBelekov/workflow-scheduler/internal/catalog"
	"github.com/ErlanBelekov/workflow-scheduler/internal/coord"
	"github.com/ErlanBelekov/workflow-scheduler/internal/domain"
	"github.com/ErlanBelekov/workflow-scheduler/internal/usecase"
	"github.com/spf13/cobra"
)

const demoWorkflowID = "demo-etl"

var demoWorkflow = usecase.PutWorkflowInput{
	ID:   demoWorkflowID,
	Name: "Demo ETL",
	Tasks: []usecase.TaskInput{
		{ID: "extract", Type: "http", ModeCode: domain.TaskModeStandard.Code(), Payload: map[string]any{"url": "https://httpbin.org/get"}, ChildIDs: []string{"transform"}},
		{ID: "transform", Type: "script", ModeCode: domain.TaskModeDelay.Code(), ChildIDs: []string{"load"}},
		{ID: "load", Type: "sql", ModeCode: domain.TaskModePriority.Code()},
	},
}

var demoSchedules = []usecase.PutScheduleInput{
	{ID: "demo-once", WorkflowID: demoWorkflowID, Type: domain.RepetitionAbsolute, Qty: 1},
	{ID: "demo-every-30s", WorkflowID: demoWorkflowID, Type: domain.RepetitionRelative, Duration: 30 * time.Second, Qty: domain.Unlimited},
	{ID: "demo-hourly", WorkflowID: demoWorkflowID, Type: domain.RepetitionAbsolute, Duration: time.Hour, Qty: 24},
	{ID: "demo-nightly", WorkflowID: demoWorkflowID, Type: domain.RepetitionCron, CronExpr: "0 2 * * *", Qty: domain.Unlimited},
}

func newSeedCmd(withStore func(context.Context, func(coord.Store) error) error) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create a demo workflow and a schedule of each repetition type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			return withStore(ctx, func(store coord.Store) error {
				repo := catalog.NewRepository(store)

				if _, err := usecase.NewWorkflowUsecase(repo).PutWorkflow(ctx, demoWorkflow); err != nil {
					return fmt.Errorf("seed workflow: %w", err)
				}

				schedules := usecase.NewScheduleUsecase(repo)
				for _, in := range demoSchedules {
					s, err := schedules.PutSchedule(ctx, in)
					if err != nil {
						return fmt.Errorf("seed schedule %s: %w", in.ID, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "schedule %s: %s\n", s.ID, s.Repetition)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded workflow %s with %d schedules\n", demoWorkflowID, len(demoSchedules))
				return nil
			})
		},
	}
}
