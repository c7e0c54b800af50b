package repository

import (
	"context"

	"github.com/ErlanBelekov/workflow-scheduler/internal/domain"
)

// CatalogRepository is the admin write path into the coordination store.
// The scheduler itself only reads the catalog through the state cache.
type CatalogRepository interface {
	GetWorkflow(ctx context.Context, id domain.WorkflowID) (*domain.Workflow, error)
	PutWorkflow(ctx context.Context, wf *domain.Workflow) error

	GetSchedule(ctx context.Context, id domain.ScheduleID) (*domain.Schedule, error)
	ListSchedules(ctx context.Context) ([]*domain.Schedule, error)
	PutSchedule(ctx context.Context, s *domain.Schedule) error
	// DeleteSchedule removes the schedule and its execution bookkeeping.
	DeleteSchedule(ctx context.Context, id domain.ScheduleID) error

	GetExecution(ctx context.Context, id domain.ScheduleID) (*domain.ScheduleExecution, error)
	// InitExecution writes empty bookkeeping unless some already exists.
	InitExecution(ctx context.Context, id domain.ScheduleID) error
	RecordExecution(ctx context.Context, e *domain.ScheduleExecution) error
}
