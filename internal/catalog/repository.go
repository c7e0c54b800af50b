// Package catalog stores workflows, schedules and execution bookkeeping as
// JSON nodes in the coordination store.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ErlanBelekov/workflow-scheduler/internal/coord"
	"github.com/ErlanBelekov/workflow-scheduler/internal/domain"
	"github.com/ErlanBelekov/workflow-scheduler/internal/repository"
)

type Repository struct {
	nodes coord.Store
}

var _ repository.CatalogRepository = (*Repository)(nil)

func NewRepository(nodes coord.Store) *Repository {
	return &Repository{nodes: nodes}
}

func (r *Repository) GetWorkflow(ctx context.Context, id domain.WorkflowID) (*domain.Workflow, error) {
	var wf domain.Workflow
	if err := r.get(ctx, coord.WorkflowKey(string(id)), &wf, domain.ErrWorkflowNotFound); err != nil {
		return nil, fmt.Errorf("get workflow %s: %w", id, err)
	}
	return &wf, nil
}

func (r *Repository) PutWorkflow(ctx context.Context, wf *domain.Workflow) error {
	if err := r.put(ctx, coord.WorkflowKey(string(wf.ID)), wf); err != nil {
		return fmt.Errorf("put workflow %s: %w", wf.ID, err)
	}
	return nil
}

func (r *Repository) GetSchedule(ctx context.Context, id domain.ScheduleID) (*domain.Schedule, error) {
	var s domain.Schedule
	if err := r.get(ctx, coord.ScheduleKey(string(id)), &s, domain.ErrScheduleNotFound); err != nil {
		return nil, fmt.Errorf("get schedule %s: %w", id, err)
	}
	return &s, nil
}

func (r *Repository) ListSchedules(ctx context.Context) ([]*domain.Schedule, error) {
	nodes, err := r.nodes.Children(ctx, coord.SchedulesPath)
	if errors.Is(err, coord.ErrNoNode) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}

	out := make([]*domain.Schedule, 0, len(nodes))
	for _, n := range nodes {
		var s domain.Schedule
		if err := json.Unmarshal(n.Data, &s); err != nil {
			return nil, fmt.Errorf("decode schedule %s: %w", n.Name(), err)
		}
		out = append(out, &s)
	}
	return out, nil
}

func (r *Repository) PutSchedule(ctx context.Context, s *domain.Schedule) error {
	if err := r.put(ctx, coord.ScheduleKey(string(s.ID)), s); err != nil {
		return fmt.Errorf("put schedule %s: %w", s.ID, err)
	}
	return nil
}

func (r *Repository) DeleteSchedule(ctx context.Context, id domain.ScheduleID) error {
	if err := r.nodes.Delete(ctx, coord.ScheduleKey(string(id))); err != nil {
		if errors.Is(err, coord.ErrNoNode) {
			return fmt.Errorf("delete schedule %s: %w", id, domain.ErrScheduleNotFound)
		}
		return fmt.Errorf("delete schedule %s: %w", id, err)
	}
	if err := r.nodes.Delete(ctx, coord.ExecutionKey(string(id))); err != nil && !errors.Is(err, coord.ErrNoNode) {
		return fmt.Errorf("delete execution %s: %w", id, err)
	}
	return nil
}

func (r *Repository) GetExecution(ctx context.Context, id domain.ScheduleID) (*domain.ScheduleExecution, error) {
	var e domain.ScheduleExecution
	if err := r.get(ctx, coord.ExecutionKey(string(id)), &e, domain.ErrExecutionNotFound); err != nil {
		return nil, fmt.Errorf("get execution %s: %w", id, err)
	}
	e.ScheduleID = id
	return &e, nil
}

func (r *Repository) InitExecution(ctx context.Context, id domain.ScheduleID) error {
	b, err := json.Marshal(domain.ScheduleExecution{ScheduleID: id})
	if err != nil {
		return fmt.Errorf("marshal execution %s: %w", id, err)
	}
	err = r.nodes.Create(ctx, coord.ExecutionKey(string(id)), b, coord.CreateParents())
	if err != nil && !errors.Is(err, coord.ErrNodeExists) {
		return fmt.Errorf("init execution %s: %w", id, err)
	}
	return nil
}

func (r *Repository) RecordExecution(ctx context.Context, e *domain.ScheduleExecution) error {
	if err := r.put(ctx, coord.ExecutionKey(string(e.ScheduleID)), e); err != nil {
		return fmt.Errorf("record execution %s: %w", e.ScheduleID, err)
	}
	return nil
}

func (r *Repository) get(ctx context.Context, p string, v any, notFound error) error {
	n, err := r.nodes.Get(ctx, p)
	if errors.Is(err, coord.ErrNoNode) {
		return notFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(n.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", p, err)
	}
	return nil
}

func (r *Repository) put(ctx context.Context, p string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return r.nodes.Put(ctx, p, b)
}
