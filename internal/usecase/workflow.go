package usecase

import (
	"context"
	"fmt"

	"github.com/ErlanBelekov/workflow-scheduler/internal/domain"
	"github.com/ErlanBelekov/workflow-scheduler/internal/repository"
)

type WorkflowUsecase struct {
	repo repository.CatalogRepository
}

func NewWorkflowUsecase(repo repository.CatalogRepository) *WorkflowUsecase {
	return &WorkflowUsecase{repo: repo}
}

type TaskInput struct {
	ID       string
	Type     string
	ModeCode int
	Payload  map[string]any
	ChildIDs []string
}

type PutWorkflowInput struct {
	ID    string
	Name  string
	Tasks []TaskInput
}

func (u *WorkflowUsecase) PutWorkflow(ctx context.Context, input PutWorkflowInput) (*domain.Workflow, error) {
	if err := domain.ValidateID(input.ID); err != nil {
		return nil, err
	}

	wf := &domain.Workflow{
		ID:    domain.WorkflowID(input.ID),
		Name:  input.Name,
		Tasks: make([]domain.Task, 0, len(input.Tasks)),
	}

	seen := make(map[string]struct{}, len(input.Tasks))
	for _, t := range input.Tasks {
		if t.ID == "" {
			return nil, fmt.Errorf("%w: task without id", domain.ErrInvalidWorkflow)
		}
		if _, dup := seen[t.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate task %q", domain.ErrInvalidWorkflow, t.ID)
		}
		seen[t.ID] = struct{}{}
	}

	for _, t := range input.Tasks {
		mode, err := domain.TaskModeFromCode(t.ModeCode)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", t.ID, err)
		}
		children := make([]domain.TaskID, 0, len(t.ChildIDs))
		for _, c := range t.ChildIDs {
			if _, ok := seen[c]; !ok {
				return nil, fmt.Errorf("%w: task %q references unknown child %q", domain.ErrInvalidWorkflow, t.ID, c)
			}
			children = append(children, domain.TaskID(c))
		}
		wf.Tasks = append(wf.Tasks, domain.Task{
			ID:       domain.TaskID(t.ID),
			Type:     t.Type,
			Mode:     mode,
			Payload:  t.Payload,
			ChildIDs: children,
		})
	}

	if err := u.repo.PutWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("put workflow: %w", err)
	}
	return wf, nil
}
