package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ErlanBelekov/workflow-scheduler/internal/domain"
	"github.com/ErlanBelekov/workflow-scheduler/internal/repository"
	"github.com/ErlanBelekov/workflow-scheduler/internal/scheduler"
	"github.com/ErlanBelekov/workflow-scheduler/internal/state"
)

type ScheduleUsecase struct {
	repo repository.CatalogRepository
}

func NewScheduleUsecase(repo repository.CatalogRepository) *ScheduleUsecase {
	return &ScheduleUsecase{repo: repo}
}

type PutScheduleInput struct {
	ID         string
	WorkflowID string
	Type       domain.RepetitionType
	Duration   time.Duration
	CronExpr   string
	Qty        int
}

// PutSchedule creates or replaces a schedule. A new schedule also gets empty
// execution bookkeeping so the scheduler treats it as never run; a replaced
// one keeps its history.
func (u *ScheduleUsecase) PutSchedule(ctx context.Context, input PutScheduleInput) (*domain.Schedule, error) {
	if err := domain.ValidateID(input.ID); err != nil {
		return nil, err
	}
	if err := domain.ValidateID(input.WorkflowID); err != nil {
		return nil, err
	}

	var (
		rep domain.Repetition
		err error
	)
	if input.Type == domain.RepetitionCron {
		rep, err = domain.NewCronRepetition(input.CronExpr, input.Qty)
	} else {
		rep, err = domain.NewRepetition(input.Duration, input.Type, input.Qty)
	}
	if err != nil {
		return nil, err
	}

	if _, err := u.repo.GetWorkflow(ctx, domain.WorkflowID(input.WorkflowID)); err != nil {
		return nil, err
	}

	s := &domain.Schedule{
		ID:         domain.ScheduleID(input.ID),
		WorkflowID: domain.WorkflowID(input.WorkflowID),
		Repetition: rep,
	}
	if err := u.repo.PutSchedule(ctx, s); err != nil {
		return nil, fmt.Errorf("put schedule: %w", err)
	}
	if err := u.repo.InitExecution(ctx, s.ID); err != nil {
		return nil, fmt.Errorf("init execution: %w", err)
	}
	return s, nil
}

func (u *ScheduleUsecase) DeleteSchedule(ctx context.Context, id string) error {
	if err := domain.ValidateID(id); err != nil {
		return err
	}
	if err := u.repo.DeleteSchedule(ctx, domain.ScheduleID(id)); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return nil
}

// RecordExecution bumps a schedule's bookkeeping for a run that started at
// startedAt. It is the write an execution engine makes when it picks up a
// marker; bookkeeping that is missing starts from zero.
func (u *ScheduleUsecase) RecordExecution(ctx context.Context, id string, startedAt time.Time) (*domain.ScheduleExecution, error) {
	if err := domain.ValidateID(id); err != nil {
		return nil, err
	}
	sid := domain.ScheduleID(id)
	if _, err := u.repo.GetSchedule(ctx, sid); err != nil {
		return nil, err
	}

	e, err := u.repo.GetExecution(ctx, sid)
	switch {
	case errors.Is(err, domain.ErrExecutionNotFound):
		e = &domain.ScheduleExecution{ScheduleID: sid}
	case err != nil:
		return nil, err
	}

	e.ExecutionCount++
	e.LastExecutionStart = startedAt.UTC()
	if err := u.repo.RecordExecution(ctx, e); err != nil {
		return nil, fmt.Errorf("record execution: %w", err)
	}
	return e, nil
}

type ScheduleStatus struct {
	Schedule      domain.Schedule
	LastExecution *domain.ScheduleExecution
	Due           bool
}

// Statuses reports every schedule in snap with the decision the scheduling
// loop would take at now, ordered by id.
func (u *ScheduleUsecase) Statuses(snap *state.Snapshot, now time.Time) []ScheduleStatus {
	out := make([]ScheduleStatus, 0, len(snap.Schedules))
	for _, id := range snap.ScheduleIDs() {
		s, _ := snap.Schedule(id)
		st := ScheduleStatus{Schedule: s}
		if e, ok := snap.Execution(id); ok {
			st.LastExecution = &e
			st.Due = scheduler.ShouldExecuteNow(s, &e, now)
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Schedule.ID < out[j].Schedule.ID })
	return out
}
