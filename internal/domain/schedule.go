package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrScheduleNotFound  = errors.New("schedule not found")
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrExecutionNotFound = errors.New("execution bookkeeping not found")
	ErrInvalidRepetition = errors.New("invalid repetition")
	ErrInvalidCronExpr   = errors.New("invalid cron expression")
	ErrInvalidID         = errors.New("invalid id")
	ErrInvalidWorkflow   = errors.New("invalid workflow")
)

type ScheduleID string

type WorkflowID string

type TaskID string

// Schedule is a standing definition of a recurring workflow trigger.
// It is replaced wholesale, never mutated in place.
type Schedule struct {
	ID         ScheduleID `json:"schedule_id"`
	WorkflowID WorkflowID `json:"workflow_id"`
	Repetition Repetition `json:"repetition"`
}

// ScheduleExecution is the bookkeeping of the most recent execution of a schedule.
// A zero LastExecutionStart with ExecutionCount 0 means the schedule was initialised
// but has never fired.
type ScheduleExecution struct {
	ScheduleID         ScheduleID `json:"schedule_id"`
	LastExecutionStart time.Time  `json:"last_execution_start"`
	ExecutionCount     int        `json:"execution_count"`
}

func (e ScheduleExecution) Started() bool {
	return e.ExecutionCount > 0
}

type Workflow struct {
	ID    WorkflowID `json:"workflow_id"`
	Name  string     `json:"name"`
	Tasks []Task     `json:"tasks"`
}

type Task struct {
	ID       TaskID         `json:"task_id"`
	Type     string         `json:"type"`
	Mode     TaskMode       `json:"mode"`
	Payload  map[string]any `json:"payload,omitempty"`
	ChildIDs []TaskID       `json:"child_ids,omitempty"`
}

// ValidateID checks that id can be used as a single coordination-store path segment.
func ValidateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, "/\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
