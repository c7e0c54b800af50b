package execution

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ErlanBelekov/workflow-scheduler/internal/domain"
	"github.com/ErlanBelekov/workflow-scheduler/internal/state"
	"github.com/google/uuid"
)

// Denormalizer turns a workflow definition into the self-contained payload the
// execution engine runs from.
type Denormalizer interface {
	Denormalize(snap *state.Snapshot, scheduleID domain.ScheduleID, workflowID domain.WorkflowID, now time.Time) ([]byte, error)
}

// RunPayload is the marker body written for one execution.
type RunPayload struct {
	RunID       string            `json:"run_id"`
	ScheduleID  domain.ScheduleID `json:"schedule_id"`
	ScheduledAt time.Time         `json:"scheduled_at"`
	Workflow    domain.Workflow   `json:"workflow"`
}

type JSONDenormalizer struct{}

func (JSONDenormalizer) Denormalize(snap *state.Snapshot, scheduleID domain.ScheduleID, workflowID domain.WorkflowID, now time.Time) ([]byte, error) {
	wf, ok := snap.Workflow(workflowID)
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", workflowID, domain.ErrWorkflowNotFound)
	}
	b, err := json.Marshal(RunPayload{
		RunID:       uuid.NewString(),
		ScheduleID:  scheduleID,
		ScheduledAt: now.UTC(),
		Workflow:    wf,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal run payload: %w", err)
	}
	return b, nil
}
