package state

import (
	"encoding/json"
	"fmt"

	"github.com/ErlanBelekov/workflow-scheduler/internal/coord"
	"github.com/ErlanBelekov/workflow-scheduler/internal/domain"
)

// Snapshot is an immutable view of the catalog. The cache never mutates a
// published snapshot; callers must not mutate the maps either.
type Snapshot struct {
	Schedules  map[domain.ScheduleID]domain.Schedule
	Executions map[domain.ScheduleID]domain.ScheduleExecution
	Workflows  map[domain.WorkflowID]domain.Workflow
	// Revision increases by one for every published snapshot.
	Revision uint64
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Schedules:  make(map[domain.ScheduleID]domain.Schedule),
		Executions: make(map[domain.ScheduleID]domain.ScheduleExecution),
		Workflows:  make(map[domain.WorkflowID]domain.Workflow),
	}
}

func (s *Snapshot) Schedule(id domain.ScheduleID) (domain.Schedule, bool) {
	v, ok := s.Schedules[id]
	return v, ok
}

func (s *Snapshot) Execution(id domain.ScheduleID) (domain.ScheduleExecution, bool) {
	v, ok := s.Executions[id]
	return v, ok
}

func (s *Snapshot) Workflow(id domain.WorkflowID) (domain.Workflow, bool) {
	v, ok := s.Workflows[id]
	return v, ok
}

// ScheduleIDs returns the schedule keys. Order is unspecified.
func (s *Snapshot) ScheduleIDs() []domain.ScheduleID {
	ids := make([]domain.ScheduleID, 0, len(s.Schedules))
	for id := range s.Schedules {
		ids = append(ids, id)
	}
	return ids
}

func (s *Snapshot) clone() *Snapshot {
	next := &Snapshot{
		Schedules:  make(map[domain.ScheduleID]domain.Schedule, len(s.Schedules)),
		Executions: make(map[domain.ScheduleID]domain.ScheduleExecution, len(s.Executions)),
		Workflows:  make(map[domain.WorkflowID]domain.Workflow, len(s.Workflows)),
		Revision:   s.Revision + 1,
	}
	for k, v := range s.Schedules {
		next.Schedules[k] = v
	}
	for k, v := range s.Executions {
		next.Executions[k] = v
	}
	for k, v := range s.Workflows {
		next.Workflows[k] = v
	}
	return next
}

// apply decodes n into the map that owns its parent path. Unknown parents are ignored.
func (s *Snapshot) apply(n coord.Node) error {
	name := n.Name()
	switch {
	case coord.IsChild(coord.SchedulesPath, n.Path):
		var v domain.Schedule
		if err := json.Unmarshal(n.Data, &v); err != nil {
			return fmt.Errorf("decode schedule %s: %w", name, err)
		}
		if v.ID == "" {
			v.ID = domain.ScheduleID(name)
		}
		if string(v.ID) != name {
			return fmt.Errorf("decode schedule %s: id %q does not match node", name, v.ID)
		}
		s.Schedules[v.ID] = v
	case coord.IsChild(coord.ExecutionsPath, n.Path):
		var v domain.ScheduleExecution
		if err := json.Unmarshal(n.Data, &v); err != nil {
			return fmt.Errorf("decode execution %s: %w", name, err)
		}
		v.ScheduleID = domain.ScheduleID(name)
		s.Executions[v.ScheduleID] = v
	case coord.IsChild(coord.WorkflowsPath, n.Path):
		var v domain.Workflow
		if err := json.Unmarshal(n.Data, &v); err != nil {
			return fmt.Errorf("decode workflow %s: %w", name, err)
		}
		if v.ID == "" {
			v.ID = domain.WorkflowID(name)
		}
		if string(v.ID) != name {
			return fmt.Errorf("decode workflow %s: id %q does not match node", name, v.ID)
		}
		s.Workflows[v.ID] = v
	}
	return nil
}

func (s *Snapshot) remove(p string) {
	name := domain.ScheduleID(pathName(p))
	switch {
	case coord.IsChild(coord.SchedulesPath, p):
		delete(s.Schedules, name)
	case coord.IsChild(coord.ExecutionsPath, p):
		delete(s.Executions, name)
	case coord.IsChild(coord.WorkflowsPath, p):
		delete(s.Workflows, domain.WorkflowID(name))
	}
}

func tracked(p string) bool {
	return coord.IsChild(coord.SchedulesPath, p) ||
		coord.IsChild(coord.ExecutionsPath, p) ||
		coord.IsChild(coord.WorkflowsPath, p)
}

func pathName(p string) string { return coord.Node{Path: p}.Name() }
