package coord

import "path"

const (
	ElectionPath   = "/scheduler/leader"
	SchedulesPath  = "/schedules"
	ExecutionsPath = "/executions"
	WorkflowsPath  = "/workflows"
	RunsPath       = "/runs/schedules"
)

func ScheduleKey(id string) string { return path.Join(SchedulesPath, id) }

func ExecutionKey(id string) string { return path.Join(ExecutionsPath, id) }

func WorkflowKey(id string) string { return path.Join(WorkflowsPath, id) }

// RunKey is the execution marker path for a schedule.
func RunKey(id string) string { return path.Join(RunsPath, id) }
