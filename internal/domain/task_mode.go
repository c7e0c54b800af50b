package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownTaskMode = errors.New("unknown task mode")

// TaskMode tags a task for the executor's dispatch ordering. The scheduler only carries it.
type TaskMode int

const (
	TaskModeStandard TaskMode = 0
	TaskModeDelay    TaskMode = 1
	TaskModePriority TaskMode = 2
)

var taskModeNames = map[TaskMode]string{
	TaskModeStandard: "STANDARD",
	TaskModeDelay:    "DELAY",
	TaskModePriority: "PRIORITY",
}

func TaskModeFromCode(code int) (TaskMode, error) {
	m := TaskMode(code)
	if _, ok := taskModeNames[m]; !ok {
		return 0, fmt.Errorf("%w: code %d", ErrUnknownTaskMode, code)
	}
	return m, nil
}

func (m TaskMode) Code() int { return int(m) }

func (m TaskMode) String() string {
	if name, ok := taskModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("TaskMode(%d)", int(m))
}

func (m TaskMode) MarshalJSON() ([]byte, error) {
	if _, ok := taskModeNames[m]; !ok {
		return nil, fmt.Errorf("%w: code %d", ErrUnknownTaskMode, int(m))
	}
	return json.Marshal(int(m))
}

func (m *TaskMode) UnmarshalJSON(b []byte) error {
	var code int
	if err := json.Unmarshal(b, &code); err != nil {
		return err
	}
	parsed, err := TaskModeFromCode(code)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
