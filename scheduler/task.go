package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskPending      TaskStatus = "pending"
	TaskPlanning     TaskStatus = "planning"
	TaskExecuting    TaskStatus = "executing"
	TaskSynthesizing TaskStatus = "synthesizing"
	TaskCompleted    TaskStatus = "completed"
	TaskFailed       TaskStatus = "failed"
)

type SubtaskStatus string

const (
	SubtaskPending     SubtaskStatus = "pending"
	SubtaskDispatching SubtaskStatus = "dispatching"
	SubtaskExecuting   SubtaskStatus = "executing"
	SubtaskReviewing   SubtaskStatus = "reviewing"
	SubtaskCompleted   SubtaskStatus = "completed"
	SubtaskFailed      SubtaskStatus = "failed"
)

// Terminal reports whether a subtask can no longer change state.
func (s SubtaskStatus) Terminal() bool {
	return s == SubtaskCompleted || s == SubtaskFailed
}

// Subtask is one node of a task's dependency graph. Owned by its Task;
// mutated only by the scheduler; immutable once terminal.
type Subtask struct {
	ID          string        `json:"id"`
	Description string        `json:"description"`
	AgentType   string        `json:"agent_type"`
	DependsOn   []string      `json:"depends_on,omitempty"`
	Status      SubtaskStatus `json:"status"`
	Result      string        `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// Task is the in-memory execution view of one orchestrated unit of work.
type Task struct {
	mu sync.Mutex

	ID          string     `json:"id"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	Subtasks    []*Subtask `json:"subtasks"`
	Plan        *Plan      `json:"plan,omitempty"`
	FinalResult string     `json:"final_result,omitempty"`
	Error       string     `json:"error,omitempty"`
	Log         []string   `json:"log"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func NewTask(description string) *Task {
	return &Task{
		ID:          uuid.New().String(),
		Description: description,
		Status:      TaskPending,
		CreatedAt:   time.Now().UTC(),
	}
}

// AddLog appends a timestamped line to the task's log.
func (t *Task) AddLog(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	line := fmt.Sprintf("[%s] %s", time.Now().UTC().Format("15:04:05"), fmt.Sprintf(format, args...))
	t.Log = append(t.Log, line)
}

// Snapshot returns a copy safe to serialize while the scheduler runs.
func (t *Task) Snapshot() Task {
	t.mu.Lock()
	defer t.mu.Unlock()

	copied := Task{
		ID:          t.ID,
		Description: t.Description,
		Status:      t.Status,
		Plan:        t.Plan,
		FinalResult: t.FinalResult,
		Error:       t.Error,
		CreatedAt:   t.CreatedAt,
		CompletedAt: t.CompletedAt,
	}
	copied.Log = append([]string(nil), t.Log...)
	for _, st := range t.Subtasks {
		stCopy := *st
		copied.Subtasks = append(copied.Subtasks, &stCopy)
	}
	return copied
}

func (t *Task) setStatus(status TaskStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Status = status
	if status == TaskCompleted || status == TaskFailed {
		now := time.Now().UTC()
		t.CompletedAt = &now
	}
}

// Subtask looks up a subtask by id.
func (t *Task) Subtask(id string) *Subtask {
	for _, st := range t.Subtasks {
		if st.ID == id {
			return st
		}
	}
	return nil
}
