package schema

// TaskStatus enumerates task lifecycle states within a loop step.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task is one unit of work inside a loop step. Tasks are created by the
// caller via SetTasks and mutated only by the machine's own advancement
// (pending -> in_progress -> done).
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	DependsOn   []string   `json:"depends_on,omitempty"`
	Status      TaskStatus `json:"status"`
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	cp := t
	cp.DependsOn = append([]string(nil), t.DependsOn...)
	return cp
}

// TaskContext identifies the active task while a loop step is iterating.
type TaskContext struct {
	Index int    `json:"index"`
	ID    string `json:"id"`
	Title string `json:"title"`
}
