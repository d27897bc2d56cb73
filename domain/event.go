package domain

// Task change event types.
const (
	TaskCreated = "task-created"
	TaskUpdated = "task-updated"
	TaskDeleted = "task-deleted"
)

// TaskEvent describes a change applied to the task list. Task holds the
// state after the change and is omitted for deletions.
type TaskEvent struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	TaskID    int64  `json:"taskId"`
	Task      *Task  `json:"task,omitempty"`
	Timestamp int64  `json:"timestamp"`
}
