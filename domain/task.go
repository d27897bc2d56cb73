package domain

import "fmt"

// Task represents a single item on the task list.
type Task struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Done        bool   `json:"done"`
}

// NewTask carries the client supplied fields of a task being created.
type NewTask struct {
	Title       string
	Description string
}

// Validate reports whether the task can be created.
func (n NewTask) Validate() error {
	if n.Title == "" {
		return fmt.Errorf("%w: title must not be empty", ErrInvalidInput)
	}
	return nil
}

// TaskPatch holds the fields of a partial update. Nil fields are left unchanged.
type TaskPatch struct {
	Title       *string
	Description *string
	Done        *bool
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Done == nil
}

// Apply copies the supplied fields onto t. The task id is never touched.
func (p TaskPatch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Done != nil {
		t.Done = *p.Done
	}
}

// DefaultTasks returns the tasks a fresh list starts with.
func DefaultTasks() []Task {
	return []Task{
		{
			ID:          1,
			Title:       "Buy groceries",
			Description: "Milk, Cheese, Pizza, Fruits, Meat",
		},
		{
			ID:          2,
			Title:       "Learn Python",
			Description: "Need to find a good Python tutorial on the web",
		},
	}
}
