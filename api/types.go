package api

import (
	"context"

	"todo-api/domain"
)

// Storage is the task repository used by the handlers.
type Storage interface {
	ListTasks(ctx context.Context) ([]domain.Task, error)
	GetTask(ctx context.Context, id int64) (domain.Task, error)
	CreateTask(ctx context.Context, in domain.NewTask) (domain.Task, error)
	UpdateTask(ctx context.Context, id int64, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, id int64) error
}

// Authenticator decides whether an Authorization header grants access.
type Authenticator interface {
	Authorize(header string) error
}

// IdempotencyStore remembers which task a create request produced.
type IdempotencyStore interface {
	// Claim reserves key. It returns true when the caller owns the key; otherwise
	// taskID is the task recorded for it, or 0 while the owner is still running.
	Claim(ctx context.Context, key string) (claimed bool, taskID int64, err error)
	// Complete records the task created under a claimed key.
	Complete(ctx context.Context, key string, taskID int64) error
	// Release drops a claimed key after a failed create so it may be retried.
	Release(ctx context.Context, key string) error
}

// EventPublisher delivers task change events downstream.
type EventPublisher interface {
	PublishEvents(ctx context.Context, events []domain.TaskEvent) error
}
