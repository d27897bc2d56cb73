package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"todo-api/domain"
)

// MemoryStore keeps the task list in process memory. The list is ordered by
// creation and every operation runs under mu, so no reader observes a
// partially applied mutation.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks []domain.Task
}

// NewMemoryStore creates a store holding a copy of seed.
func NewMemoryStore(seed ...domain.Task) *MemoryStore {
	return &MemoryStore{tasks: slices.Clone(seed)}
}

// ListTasks returns all tasks in creation order.
func (s *MemoryStore) ListTasks(ctx context.Context) ([]domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Task, len(s.tasks))
	copy(out, s.tasks)
	return out, nil
}

// GetTask returns the task with the given id.
func (s *MemoryStore) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(id)
	if i < 0 {
		return domain.Task{}, notFound(id)
	}
	return s.tasks[i], nil
}

// CreateTask appends a new open task. Its id is one more than the largest id
// currently stored, or 1 when the list is empty, so the id of a deleted task
// comes back only if it was the largest.
func (s *MemoryStore) CreateTask(ctx context.Context, in domain.NewTask) (domain.Task, error) {
	if err := in.Validate(); err != nil {
		return domain.Task{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	task := domain.Task{
		ID:          s.maxID() + 1,
		Title:       in.Title,
		Description: in.Description,
	}
	s.tasks = append(s.tasks, task)
	return task, nil
}

// UpdateTask applies patch to the task with the given id and returns the
// result.
func (s *MemoryStore) UpdateTask(ctx context.Context, id int64, patch domain.TaskPatch) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return domain.Task{}, notFound(id)
	}
	patch.Apply(&s.tasks[i])
	return s.tasks[i], nil
}

// DeleteTask removes the task with the given id.
func (s *MemoryStore) DeleteTask(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return notFound(id)
	}
	s.tasks = slices.Delete(s.tasks, i, i+1)
	return nil
}

// Len returns the number of stored tasks.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// indexOf and maxID expect mu to be held.
func (s *MemoryStore) indexOf(id int64) int {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *MemoryStore) maxID() int64 {
	var highest int64
	for _, t := range s.tasks {
		if t.ID > highest {
			highest = t.ID
		}
	}
	return highest
}

func notFound(id int64) error {
	return fmt.Errorf("%w: %d", domain.ErrNotFound, id)
}
