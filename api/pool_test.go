package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"todo-api/domain"
	"todo-api/storage"
)

type recordingPublisher struct {
	mu      sync.Mutex
	events  []domain.TaskEvent
	batches []int
	err     error
	block   chan struct{}
}

func (p *recordingPublisher) PublishEvents(ctx context.Context, events []domain.TaskEvent) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, len(events))
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) Batches() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.batches...)
}

func (p *recordingPublisher) Events() []domain.TaskEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.TaskEvent, len(p.events))
	copy(out, p.events)
	return out
}

func newTestDispatcher(t *testing.T, publisher EventPublisher, cfg DispatcherConfig) *EventDispatcher {
	t.Helper()
	logger, _ := test.NewNullLogger()
	d := NewEventDispatcher(publisher, cfg, logger)
	t.Cleanup(d.Close)
	return d
}

func TestTryEnqueueJobWaitsForCapacity(t *testing.T) {
	d := &EventDispatcher{jobs: make(chan eventJob, 1), handoffTimeout: 50 * time.Millisecond}

	d.jobs <- eventJob{}

	done := make(chan bool, 1)
	go func() {
		done <- d.tryEnqueueJob(eventJob{})
	}()

	select {
	case <-done:
		t.Fatal("tryEnqueueJob returned before capacity was freed")
	case <-time.After(20 * time.Millisecond):
	}

	<-d.jobs

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("expected successful enqueue after capacity freed")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for enqueue completion")
	}
}

func TestTryEnqueueJobTimesOut(t *testing.T) {
	d := &EventDispatcher{jobs: make(chan eventJob, 1), handoffTimeout: 30 * time.Millisecond}

	d.jobs <- eventJob{}

	if d.tryEnqueueJob(eventJob{}) {
		t.Fatal("expected enqueue to fail when timeout elapsed")
	}

	select {
	case <-d.jobs:
	default:
		t.Fatal("expected channel to remain full after timeout")
	}
}

func TestTryEnqueueJobReturnsFalseWhenClosed(t *testing.T) {
	d := &EventDispatcher{jobs: make(chan eventJob), handoffTimeout: 30 * time.Millisecond}
	close(d.jobs)

	if d.tryEnqueueJob(eventJob{}) {
		t.Fatal("expected enqueue to fail when channel is closed")
	}
}

func TestTryEnqueueJobNoWaitWhenZeroTimeout(t *testing.T) {
	d := &EventDispatcher{jobs: make(chan eventJob, 1)}

	d.jobs <- eventJob{}

	if d.tryEnqueueJob(eventJob{}) {
		t.Fatal("expected enqueue to fail when buffer full and no timeout")
	}

	<-d.jobs

	if !d.tryEnqueueJob(eventJob{}) {
		t.Fatal("expected enqueue to succeed when buffer has capacity")
	}
}

func TestTryEnqueueJobConcurrentWriters(t *testing.T) {
	d := &EventDispatcher{jobs: make(chan eventJob, 2), handoffTimeout: 100 * time.Millisecond}

	d.jobs <- eventJob{}
	d.jobs <- eventJob{}

	var wg sync.WaitGroup
	wg.Add(2)
	results := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			results <- d.tryEnqueueJob(eventJob{})
		}()
	}

	time.Sleep(20 * time.Millisecond)

	<-d.jobs
	<-d.jobs

	wg.Wait()
	close(results)

	successCount := 0
	for r := range results {
		if r {
			successCount++
		}
	}

	if successCount != 2 {
		t.Fatalf("expected both enqueues to succeed after capacity freed, got %d", successCount)
	}
}

func TestEventDispatcherPublishesAndDrainsOnClose(t *testing.T) {
	publisher := &recordingPublisher{}
	d := newTestDispatcher(t, publisher, DispatcherConfig{Workers: 1, Buffer: 8})

	task := domain.Task{ID: 1, Title: "a"}
	for i := 0; i < 3; i++ {
		if !d.Dispatch(newTaskEvent(domain.TaskUpdated, task.ID, &task)) {
			t.Fatalf("dispatch %d rejected", i)
		}
	}
	d.Close()

	events := publisher.Events()
	if len(events) != 3 {
		t.Fatalf("expected 3 published events, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp <= events[i-1].Timestamp {
			t.Fatalf("expected increasing timestamps, got %d then %d", events[i-1].Timestamp, events[i].Timestamp)
		}
		if events[i].ID == events[i-1].ID {
			t.Fatalf("expected unique event ids, got %q twice", events[i].ID)
		}
	}
	if d.Dispatch(newTaskEvent(domain.TaskDeleted, 1, nil)) {
		t.Fatal("expected dispatch after close to be rejected")
	}
	if d.Dropped() != 1 {
		t.Fatalf("expected 1 dropped batch, got %d", d.Dropped())
	}
}

func TestEventDispatcherCountsPublishFailures(t *testing.T) {
	publisher := &recordingPublisher{err: errors.New("queue unavailable")}
	d := newTestDispatcher(t, publisher, DispatcherConfig{Workers: 2, Buffer: 4, MaxBatch: 1})

	d.Dispatch(newTaskEvent(domain.TaskDeleted, 1, nil))
	d.Dispatch(newTaskEvent(domain.TaskDeleted, 2, nil))
	d.Close()

	if d.Failed() != 2 {
		t.Fatalf("expected 2 failed batches, got %d", d.Failed())
	}
}

func TestCollectBatchDrainsBufferedJobs(t *testing.T) {
	d := &EventDispatcher{jobs: make(chan eventJob, 4), maxBatch: 3}
	for i := int64(2); i <= 4; i++ {
		d.jobs <- eventJob{events: []domain.TaskEvent{{TaskID: i}}}
	}

	batch := d.collectBatch(eventJob{events: []domain.TaskEvent{{TaskID: 1}}})
	if len(batch) != 3 {
		t.Fatalf("expected batch of 3, got %d", len(batch))
	}
	for i, ev := range batch {
		if ev.TaskID != int64(i+1) {
			t.Fatalf("expected dispatch order, got %+v", batch)
		}
	}
	if len(d.jobs) != 1 {
		t.Fatalf("expected one job left in the buffer, got %d", len(d.jobs))
	}
}

func TestCollectBatchDoesNotWaitForMore(t *testing.T) {
	d := &EventDispatcher{jobs: make(chan eventJob, 1), maxBatch: 8}

	done := make(chan []domain.TaskEvent, 1)
	go func() {
		done <- d.collectBatch(eventJob{events: []domain.TaskEvent{{TaskID: 1}}})
	}()
	select {
	case batch := <-done:
		if len(batch) != 1 {
			t.Fatalf("expected batch of 1, got %d", len(batch))
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("collectBatch blocked on an empty buffer")
	}
}

func TestEventDispatcherPublishesBurstAsBatch(t *testing.T) {
	publisher := &recordingPublisher{block: make(chan struct{})}
	d := newTestDispatcher(t, publisher, DispatcherConfig{Workers: 1, Buffer: 16, MaxBatch: 8})

	for i := int64(1); i <= 6; i++ {
		if !d.Dispatch(newTaskEvent(domain.TaskDeleted, i, nil)) {
			t.Fatalf("dispatch %d rejected", i)
		}
	}
	close(publisher.block)
	d.Close()

	events := publisher.Events()
	if len(events) != 6 {
		t.Fatalf("expected 6 published events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.TaskID != int64(i+1) {
			t.Fatalf("expected a single worker to keep dispatch order, got %+v", events)
		}
	}
	batches := publisher.Batches()
	if len(batches) >= 6 {
		t.Fatalf("expected buffered events to be batched, got batch sizes %v", batches)
	}
	for _, n := range batches {
		if n > 8 {
			t.Fatalf("batch of %d exceeds the cap, sizes %v", n, batches)
		}
	}
}

func TestEventDispatcherDropsWhenSaturated(t *testing.T) {
	publisher := &recordingPublisher{block: make(chan struct{})}
	d := newTestDispatcher(t, publisher, DispatcherConfig{Workers: 1, Buffer: 0, HandoffTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { close(publisher.block) })

	// the single worker takes the first batch and blocks in the publisher
	if !d.Dispatch(newTaskEvent(domain.TaskDeleted, 1, nil)) {
		t.Fatal("expected first dispatch to reach the worker")
	}
	if d.Dispatch(newTaskEvent(domain.TaskDeleted, 2, nil)) {
		t.Fatal("expected dispatch to be dropped while the worker is busy")
	}
	if d.Dropped() != 1 {
		t.Fatalf("expected 1 dropped batch, got %d", d.Dropped())
	}
}

func TestNilEventDispatcherAcceptsNothing(t *testing.T) {
	var d *EventDispatcher
	if d.Dispatch(newTaskEvent(domain.TaskDeleted, 1, nil)) {
		t.Fatal("expected nil dispatcher to reject events")
	}
	d.Close()
}

func TestDispatcherConfigFromEnv(t *testing.T) {
	t.Setenv("EVENT_WORKERS", "7")
	t.Setenv("EVENT_BUFFER", "bogus")
	t.Setenv("EVENT_TIMEOUT", "2s")

	cfg := DispatcherConfigFromEnv()
	if cfg.Workers != 7 {
		t.Fatalf("expected 7 workers, got %d", cfg.Workers)
	}
	if cfg.Buffer != 1024 {
		t.Fatalf("expected default buffer for invalid value, got %d", cfg.Buffer)
	}
	if cfg.EnqueueTimeout != 2*time.Second {
		t.Fatalf("expected 2s timeout, got %v", cfg.EnqueueTimeout)
	}
	if cfg.HandoffTimeout != 15*time.Millisecond {
		t.Fatalf("expected default handoff timeout, got %v", cfg.HandoffTimeout)
	}
	if cfg.MaxBatch != defaultMaxBatch {
		t.Fatalf("expected default batch size, got %d", cfg.MaxBatch)
	}
}

func TestHandlersDispatchTaskEvents(t *testing.T) {
	publisher := &recordingPublisher{}
	d := newTestDispatcher(t, publisher, DispatcherConfig{Workers: 1, Buffer: 16})
	e := newTestServer(t, storage.NewMemoryStore(domain.DefaultTasks()...), Config{Events: d})

	requests := []struct {
		method string
		target string
		body   string
		status int
	}{
		{http.MethodPost, tasksPath, `{"title":"Read a book"}`, http.StatusCreated},
		{http.MethodPut, tasksPath + "/3", `{"done":true}`, http.StatusOK},
		{http.MethodPut, tasksPath + "/3", `{}`, http.StatusOK},
		{http.MethodPut, tasksPath + "/3", `{"done":1}`, http.StatusBadRequest},
		{http.MethodDelete, tasksPath + "/3", "", http.StatusOK},
		{http.MethodDelete, tasksPath + "/3", "", http.StatusNotFound},
		{http.MethodGet, tasksPath, "", http.StatusOK},
	}
	for _, r := range requests {
		if rec := doRequest(e, r.method, r.target, r.body); rec.Code != r.status {
			t.Fatalf("%s %s: expected status %d got %d", r.method, r.target, r.status, rec.Code)
		}
	}
	d.Close()

	events := publisher.Events()
	wantTypes := []string{domain.TaskCreated, domain.TaskUpdated, domain.TaskDeleted}
	if len(events) != len(wantTypes) {
		t.Fatalf("expected %d events, got %d: %+v", len(wantTypes), len(events), events)
	}
	for i, want := range wantTypes {
		if events[i].Type != want || events[i].TaskID != 3 {
			t.Fatalf("event %d: expected %s for task 3, got %+v", i, want, events[i])
		}
	}
	if events[0].Task == nil || events[0].Task.Title != "Read a book" {
		t.Fatalf("expected create snapshot, got %+v", events[0].Task)
	}
	if events[1].Task == nil || !events[1].Task.Done {
		t.Fatalf("expected update snapshot with done=true, got %+v", events[1].Task)
	}
	if events[2].Task != nil {
		t.Fatalf("expected no snapshot on delete, got %+v", events[2].Task)
	}
}
