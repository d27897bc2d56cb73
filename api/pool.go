package api

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"todo-api/domain"
)

const defaultMaxBatch = 32

type eventJob struct {
	events []domain.TaskEvent
}

// DispatcherConfig sizes the event worker pool.
type DispatcherConfig struct {
	Workers        int
	Buffer         int
	EnqueueTimeout time.Duration
	HandoffTimeout time.Duration
	// MaxBatch caps how many events a worker hands to one PublishEvents call.
	MaxBatch int
}

// DispatcherConfigFromEnv reads EVENT_WORKERS, EVENT_BUFFER, EVENT_TIMEOUT,
// EVENT_HANDOFF_TIMEOUT and EVENT_BATCH.
func DispatcherConfigFromEnv() DispatcherConfig {
	return DispatcherConfig{
		Workers:        envInt("EVENT_WORKERS", 4),
		Buffer:         envInt("EVENT_BUFFER", 1024),
		EnqueueTimeout: envDur("EVENT_TIMEOUT", 30*time.Second),
		HandoffTimeout: envDur("EVENT_HANDOFF_TIMEOUT", 15*time.Millisecond),
		MaxBatch:       envInt("EVENT_BATCH", defaultMaxBatch),
	}
}

// EventDispatcher hands task change events to a publisher on a bounded pool
// of workers. Requests never wait longer than the handoff timeout; events that
// cannot be queued in time are dropped.
//
// Delivery order is not guaranteed. With more than one worker, batches are
// published concurrently, so an update may reach the queue before the create
// of the same task. Consumers order events by TaskEvent.Timestamp, which is
// strictly increasing across the process. A single worker publishes in
// dispatch order.
type EventDispatcher struct {
	publisher      EventPublisher
	logger         *log.Logger
	jobs           chan eventJob
	enqueueTimeout time.Duration
	handoffTimeout time.Duration
	maxBatch       int

	workerWG  sync.WaitGroup
	closeOnce sync.Once
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// NewEventDispatcher starts the workers.
func NewEventDispatcher(publisher EventPublisher, cfg DispatcherConfig, logger *log.Logger) *EventDispatcher {
	if publisher == nil {
		panic("event publisher is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 30 * time.Second
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}

	d := &EventDispatcher{
		publisher:      publisher,
		logger:         logger,
		jobs:           make(chan eventJob, cfg.Buffer),
		enqueueTimeout: cfg.EnqueueTimeout,
		handoffTimeout: cfg.HandoffTimeout,
		maxBatch:       cfg.MaxBatch,
	}
	for i := 0; i < cfg.Workers; i++ {
		d.workerWG.Add(1)
		go d.worker(i)
	}
	logger.Infof("event dispatcher started, workers: %d, buffer: %d, batch: %d, timeout: %v, handoff: %v", cfg.Workers, cfg.Buffer, cfg.MaxBatch, cfg.EnqueueTimeout, cfg.HandoffTimeout)
	return d
}

func (d *EventDispatcher) worker(id int) {
	defer d.workerWG.Done()
	for j := range d.jobs {
		events := d.collectBatch(j)
		ctx, cancel := context.WithTimeout(context.Background(), d.enqueueTimeout)
		err := d.publisher.PublishEvents(ctx, events)
		cancel()

		if err != nil {
			d.failed.Add(1)
			d.logger.Errorf("publish events failed, err: %v, count: %d, worker: %d", err, len(events), id)
		}
	}
}

// collectBatch appends the events of jobs already waiting in the buffer to
// those of first, without blocking, until maxBatch events are gathered.
func (d *EventDispatcher) collectBatch(first eventJob) []domain.TaskEvent {
	events := slices.Clip(first.events)
	for len(events) < d.maxBatch {
		select {
		case j, ok := <-d.jobs:
			if !ok {
				return events
			}
			events = append(events, j.events...)
		default:
			return events
		}
	}
	return events
}

// Dispatch queues events for delivery and reports whether they were accepted.
// A nil dispatcher accepts nothing.
func (d *EventDispatcher) Dispatch(events ...domain.TaskEvent) bool {
	if d == nil || len(events) == 0 {
		return false
	}
	if d.tryEnqueueJob(eventJob{events: events}) {
		return true
	}
	d.dropped.Add(1)
	d.logger.WithField("count", len(events)).Warn("event buffer saturated; dropping task events")
	return false
}

// Dropped returns how many batches could not be queued.
func (d *EventDispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Failed returns how many publish calls the publisher rejected.
func (d *EventDispatcher) Failed() uint64 {
	return d.failed.Load()
}

// Close stops accepting events and waits for queued ones to be published.
func (d *EventDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		close(d.jobs)
		d.workerWG.Wait()
	})
}

func (d *EventDispatcher) tryEnqueueJob(job eventJob) bool {
	if ok, closed := trySendNonBlocking(d.jobs, job); closed {
		return false
	} else if ok {
		return true
	}

	if d.handoffTimeout <= 0 {
		return false
	}

	timer := time.NewTimer(d.handoffTimeout)
	defer timer.Stop()

	ok, closed := sendWithTimer(d.jobs, job, timer.C)
	if closed {
		return false
	}
	return ok
}

func trySendNonBlocking(ch chan eventJob, job eventJob) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- job:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan eventJob, job eventJob, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- job:
		return true, false
	case <-timer:
		return false, false
	}
}

func newTaskEvent(eventType string, id int64, task *domain.Task) domain.TaskEvent {
	return domain.TaskEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		TaskID:    id,
		Task:      task,
		Timestamp: nextTimestamp(),
	}
}
