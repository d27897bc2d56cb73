package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"todo-api/domain"
)

const (
	defaultQueueConcurrency = 4
	queueAlreadyExists      = "QueueAlreadyExists"
)

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
	Create(ctx context.Context, o *azqueue.CreateOptions) (azqueue.CreateResponse, error)
}

// EventQueue publishes task change events to an Azure Storage queue.
type EventQueue struct {
	queue            queueClient
	queueConcurrency int
}

// NewEventQueue creates an EventQueue from the given connection string.
// concurrency bounds the number of messages sent in parallel per batch.
func NewEventQueue(connStr, queueName string, concurrency int) (*EventQueue, error) {
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = defaultQueueConcurrency
	}
	return &EventQueue{queue: q, queueConcurrency: concurrency}, nil
}

// EnsureQueue creates the queue unless it already exists.
func (q *EventQueue) EnsureQueue(ctx context.Context) error {
	_, err := q.queue.Create(ctx, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if !(errors.As(err, &respErr) && respErr.ErrorCode == queueAlreadyExists) {
			return err
		}
	}
	return nil
}

// PublishEvents sends each event as its own queue message. The first send
// error is returned once all in-flight sends have finished.
func (q *EventQueue) PublishEvents(ctx context.Context, events []domain.TaskEvent) error {
	if len(events) == 0 {
		return nil
	}
	if q.queueConcurrency <= 1 || len(events) == 1 {
		for _, ev := range events {
			if err := q.publish(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, q.queueConcurrency)
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	for _, ev := range events {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(ev domain.TaskEvent) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := q.publish(ctx, ev); err != nil {
				errOnce.Do(func() {
					firstErr = err
					cancel()
				})
			}
		}(ev)
	}
	wg.Wait()
	return firstErr
}

func (q *EventQueue) publish(ctx context.Context, ev domain.TaskEvent) error {
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	_, err = q.queue.EnqueueMessage(ctx, data, nil)
	return err
}

func encodeEvent(ev domain.TaskEvent) (string, error) {
	return sonic.ConfigStd.MarshalToString(ev)
}
