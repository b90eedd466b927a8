package storefront

import (
	"context"
	"errors"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"goflare.io/storefront/cart"
)

const defaultQueueSize = 1000

// ErrQueueFull is returned when an event cannot be queued. The gateway should
// redeliver it later.
var ErrQueueFull = errors.New("storefront: event queue full")

type EventProcessor interface {
	ProcessEvent(ctx context.Context, event *stripe.Event) error
}

var _ cart.Dispatcher = (*WorkerPool)(nil)

// WorkerPool runs tasks on a fixed set of workers. Tasks sharing a key land on
// the same worker and run in submission order.
type WorkerPool struct {
	shards    []chan func()
	logger    *zap.Logger
	processor EventProcessor

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewWorkerPool(size int, processor EventProcessor, logger *zap.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	perShard := defaultQueueSize / size
	if perShard < 1 {
		perShard = 1
	}

	wp := &WorkerPool{
		shards:    make([]chan func(), size),
		logger:    logger,
		processor: processor,
	}
	for i := range wp.shards {
		wp.shards[i] = make(chan func(), perShard)
		wp.wg.Add(1)
		go wp.worker(wp.shards[i])
	}

	return wp
}

// SetProcessor wires the event processor after construction, since the
// processor usually needs the pool itself.
func (wp *WorkerPool) SetProcessor(processor EventProcessor) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.processor = processor
}

func (wp *WorkerPool) worker(tasks chan func()) {
	defer wp.wg.Done()
	for task := range tasks {
		wp.run(task)
	}
}

func (wp *WorkerPool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error("Worker task panicked", zap.Any("panic", r))
		}
	}()
	task()
}

// Dispatch queues task on key's shard. It reports false when the queue is full
// or the pool is shut down; the task is dropped in that case.
func (wp *WorkerPool) Dispatch(key string, task func()) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.closed {
		return false
	}

	select {
	case wp.shards[wp.shard(key)] <- task:
		return true
	default:
		return false
	}
}

// Submit queues a gateway event. Events for the same object stay in order.
// It returns ErrQueueFull when the event was not accepted.
func (wp *WorkerPool) Submit(ctx context.Context, event *stripe.Event) error {
	key := event.ID
	if event.Data != nil {
		if id, ok := event.Data.Object["id"].(string); ok {
			key = id
		}
	}

	ok := wp.Dispatch(key, func() {
		wp.mu.RLock()
		processor := wp.processor
		wp.mu.RUnlock()
		if processor == nil {
			wp.logger.Error("No event processor configured", zap.String("event_id", event.ID))
			return
		}
		if err := processor.ProcessEvent(ctx, event); err != nil {
			wp.logger.Error("Failed to process event",
				zap.Error(err),
				zap.String("event_type", string(event.Type)),
				zap.String("event_id", event.ID))
		}
	})
	if !ok {
		wp.logger.Warn("Event dropped, worker queue full",
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID))
		return ErrQueueFull
	}
	return nil
}

func (wp *WorkerPool) shard(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(wp.shards)))
}

// Shutdown stops accepting tasks and waits for queued ones to finish.
func (wp *WorkerPool) Shutdown() {
	wp.mu.Lock()
	if wp.closed {
		wp.mu.Unlock()
		return
	}
	wp.closed = true
	for _, ch := range wp.shards {
		close(ch)
	}
	wp.mu.Unlock()

	wp.wg.Wait()
}
