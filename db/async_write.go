package db

import (
	"sync"
	"sync/atomic"
	"time"
)

// Async writer defaults.
const (
	DefaultChannelCapacity = 100
	DefaultDrainTimeout    = 30 * time.Second
)

// AsyncWriterConfig sizes the queue and bounds the final drain.
type AsyncWriterConfig struct {
	ChannelCapacity int
	DrainTimeout    time.Duration
}

// DefaultAsyncWriterConfig returns the default configuration.
func DefaultAsyncWriterConfig() AsyncWriterConfig {
	return AsyncWriterConfig{
		ChannelCapacity: DefaultChannelCapacity,
		DrainTimeout:    DefaultDrainTimeout,
	}
}

type queued[T any] struct {
	item     T
	queuedAt time.Time
}

// AsyncWriter hands items to apply on one background goroutine, in the order
// they were queued, so the campaign loop never waits on SQLite.
type AsyncWriter[T any] struct {
	apply func(item T, queuedAt time.Time) error
	queue chan queued[T]
	stop  chan struct{}
	done  chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	applied atomic.Int64
	failed  atomic.Int64
}

// NewAsyncWriter creates a writer. Items queue up until Start is called.
func NewAsyncWriter[T any](config AsyncWriterConfig, apply func(item T, queuedAt time.Time) error) *AsyncWriter[T] {
	if config.ChannelCapacity <= 0 {
		config.ChannelCapacity = DefaultChannelCapacity
	}
	return &AsyncWriter[T]{
		apply: apply,
		queue: make(chan queued[T], config.ChannelCapacity),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start launches the background goroutine. Extra calls are no-ops.
func (w *AsyncWriter[T]) Start() {
	w.startOnce.Do(func() { go w.loop() })
}

func (w *AsyncWriter[T]) loop() {
	defer close(w.done)
	for {
		select {
		case q := <-w.queue:
			w.handle(q)
		case <-w.stop:
			for {
				select {
				case q := <-w.queue:
					w.handle(q)
				default:
					return
				}
			}
		}
	}
}

func (w *AsyncWriter[T]) handle(q queued[T]) {
	if err := w.apply(q.item, q.queuedAt); err != nil {
		w.failed.Add(1)
		return
	}
	w.applied.Add(1)
}

// Enqueue queues item without blocking. It returns false when the queue is
// full or the writer is stopping; the caller then writes synchronously.
func (w *AsyncWriter[T]) Enqueue(item T) bool {
	select {
	case <-w.stop:
		return false
	default:
	}
	select {
	case w.queue <- queued[T]{item: item, queuedAt: time.Now()}:
		return true
	default:
		return false
	}
}

// Pending returns the number of items waiting in the queue.
func (w *AsyncWriter[T]) Pending() int {
	return len(w.queue)
}

// Stats returns how many queued items were applied and how many failed.
func (w *AsyncWriter[T]) Stats() (applied, failed int64) {
	return w.applied.Load(), w.failed.Load()
}

// Stop drains the queue and ends the goroutine. It returns false if the
// drain did not finish within timeout. A writer that was never started
// drains on the caller's goroutine.
func (w *AsyncWriter[T]) Stop(timeout time.Duration) bool {
	w.stopOnce.Do(func() { close(w.stop) })
	w.Start()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.done:
		return true
	case <-timer.C:
		return false
	}
}
