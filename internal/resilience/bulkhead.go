package resilience

import (
	"sync"

	"github.com/devsynth/hybridmemory/internal/core"
)

// Bulkhead gates concurrent entry with a semaphore of size
// MaxConcurrentCalls, plus a bounded FIFO queue of size MaxQueueSize for
// callers that find the semaphore taken. Saturating both fails fast with
// BULKHEAD_FULL. Grounded on fallback.py's Bulkhead
// (threading.Semaphore + Lock + counters), translated to a buffered channel.
type Bulkhead struct {
	name    string
	sem     chan struct{}
	maxQueue int

	mu          sync.Mutex
	queueSize   int
	currentCalls int
}

// NewBulkhead builds a bulkhead with the given concurrency and queue bounds.
func NewBulkhead(name string, maxConcurrentCalls, maxQueueSize int) *Bulkhead {
	if maxConcurrentCalls <= 0 {
		maxConcurrentCalls = 10
	}
	if maxQueueSize < 0 {
		maxQueueSize = 5
	}
	return &Bulkhead{
		name:     name,
		sem:      make(chan struct{}, maxConcurrentCalls),
		maxQueue: maxQueueSize,
	}
}

// CurrentCalls returns the number of in-flight executions.
func (b *Bulkhead) CurrentCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentCalls
}

// QueueSize returns the number of callers currently queued.
func (b *Bulkhead) QueueSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queueSize
}

// Call executes fn, gated by the bulkhead's semaphore and queue.
func Call[T any](b *Bulkhead, fn func() (T, error)) (T, error) {
	var zero T

	select {
	case b.sem <- struct{}{}:
		// Acquired immediately.
	default:
		b.mu.Lock()
		if b.queueSize >= b.maxQueue {
			qs := b.queueSize
			cc := b.currentCalls
			b.mu.Unlock()
			return zero, core.NewErrorWithDetails("bulkhead.call", core.KindReliability, core.CodeBulkheadFull,
				core.ErrBulkheadFull, map[string]any{"function": b.name, "current_calls": cc, "queue_size": qs})
		}
		b.queueSize++
		b.mu.Unlock()

		b.sem <- struct{}{}

		b.mu.Lock()
		b.queueSize--
		b.mu.Unlock()
	}

	b.mu.Lock()
	b.currentCalls++
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.currentCalls--
		b.mu.Unlock()
		<-b.sem
	}()

	return fn()
}
