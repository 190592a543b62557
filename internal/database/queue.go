package database

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrQueueClosed is returned by Enqueue once Close has been called
var ErrQueueClosed = errors.New("write queue is closed")

// Write is one deferred store call
type Write struct {
	Name  string // logged on failure
	Key   string
	Apply func(ctx context.Context) error
}

// WriteQueue applies store writes in submission order on a single goroutine.
// Enqueue never blocks, so callers may submit while holding their own locks.
// ARCHITECTURAL DISCOVERY: Same single-writer shape as the manager's write
// loop, one level up; the caller gets no result and failures are logged.
type WriteQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []Write
	busy    bool
	closed  bool
	done    chan struct{}
	logger  *slog.Logger
}

// NewWriteQueue starts the queue's worker
func NewWriteQueue(logger *slog.Logger) *WriteQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &WriteQueue{
		done:   make(chan struct{}),
		logger: logger,
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Enqueue appends w behind every earlier write
func (q *WriteQueue) Enqueue(w Write) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("write dropped after close", "write", w.Name, "key", w.Key)
		return ErrQueueClosed
	}
	q.pending = append(q.pending, w)
	q.cond.Broadcast()
	return nil
}

// Len returns the number of writes not yet applied
func (q *WriteQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	if q.busy {
		n++
	}
	return n
}

// Flush waits until every write enqueued so far has been applied
func (q *WriteQueue) Flush() {
	q.mu.Lock()
	for len(q.pending) > 0 || q.busy {
		q.cond.Wait()
	}
	q.mu.Unlock()
}

// Close stops accepting writes and waits for the backlog to drain
func (q *WriteQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *WriteQueue) run() {
	defer close(q.done)

	q.mu.Lock()
	for {
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		w := q.pending[0]
		q.pending[0] = Write{}
		q.pending = q.pending[1:]
		q.busy = true
		q.mu.Unlock()

		if err := w.Apply(context.Background()); err != nil {
			q.logger.Error("deferred write failed", "write", w.Name, "key", w.Key, "error", err)
		}

		q.mu.Lock()
		q.busy = false
		q.cond.Broadcast()
	}
}
