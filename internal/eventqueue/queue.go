package eventqueue

import (
	"sync"

	deadlock "github.com/sasha-s/go-deadlock"

	"github.com/lavataste/sensord/internal/errs"
)

// DefaultCapacity bounds a Queue when the caller doesn't pick one
// explicitly. It's generous enough to absorb a burst at the fastest
// supported sensor rate (§2) without a slow listener stalling the
// handler that's feeding it.
const DefaultCapacity = 256

// Queue is a bounded FIFO of *Buffer, guarded by its own lock and a
// pair of condition variables — full, and drains you can wait on —
// same shape as spec.md §5's "queue has its own lock + condvar",
// grounded on the teacher's pulse/async.Queue but with the DB-backed
// job store swapped for an in-memory ring (no persistence, §1).
type Queue struct {
	mu       deadlock.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	buf      []*Buffer
	head     int
	len      int
	capacity int
	closed   bool
}

// New creates a Queue bounded at capacity. A non-positive capacity
// falls back to DefaultCapacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &Queue{buf: make([]*Buffer, capacity), capacity: capacity}
	q.notFull = sync.NewCond(&q.mu)
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// ErrQueueClosed is returned by Push/Pop once Close has been called.
var ErrQueueClosed = errs.New("eventqueue: queue closed")

// Push blocks until there is room, then enqueues b. Push returns
// ErrQueueClosed if the queue is closed, either before or while
// waiting for space.
func (q *Queue) Push(b *Buffer) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.len == q.capacity && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return ErrQueueClosed
	}
	q.pushLocked(b)
	return nil
}

// TryPush enqueues b without blocking, returning false if the queue is
// full. Callers on the hot path that must not stall (§7's -EAGAIN
// rate-limit case has the same "don't block the producer" shape) use
// this instead of Push.
func (q *Queue) TryPush(b *Buffer) (ok bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, ErrQueueClosed
	}
	if q.len == q.capacity {
		return false, nil
	}
	q.pushLocked(b)
	return true, nil
}

func (q *Queue) pushLocked(b *Buffer) {
	tail := (q.head + q.len) % q.capacity
	q.buf[tail] = b
	q.len++
	q.notEmpty.Signal()
}

// Pop blocks until an event is available or the queue is closed and
// drained, returning (nil, ErrQueueClosed) in the latter case.
func (q *Queue) Pop() (*Buffer, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.len == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.len == 0 && q.closed {
		return nil, ErrQueueClosed
	}
	b := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % q.capacity
	q.len--
	q.notFull.Signal()
	return b, nil
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.len
}

// Close wakes every blocked Push/Pop; buffered events already pushed
// can still be drained with Pop until empty.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notFull.Broadcast()
	q.notEmpty.Broadcast()
}
