// Package eventqueue is sensord's in-process event pipeline: a
// reference-counted event buffer pooled for reuse, a bounded ring
// queue with its own lock and condition variables (§5), and a poller
// that lets the client-side reader block on multiple channels at once
// (§4.B). There is no persistence here by design — §1's Non-goals
// exclude durable storage, so a crash loses in-flight events, same as
// the system this replaces.
package eventqueue

import (
	"sync"
	"sync/atomic"

	"github.com/lavataste/sensord/internal/wire"
)

// bufferPool backs Buffer.Values so repeated Acquire/Release cycles
// under steady sensor traffic don't churn the allocator.
var bufferPool = sync.Pool{
	New: func() interface{} {
		return &Buffer{values: make([]float32, 0, wire.MaxEventValues)}
	},
}

// Buffer is a reference-counted, pool-backed holder for one
// SensorEvent's payload. Handlers acquire a Buffer to build an event,
// hand it to the queue, and every listener proxy that receives it
// bumps the refcount; the backing array returns to the pool once the
// last reference releases.
type Buffer struct {
	refs   int32
	values []float32

	EventType   uint32
	TimestampUS int64
	Accuracy    int32
}

// Acquire takes a Buffer from the pool with a single reference held by
// the caller.
func Acquire() *Buffer {
	b := bufferPool.Get().(*Buffer)
	b.values = b.values[:0]
	b.refs = 1
	return b
}

// Retain bumps the refcount; call once per additional owner (e.g. each
// listener proxy the event fans out to).
func (b *Buffer) Retain() {
	atomic.AddInt32(&b.refs, 1)
}

// Release drops a reference. When the last reference drops, the
// Buffer is reset and returned to the pool; callers must not touch it
// again after calling Release.
func (b *Buffer) Release() {
	if atomic.AddInt32(&b.refs, -1) == 0 {
		b.EventType = 0
		b.TimestampUS = 0
		b.Accuracy = 0
		bufferPool.Put(b)
	}
}

// Values returns the buffer's value slice for in-place population.
func (b *Buffer) Values() []float32 { return b.values }

// SetValues copies vals into the buffer's pooled backing array.
func (b *Buffer) SetValues(vals []float32) {
	b.values = append(b.values[:0], vals...)
}

// ToSensorEvent copies the buffer's fields into a standalone
// wire.SensorEvent. The caller still owns releasing the Buffer.
func (b *Buffer) ToSensorEvent() wire.SensorEvent {
	vals := make([]float32, len(b.values))
	copy(vals, b.values)
	return wire.SensorEvent{
		EventType:   b.EventType,
		TimestampUS: b.TimestampUS,
		Accuracy:    b.Accuracy,
		Values:      vals,
	}
}
