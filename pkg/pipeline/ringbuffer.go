// Package pipeline implements the metric ingestion pipeline: a bounded
// lock-free ring buffer fed by request hooks, a health monitor counting
// drops, and a background writer draining the buffer into the metric store
// in grouped batches.
package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/codeready-toolchain/argus/pkg/models"
)

// DefaultRingBufferSize is the default event buffer capacity.
const DefaultRingBufferSize = 8192

// slot is one cell of the ring. The sequence field carries the bounded-queue
// handshake: seq == pos means free for the producer claiming pos, seq ==
// pos+1 means published, seq == pos+capacity means consumed and reusable.
type slot struct {
	seq   atomic.Uint64
	event models.MetricEvent
}

// RingBuffer is a bounded multi-producer single-consumer queue of metric
// events. Publish is non-blocking, allocation-free, and safe under any
// number of concurrent producers; Drain must only be called from one
// goroutine at a time.
type RingBuffer struct {
	mask  uint64
	slots []slot
	tail  atomic.Uint64 // next position to claim (producers)
	head  atomic.Uint64 // next position to consume (single consumer)
}

// NewRingBuffer creates a buffer with the given capacity, which must be a
// positive power of two (falls back to DefaultRingBufferSize otherwise).
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		capacity = DefaultRingBufferSize
	}
	rb := &RingBuffer{
		mask:  uint64(capacity - 1),
		slots: make([]slot, capacity),
	}
	for i := range rb.slots {
		rb.slots[i].seq.Store(uint64(i))
	}
	return rb
}

// Publish enqueues an event, stamping its time if unset. Returns false when
// the buffer is full; it never blocks and never performs I/O.
func (rb *RingBuffer) Publish(event models.MetricEvent) bool {
	if event == nil {
		return false
	}
	if event.EventTime().IsZero() {
		event.SetEventTime(time.Now())
	}
	for {
		pos := rb.tail.Load()
		s := &rb.slots[pos&rb.mask]
		seq := s.seq.Load()
		switch diff := int64(seq) - int64(pos); {
		case diff == 0:
			// Slot free, claim it.
			if rb.tail.CompareAndSwap(pos, pos+1) {
				s.event = event
				s.seq.Store(pos + 1)
				return true
			}
		case diff < 0:
			// Consumer has not freed this slot yet: buffer full.
			return false
		default:
			// Another producer claimed pos; re-read tail.
		}
	}
}

// Drain dequeues up to maxCount events in FIFO order. Single consumer only.
func (rb *RingBuffer) Drain(maxCount int) []models.MetricEvent {
	if maxCount <= 0 {
		return nil
	}
	var out []models.MetricEvent
	for len(out) < maxCount {
		pos := rb.head.Load()
		s := &rb.slots[pos&rb.mask]
		seq := s.seq.Load()
		if int64(seq)-int64(pos+1) < 0 {
			// Slot not published yet: queue empty (or a producer is
			// mid-publish; it will be picked up next drain).
			break
		}
		event := s.event
		s.event = nil
		// Mark the slot reusable for the producer lapping the ring.
		s.seq.Store(pos + rb.mask + 1)
		rb.head.Store(pos + 1)
		out = append(out, event)
	}
	return out
}

// Size returns the number of buffered events. Approximate under concurrency.
func (rb *RingBuffer) Size() int {
	tail := rb.tail.Load()
	head := rb.head.Load()
	if tail < head {
		return 0
	}
	n := int(tail - head)
	if n > rb.Capacity() {
		return rb.Capacity()
	}
	return n
}

// Capacity returns the fixed buffer capacity.
func (rb *RingBuffer) Capacity() int {
	return len(rb.slots)
}
