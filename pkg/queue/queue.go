// Package queue buffers events between producer calls and delivery.
//
// A Queue holds two disjoint FIFO buffers: the primary buffer of newly
// recorded events and the failed buffer of events whose delivery did not
// succeed. Both are bounded; overflow evicts the oldest entries.
//
// A Queue is not safe for concurrent use.
package queue

import (
	"github.com/docker/keytrail/pkg/event"
)

const (
	DefaultCapacity   = 1000
	DefaultMultiplier = 3
)

// DropCounts reports events lost to capacity eviction.
type DropCounts struct {
	Primary int64 `json:"primary"`
	Failed  int64 `json:"failed"`
}

// Total returns the number of events lost from both buffers.
func (d DropCounts) Total() int64 {
	return d.Primary + d.Failed
}

type Queue struct {
	capacity   int
	batchSize  int
	multiplier int

	primary []event.Event
	failed  []event.Event

	dropped DropCounts
}

// New creates a queue holding at most capacity primary events and
// batchSize*multiplier failed events. Non-positive arguments fall back to
// the defaults (batchSize falls back to 1).
func New(capacity, batchSize, multiplier int) *Queue {
	q := &Queue{}
	q.Resize(capacity, batchSize, multiplier)
	return q
}

// Resize changes the limits. Already buffered events are kept, apart from
// the oldest ones exceeding the new limits. It returns how many were
// discarded from each buffer.
func (q *Queue) Resize(capacity, batchSize, multiplier int) DropCounts {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	if multiplier <= 0 {
		multiplier = DefaultMultiplier
	}
	q.capacity = capacity
	q.batchSize = batchSize
	q.multiplier = multiplier

	var d DropCounts
	if over := len(q.primary) - q.capacity; over > 0 {
		q.primary = trimFront(q.primary, over)
		d.Primary = int64(over)
	}
	if over := len(q.failed) - q.FailedCapacity(); over > 0 {
		q.failed = trimFront(q.failed, over)
		d.Failed = int64(over)
	}
	q.dropped.Primary += d.Primary
	q.dropped.Failed += d.Failed
	return d
}

// Capacity returns the primary buffer limit.
func (q *Queue) Capacity() int {
	return q.capacity
}

// FailedCapacity returns the failed buffer limit.
func (q *Queue) FailedCapacity() int {
	return q.batchSize * q.multiplier
}

// Enqueue appends e to the primary buffer, evicting the oldest entry first
// when the buffer is full. It reports whether an eviction happened.
func (q *Queue) Enqueue(e event.Event) (evicted bool) {
	if len(q.primary) >= q.capacity {
		q.primary = trimFront(q.primary, len(q.primary)-q.capacity+1)
		q.dropped.Primary++
		evicted = true
	}
	q.primary = append(q.primary, e)
	return evicted
}

// Drain takes every buffered event, failed ones first, and empties both
// buffers. It returns nil when there is nothing to deliver.
func (q *Queue) Drain() []event.Event {
	if len(q.failed) == 0 && len(q.primary) == 0 {
		return nil
	}

	batch := make([]event.Event, 0, len(q.failed)+len(q.primary))
	batch = append(batch, q.failed...)
	batch = append(batch, q.primary...)
	q.failed = nil
	q.primary = nil
	return batch
}

// ReturnFailed appends an undelivered batch to the failed buffer and trims
// the oldest entries beyond the failed capacity. It returns the number of
// discarded events.
func (q *Queue) ReturnFailed(batch []event.Event) (discarded int) {
	q.failed = append(q.failed, batch...)
	if over := len(q.failed) - q.FailedCapacity(); over > 0 {
		q.failed = trimFront(q.failed, over)
		q.dropped.Failed += int64(over)
		return over
	}
	return 0
}

// Len returns the number of events in the primary buffer.
func (q *Queue) Len() int {
	return len(q.primary)
}

// FailedLen returns the number of events in the failed buffer.
func (q *Queue) FailedLen() int {
	return len(q.failed)
}

// Empty reports whether both buffers are empty.
func (q *Queue) Empty() bool {
	return len(q.primary) == 0 && len(q.failed) == 0
}

// Dropped returns eviction counts not yet reported.
func (q *Queue) Dropped() DropCounts {
	return q.dropped
}

// SubtractDropped removes counts that were reported. Evictions that happened
// after d was read stay pending.
func (q *Queue) SubtractDropped(d DropCounts) {
	q.dropped.Primary = max(q.dropped.Primary-d.Primary, 0)
	q.dropped.Failed = max(q.dropped.Failed-d.Failed, 0)
}

// trimFront drops the first n entries, copying the rest so the backing array
// of evicted events can be collected.
func trimFront(events []event.Event, n int) []event.Event {
	if n >= len(events) {
		return nil
	}
	return append([]event.Event(nil), events[n:]...)
}
