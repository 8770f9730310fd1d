package staging

import (
	"sync"

	"github.com/hangmedia/hangsource/media"
)

// QueueCap is the fixed capacity of the staging queues. When a queue is
// full the oldest element is dropped, preserving liveness under a slow
// consumer at the cost of older samples.
const QueueCap = 16

// FrameQueue is a bounded drop-oldest FIFO of decoded video frames,
// backed by a fixed ring so enqueue never allocates.
type FrameQueue struct {
	mu      sync.Mutex
	items   [QueueCap]*media.Frame
	head    int
	n       int
	dropped uint64
}

// Push appends f, dropping the oldest frame first when full.
func (q *FrameQueue) Push(f *media.Frame) {
	q.mu.Lock()
	if q.n == QueueCap {
		q.items[q.head] = nil
		q.head = (q.head + 1) % QueueCap
		q.n--
		q.dropped++
	}
	q.items[(q.head+q.n)%QueueCap] = f
	q.n++
	q.mu.Unlock()
}

// Pop removes and returns the oldest frame, or ok=false when empty.
func (q *FrameQueue) Pop() (*media.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 {
		return nil, false
	}
	f := q.items[q.head]
	q.items[q.head] = nil
	q.head = (q.head + 1) % QueueCap
	q.n--
	return f, true
}

// Len returns the current queue length.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Dropped returns the number of frames discarded by the drop-oldest
// policy since creation.
func (q *FrameQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Clear discards all queued frames.
func (q *FrameQueue) Clear() {
	q.mu.Lock()
	for i := range q.items {
		q.items[i] = nil
	}
	q.head = 0
	q.n = 0
	q.mu.Unlock()
}

// PCMQueue is a bounded drop-oldest FIFO of decoded audio frames with
// the same policy as FrameQueue.
type PCMQueue struct {
	mu      sync.Mutex
	items   [QueueCap]*media.PCMFrame
	head    int
	n       int
	dropped uint64
}

// Push appends f, dropping the oldest frame first when full.
func (q *PCMQueue) Push(f *media.PCMFrame) {
	q.mu.Lock()
	if q.n == QueueCap {
		q.items[q.head] = nil
		q.head = (q.head + 1) % QueueCap
		q.n--
		q.dropped++
	}
	q.items[(q.head+q.n)%QueueCap] = f
	q.n++
	q.mu.Unlock()
}

// Pop removes and returns the oldest frame, or ok=false when empty.
func (q *PCMQueue) Pop() (*media.PCMFrame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.n == 0 {
		return nil, false
	}
	f := q.items[q.head]
	q.items[q.head] = nil
	q.head = (q.head + 1) % QueueCap
	q.n--
	return f, true
}

// Len returns the current queue length.
func (q *PCMQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Dropped returns the number of frames discarded by the drop-oldest
// policy since creation.
func (q *PCMQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Clear discards all queued frames.
func (q *PCMQueue) Clear() {
	q.mu.Lock()
	for i := range q.items {
		q.items[i] = nil
	}
	q.head = 0
	q.n = 0
	q.mu.Unlock()
}
