// Package staging provides the hand-off primitives between the decoder
// callbacks (producers) and the host's render and mixer loops
// (consumers): a latest-wins frame slot and bounded drop-oldest queues.
// All primitives are safe for concurrent use; their mutexes are held
// only for the duration of a replace, enqueue, or drain.
package staging

import (
	"sync"

	"github.com/hangmedia/hangsource/media"
)

// FrameSlot is a single-cell staging primitive holding the most
// recently decoded video frame. A frame stored before the previous one
// was rendered replaces it; this "newest wins" policy keeps the source
// live under a slow renderer.
type FrameSlot struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  *media.Frame
	seq    uint64
	closed bool
}

// NewFrameSlot returns an empty slot.
func NewFrameSlot() *FrameSlot {
	s := &FrameSlot{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Store replaces the slot's frame and wakes any waiter. Frames that do
// not satisfy the packed-RGBA invariant are rejected; Store reports
// whether the frame was accepted.
func (s *FrameSlot) Store(f *media.Frame) bool {
	if !f.Valid() {
		return false
	}
	s.mu.Lock()
	s.frame = f
	s.seq++
	s.cond.Broadcast()
	s.mu.Unlock()
	return true
}

// With runs fn under the slot mutex with the current frame, so the
// consumer observes a consistent (buffer, width, height) triple and the
// slot cannot be replaced mid-read. Returns false without calling fn
// when the slot is empty.
func (s *FrameSlot) With(fn func(*media.Frame)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return false
	}
	fn(s.frame)
	return true
}

// Dimensions returns the staged frame's dimensions, or ok=false when
// the slot is empty.
func (s *FrameSlot) Dimensions() (width, height int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return 0, 0, false
	}
	return s.frame.Width, s.frame.Height, true
}

// Next blocks until a frame newer than the last one returned is staged,
// then returns it. Returns nil after Close.
func (s *FrameSlot) Next(lastSeq uint64) (*media.Frame, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.seq == lastSeq && !s.closed {
		s.cond.Wait()
	}
	if s.closed {
		return nil, lastSeq
	}
	return s.frame, s.seq
}

// Clear empties the slot. The render loop observes an empty slot on its
// next read.
func (s *FrameSlot) Clear() {
	s.mu.Lock()
	s.frame = nil
	s.mu.Unlock()
}

// Close empties the slot and releases any goroutine blocked in Next.
func (s *FrameSlot) Close() {
	s.mu.Lock()
	s.frame = nil
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}
