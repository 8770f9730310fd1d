package staging

import (
	"testing"
	"time"

	"github.com/hangmedia/hangsource/media"
)

func rgbaFrame(w, h int, fill byte, pts uint64) *media.Frame {
	data := make([]byte, w*h*4)
	for i := range data {
		data[i] = fill
	}
	return &media.Frame{Data: data, Width: w, Height: h, PTS: pts}
}

func TestSlotEmptyReadsAsEmpty(t *testing.T) {
	t.Parallel()
	s := NewFrameSlot()

	if _, _, ok := s.Dimensions(); ok {
		t.Fatal("empty slot reported dimensions")
	}
	if s.With(func(*media.Frame) { t.Fatal("fn called on empty slot") }) {
		t.Fatal("With returned true on empty slot")
	}
}

func TestSlotNewestWins(t *testing.T) {
	t.Parallel()
	s := NewFrameSlot()

	s.Store(rgbaFrame(320, 240, 0x11, 1000))
	s.Store(rgbaFrame(640, 360, 0x22, 2000))

	ok := s.With(func(f *media.Frame) {
		if f.Width != 640 || f.Height != 360 {
			t.Errorf("dims = %dx%d, want 640x360", f.Width, f.Height)
		}
		if len(f.Data) != 640*360*4 {
			t.Errorf("size = %d, want %d", len(f.Data), 640*360*4)
		}
		if f.Data[0] != 0x22 {
			t.Error("slot holds content of first frame, want second")
		}
	})
	if !ok {
		t.Fatal("slot empty after store")
	}
}

func TestSlotRejectsInvalidFrame(t *testing.T) {
	t.Parallel()
	s := NewFrameSlot()

	s.Store(&media.Frame{Data: make([]byte, 10), Width: 640, Height: 360})
	s.Store(&media.Frame{Data: make([]byte, 16), Width: 0, Height: 4})
	s.Store(nil)

	if _, _, ok := s.Dimensions(); ok {
		t.Fatal("invalid frame was staged")
	}
}

func TestSlotClear(t *testing.T) {
	t.Parallel()
	s := NewFrameSlot()
	s.Store(rgbaFrame(2, 2, 0, 0))
	s.Clear()
	if _, _, ok := s.Dimensions(); ok {
		t.Fatal("slot not empty after Clear")
	}
}

func TestSlotNextWakesOnStore(t *testing.T) {
	t.Parallel()
	s := NewFrameSlot()

	got := make(chan *media.Frame, 1)
	go func() {
		f, _ := s.Next(0)
		got <- f
	}()

	// Give the waiter a moment to block before storing.
	time.Sleep(10 * time.Millisecond)
	s.Store(rgbaFrame(4, 4, 0x33, 500))

	select {
	case f := <-got:
		if f == nil || f.PTS != 500 {
			t.Fatalf("Next returned %+v", f)
		}
	case <-time.After(time.Second):
		t.Fatal("Next did not wake on Store")
	}
}

func TestSlotCloseReleasesWaiter(t *testing.T) {
	t.Parallel()
	s := NewFrameSlot()

	done := make(chan struct{})
	go func() {
		f, _ := s.Next(0)
		if f != nil {
			t.Error("Next returned a frame after Close")
		}
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	s.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Close")
	}
}
