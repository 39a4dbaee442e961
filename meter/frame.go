package meter

import (
	"sync"
	"time"
)

// RefreshInterval approximates a 60 Hz display.
const RefreshInterval = time.Second / 60

// FrameLoop queues frame callbacks until the owner runs a frame. The TUI
// runs one frame per refresh tick, so every callback executes on the UI
// goroutine, one at a time.
type FrameLoop struct {
	mu      sync.Mutex
	pending []func()
	frames  uint64
	last    time.Time
}

func NewFrameLoop() *FrameLoop {
	return &FrameLoop{}
}

func (l *FrameLoop) RequestFrame(fn func()) {
	l.mu.Lock()
	l.pending = append(l.pending, fn)
	l.mu.Unlock()
}

// RunFrame invokes the callbacks queued before this call. Callbacks
// requested while the frame runs wait for the next frame.
func (l *FrameLoop) RunFrame(now time.Time) int {
	l.mu.Lock()
	batch := l.pending
	l.pending = nil
	l.frames++
	l.last = now
	l.mu.Unlock()

	for _, fn := range batch {
		fn()
	}
	return len(batch)
}

func (l *FrameLoop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (l *FrameLoop) Frames() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frames
}

// Run drives the loop from a ticker until stop is closed. Used when no
// UI provides the frame clock (headless mode).
func (l *FrameLoop) Run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			l.RunFrame(now)
		}
	}
}
