package audio

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Stream is a live capture handle. One capture callback is fanned out to
// every subscriber. Once stopped the stream is inactive for good.
type Stream struct {
	capture CaptureDevice
	device  *DeviceInfo

	active atomic.Bool

	mu     sync.Mutex
	subs   map[int]DataCallback
	nextID int

	stopOnce sync.Once
}

// Open acquires a capture on device (nil for system default) and starts
// it. Acquisition errors are returned as-is to the caller; there are no
// retries.
func Open(ctx Context, device *DeviceInfo, config CaptureConfig) (*Stream, error) {
	capture, err := ctx.NewCapture(device, config)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	s := &Stream{
		capture: capture,
		device:  device,
		subs:    make(map[int]DataCallback),
	}
	capture.SetCallback(s.dispatch)
	if err := capture.Start(); err != nil {
		capture.ClearCallback()
		capture.Close()
		return nil, fmt.Errorf("start capture: %w", err)
	}
	s.active.Store(true)
	return s, nil
}

func (s *Stream) dispatch(data []byte, frameCount uint32) {
	if !s.active.Load() {
		return
	}
	s.mu.Lock()
	cbs := make([]DataCallback, 0, len(s.subs))
	for _, cb := range s.subs {
		cbs = append(cbs, cb)
	}
	s.mu.Unlock()
	for _, cb := range cbs {
		cb(data, frameCount)
	}
}

func (s *Stream) Active() bool { return s.active.Load() }

// Device returns the device the stream was opened on, nil for default.
func (s *Stream) Device() *DeviceInfo { return s.device }

func (s *Stream) DeviceName() string { return s.capture.DeviceName() }

// Subscribe registers cb for every captured chunk. Callbacks run on the
// capture goroutine and must not retain data.
func (s *Stream) Subscribe(cb func(data []byte, frameCount uint32)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = cb
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Stream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Stop stops the underlying track and releases the capture.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		s.active.Store(false)
		s.capture.Stop()
		s.capture.ClearCallback()
		s.capture.Close()
	})
}
