package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"
	"time"
)

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
)

// FakeContext plays back a fixed PCM buffer as if it came from a
// microphone. Device lists are configurable so tests can exercise
// selection and switching.
type FakeContext struct {
	pcm      []byte
	realtime bool

	mu        sync.Mutex
	inputs    []DeviceInfo
	outputs   []DeviceInfo
	denied    map[string]bool
	captures  []*FakeCapture
	played    [][]int16
	playedOn  []string
	closed    bool
	devErr    error
	playDelay time.Duration
}

// NewFakeContext loads PCM16 mono audio from a WAV file.
func NewFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	if len(data) > WAVHeaderSize {
		data = data[WAVHeaderSize:]
	}
	return NewFakeContextPCM(data, realtime), nil
}

func NewFakeContextPCM(pcm []byte, realtime bool) *FakeContext {
	return &FakeContext{
		pcm:      pcm,
		realtime: realtime,
		inputs:   []DeviceInfo{{ID: "fake-mic", Name: "Fake Microphone", Kind: KindInput}},
		outputs:  []DeviceInfo{{ID: "fake-speaker", Name: "Fake Speaker", Kind: KindOutput}},
		denied:   make(map[string]bool),
	}
}

// Tone returns a sine wave as PCM16 mono at SampleRate.
func Tone(freq, amplitude float64, d time.Duration) []byte {
	n := int(d.Seconds() * SampleRate)
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		s := int16(amplitude * 32767 * math.Sin(2*math.Pi*freq*float64(i)/SampleRate))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func (f *FakeContext) SetDevices(inputs, outputs []DeviceInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = inputs
	f.outputs = outputs
}

// Deny makes NewCapture on the device fail with ErrPermission.
func (f *FakeContext) Deny(id string) {
	f.mu.Lock()
	f.denied[id] = true
	f.mu.Unlock()
}

// FailDevices makes Devices return err.
func (f *FakeContext) FailDevices(err error) {
	f.mu.Lock()
	f.devErr = err
	f.mu.Unlock()
}

func (f *FakeContext) SetPlayDelay(d time.Duration) {
	f.mu.Lock()
	f.playDelay = d
	f.mu.Unlock()
}

func (f *FakeContext) Devices(kind DeviceKind) ([]DeviceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.devErr != nil {
		return nil, f.devErr
	}
	src := f.inputs
	if kind == KindOutput {
		src = f.outputs
	}
	return append([]DeviceInfo(nil), src...), nil
}

func (f *FakeContext) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *FakeContext) NewCapture(device *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if device != nil && f.denied[device.ID] {
		return nil, fmt.Errorf("capture %q: %w", device.ID, ErrPermission)
	}
	c := &FakeCapture{pcm: f.pcm, realtime: f.realtime, info: device, audioDone: make(chan struct{})}
	f.captures = append(f.captures, c)
	return c, nil
}

// OpenCaptures counts captures that have been started and not stopped.
func (f *FakeContext) OpenCaptures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.captures {
		if c.Running() {
			n++
		}
	}
	return n
}

func (f *FakeContext) Play(ctx context.Context, device *DeviceInfo, samples []int16, _ int) error {
	f.mu.Lock()
	delay := f.playDelay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name := "system default"
	if device != nil {
		name = device.ID
	}
	f.played = append(f.played, append([]int16(nil), samples...))
	f.playedOn = append(f.playedOn, name)
	return nil
}

// Played returns what was played so far and on which device IDs.
func (f *FakeContext) Played() ([][]int16, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]int16(nil), f.played...), append([]string(nil), f.playedOn...)
}

type FakeCapture struct {
	pcm       []byte
	realtime  bool
	info      *DeviceInfo
	audioDone chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	running  bool
	stopCh   chan struct{}
	feedDone chan struct{}
}

func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *FakeCapture) DeviceName() string {
	if f.info != nil {
		return f.info.Label()
	}
	return "fake"
}

func (f *FakeCapture) callback() DataCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *FakeCapture) feedChunk(cb DataCallback, pos, chunkBytes int) int {
	end := min(pos+chunkBytes, len(f.pcm))
	chunk := make([]byte, end-pos)
	copy(chunk, f.pcm[pos:end])
	cb(chunk, uint32(len(chunk)/fakeBytesPerFrame))
	return end
}

// Start feeds the PCM buffer and then silence until Stop. In realtime
// mode chunks are paced at the sample rate; otherwise the buffer is
// delivered immediately on the first tick.
func (f *FakeCapture) Start() error {
	f.mu.Lock()
	f.running = true
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	stopCh, feedDone := f.stopCh, f.feedDone
	f.mu.Unlock()

	chunkBytes := fakeFrameSize * fakeBytesPerFrame
	interval := time.Millisecond
	if f.realtime {
		interval = time.Duration(fakeFrameSize) * time.Second / SampleRate
	}

	go func() {
		defer close(feedDone)
		pos := 0
		silence := make([]byte, chunkBytes)
		audioFinished := false
		for {
			select {
			case <-stopCh:
				return
			case <-time.After(interval):
			}
			cb := f.callback()
			if cb == nil {
				continue
			}
			if pos < len(f.pcm) {
				if f.realtime {
					pos = f.feedChunk(cb, pos, chunkBytes)
				} else {
					for pos < len(f.pcm) {
						pos = f.feedChunk(cb, pos, chunkBytes)
					}
				}
				continue
			}
			if !audioFinished {
				audioFinished = true
				close(f.audioDone)
			}
			cb(silence, fakeFrameSize)
		}
	}()
	return nil
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	stopCh, feedDone := f.stopCh, f.feedDone
	f.running = false
	f.mu.Unlock()
	if stopCh == nil {
		return
	}
	select {
	case <-stopCh:
	default:
		close(stopCh)
	}
	<-feedDone
}

func (f *FakeCapture) Close() { f.Stop() }
