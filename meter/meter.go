// Package meter turns a live audio stream into a loudness reading that is
// refreshed once per display frame.
package meter

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

const (
	FFTSize  = 256
	BinCount = FFTSize / 2
)

// ErrUnavailable is returned when no analysis tap can be created for a
// stream, e.g. the host has no analysis capability.
var ErrUnavailable = errors.New("analysis capability unavailable")

// Stream is the live capture a meter attaches to.
type Stream interface {
	Active() bool
	Subscribe(cb func(pcm []byte, frameCount uint32)) (cancel func())
}

// Tap produces frequency snapshots for one stream and must be closed to
// release its resources.
type Tap interface {
	FrequencyBinCount() int
	ByteFrequencyData(dst []uint8)
	Close() error
}

type TapFactory interface {
	NewTap(s Stream, fftSize int) (Tap, error)
}

type TapFactoryFunc func(s Stream, fftSize int) (Tap, error)

func (f TapFactoryFunc) NewTap(s Stream, fftSize int) (Tap, error) { return f(s, fftSize) }

// FrameScheduler calls fn once, on the next display frame.
type FrameScheduler interface {
	RequestFrame(fn func())
}

// Loudness is the RMS of the snapshot expressed as 20*log10(rms).
// Silence yields 0 rather than -Inf.
func Loudness(snapshot []uint8) float64 {
	if len(snapshot) == 0 {
		return 0
	}
	var sum float64
	for _, v := range snapshot {
		f := float64(v)
		sum += f * f
	}
	rms := math.Sqrt(sum / float64(len(snapshot)))
	if rms == 0 {
		return 0
	}
	return 20 * math.Log10(rms)
}

// Peak returns the largest magnitude in the snapshot.
func Peak(snapshot []uint8) uint8 {
	var p uint8
	for _, v := range snapshot {
		if v > p {
			p = v
		}
	}
	return p
}

type Reading struct {
	Loudness float64
	Peak     uint8
}

type listener struct {
	id int
	fn func(Reading)
}

// Meter owns at most one analysis tap at a time.
type Meter struct {
	sched   FrameScheduler
	taps    TapFactory
	fftSize int

	mu        sync.Mutex
	tap       Tap
	buf       []uint8
	gen       uint64
	reading   Reading
	listeners []listener
	nextID    int
}

func New(sched FrameScheduler, taps TapFactory) *Meter {
	return &Meter{sched: sched, taps: taps, fftSize: FFTSize}
}

// OnLevel registers fn to receive every published reading. The returned
// func removes it.
func (m *Meter) OnLevel(fn func(Reading)) (remove func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners = append(m.listeners, listener{id: id, fn: fn})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, l := range m.listeners {
			if l.id == id {
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// Attach starts metering s. Any previous attachment is released first;
// a failure to close it is returned alongside the attach result, and the
// new attachment still goes ahead. An inactive stream leaves the meter
// detached.
func (m *Meter) Attach(s Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var releaseErr error
	if err := m.releaseLocked(); err != nil {
		releaseErr = fmt.Errorf("release previous tap: %w", err)
	}

	if s == nil || !s.Active() {
		return releaseErr
	}
	tap, err := m.taps.NewTap(s, m.fftSize)
	if err != nil {
		return errors.Join(releaseErr, fmt.Errorf("attach meter: %w", err))
	}
	m.tap = tap
	m.buf = make([]uint8, tap.FrequencyBinCount())
	gen := m.gen
	m.sched.RequestFrame(func() { m.tick(gen) })
	return releaseErr
}

// Detach stops the sampling loop and closes the tap. Safe to call when
// nothing is attached.
func (m *Meter) Detach() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseLocked()
}

func (m *Meter) releaseLocked() error {
	m.gen++
	m.reading = Reading{}
	if m.tap == nil {
		return nil
	}
	err := m.tap.Close()
	m.tap = nil
	m.buf = nil
	return err
}

func (m *Meter) Attached() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tap != nil
}

// Level returns the most recently published reading, or zero while
// detached.
func (m *Meter) Level() Reading {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reading
}

func (m *Meter) tick(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.tap == nil {
		m.mu.Unlock()
		return
	}
	m.tap.ByteFrequencyData(m.buf)
	r := Reading{Loudness: Loudness(m.buf), Peak: Peak(m.buf)}
	m.reading = r
	fns := make([]func(Reading), len(m.listeners))
	for i, l := range m.listeners {
		fns[i] = l.fn
	}
	m.sched.RequestFrame(func() { m.tick(gen) })
	m.mu.Unlock()

	for _, fn := range fns {
		fn(r)
	}
}
