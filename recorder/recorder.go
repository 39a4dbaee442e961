// Package recorder captures a live stream into an in-memory audio blob.
package recorder

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"micpanel/encoder"
)

var ErrEmpty = errors.New("recording is empty")

type Source interface {
	Active() bool
	Subscribe(cb func(pcm []byte, frameCount uint32)) (cancel func())
}

type Blob struct {
	Format   encoder.Format
	Data     []byte
	Frames   uint64
	Duration time.Duration
}

func (b Blob) MimeType() string { return b.Format.MimeType() }

// Recorder buffers samples into encoder-sized blocks. Encoding happens
// on the capture goroutine; a block is never larger than BlockSize.
type Recorder struct {
	enc encoder.Encoder

	mu      sync.Mutex
	cancel  func()
	pending []int16
	err     error
	stopped bool
}

func Start(src Source, format encoder.Format) (*Recorder, error) {
	if src == nil || !src.Active() {
		return nil, errors.New("recorder: stream not active")
	}
	enc, err := encoder.New(format)
	if err != nil {
		return nil, fmt.Errorf("recorder: %w", err)
	}
	r := &Recorder{enc: enc}
	r.mu.Lock()
	r.cancel = src.Subscribe(r.feed)
	r.mu.Unlock()
	return r, nil
}

// Switch moves the recording to src, continuing the same blob.
func (r *Recorder) Switch(src Source) error {
	if src == nil || !src.Active() {
		return errors.New("recorder: stream not active")
	}
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return errors.New("recorder: already stopped")
	}
	old := r.cancel
	r.mu.Unlock()

	old()
	cancel := src.Subscribe(r.feed)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		cancel()
		return errors.New("recorder: already stopped")
	}
	r.cancel = cancel
	return nil
}

func (r *Recorder) feed(pcm []byte, _ uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || r.err != nil {
		return
	}
	r.pending = append(r.pending, encoder.Samples(pcm)...)
	for len(r.pending) >= encoder.BlockSize {
		if err := r.enc.EncodeBlock(r.pending[:encoder.BlockSize]); err != nil {
			r.err = err
			return
		}
		r.pending = r.pending[encoder.BlockSize:]
	}
}

// Stop unsubscribes, flushes the partial block and returns the blob.
func (r *Recorder) Stop() (Blob, error) {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	cancel()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return Blob{}, errors.New("recorder: already stopped")
	}
	r.stopped = true
	if r.err != nil {
		return Blob{}, fmt.Errorf("recorder: %w", r.err)
	}
	if len(r.pending) > 0 {
		if err := r.enc.EncodeBlock(r.pending); err != nil {
			return Blob{}, fmt.Errorf("recorder: %w", err)
		}
		r.pending = nil
	}
	if err := r.enc.Close(); err != nil {
		return Blob{}, fmt.Errorf("recorder: %w", err)
	}
	frames := r.enc.TotalFrames()
	if frames == 0 {
		return Blob{}, ErrEmpty
	}
	return Blob{
		Format:   r.enc.Format(),
		Data:     r.enc.Bytes(),
		Frames:   frames,
		Duration: time.Duration(float64(frames) / encoder.SampleRate * float64(time.Second)),
	}, nil
}
