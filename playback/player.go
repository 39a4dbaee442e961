// Package playback plays recorded blobs and short UI cues through a
// chosen output device.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"micpanel/audio"
	"micpanel/encoder"
	"micpanel/recorder"
)

var ErrNoRecording = errors.New("no recording to play")

type Player struct {
	ctx audio.Context

	mu        sync.Mutex
	cuesOff   bool
	cancel    context.CancelFunc
	cuePlayed func(Cue)
}

func New(ctx audio.Context) *Player {
	return &Player{ctx: ctx}
}

func (p *Player) DisableCues() {
	p.mu.Lock()
	p.cuesOff = true
	p.mu.Unlock()
}

// Play decodes blob and plays it on sink (nil for default), replacing any
// playback still in progress. It blocks until playback ends.
func (p *Player) Play(ctx context.Context, blob *recorder.Blob, sink *audio.DeviceInfo) error {
	if blob == nil || len(blob.Data) == 0 {
		return ErrNoRecording
	}
	samples, rate, err := encoder.Decode(blob.Format, blob.Data)
	if err != nil {
		return fmt.Errorf("play: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.cancel = cancel
	p.mu.Unlock()
	defer cancel()

	if err := p.ctx.Play(ctx, sink, samples, rate); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	return nil
}

// Stop interrupts the current playback, if any.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// Cue plays c asynchronously on the default output. Failures are ignored.
func (p *Player) Cue(c Cue) {
	p.mu.Lock()
	off := p.cuesOff
	hook := p.cuePlayed
	p.mu.Unlock()
	if off {
		return
	}
	go func() {
		p.ctx.Play(context.Background(), nil, cue(c), cueSampleRate)
		if hook != nil {
			hook(c)
		}
	}()
}
