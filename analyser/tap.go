package analyser

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"micpanel/meter"
)

// Factory creates analysis taps for the level meter. OpenTaps, when set,
// tracks how many taps are currently open. A nil Smoothing keeps the
// analyser default; zero disables smoothing.
type Factory struct {
	OpenTaps  prometheus.Gauge
	Smoothing *float64
}

func (f Factory) NewTap(s meter.Stream, fftSize int) (meter.Tap, error) {
	if s == nil || !s.Active() {
		return nil, fmt.Errorf("stream not active: %w", meter.ErrUnavailable)
	}
	a, err := New(fftSize)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, meter.ErrUnavailable)
	}
	if f.Smoothing != nil {
		a.SetSmoothing(*f.Smoothing)
	}
	t := &Tap{Analyser: a, gauge: f.OpenTaps}
	t.cancel = s.Subscribe(func(pcm []byte, _ uint32) {
		a.WritePCM16(pcm)
	})
	if t.gauge != nil {
		t.gauge.Inc()
	}
	return t, nil
}

// Tap is an Analyser fed by a stream subscription.
type Tap struct {
	*Analyser

	gauge     prometheus.Gauge
	cancel    func()
	closeOnce sync.Once
}

func (t *Tap) Close() error {
	t.closeOnce.Do(func() {
		if t.cancel != nil {
			t.cancel()
		}
		if t.gauge != nil {
			t.gauge.Dec()
		}
	})
	return nil
}
