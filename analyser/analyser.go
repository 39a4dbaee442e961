// Package analyser implements the frequency-domain tap used by the level
// meter. Its output matches what a browser AnalyserNode reports from
// getByteFrequencyData: Blackman-windowed FFT magnitudes, smoothed over
// time and mapped from a decibel range onto 0..255.
package analyser

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	MinFFTSize = 32
	MaxFFTSize = 32768

	DefaultSmoothing   = 0.8
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0
)

// Analyser holds the most recent fftSize samples and the smoothed
// spectrum. Write may be called from the capture goroutine while
// ByteFrequencyData runs on the UI goroutine.
type Analyser struct {
	fftSize     int
	smoothing   float64
	minDecibels float64
	maxDecibels float64

	mu     sync.Mutex
	ring   []float64
	pos    int
	window []float64
	frame  []float64
	coeffs []complex128
	smooth []float64
	fft    *fourier.FFT
}

func New(fftSize int) (*Analyser, error) {
	if fftSize < MinFFTSize || fftSize > MaxFFTSize || fftSize&(fftSize-1) != 0 {
		return nil, fmt.Errorf("fft size %d: must be a power of two in [%d, %d]", fftSize, MinFFTSize, MaxFFTSize)
	}
	return &Analyser{
		fftSize:     fftSize,
		smoothing:   DefaultSmoothing,
		minDecibels: DefaultMinDecibels,
		maxDecibels: DefaultMaxDecibels,
		ring:        make([]float64, fftSize),
		window:      blackman(fftSize),
		frame:       make([]float64, fftSize),
		coeffs:      make([]complex128, fftSize/2+1),
		smooth:      make([]float64, fftSize/2),
		fft:         fourier.NewFFT(fftSize),
	}, nil
}

func blackman(n int) []float64 {
	const a0, a1, a2 = 0.42, 0.5, 0.08
	w := make([]float64, n)
	for i := range w {
		x := float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}

func (a *Analyser) FFTSize() int { return a.fftSize }

func (a *Analyser) FrequencyBinCount() int { return a.fftSize / 2 }

// SetSmoothing sets the time constant in [0, 1); 0 disables smoothing.
func (a *Analyser) SetSmoothing(tc float64) {
	a.mu.Lock()
	a.smoothing = math.Max(0, math.Min(tc, 0.999))
	a.mu.Unlock()
}

// Write appends samples in [-1, 1] to the ring buffer.
func (a *Analyser) Write(samples []float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range samples {
		a.ring[a.pos] = s
		a.pos = (a.pos + 1) % a.fftSize
	}
}

// WritePCM16 appends little-endian signed 16-bit mono samples.
func (a *Analyser) WritePCM16(pcm []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		a.ring[a.pos] = float64(s) / 32768.0
		a.pos = (a.pos + 1) % a.fftSize
	}
}

// ByteFrequencyData fills dst with the current spectrum, one byte per
// bin. dst shorter than FrequencyBinCount receives the lowest bins.
func (a *Analyser) ByteFrequencyData(dst []uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.analyseLocked()

	span := a.maxDecibels - a.minDecibels
	for i := range dst {
		if i >= len(a.smooth) {
			dst[i] = 0
			continue
		}
		mag := a.smooth[i]
		if mag <= 0 {
			dst[i] = 0
			continue
		}
		db := 20 * math.Log10(mag)
		v := math.Floor(255 / span * (db - a.minDecibels))
		switch {
		case v < 0:
			dst[i] = 0
		case v > 255:
			dst[i] = 255
		default:
			dst[i] = uint8(v)
		}
	}
}

func (a *Analyser) analyseLocked() {
	// Oldest sample first.
	for i := 0; i < a.fftSize; i++ {
		a.frame[i] = a.ring[(a.pos+i)%a.fftSize] * a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)
	scale := 1 / float64(a.fftSize)
	for k := range a.smooth {
		c := a.coeffs[k]
		mag := math.Hypot(real(c), imag(c)) * scale
		a.smooth[k] = a.smoothing*a.smooth[k] + (1-a.smoothing)*mag
	}
}
