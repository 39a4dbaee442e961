package playback

import (
	"math"
	"sync"
)

const (
	cueSampleRate = 44100

	// Start cue: high pitch, short
	startFreq   = 1200
	startVolume = 0.5
	startDecay  = 60

	// Stop cue: medium pitch, slightly longer
	stopFreq   = 900
	stopVolume = 0.5
	stopDecay  = 40

	// Error cue: low pitch double-beep
	errorFreq   = 350
	errorVolume = 0.6
	errorDecay  = 30
)

type Cue int

const (
	CueStart Cue = iota
	CueStop
	CueError
)

var (
	cueSamples [3][]int16
	cueOnce    sync.Once
)

func initCues() {
	cueSamples[CueStart] = generateTick(cueSampleRate, startFreq, 0.2, startVolume, startDecay)
	cueSamples[CueStop] = generateTick(cueSampleRate, stopFreq, 0.2, stopVolume, stopDecay)
	cueSamples[CueError] = generateDoubleBeep(cueSampleRate, errorFreq, 0.08, 0.05, errorVolume, errorDecay)
}

func cue(c Cue) []int16 {
	cueOnce.Do(initCues)
	return cueSamples[c]
}

func generateTick(sampleRate int, freq float64, duration float64, volume float64, decay float64) []int16 {
	n := int(float64(sampleRate) * duration)
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(sampleRate)
		envelope := math.Exp(-t * decay)
		samples[i] = int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * envelope)
	}
	return samples
}

func generateDoubleBeep(sampleRate int, freq float64, beepDur float64, gapDur float64, volume float64, decay float64) []int16 {
	beep := generateTick(sampleRate, freq, beepDur, volume, decay)
	gap := make([]int16, int(float64(sampleRate)*gapDur))
	result := make([]int16, 0, len(beep)*2+len(gap))
	result = append(result, beep...)
	result = append(result, gap...)
	result = append(result, beep...)
	return result
}
