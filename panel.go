package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"micpanel/audio"
	"micpanel/config"
	"micpanel/encoder"
	"micpanel/log"
	"micpanel/meter"
	"micpanel/metrics"
	"micpanel/playback"
	"micpanel/recorder"
	"micpanel/speech"
)

var (
	ErrNoTranscript   = errors.New("no transcript to copy")
	ErrNoRecognizer   = errors.New("transcription unavailable")
	ErrNotTalking     = errors.New("panel is not talking")
	ErrAlreadyTalking = errors.New("panel is already talking")
)

// PanelDeps are shared by every panel.
type PanelDeps struct {
	Audio      audio.Context
	Frames     meter.FrameScheduler
	Taps       meter.TapFactory
	Player     *playback.Player
	Recognizer speech.Recognizer // nil disables transcription
	Speech     config.Speech
	Format     encoder.Format
	Metrics    *metrics.Metrics
	Sink       EventSink
	Copy       func(string) error
}

// Panel is one talking station: an input and output device, a live stream
// while talking, its level meter, the recording and the transcript.
type Panel struct {
	name  string
	deps  PanelDeps
	meter *meter.Meter

	mu           sync.Mutex
	input        *audio.DeviceInfo
	output       *audio.DeviceInfo
	stream       *audio.Stream
	rec          *recorder.Recorder
	blob         *recorder.Blob
	session      *speech.Session
	transcribe   bool
	transcript   string
	meterOff     bool
	sessionID    string
	talkingSince time.Time
}

func NewPanel(name string, deps PanelDeps) *Panel {
	if deps.Sink == nil {
		deps.Sink = nopSink{}
	}
	p := &Panel{
		name:       name,
		deps:       deps,
		meter:      meter.New(deps.Frames, deps.Taps),
		transcribe: deps.Recognizer != nil && deps.Speech.Enabled,
	}
	loudness := deps.Metrics.Loudness.WithLabelValues(name)
	p.meter.OnLevel(func(r meter.Reading) {
		loudness.Set(r.Loudness)
		p.deps.Sink.Level(p.name, r)
	})
	return p
}

func (p *Panel) Name() string { return p.name }

func (p *Panel) Talking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream != nil
}

func (p *Panel) Input() *audio.DeviceInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.input
}

func (p *Panel) Output() *audio.DeviceInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.output
}

func (p *Panel) Transcript() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transcript
}

func (p *Panel) Transcribing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transcribe
}

// MeterDisabled reports whether the host could not provide analysis for
// the current stream.
func (p *Panel) MeterDisabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.meterOff
}

func (p *Panel) Level() meter.Reading { return p.meter.Level() }

func (p *Panel) HasRecording() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blob != nil
}

func (p *Panel) Recording() *recorder.Blob {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blob
}

func deviceName(d *audio.DeviceInfo) string {
	if d == nil {
		return "system default"
	}
	return d.Label()
}

// StartTalking opens the input, attaches the meter and starts recording
// (and transcription when enabled).
func (p *Panel) StartTalking(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		return ErrAlreadyTalking
	}

	stream, err := audio.Open(p.deps.Audio, p.input, audio.DefaultCaptureConfig())
	if err != nil {
		log.Errorf("%s: open input %s: %v", p.name, deviceName(p.input), err)
		p.deps.Sink.Error(p.name, err)
		p.deps.Player.Cue(playback.CueError)
		return fmt.Errorf("%s: %w", p.name, err)
	}

	rec, err := recorder.Start(stream, p.deps.Format)
	if err != nil {
		stream.Stop()
		return fmt.Errorf("%s: %w", p.name, err)
	}

	p.stream = stream
	p.rec = rec
	p.sessionID = uuid.NewString()
	p.talkingSince = time.Now()
	p.transcript = ""
	p.attachMeterLocked()

	if p.transcribe {
		if err := p.startSessionLocked(ctx); err != nil {
			log.Warnf("%s: transcription start: %v", p.name, err)
			p.deps.Sink.Error(p.name, err)
		}
	}

	log.SessionStart(p.name, p.sessionID, stream.DeviceName())
	p.deps.Player.Cue(playback.CueStart)
	p.deps.Sink.Talking(p.name, true, stream.DeviceName())
	return nil
}

// attachMeterLocked attaches the meter to the current stream, detaching
// any previous tap first. A missing analysis capability disables the meter
// only.
func (p *Panel) attachMeterLocked() {
	p.detachMeterLocked()
	err := p.meter.Attach(p.stream)
	if err != nil {
		p.meterOff = true
		log.Warnf("%s: meter disabled: %v", p.name, err)
		p.deps.Sink.Error(p.name, err)
		return
	}
	p.meterOff = false
	p.deps.Metrics.MeterAttach.WithLabelValues(p.name).Inc()
	log.MeterAttach(p.name, p.stream.DeviceName())
}

func (p *Panel) detachMeterLocked() {
	wasAttached := p.meter.Attached()
	if err := p.meter.Detach(); err != nil {
		log.Warnf("%s: meter detach: %v", p.name, err)
	}
	if wasAttached {
		p.deps.Metrics.MeterDetach.WithLabelValues(p.name).Inc()
		log.MeterDetach(p.name)
	}
	p.deps.Metrics.Loudness.WithLabelValues(p.name).Set(0)
}

// StopTalking tears down in reverse order and keeps the recording for
// playback.
func (p *Panel) StopTalking() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return ErrNotTalking
	}

	p.detachMeterLocked()
	p.stopSessionLocked()

	blob, err := p.rec.Stop()
	p.rec = nil
	p.stream.Stop()
	p.stream = nil
	elapsed := time.Since(p.talkingSince)
	log.SessionEnd(p.name, p.sessionID, elapsed)
	p.deps.Player.Cue(playback.CueStop)
	p.deps.Sink.Talking(p.name, false, "")

	switch {
	case errors.Is(err, recorder.ErrEmpty):
		p.blob = nil
		return nil
	case err != nil:
		p.blob = nil
		log.Errorf("%s: recording: %v", p.name, err)
		p.deps.Sink.Error(p.name, err)
		return fmt.Errorf("%s: %w", p.name, err)
	}

	p.blob = &blob
	p.deps.Metrics.Recordings.WithLabelValues(p.name, string(blob.Format)).Inc()
	p.deps.Metrics.RecordingDuration.Observe(blob.Duration.Seconds())
	log.Recording(p.name, string(blob.Format), blob.Frames, len(blob.Data), blob.Duration)
	p.deps.Sink.Recorded(p.name, blob.Duration.Seconds())
	return nil
}

// SelectInput changes the input device. While talking the new stream is
// opened first and everything is moved onto it before the old stream is
// stopped.
func (p *Panel) SelectInput(dev *audio.DeviceInfo) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	from := deviceName(p.input)
	p.deps.Metrics.DeviceSwitch.WithLabelValues(p.name, audio.KindInput.String()).Inc()
	log.DeviceSwitch(p.name, audio.KindInput.String(), from, deviceName(dev))

	if p.stream == nil {
		p.input = dev
		return nil
	}

	stream, err := audio.Open(p.deps.Audio, dev, audio.DefaultCaptureConfig())
	if err != nil {
		log.Errorf("%s: open input %s: %v", p.name, deviceName(dev), err)
		p.deps.Sink.Error(p.name, err)
		return fmt.Errorf("%s: %w", p.name, err)
	}
	p.input = dev
	old := p.stream
	p.stream = stream

	p.attachMeterLocked()
	if err := p.rec.Switch(stream); err != nil {
		log.Errorf("%s: recorder switch: %v", p.name, err)
	}
	if p.session != nil {
		if err := p.session.Switch(stream); err != nil {
			log.Warnf("%s: transcription switch: %v", p.name, err)
		}
	}
	old.Stop()

	p.deps.Sink.Talking(p.name, true, stream.DeviceName())
	return nil
}

func (p *Panel) SelectOutput(dev *audio.DeviceInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deps.Metrics.DeviceSwitch.WithLabelValues(p.name, audio.KindOutput.String()).Inc()
	log.DeviceSwitch(p.name, audio.KindOutput.String(), deviceName(p.output), deviceName(dev))
	p.output = dev
}

// Play plays the last recording on the selected output and blocks until
// it finishes.
func (p *Panel) Play(ctx context.Context) error {
	p.mu.Lock()
	blob, sink := p.blob, p.output
	p.mu.Unlock()

	if err := p.deps.Player.Play(ctx, blob, sink); err != nil {
		if !errors.Is(err, context.Canceled) {
			p.deps.Sink.Error(p.name, err)
		}
		return fmt.Errorf("%s: %w", p.name, err)
	}
	log.Playback(p.name, deviceName(sink), blob.Duration)
	return nil
}

// ToggleTranscription flips transcription and returns the new setting.
// While talking the session is started or stopped right away.
func (p *Panel) ToggleTranscription(ctx context.Context) (bool, error) {
	if p.deps.Recognizer == nil {
		return false, ErrNoRecognizer
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.transcribe = !p.transcribe
	if p.stream == nil {
		return p.transcribe, nil
	}
	if p.transcribe {
		if err := p.startSessionLocked(ctx); err != nil {
			return p.transcribe, fmt.Errorf("%s: %w", p.name, err)
		}
	} else {
		p.stopSessionLocked()
	}
	return p.transcribe, nil
}

// startSessionLocked starts a new session on the current stream, stopping
// any previous one first.
func (p *Panel) startSessionLocked(ctx context.Context) error {
	p.stopSessionLocked()

	s := speech.NewSession(p.deps.Recognizer, speech.Config{
		SampleRate: audio.SampleRate,
		Channels:   audio.Channels,
		Language:   p.deps.Speech.Language,
	})
	s.RestartDelay = p.deps.Speech.RestartDelay
	s.MaxRestarts = p.deps.Speech.MaxRestarts
	s.Restarts = p.deps.Metrics.SpeechRestarts
	s.On(func(ev speech.Event) { p.onSpeech(s, ev) })

	if err := s.Start(ctx, p.stream); err != nil {
		return err
	}
	p.session = s
	return nil
}

func (p *Panel) stopSessionLocked() {
	if p.session == nil {
		return
	}
	p.session.Stop()
	p.session = nil
}

func (p *Panel) onSpeech(s *speech.Session, ev speech.Event) {
	switch ev := ev.(type) {
	case speech.StateChanged:
		log.SpeechState(p.name, ev.From.String(), ev.To.String())
		p.deps.Sink.SpeechState(p.name, ev.To)
	case speech.Result:
		p.mu.Lock()
		current := p.session == s
		if current {
			p.transcript = ev.Transcript
		}
		p.mu.Unlock()
		if !current {
			return
		}
		if ev.Final {
			log.Transcript(p.name, ev.Transcript)
		}
		p.deps.Sink.Transcript(p.name, ev.Transcript)
	case speech.Error:
		p.deps.Metrics.SpeechErrors.WithLabelValues(p.name).Inc()
		log.Warnf("%s: speech: %v", p.name, ev.Err)
		p.deps.Sink.Error(p.name, ev.Err)
	}
}

func (p *Panel) CopyTranscript() error {
	text := p.Transcript()
	if text == "" {
		return ErrNoTranscript
	}
	if err := p.deps.Copy(text); err != nil {
		return fmt.Errorf("copy transcript: %w", err)
	}
	return nil
}

// Close releases everything the panel holds.
func (p *Panel) Close() {
	if err := p.StopTalking(); err != nil && !errors.Is(err, ErrNotTalking) {
		log.Warnf("%s: close: %v", p.name, err)
	}
	p.deps.Player.Stop()
}
