package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"micpanel/analyser"
	"micpanel/audio"
	"micpanel/config"
	"micpanel/encoder"
	"micpanel/log"
	"micpanel/meter"
	"micpanel/metrics"
	"micpanel/playback"
	"micpanel/speech"
)

// lineSink prints panel events one per line. Levels are too frequent to
// print; LEVEL reads them on demand.
type lineSink struct {
	mu  sync.Mutex
	out io.Writer
}

func (s *lineSink) printf(format string, args ...any) {
	s.mu.Lock()
	fmt.Fprintf(s.out, format+"\n", args...)
	s.mu.Unlock()
}

func (s *lineSink) Level(string, meter.Reading) {}

func (s *lineSink) Talking(panel string, on bool, device string) {
	if on {
		s.printf("TALKING %s %s", panel, device)
	} else {
		s.printf("STOPPED %s", panel)
	}
}

func (s *lineSink) SpeechState(panel string, st speech.State) {
	s.printf("SPEECH %s %s", panel, st)
}

func (s *lineSink) Transcript(panel string, text string) {
	s.printf("TRANSCRIPT %s %s", panel, text)
}

func (s *lineSink) Recorded(panel string, seconds float64) {
	s.printf("RECORDED %s %.2f", panel, seconds)
}

func (s *lineSink) Error(panel string, err error) {
	s.printf("ERROR %s %v", panel, err)
}

// runTestMode drives the panels from line commands on in, using a fake
// audio context that plays wavPath as every microphone.
func runTestMode(ctx context.Context, cfg *config.Config, wavPath string, in io.Reader, out io.Writer) error {
	fake, err := audio.NewFakeContext(wavPath, true)
	if err != nil {
		return fmt.Errorf("loading WAV: %w", err)
	}
	defer fake.Close()

	format, err := encoder.ParseFormat(cfg.Format)
	if err != nil {
		return err
	}

	var rec speech.Recognizer = speech.NewFake(speech.Update{Transcript: "test transcript", Final: true})
	if dg, err := speech.FromEnv(speech.WithModel(cfg.Speech.Model)); err == nil {
		rec = dg
	}

	sink := &lineSink{out: out}
	frames := meter.NewFrameLoop()
	stopFrames := make(chan struct{})
	defer close(stopFrames)
	go frames.Run(cfg.RefreshInterval(), stopFrames)

	player := playback.New(fake)
	player.DisableCues()
	m := metrics.New()
	deps := PanelDeps{
		Audio:      fake,
		Frames:     frames,
		Taps:       analyser.Factory{OpenTaps: m.OpenTaps, Smoothing: &cfg.Meter.Smoothing},
		Player:     player,
		Recognizer: rec,
		Speech:     cfg.Speech,
		Format:     format,
		Metrics:    m,
		Sink:       sink,
		Copy: func(text string) error {
			sink.printf("COPIED %s", text)
			return nil
		},
	}

	panels := make(map[string]*Panel)
	for _, pc := range cfg.Panels {
		panels[pc.Name] = NewPanel(pc.Name, deps)
	}
	defer func() {
		for _, p := range panels {
			p.Close()
		}
	}()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		cmd := fields[0]
		switch cmd {
		case "QUIT":
			return nil
		case "SLEEP":
			if len(fields) > 1 {
				if ms, err := strconv.Atoi(fields[1]); err == nil {
					time.Sleep(time.Duration(ms) * time.Millisecond)
				}
			}
			continue
		}

		if len(fields) < 2 {
			sink.printf("ERROR - %s needs a panel", cmd)
			continue
		}
		p, ok := panels[fields[1]]
		if !ok {
			sink.printf("ERROR - unknown panel %q", fields[1])
			continue
		}
		if err := runTestCommand(ctx, fake, p, cmd, fields[2:], sink); err != nil {
			sink.printf("ERROR %s %v", p.Name(), err)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Errorf("test mode input: %v", err)
		return err
	}
	return nil
}

func runTestCommand(ctx context.Context, actx audio.Context, p *Panel, cmd string, args []string, sink *lineSink) error {
	switch cmd {
	case "START":
		return p.StartTalking(ctx)
	case "STOP":
		return p.StopTalking()
	case "INPUT", "OUTPUT":
		if len(args) == 0 {
			return errors.New("missing device")
		}
		kind := audio.KindInput
		if cmd == "OUTPUT" {
			kind = audio.KindOutput
		}
		dev, err := audio.FindDevice(actx, kind, args[0])
		if err != nil {
			return err
		}
		if kind == audio.KindOutput {
			p.SelectOutput(dev)
			return nil
		}
		return p.SelectInput(dev)
	case "PLAY":
		if err := p.Play(ctx); err != nil {
			return err
		}
		sink.printf("PLAYED %s", p.Name())
		return nil
	case "TRANSCRIBE":
		on, err := p.ToggleTranscription(ctx)
		if err != nil {
			return err
		}
		sink.printf("TRANSCRIBE %s %v", p.Name(), on)
		return nil
	case "COPY":
		return p.CopyTranscript()
	case "LEVEL":
		r := p.Level()
		sink.printf("LEVEL %s %.1f %d", p.Name(), r.Loudness, r.Peak)
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}
