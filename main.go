package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"micpanel/analyser"
	"micpanel/audio"
	"micpanel/clipboard"
	"micpanel/config"
	"micpanel/encoder"
	"micpanel/log"
	"micpanel/meter"
	"micpanel/metrics"
	"micpanel/playback"
	"micpanel/shutdown"
	"micpanel/speech"
)

var version = "dev"

type options struct {
	configPath string
	logPath    string
	setup      bool
	list       bool
	metrics    string
	test       bool
	cues       bool
	format     string
	lang       string
	model      string
	version    bool
	crash      bool
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.configPath, "config", "", "YAML config file (default: built-in Sales/Client panels)")
	flag.StringVar(&o.logPath, "logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	flag.BoolVar(&o.setup, "setup", false, "Pick the input device of every panel before starting")
	flag.BoolVar(&o.list, "list", false, "List audio devices and exit")
	flag.StringVar(&o.metrics, "metrics", "", "Serve Prometheus metrics on this address (e.g., :9100)")
	flag.BoolVar(&o.test, "test", false, "Test mode (headless, stdin-driven, fake audio from a WAV file)")
	flag.BoolVar(&o.cues, "cues", true, "Play start/stop cue tones")
	flag.StringVar(&o.format, "format", "wav", "Recording format: wav or flac")
	flag.StringVar(&o.lang, "lang", "en-US", "Language code for transcription")
	flag.StringVar(&o.model, "model", "nova-3", "Deepgram model")
	flag.BoolVar(&o.version, "version", false, "Print version and exit")
	flag.BoolVar(&o.crash, "crash", false, "Trigger synthetic panic for testing crash logging")
	flag.Parse()
	return o
}

// applyFlags copies explicitly set flags over the file config.
func applyFlags(cfg *config.Config, o options) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "cues":
			cfg.Cues = o.cues
		case "format":
			cfg.Format = o.format
		case "lang":
			cfg.Speech.Language = o.lang
		case "model":
			cfg.Speech.Model = o.model
		case "metrics":
			cfg.Metrics.Addr = o.metrics
		case "logpath":
			cfg.LogPath = o.logPath
		}
	})
}

func initCrashLog() {
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(crashFile, debug.CrashOptions{})
}

func main() {
	o := parseFlags()
	if o.version {
		fmt.Printf("micpanel %s\n", version)
		return
	}

	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	applyFlags(cfg, o)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Resolve log directory early
	logPath, err := log.ResolveDir(cfg.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	initCrashLog()

	if o.crash {
		panic("TEST CRASH: synthetic panic to verify crash logging")
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()
	log.Info("micpanel " + version + " starting")

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	if o.test {
		args := flag.Args()
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Usage: micpanel -test <wav-file>")
			os.Exit(1)
		}
		if err := runTestMode(ctx, cfg, args[0], os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	actx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Fprintf(os.Stderr, "Error initializing audio context: %v\n", err)
		os.Exit(1)
	}
	defer actx.Close()

	if o.list {
		if err := listDevices(actx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if o.setup {
		if err := setupDevices(cfg, actx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		if o.configPath != "" {
			if err := cfg.Save(o.configPath); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
		}
	}

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr); err != nil {
				log.Errorf("metrics server: %v", err)
			}
		}()
	}

	frames := meter.NewFrameLoop()
	sink := newTUISink()
	panels, err := buildPanels(cfg, actx, frames, m, sink)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		for _, p := range panels {
			p.Close()
		}
	}()

	tuiMu.Lock()
	tuiProgram = NewTUIProgram(ctx, actx, panels, sink, frames, cfg.RefreshInterval())
	tuiMu.Unlock()

	go func() {
		<-ctx.Done()
		tuiProgram.Quit()
	}()
	if _, err := tuiProgram.Run(); err != nil {
		log.Errorf("TUI error: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
}

// buildPanels wires the shared stack into one Panel per configured entry.
func buildPanels(cfg *config.Config, actx audio.Context, frames meter.FrameScheduler, m *metrics.Metrics, sink EventSink) ([]*Panel, error) {
	format, err := encoder.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}

	player := playback.New(actx)
	if !cfg.Cues {
		player.DisableCues()
	}

	var rec speech.Recognizer
	if cfg.Speech.Enabled {
		dg, err := speech.FromEnv(speech.WithModel(cfg.Speech.Model))
		switch {
		case errors.Is(err, speech.ErrNoCredentials):
			log.Warn("transcription disabled: DEEPGRAM_API_KEY not set")
		case err != nil:
			return nil, err
		default:
			rec = dg
		}
	}

	if clipboard.Unsupported() {
		log.Warn("transcript copy disabled: " + clipboard.ErrUnsupported.Error())
	}

	deps := PanelDeps{
		Audio:      actx,
		Frames:     frames,
		Taps:       analyser.Factory{OpenTaps: m.OpenTaps, Smoothing: &cfg.Meter.Smoothing},
		Player:     player,
		Recognizer: rec,
		Speech:     cfg.Speech,
		Format:     format,
		Metrics:    m,
		Sink:       sink,
		Copy:       clipboard.Copy,
	}

	panels := make([]*Panel, len(cfg.Panels))
	for i, pc := range cfg.Panels {
		p := NewPanel(pc.Name, deps)
		if pc.Input != "" {
			if dev, err := audio.FindDevice(actx, audio.KindInput, pc.Input); err == nil {
				p.SelectInput(dev)
			} else {
				log.Warnf("%s: input %q: %v", pc.Name, pc.Input, err)
			}
		}
		if pc.Output != "" {
			if dev, err := audio.FindDevice(actx, audio.KindOutput, pc.Output); err == nil {
				p.SelectOutput(dev)
			} else {
				log.Warnf("%s: output %q: %v", pc.Name, pc.Output, err)
			}
		}
		panels[i] = p
	}
	return panels, nil
}

// setupDevices prompts for the input and output of every panel. A skipped
// prompt keeps the configured device.
func setupDevices(cfg *config.Config, actx audio.Context) error {
	for i := range cfg.Panels {
		pc := &cfg.Panels[i]
		fmt.Printf("%s panel\n", pc.Name)
		for _, kind := range []audio.DeviceKind{audio.KindInput, audio.KindOutput} {
			dev, err := audio.SelectDevice(actx, kind, os.Stdin, os.Stdout)
			switch {
			case errors.Is(err, audio.ErrSelectionCancelled):
				continue
			case err != nil:
				return fmt.Errorf("%s: %w", pc.Name, err)
			}
			if kind == audio.KindInput {
				pc.Input = dev.ID
			} else {
				pc.Output = dev.ID
			}
		}
	}
	return nil
}

func listDevices(actx audio.Context) error {
	for _, kind := range []audio.DeviceKind{audio.KindInput, audio.KindOutput} {
		devices, err := actx.Devices(kind)
		if err != nil {
			return fmt.Errorf("enumerating %s devices: %w", kind, err)
		}
		fmt.Printf("%s:\n", kind)
		for _, d := range devices {
			bt := ""
			if audio.IsBluetooth(d.Name) {
				bt = " (BT)"
			}
			fmt.Printf("  %s%s\n", d.Label(), bt)
		}
	}
	return nil
}
