// Package config loads the optional YAML settings file. Command-line flags
// are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Panels  []Panel `yaml:"panels"`
	Format  string  `yaml:"format"`
	Cues    bool    `yaml:"cues"`
	LogPath string  `yaml:"log_path"`
	Meter   Meter   `yaml:"meter"`
	Speech  Speech  `yaml:"speech"`
	Metrics Metrics `yaml:"metrics"`
}

// Panel names a talking panel and the devices it starts with. Empty
// device names mean the system default.
type Panel struct {
	Name   string `yaml:"name"`
	Input  string `yaml:"input"`
	Output string `yaml:"output"`
}

type Meter struct {
	RefreshHz int     `yaml:"refresh_hz"`
	Smoothing float64 `yaml:"smoothing"`
}

type Speech struct {
	Enabled      bool          `yaml:"enabled"`
	Language     string        `yaml:"language"`
	Model        string        `yaml:"model"`
	RestartDelay time.Duration `yaml:"restart_delay"`
	MaxRestarts  int           `yaml:"max_restarts"`
}

type Metrics struct {
	Addr string `yaml:"addr"`
}

func Default() *Config {
	return &Config{
		Panels: []Panel{{Name: "Sales"}, {Name: "Client"}},
		Format: "wav",
		Cues:   true,
		Meter: Meter{
			RefreshHz: 60,
			Smoothing: 0.8,
		},
		Speech: Speech{
			Enabled:      true,
			Language:     "en-US",
			Model:        "nova-3",
			RestartDelay: 100 * time.Millisecond,
			MaxRestarts:  3,
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate returns every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Panels) == 0 {
		errs = append(errs, errors.New("panels: at least one panel is required"))
	}
	seen := make(map[string]bool)
	for i, p := range c.Panels {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("panels[%d].name is required", i))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("panels[%d].name %q is duplicated", i, p.Name))
		}
		seen[p.Name] = true
	}

	switch c.Format {
	case "wav", "flac":
	default:
		errs = append(errs, fmt.Errorf("format %q is invalid; valid values: wav, flac", c.Format))
	}

	if c.Meter.RefreshHz < 1 || c.Meter.RefreshHz > 240 {
		errs = append(errs, fmt.Errorf("meter.refresh_hz must be between 1 and 240, got %d", c.Meter.RefreshHz))
	}
	if c.Meter.Smoothing < 0 || c.Meter.Smoothing >= 1 {
		errs = append(errs, fmt.Errorf("meter.smoothing must be in [0, 1), got %g", c.Meter.Smoothing))
	}

	if c.Speech.RestartDelay < 0 {
		errs = append(errs, fmt.Errorf("speech.restart_delay must not be negative, got %v", c.Speech.RestartDelay))
	}
	if c.Speech.MaxRestarts < 0 {
		errs = append(errs, fmt.Errorf("speech.max_restarts must not be negative, got %d", c.Speech.MaxRestarts))
	}

	return errors.Join(errs...)
}

func (c *Config) RefreshInterval() time.Duration {
	return time.Second / time.Duration(c.Meter.RefreshHz)
}

// Save writes the config as YAML, creating or truncating path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: write %q: %w", path, err)
	}
	return nil
}
