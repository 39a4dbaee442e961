package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog        zerolog.Logger
	diagFile       *os.File
	transcribeFile *os.File
	logMu          sync.Mutex
	logReady       bool
	pid            int
	dir            string
)

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		if !filepath.IsAbs(flagPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, flagPath), nil
		}
		return flagPath, nil
	}

	// Priority 2: MICPANEL_LOG_PATH environment variable
	envPath := os.Getenv("MICPANEL_LOG_PATH")
	if envPath != "" {
		if !filepath.IsAbs(envPath) {
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			return filepath.Join(wd, envPath), nil
		}
		return envPath, nil
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	transcribePath := filepath.Join(dir, "transcribe_log.txt")
	transcribeFile, err = os.OpenFile(transcribePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if transcribeFile != nil {
		transcribeFile.Close()
		transcribeFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func Transcript(panel, text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	line := fmt.Sprintf("%s\t[%d]\t%s\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, panel, text)
	if transcribeFile != nil {
		transcribeFile.WriteString(line)
	}
}

func Playback(panel, sink string, d time.Duration) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("panel", panel).
		Str("sink", sink).
		Dur("duration", d).
		Msg("playback")
}

func MeterAttach(panel, device string) {
	if !logReady {
		return
	}
	diagLog.Info().Str("panel", panel).Str("device", device).Msg("meter_attach")
}

func MeterDetach(panel string) {
	if !logReady {
		return
	}
	diagLog.Info().Str("panel", panel).Msg("meter_detach")
}

func DeviceSwitch(panel, kind, from, to string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("panel", panel).
		Str("kind", kind).
		Str("from", from).
		Str("to", to).
		Msg("device_switch")
}

func Recording(panel, format string, frames uint64, sizeBytes int, d time.Duration) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("panel", panel).
		Str("format", format).
		Uint64("frames", frames).
		Float64("size_kb", float64(sizeBytes)/1024).
		Dur("duration", d).
		Msg("recording")
}

func SpeechState(panel, from, to string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("panel", panel).
		Str("from", from).
		Str("to", to).
		Msg("speech_state")
}

func SessionStart(panel, id, device string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("panel", panel).
		Str("session", id).
		Str("device", device).
		Msg("session_start")
}

func SessionEnd(panel, id string, d time.Duration) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("panel", panel).
		Str("session", id).
		Dur("duration", d).
		Msg("session_end")
}
