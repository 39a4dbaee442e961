package audio

import (
	"context"
	"errors"
	"strings"

	"micpanel/encoder"
)

const (
	SampleRate    = encoder.SampleRate
	Channels      = encoder.Channels
	WAVHeaderSize = 44
)

var (
	ErrPermission        = errors.New("audio device permission denied")
	ErrDeviceUnavailable = errors.New("audio device unavailable")
)

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

type DeviceKind int

const (
	KindInput DeviceKind = iota
	KindOutput
)

func (k DeviceKind) String() string {
	if k == KindOutput {
		return "audiooutput"
	}
	return "audioinput"
}

type DataCallback func(data []byte, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{SampleRate: SampleRate, Channels: Channels}
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string // may be empty before permission is granted
	Kind DeviceKind
}

// Label is the name shown to users, with a fallback for unlabeled devices.
func (d DeviceInfo) Label() string {
	if d.Name != "" {
		return d.Name
	}
	id := d.ID
	if len(id) > 8 {
		id = id[:8]
	}
	if d.Kind == KindOutput {
		return "Speaker " + id
	}
	return "Microphone " + id
}

type Context interface {
	Devices(kind DeviceKind) ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	// Play blocks until samples (mono int16) have been played on device,
	// or ctx is done. A nil device means the system default output.
	Play(ctx context.Context, device *DeviceInfo, samples []int16, sampleRate int) error
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	DeviceName() string
}

// FindDevice returns the device of the given kind whose name or ID
// matches key.
func FindDevice(ctx Context, kind DeviceKind, key string) (*DeviceInfo, error) {
	devices, err := ctx.Devices(kind)
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if devices[i].Name == key || devices[i].ID == key {
			return &devices[i], nil
		}
	}
	return nil, ErrDeviceUnavailable
}
