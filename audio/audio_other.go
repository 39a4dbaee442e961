//go:build !linux

package audio

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

type malgoContext struct {
	ctx *malgo.AllocatedContext
}

func NewContext() (Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	return &malgoContext{ctx: ctx}, nil
}

func (m *malgoContext) Devices(kind DeviceKind) ([]DeviceInfo, error) {
	typ := malgo.Capture
	if kind == KindOutput {
		typ = malgo.Playback
	}
	devices, err := m.ctx.Devices(typ)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	var result []DeviceInfo
	for _, d := range devices {
		result = append(result, DeviceInfo{
			ID:   hex.EncodeToString(d.ID.Pointer()[:]),
			Name: d.Name(),
			Kind: kind,
		})
	}
	return result, nil
}

func deviceID(device *DeviceInfo) (*malgo.DeviceID, error) {
	idBytes, err := hex.DecodeString(device.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid device ID %q: %w", device.ID, ErrDeviceUnavailable)
	}
	var devID malgo.DeviceID
	copy(devID[:], idBytes)
	return &devID, nil
}

func (m *malgoContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = config.Channels
	deviceConfig.SampleRate = config.SampleRate

	if device != nil {
		devID, err := deviceID(device)
		if err != nil {
			return nil, err
		}
		deviceConfig.Capture.DeviceID = devID.Pointer()
	}

	c := &malgoCapture{info: device}
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, frameCount uint32) {
			if cb := c.callback.Load(); cb != nil {
				buf := make([]byte, len(data))
				copy(buf, data)
				(*cb)(buf, frameCount)
			}
		},
	}

	dev, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrDeviceUnavailable)
	}
	c.device = dev
	return c, nil
}

func (m *malgoContext) Play(ctx context.Context, device *DeviceInfo, samples []int16, sampleRate int) error {
	if len(samples) == 0 {
		return nil
	}
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(sampleRate)
	if device != nil {
		devID, err := deviceID(device)
		if err != nil {
			return err
		}
		deviceConfig.Playback.DeviceID = devID.Pointer()
	}

	var mu sync.Mutex
	pos := 0
	finished := make(chan struct{})
	var finishOnce sync.Once
	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			mu.Lock()
			defer mu.Unlock()
			for i := 0; i < int(frameCount) && i*2+1 < len(out); i++ {
				var s int16
				if pos < len(samples) {
					s = samples[pos]
					pos++
				}
				binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
			}
			if pos >= len(samples) {
				finishOnce.Do(func() { close(finished) })
			}
		},
	}

	dev, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("%v: %w", err, ErrDeviceUnavailable)
	}
	defer dev.Uninit()
	if err := dev.Start(); err != nil {
		return fmt.Errorf("malgo playback: %w", err)
	}
	defer dev.Stop()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *malgoContext) Close() {
	m.ctx.Uninit()
	m.ctx.Free()
}

type malgoCapture struct {
	device   *malgo.Device
	info     *DeviceInfo
	callback atomic.Pointer[DataCallback]
}

func (c *malgoCapture) Start() error {
	return c.device.Start()
}

func (c *malgoCapture) Stop() {
	c.device.Stop()
}

func (c *malgoCapture) Close() {
	c.device.Uninit()
}

func (c *malgoCapture) SetCallback(cb DataCallback) {
	c.callback.Store(&cb)
}

func (c *malgoCapture) ClearCallback() {
	c.callback.Store(nil)
}

func (c *malgoCapture) DeviceName() string {
	if c.info != nil {
		return c.info.Label()
	}
	return "system default"
}
