//go:build !linux

package audio

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

var ErrDeviceStopped = errors.New("capture device stopped unexpectedly")

type malgoContext struct {
	ctx *malgo.AllocatedContext
}

func NewContext() (Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo init: %w", err)
	}
	return &malgoContext{ctx: ctx}, nil
}

func (m *malgoContext) Devices() ([]DeviceInfo, error) {
	infos, err := m.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	devices := make([]DeviceInfo, 0, len(infos))
	for _, d := range infos {
		devices = append(devices, DeviceInfo{ID: hex.EncodeToString(d.ID[:]), Name: d.Name()})
	}
	return devices, nil
}

// captureConfig builds a signed 16-bit capture config for device, or for the
// system default when device is nil.
func captureConfig(device *DeviceInfo, c Constraints) (malgo.DeviceConfig, error) {
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = c.Channels
	cfg.SampleRate = c.SampleRate
	if device == nil {
		return cfg, nil
	}
	raw, err := hex.DecodeString(device.ID)
	if err != nil {
		return cfg, fmt.Errorf("invalid device ID %q: %w", device.ID, err)
	}
	var id malgo.DeviceID
	copy(id[:], raw)
	cfg.Capture.DeviceID = id.Pointer()
	return cfg, nil
}

func (m *malgoContext) NewCapture(device *DeviceInfo, constraints Constraints) (CaptureDevice, error) {
	if constraints.Channels == 0 {
		constraints.Channels = 1
	}
	cfg, err := captureConfig(device, constraints)
	if err != nil {
		return nil, err
	}

	c := &malgoCapture{info: device, constraints: constraints}
	dev, err := malgo.InitDevice(m.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: c.onData,
		Stop: c.onStop,
	})
	if err != nil {
		return nil, fmt.Errorf("malgo device: %w", err)
	}
	c.device = dev
	return c, nil
}

func (m *malgoContext) Close() {
	_ = m.ctx.Uninit()
	m.ctx.Free()
}

type malgoCapture struct {
	device      *malgo.Device
	info        *DeviceInfo
	constraints Constraints
	callback    atomic.Pointer[DataCallback]
	onError     atomic.Pointer[ErrorCallback]
	stopping    atomic.Bool
	closeOnce   sync.Once
}

// onData runs on the audio thread; the buffer is reused by miniaudio.
func (c *malgoCapture) onData(_, data []byte, frames uint32) {
	cb := c.callback.Load()
	if cb == nil {
		return
	}
	(*cb)(append([]byte(nil), data...), frames)
}

// onStop fires for both requested and unexpected stops. Only the latter is
// reported, off the audio thread since the handler stops the device.
func (c *malgoCapture) onStop() {
	if c.stopping.Load() {
		return
	}
	if cb := c.onError.Load(); cb != nil {
		go (*cb)(ErrDeviceStopped)
	}
}

func (c *malgoCapture) Start() error {
	c.stopping.Store(false)
	return c.device.Start()
}

func (c *malgoCapture) Stop() {
	c.stopping.Store(true)
	_ = c.device.Stop()
}

func (c *malgoCapture) Close() {
	c.stopping.Store(true)
	c.closeOnce.Do(c.device.Uninit)
}

func (c *malgoCapture) SetCallback(cb DataCallback) {
	c.callback.Store(&cb)
}

func (c *malgoCapture) ClearCallback() {
	c.callback.Store(nil)
}

func (c *malgoCapture) SetErrorCallback(cb ErrorCallback) {
	c.onError.Store(&cb)
}

// Format reports what the device actually opened with, which may differ
// from the requested rate on some backends.
func (c *malgoCapture) Format() CaptureConfig {
	f := c.constraints.CaptureConfig()
	if rate := c.device.SampleRate(); rate > 0 {
		f.SampleRate = rate
	}
	return f
}

func (c *malgoCapture) DeviceName() string {
	if c.info != nil {
		return c.info.Name
	}
	return "system default"
}
