package recorder

import (
	"math"
	"sync"

	"parole/audio"
)

type manualContext struct {
	format   audio.CaptureConfig
	newErr   error
	startErr error

	mu   sync.Mutex
	last *manualCapture
}

func newManualContext() *manualContext {
	return &manualContext{format: audio.CaptureConfig{SampleRate: 16000, Channels: 1}}
}

func (m *manualContext) Devices() ([]audio.DeviceInfo, error) { return nil, nil }
func (m *manualContext) Close()                               {}

func (m *manualContext) NewCapture(_ *audio.DeviceInfo, _ audio.Constraints) (audio.CaptureDevice, error) {
	if m.newErr != nil {
		return nil, m.newErr
	}
	c := &manualCapture{format: m.format, startErr: m.startErr}
	m.mu.Lock()
	m.last = c
	m.mu.Unlock()
	return c, nil
}

func (m *manualContext) capture() *manualCapture {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

type manualCapture struct {
	format   audio.CaptureConfig
	startErr error

	mu      sync.Mutex
	cb      audio.DataCallback
	onErr   audio.ErrorCallback
	started bool
	stopped bool
	closed  bool
}

func (c *manualCapture) Start() error {
	if c.startErr != nil {
		return c.startErr
	}
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	return nil
}

func (c *manualCapture) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
}

func (c *manualCapture) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *manualCapture) SetCallback(cb audio.DataCallback) {
	c.mu.Lock()
	c.cb = cb
	c.mu.Unlock()
}

func (c *manualCapture) ClearCallback() {
	c.mu.Lock()
	c.cb = nil
	c.mu.Unlock()
}

func (c *manualCapture) SetErrorCallback(cb audio.ErrorCallback) {
	c.mu.Lock()
	c.onErr = cb
	c.mu.Unlock()
}

func (c *manualCapture) Format() audio.CaptureConfig { return c.format }
func (c *manualCapture) DeviceName() string          { return "manual" }

func (c *manualCapture) push(data []byte) {
	c.mu.Lock()
	cb := c.cb
	c.mu.Unlock()
	if cb != nil {
		cb(data, uint32(len(data)/2))
	}
}

func (c *manualCapture) fail(err error) {
	c.mu.Lock()
	cb := c.onErr
	c.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (c *manualCapture) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func sineFrame(seconds float64, rate int, freq float64) audio.Frame {
	n := int(seconds * float64(rate))
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return audio.Frame{Samples: s, SampleRate: rate, Channels: 1}
}

// speech returns half a second of 16 kHz PCM16 tone, loud enough to pass
// the silence gate.
func speech() []byte {
	return audio.EncodePCM16(sineFrame(0.5, 16000, 220).Samples)
}
