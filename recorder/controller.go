package recorder

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"parole/audio"
	"parole/log"
)

var (
	ErrAlreadyRecording  = errors.New("already recording")
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("audio device unavailable")
)

// CaptureError reports a device failure that ended a session early.
// Audio buffered before the failure is discarded.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string { return "capture failed: " + e.Err.Error() }

func (e *CaptureError) Unwrap() error { return e.Err }

type State int

const (
	Idle State = iota
	Recording
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Stopping:
		return "stopping"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Blob is raw interleaved PCM16 captured between two cuts.
type Blob struct {
	Data       []byte
	SampleRate int
	Channels   int
	Chunks     int
}

func (b *Blob) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 || b.Channels <= 0 {
		return 0
	}
	frames := len(b.Data) / (2 * b.Channels)
	return time.Duration(frames) * time.Second / time.Duration(b.SampleRate)
}

// Controller owns one capture device for the length of a session.
type Controller struct {
	ctx         audio.Context
	device      *audio.DeviceInfo
	constraints audio.Constraints

	mu      sync.Mutex
	state   State
	capture audio.CaptureDevice
	format  audio.CaptureConfig
	chunks  [][]byte
	failure error
	onChunk func([]byte, audio.CaptureConfig)
	onFail  func(error)
	session string
	started time.Time
}

func NewController(ctx audio.Context, device *audio.DeviceInfo, constraints audio.Constraints) *Controller {
	return &Controller{ctx: ctx, device: device, constraints: constraints}
}

// OnChunk registers an observer called with every captured chunk and the
// capture format it is in.
func (c *Controller) OnChunk(fn func([]byte, audio.CaptureConfig)) {
	c.mu.Lock()
	c.onChunk = fn
	c.mu.Unlock()
}

// OnFailure registers a callback run after Fail has released the device.
func (c *Controller) OnFailure(fn func(error)) {
	c.mu.Lock()
	c.onFail = fn
	c.mu.Unlock()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID identifies the current or most recent session in logs.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Elapsed is the time since the current session started.
func (c *Controller) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started.IsZero() {
		return 0
	}
	return time.Since(c.started)
}

func (c *Controller) Start() error {
	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return ErrAlreadyRecording
	}
	c.state = Recording
	c.chunks = nil
	c.failure = nil
	c.session = uuid.NewString()
	c.started = time.Now()
	c.mu.Unlock()

	capture, err := c.ctx.NewCapture(c.device, c.constraints)
	if err != nil {
		c.reset()
		return classifyDeviceError(err)
	}

	c.mu.Lock()
	c.capture = capture
	c.format = capture.Format()
	c.mu.Unlock()

	capture.SetCallback(c.handleData)
	capture.SetErrorCallback(c.Fail)

	if err := capture.Start(); err != nil {
		capture.ClearCallback()
		capture.Close()
		c.reset()
		return classifyDeviceError(err)
	}

	log.Info("recording_device: " + capture.DeviceName())
	return nil
}

func (c *Controller) reset() {
	c.mu.Lock()
	c.capture = nil
	c.chunks = nil
	c.state = Idle
	c.mu.Unlock()
}

func (c *Controller) handleData(data []byte, _ uint32) {
	if len(data) == 0 {
		return
	}
	c.mu.Lock()
	if c.state == Idle || c.capture == nil {
		c.mu.Unlock()
		return
	}
	c.chunks = append(c.chunks, data)
	fn, format := c.onChunk, c.format
	c.mu.Unlock()

	if fn != nil {
		fn(data, format)
	}
}

// Cut returns the audio captured since the previous cut without stopping the
// device, or nil when nothing arrived.
func (c *Controller) Cut() *Blob {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Recording {
		return nil
	}
	return c.takeLocked()
}

// Stop ends the session and returns the remaining audio. After a device
// failure it returns the failure as a *CaptureError instead.
func (c *Controller) Stop() (*Blob, error) {
	c.mu.Lock()
	if c.failure != nil {
		err := &CaptureError{Err: c.failure}
		c.failure = nil
		c.mu.Unlock()
		return nil, err
	}
	if c.state != Recording {
		c.mu.Unlock()
		return nil, nil
	}
	c.state = Stopping
	capture := c.capture
	c.mu.Unlock()

	// Stop before clearing the callback so the final flush is kept.
	capture.Stop()
	capture.ClearCallback()
	capture.Close()

	c.mu.Lock()
	blob := c.takeLocked()
	c.capture = nil
	c.state = Idle
	failure := c.failure
	c.failure = nil
	c.mu.Unlock()

	if failure != nil {
		return nil, &CaptureError{Err: failure}
	}
	return blob, nil
}

// Fail ends the session after a device-level error and discards buffered
// audio. The next Stop reports err.
func (c *Controller) Fail(err error) {
	c.mu.Lock()
	if c.state != Recording {
		c.mu.Unlock()
		return
	}
	c.state = Stopping
	c.failure = err
	c.chunks = nil
	capture := c.capture
	c.capture = nil
	c.mu.Unlock()

	log.Errorf("capture failure: %v", err)

	if capture != nil {
		capture.ClearCallback()
		capture.Stop()
		capture.Close()
	}

	c.mu.Lock()
	c.chunks = nil
	c.state = Idle
	fn := c.onFail
	c.mu.Unlock()

	if fn != nil {
		fn(err)
	}
}

// Failed reports whether a device failure is waiting to be collected by Stop.
func (c *Controller) Failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure != nil
}

func (c *Controller) takeLocked() *Blob {
	total := 0
	for _, ch := range c.chunks {
		total += len(ch)
	}
	n := len(c.chunks)
	if total == 0 {
		c.chunks = nil
		return nil
	}
	data := make([]byte, 0, total)
	for _, ch := range c.chunks {
		data = append(data, ch...)
	}
	c.chunks = nil
	channels := int(c.format.Channels)
	if channels == 0 {
		channels = 1
	}
	return &Blob{
		Data:       data,
		SampleRate: int(c.format.SampleRate),
		Channels:   channels,
		Chunks:     n,
	}
}

func classifyDeviceError(err error) error {
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range []string{"denied", "permission", "not allowed"} {
		if strings.Contains(msg, kw) {
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}
