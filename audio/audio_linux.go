//go:build linux

package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

type pulseContext struct {
	client *pulse.Client
}

func NewContext() (Context, error) {
	c, err := pulse.NewClient(pulse.ClientApplicationName("parole"))
	if err != nil {
		return nil, fmt.Errorf("pulse: %w", err)
	}
	return &pulseContext{client: c}, nil
}

func (p *pulseContext) Devices() ([]DeviceInfo, error) {
	sources, err := p.client.ListSources()
	if err != nil {
		return nil, fmt.Errorf("pulse list sources: %w", err)
	}
	devices := make([]DeviceInfo, 0, len(sources))
	for _, s := range sources {
		devices = append(devices, DeviceInfo{ID: s.ID(), Name: s.Name()})
	}
	return devices, nil
}

func (p *pulseContext) NewCapture(device *DeviceInfo, constraints Constraints) (CaptureDevice, error) {
	if constraints.Channels == 0 {
		constraints.Channels = 1
	}
	return &pulseCapture{
		client:      p.client,
		device:      device,
		constraints: constraints,
	}, nil
}

func (p *pulseContext) Close() {
	p.client.Close()
}

type pulseCapture struct {
	client      *pulse.Client
	device      *DeviceInfo
	constraints Constraints
	callback    atomic.Pointer[DataCallback]
	onError     atomic.Pointer[ErrorCallback]

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// Software gain stands in for the browser-style auto gain control.
const agcGain = 8

// streamPoll is how often a running stream is checked for a server-side close.
const streamPoll = 250 * time.Millisecond

// amplify converts pulse samples to little-endian PCM16, saturating.
func amplify(buf []int16, gain int32) []byte {
	out := make([]byte, len(buf)*2)
	for i, s := range buf {
		v := max(min(int32(s)*gain, math.MaxInt16), math.MinInt16)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

func (c *pulseCapture) recordOptions() ([]pulse.RecordOption, error) {
	opts := []pulse.RecordOption{
		pulse.RecordMono,
		pulse.RecordSampleRate(int(c.constraints.SampleRate)),
		pulse.RecordLatency(0.05),
	}
	if c.constraints.Channels == 2 {
		opts[0] = pulse.RecordStereo
	}
	if c.constraints.AutoGainControl {
		opts = append(opts, pulse.RecordRawOption(func(r *proto.CreateRecordStream) {
			r.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm) * 3}
		}))
	}
	if c.device != nil {
		source, err := c.client.SourceByID(c.device.ID)
		if err != nil {
			return nil, fmt.Errorf("pulse source %q: %w", c.device.Name, err)
		}
		opts = append(opts, pulse.RecordSource(source))
	}
	return opts, nil
}

func (c *pulseCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	gain := int32(1)
	if c.constraints.AutoGainControl {
		gain = agcGain
	}
	channels := max(c.constraints.Channels, 1)
	writer := pulse.Int16Writer(func(buf []int16) (int, error) {
		if cb := c.callback.Load(); cb != nil && len(buf) > 0 {
			(*cb)(amplify(buf, gain), uint32(len(buf))/channels)
		}
		return len(buf), nil
	})

	opts, err := c.recordOptions()
	if err != nil {
		return err
	}
	stream, err := c.client.NewRecord(writer, opts...)
	if err != nil {
		return fmt.Errorf("pulse record: %w", err)
	}

	stop, done := make(chan struct{}), make(chan struct{})
	c.stop, c.done = stop, done
	go c.watch(stream, stop, done)
	return nil
}

// watch runs the stream until stop is closed. A stream closed by the server
// (source unplugged, daemon restart) is reported through the error callback.
func (c *pulseCapture) watch(stream *pulse.RecordStream, stop, done chan struct{}) {
	defer close(done)
	stream.Start()
	t := time.NewTicker(streamPoll)
	defer t.Stop()
	for {
		select {
		case <-stop:
			stream.Stop()
			stream.Close()
			return
		case <-t.C:
			if !stream.Closed() {
				continue
			}
			err := stream.Error()
			if err == nil {
				err = errors.New("pulse stream closed")
			}
			// The callback usually calls Stop, which waits on done.
			if cb := c.onError.Load(); cb != nil {
				go (*cb)(err)
			}
			<-stop
			return
		}
	}
}

func (c *pulseCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		select {
		case <-c.stop:
		default:
			close(c.stop)
		}
		<-c.done
	}
}

func (c *pulseCapture) Close() {
	c.Stop()
}

func (c *pulseCapture) SetCallback(cb DataCallback) {
	c.callback.Store(&cb)
}

func (c *pulseCapture) ClearCallback() {
	c.callback.Store(nil)
}

func (c *pulseCapture) SetErrorCallback(cb ErrorCallback) {
	c.onError.Store(&cb)
}

func (c *pulseCapture) Format() CaptureConfig {
	return c.constraints.CaptureConfig()
}

func (c *pulseCapture) DeviceName() string {
	if c.device != nil {
		return c.device.Name
	}
	return "system default"
}
