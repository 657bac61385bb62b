package audio

import (
	"os"
	"sync"
	"time"
)

const fakeFrameSize = 1024

// FakeContext replays a decoded WAV or FLAC file as a capture device.
// In realtime mode chunks are paced at the file's rate and silence follows
// the audio; otherwise the whole file is delivered as fast as possible.
type FakeContext struct {
	pcm      []byte
	rate     uint32
	realtime bool

	// StartErr, when set, is returned by every capture's Start.
	StartErr error

	mu   sync.Mutex
	last *FakeCapture
}

func NewFakeContext(path string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	frame, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return NewFakeContextFromFrame(frame, realtime), nil
}

func NewFakeContextFromFrame(frame Frame, realtime bool) *FakeContext {
	return &FakeContext{
		pcm:      EncodePCM16(frame.Samples),
		rate:     uint32(frame.SampleRate),
		realtime: realtime,
	}
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ Constraints) (CaptureDevice, error) {
	c := &FakeCapture{
		pcm:       f.pcm,
		rate:      f.rate,
		realtime:  f.realtime,
		startErr:  f.StartErr,
		audioDone: make(chan struct{}),
	}
	f.mu.Lock()
	f.last = c
	f.mu.Unlock()
	return c, nil
}

// Last returns the most recently created capture, or nil.
func (f *FakeContext) Last() *FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type FakeCapture struct {
	pcm      []byte
	rate     uint32
	realtime bool
	startErr error

	mu        sync.Mutex
	cb        DataCallback
	onError   ErrorCallback
	audioDone chan struct{}
	stopCh    chan struct{}
	feedDone  chan struct{}
}

// AudioDone is closed once the whole file has been delivered.
func (f *FakeCapture) AudioDone() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audioDone
}

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) SetErrorCallback(cb ErrorCallback) {
	f.mu.Lock()
	f.onError = cb
	f.mu.Unlock()
}

// Fail simulates an asynchronous device failure such as a track ending.
func (f *FakeCapture) Fail(err error) {
	f.mu.Lock()
	cb := f.onError
	f.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (f *FakeCapture) Format() CaptureConfig {
	return CaptureConfig{SampleRate: f.rate, Channels: 1}
}

func (f *FakeCapture) DeviceName() string { return "fake" }

func (f *FakeCapture) callback() DataCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *FakeCapture) feedChunk(cb DataCallback, pos, chunkBytes int) int {
	end := min(pos+chunkBytes, len(f.pcm))
	chunk := make([]byte, end-pos)
	copy(chunk, f.pcm[pos:end])
	cb(chunk, uint32(len(chunk)/2))
	return end
}

func (f *FakeCapture) Start() error {
	if f.startErr != nil {
		return f.startErr
	}

	f.mu.Lock()
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	stopCh, feedDone, audioDone := f.stopCh, f.feedDone, f.audioDone
	f.mu.Unlock()

	chunkBytes := fakeFrameSize * 2
	var interval time.Duration
	if f.realtime && f.rate > 0 {
		interval = time.Duration(fakeFrameSize) * time.Second / time.Duration(f.rate)
	}

	go func() {
		defer close(feedDone)
		pos := 0
		silence := make([]byte, chunkBytes)
		finished := false

		for {
			select {
			case <-stopCh:
				return
			default:
			}

			cb := f.callback()
			switch {
			case cb == nil:
				time.Sleep(time.Millisecond)
				continue
			case pos < len(f.pcm):
				pos = f.feedChunk(cb, pos, chunkBytes)
				if pos < len(f.pcm) && interval == 0 {
					continue
				}
			case !finished:
				finished = true
				close(audioDone)
				if !f.realtime {
					<-stopCh
					return
				}
			default:
				cb(silence, fakeFrameSize)
			}

			wait := interval
			if wait == 0 {
				wait = time.Millisecond
			}
			select {
			case <-stopCh:
				return
			case <-time.After(wait):
			}
		}
	}()

	return nil
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	stopCh, feedDone := f.stopCh, f.feedDone
	f.mu.Unlock()
	if stopCh == nil {
		return
	}
	select {
	case <-stopCh:
	default:
		close(stopCh)
	}
	<-feedDone

	f.mu.Lock()
	select {
	case <-f.audioDone:
		f.audioDone = make(chan struct{}) // reset for replay
	default:
	}
	f.mu.Unlock()
}

func (f *FakeCapture) Close() { f.Stop() }
