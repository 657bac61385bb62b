package main

import (
	"encoding/binary"
	"math"
	"sync"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"parole/audio"
	"parole/encoder"
)

const (
	vadMode         = 3
	vadFrameMs      = 20
	vadFrameBytes   = encoder.SampleRate * vadFrameMs / 1000 * 2 // 640 bytes
	speechThreshold = 0.10                                       // share of voiced frames for a tick to count as speaking
)

// voiceDetector classifies captured audio in 20 ms frames with WebRTC VAD.
// Chunks in any capture format are mixed down and resampled to 16 kHz first.
// The RMS level it returns only drives the level meter.
type voiceDetector struct {
	vad *webrtcvad.VAD

	mu           sync.Mutex
	buf          []byte
	totalFrames  int
	speechFrames int
	tickTotal    int
	tickSpeech   int
}

func newVoiceDetector() (*voiceDetector, error) {
	v, err := webrtcvad.New()
	if err != nil {
		return nil, err
	}
	if err := v.SetMode(vadMode); err != nil {
		return nil, err
	}
	return &voiceDetector{vad: v}, nil
}

// chunkRMS is the level of a PCM16 chunk in [0, 1].
func chunkRMS(data []byte) float64 {
	n := len(data) / 2
	if n == 0 {
		return 0
	}
	var sumSquares float64
	for i := 0; i+1 < len(data); i += 2 {
		v := float64(int16(binary.LittleEndian.Uint16(data[i:]))) / 32768
		sumSquares += v * v
	}
	return math.Sqrt(sumSquares / float64(n))
}

// to16k returns data as 16 kHz mono PCM16.
func to16k(data []byte, f audio.CaptureConfig) []byte {
	channels := max(int(f.Channels), 1)
	if f.SampleRate == encoder.SampleRate && channels == 1 {
		return data
	}
	frame, err := audio.DecodePCM16(data[:len(data)/(2*channels)*2*channels], int(f.SampleRate), channels)
	if err != nil {
		return nil
	}
	return audio.EncodePCM16(audio.Resample(frame, encoder.SampleRate).Samples)
}

// Process feeds one captured chunk and returns its level.
func (d *voiceDetector) Process(data []byte, f audio.CaptureConfig) float64 {
	level := chunkRMS(data)
	pcm := to16k(data, f)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf = append(d.buf, pcm...)
	for len(d.buf) >= vadFrameBytes {
		frame := d.buf[:vadFrameBytes]
		d.buf = d.buf[vadFrameBytes:]

		active, err := d.vad.Process(encoder.SampleRate, frame)
		if err != nil {
			continue
		}
		d.totalFrames++
		if active {
			d.speechFrames++
		}
	}
	return level
}

// Stats returns the frames classified since the last Reset and how many
// were voiced.
func (d *voiceDetector) Stats() (total, speech int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totalFrames, d.speechFrames
}

// HasSpeechTick reports whether enough frames since the previous call were
// voiced.
func (d *voiceDetector) HasSpeechTick() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := d.totalFrames - d.tickTotal
	s := d.speechFrames - d.tickSpeech
	d.tickTotal, d.tickSpeech = d.totalFrames, d.speechFrames
	if t == 0 {
		return false
	}
	return float64(s)/float64(t) >= speechThreshold
}

func (d *voiceDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf = d.buf[:0]
	d.totalFrames, d.speechFrames = 0, 0
	d.tickTotal, d.tickSpeech = 0, 0
}
