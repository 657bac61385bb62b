package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrDecode = errors.New("audio decode failed")

// Frame is a mono float buffer with samples nominally in [-1, 1].
// Channels records how many source channels were folded into it.
type Frame struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

func (f Frame) Len() int { return len(f.Samples) }

func (f Frame) DurationSeconds() float64 {
	if f.SampleRate <= 0 {
		return 0
	}
	return float64(len(f.Samples)) / float64(f.SampleRate)
}

// DecodePCM16 converts interleaved little-endian int16 PCM into a mono frame,
// averaging channels.
func DecodePCM16(data []byte, sampleRate, channels int) (Frame, error) {
	if sampleRate <= 0 || channels <= 0 {
		return Frame{}, fmt.Errorf("%w: invalid format %d Hz/%d ch", ErrDecode, sampleRate, channels)
	}
	stride := 2 * channels
	if len(data)%stride != 0 {
		return Frame{}, fmt.Errorf("%w: %d bytes is not a whole number of %d-channel frames", ErrDecode, len(data), channels)
	}

	n := len(data) / stride
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float32
		base := i * stride
		for ch := 0; ch < channels; ch++ {
			s := int16(binary.LittleEndian.Uint16(data[base+ch*2:]))
			sum += float32(s) / 32768
		}
		out[i] = sum / float32(channels)
	}
	return Frame{Samples: out, SampleRate: sampleRate, Channels: channels}, nil
}

// EncodePCM16 is the inverse of DecodePCM16 for mono frames.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := s * 32768
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

func mixDown(interleaved []int, channels int, scale float32) []float32 {
	if channels <= 0 {
		channels = 1
	}
	n := len(interleaved) / channels
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += float32(interleaved[i*channels+ch]) / scale
		}
		out[i] = sum / float32(channels)
	}
	return out
}
