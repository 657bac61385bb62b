package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
)

// Decode sniffs a WAV or FLAC container and returns its audio as a mono frame
// at the container's native rate.
func Decode(data []byte) (Frame, error) {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return decodeWAV(data)
	case len(data) >= 4 && string(data[0:4]) == "fLaC":
		return decodeFLAC(data)
	default:
		return Frame{}, fmt.Errorf("%w: unrecognized container", ErrDecode)
	}
}

func decodeWAV(data []byte) (Frame, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Frame{}, fmt.Errorf("%w: invalid wav file", ErrDecode)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Frame{}, fmt.Errorf("%w: wav: %v", ErrDecode, err)
	}
	if dec.BitDepth == 0 || dec.NumChans == 0 || dec.SampleRate == 0 {
		return Frame{}, fmt.Errorf("%w: wav format %d Hz/%d ch/%d bit", ErrDecode, dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
	channels := int(dec.NumChans)
	scale := float32(int64(1) << (dec.BitDepth - 1))
	return Frame{
		Samples:    mixDown(buf.Data, channels, scale),
		SampleRate: int(dec.SampleRate),
		Channels:   channels,
	}, nil
}

func decodeFLAC(data []byte) (Frame, error) {
	stream, err := flac.New(bytes.NewReader(data))
	if err != nil {
		return Frame{}, fmt.Errorf("%w: flac: %v", ErrDecode, err)
	}
	defer stream.Close()

	info := stream.Info
	channels := int(info.NChannels)
	if channels == 0 || info.SampleRate == 0 || info.BitsPerSample == 0 {
		return Frame{}, fmt.Errorf("%w: flac format %d Hz/%d ch/%d bit", ErrDecode, info.SampleRate, info.NChannels, info.BitsPerSample)
	}

	var interleaved []int
	for {
		f, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Frame{}, fmt.Errorf("%w: flac frame: %v", ErrDecode, err)
		}
		n := f.Subframes[0].NSamples
		for i := 0; i < n; i++ {
			for ch := 0; ch < channels && ch < len(f.Subframes); ch++ {
				interleaved = append(interleaved, int(f.Subframes[ch].Samples[i]))
			}
		}
	}

	scale := float32(int64(1) << (info.BitsPerSample - 1))
	return Frame{
		Samples:    mixDown(interleaved, channels, scale),
		SampleRate: int(info.SampleRate),
		Channels:   channels,
	}, nil
}
