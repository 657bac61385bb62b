package encoder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var ErrInvalidHeader = errors.New("invalid wav header")

// Header mirrors the canonical 44-byte PCM WAV header.
type Header struct {
	ChunkSize     uint32
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2Size uint32
}

// EncodeWAV quantizes mono float samples to 16-bit PCM and wraps them in a
// RIFF/WAVE container. Out-of-range samples are clamped and NaN is written as silence.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	dataSize := len(samples) * 2
	buf := make([]byte, HeaderSize+dataSize)
	putHeader(buf, sampleRate, dataSize)

	off := HeaderSize
	for _, s := range samples {
		binary.LittleEndian.PutUint16(buf[off:], uint16(quantize(s)))
		off += 2
	}
	return buf
}

func putHeader(buf []byte, sampleRate, dataSize int) {
	const blockAlign = Channels * BitsPerSample / 8

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], Channels)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(buf[32:34], blockAlign)
	binary.LittleEndian.PutUint16(buf[34:36], BitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
}

func quantize(s float32) int16 {
	v := float64(s)
	if math.IsNaN(v) {
		return 0
	}
	v = math.Max(-1, math.Min(1, v))
	if v < 0 {
		return int16(math.Round(v * 32768))
	}
	return int16(math.Round(v * 32767))
}

// ParseHeader reads back the fixed 44-byte header produced by EncodeWAV.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidHeader, HeaderSize, len(data))
	}
	for _, tag := range []struct {
		off  int
		want string
	}{{0, "RIFF"}, {8, "WAVE"}, {12, "fmt "}, {36, "data"}} {
		if got := string(data[tag.off : tag.off+4]); got != tag.want {
			return Header{}, fmt.Errorf("%w: expected %q at offset %d, got %q", ErrInvalidHeader, tag.want, tag.off, got)
		}
	}
	le := binary.LittleEndian
	return Header{
		ChunkSize:     le.Uint32(data[4:8]),
		Subchunk1Size: le.Uint32(data[16:20]),
		AudioFormat:   le.Uint16(data[20:22]),
		NumChannels:   le.Uint16(data[22:24]),
		SampleRate:    le.Uint32(data[24:28]),
		ByteRate:      le.Uint32(data[28:32]),
		BlockAlign:    le.Uint16(data[32:34]),
		BitsPerSample: le.Uint16(data[34:36]),
		Subchunk2Size: le.Uint32(data[40:44]),
	}, nil
}
