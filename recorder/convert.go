package recorder

import (
	"encoding/binary"
	"errors"
	"math"

	"parole/audio"
	"parole/encoder"
)

var ErrEmptyBlob = errors.New("empty capture")

// Convert decodes a captured blob, resamples it to 16 kHz mono and wraps it
// in a WAV segment named after seq.
func Convert(blob *Blob, seq uint64) (encoder.Segment, error) {
	if blob == nil || len(blob.Data) == 0 {
		return encoder.Segment{}, ErrEmptyBlob
	}
	frame, err := audio.DecodePCM16(blob.Data, blob.SampleRate, blob.Channels)
	if err != nil {
		return encoder.Segment{}, err
	}
	out := audio.Resample(frame, encoder.SampleRate)
	return encoder.NewSegment(seq, out.Samples), nil
}

// RMS is the root-mean-square level of a segment's PCM payload in [0, 1].
func RMS(seg encoder.Segment) float64 {
	pcm := seg.PCM()
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sumSquares float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(pcm[i:]))
		normalized := float64(sample) / 32768.0
		sumSquares += normalized * normalized
	}
	return math.Sqrt(sumSquares / float64(n))
}
