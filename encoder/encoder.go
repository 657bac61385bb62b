package encoder

import "fmt"

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
	HeaderSize    = 44
)

// Segment is a self-contained WAV file ready for upload. Seq is zero for
// single-shot recordings and increases monotonically within a segmented session.
type Segment struct {
	Seq     uint64
	Name    string
	Data    []byte
	Samples int
}

func SegmentName(seq uint64) string {
	if seq == 0 {
		return "recording.wav"
	}
	return fmt.Sprintf("segment_%d.wav", seq)
}

// NewSegment encodes 16 kHz mono samples into a named WAV segment.
func NewSegment(seq uint64, samples []float32) Segment {
	return Segment{
		Seq:     seq,
		Name:    SegmentName(seq),
		Data:    EncodeWAV(samples, SampleRate),
		Samples: len(samples),
	}
}

func (s Segment) DurationSeconds() float64 {
	return float64(s.Samples) / SampleRate
}

// PCM returns the little-endian sample payload following the header.
func (s Segment) PCM() []byte {
	if len(s.Data) <= HeaderSize {
		return nil
	}
	return s.Data[HeaderSize:]
}
