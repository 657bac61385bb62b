package audio

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"parole/encoder"
)

func writeStereoWAV(t *testing.T, rate, frames int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stereo.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, rate, 16, 2, 1)
	data := make([]int, frames*2)
	for i := 0; i < frames; i++ {
		data[i*2] = 16384
		data[i*2+1] = 0
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 2, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("wav write: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("wav close: %v", err)
	}
	return path
}

func TestDecodeWAV(t *testing.T) {
	path := writeStereoWAV(t, 44100, 441)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	f, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.SampleRate != 44100 || f.Channels != 2 {
		t.Fatalf("format = %d Hz/%d ch", f.SampleRate, f.Channels)
	}
	if f.Len() != 441 {
		t.Fatalf("length = %d, want 441", f.Len())
	}
	for i, s := range f.Samples {
		if s != 0.25 {
			t.Fatalf("sample %d = %v, want 0.25", i, s)
		}
	}
}

func TestDecodeEncodedSegment(t *testing.T) {
	samples := []float32{0, 0.5, -0.5}
	f, err := Decode(encoder.EncodeWAV(samples, encoder.SampleRate))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.SampleRate != encoder.SampleRate || f.Len() != len(samples) {
		t.Fatalf("got %d samples at %d Hz", f.Len(), f.SampleRate)
	}
	for i, s := range samples {
		if math.Abs(float64(f.Samples[i]-s)) > 1.0/32768 {
			t.Errorf("sample %d = %v, want ~%v", i, f.Samples[i], s)
		}
	}
}

func TestDecodeFLAC(t *testing.T) {
	samples := make([]float32, 5000)
	for i := range samples {
		samples[i] = float32(0.25 * math.Sin(2*math.Pi*440*float64(i)/encoder.SampleRate))
	}
	data, err := encoder.EncodeFLAC(samples)
	if err != nil {
		t.Fatalf("EncodeFLAC: %v", err)
	}
	f, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if f.SampleRate != encoder.SampleRate || f.Channels != 1 {
		t.Fatalf("format = %d Hz/%d ch", f.SampleRate, f.Channels)
	}
	if f.Len() != len(samples) {
		t.Fatalf("length = %d, want %d", f.Len(), len(samples))
	}
	for i, s := range samples {
		if math.Abs(float64(f.Samples[i]-s)) > 2.0/32768 {
			t.Fatalf("sample %d = %v, want ~%v", i, f.Samples[i], s)
		}
	}
}

func TestDecodeUnknownContainer(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("ID3\x04garbage"), []byte("RIFF")} {
		if _, err := Decode(data); !errors.Is(err, ErrDecode) {
			t.Errorf("Decode(%q) err = %v, want ErrDecode", data, err)
		}
	}
}
