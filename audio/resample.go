package audio

import "math"

// Resample converts a mono frame to targetRate by linear interpolation.
// The output has exactly floor(len * targetRate / in.SampleRate) samples.
// Values are not clamped here.
func Resample(in Frame, targetRate int) Frame {
	out := Frame{SampleRate: targetRate, Channels: in.Channels}
	if len(in.Samples) == 0 || targetRate <= 0 || in.SampleRate <= 0 {
		return out
	}

	ratio := float64(targetRate) / float64(in.SampleRate)
	n := int(math.Floor(float64(len(in.Samples)) * ratio))
	out.Samples = make([]float32, n)

	last := len(in.Samples) - 1
	for i := 0; i < n; i++ {
		pos := float64(i) / ratio
		k := int(math.Floor(pos))
		if k >= last {
			out.Samples[i] = in.Samples[last]
			continue
		}
		f := pos - float64(k)
		out.Samples[i] = float32(float64(in.Samples[k])*(1-f) + float64(in.Samples[k+1])*f)
	}
	return out
}
