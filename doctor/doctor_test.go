package doctor

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"

	"parole/audio"
	"parole/transcriber"
)

func tone(amplitude float64) audio.Frame {
	s := make([]float32, 16000)
	for i := range s {
		s[i] = float32(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return audio.Frame{Samples: s, SampleRate: 16000, Channels: 1}
}

func runChecks(t *testing.T, frame audio.Frame, tr transcriber.Transcriber) (int, string) {
	t.Helper()
	fake := audio.NewFakeContextFromFrame(frame, false)
	var out bytes.Buffer
	code := Run(context.Background(), Checks{
		Audio:       fake,
		Transcriber: tr,
		Wait:        func() { <-fake.Last().AudioDone() },
		Out:         &out,
	})
	return code, out.String()
}

func TestRunAllPass(t *testing.T) {
	code, out := runChecks(t, tone(0.5), transcriber.NewFake("testing one two", nil))
	if code != 0 {
		t.Fatalf("exit code = %d\n%s", code, out)
	}
	for _, want := range []string{
		"PASS: fake (language auto)",
		"PASS: 1 device(s), using system default",
		"PASS: microphone is picking up sound",
		`Text: "testing one two"`,
		"PASS: model fake",
		"All checks passed!",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunSilentCapture(t *testing.T) {
	code, out := runChecks(t, tone(0), transcriber.NewFake("", nil))
	if code != 0 {
		t.Fatalf("exit code = %d\n%s", code, out)
	}
	if !strings.Contains(out, "WARN: capture is silent") {
		t.Errorf("missing silence warning:\n%s", out)
	}
	if !strings.Contains(out, "heard no speech") {
		t.Errorf("missing empty result warning:\n%s", out)
	}
}

func TestRunTranscriptionFailure(t *testing.T) {
	err := &transcriber.Error{Kind: transcriber.ErrUnauthorized, Status: 401}
	code, out := runChecks(t, tone(0.5), transcriber.NewFake("", err))
	if code != 1 {
		t.Fatalf("exit code = %d, want 1\n%s", code, out)
	}
	if !strings.Contains(out, "FAIL: unauthorized (401)") {
		t.Errorf("output:\n%s", out)
	}
}

func TestRunNoTranscriber(t *testing.T) {
	var out bytes.Buffer
	code := Run(context.Background(), Checks{Out: &out})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if strings.Contains(out.String(), "[2/5]") {
		t.Errorf("later checks ran after a failure:\n%s", out.String())
	}
}
