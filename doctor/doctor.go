// Package doctor runs end-to-end checks of the capture and transcription
// path and reports each step as PASS, WARN or FAIL.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/atotto/clipboard"

	"parole/audio"
	"parole/encoder"
	"parole/recorder"
	"parole/transcriber"
)

// silenceRMS is the level below which a capture is reported as silent.
const silenceRMS = 0.003

type Checks struct {
	Audio       audio.Context
	Device      *audio.DeviceInfo
	Transcriber transcriber.Transcriber
	// Record is how long the microphone check captures.
	Record time.Duration
	// Wait, when set, replaces the fixed Record delay. It returns once the
	// capture has delivered enough audio.
	Wait func()
	Out  io.Writer
}

type report struct {
	out  io.Writer
	fail bool
}

func (r *report) step(n int, title string) {
	fmt.Fprintf(r.out, "\n[%d/5] %s\n", n, title)
}

func (r *report) pass(format string, args ...any) {
	fmt.Fprintf(r.out, "  PASS: "+format+"\n", args...)
}

func (r *report) warn(format string, args ...any) {
	fmt.Fprintf(r.out, "  WARN: "+format+"\n", args...)
}

func (r *report) failf(format string, args ...any) {
	r.fail = true
	fmt.Fprintf(r.out, "  FAIL: "+format+"\n", args...)
}

// Run executes the checks in order and returns an exit code (0=all pass,
// 1=any fail). Later checks are skipped once one fails.
func Run(ctx context.Context, c Checks) int {
	r := &report{out: c.Out}
	fmt.Fprintln(r.out, "parole doctor - system diagnostics")
	fmt.Fprintln(r.out, "==================================")

	r.step(1, "Transcription provider")
	if c.Transcriber == nil {
		r.failf("no transcriber configured")
	} else {
		lang := c.Transcriber.GetLanguage()
		if lang == "" {
			lang = "auto"
		}
		r.pass("%s (language %s)", c.Transcriber.Name(), lang)
	}

	if !r.fail {
		r.step(2, "Capture devices")
		checkDevices(r, c)
	}

	var seg *encoder.Segment
	if !r.fail {
		r.step(3, "Microphone")
		seg = checkRecording(r, c)
	}

	if !r.fail && seg != nil {
		r.step(4, "Transcription")
		checkTranscription(ctx, r, c, seg)
	}

	r.step(5, "Clipboard")
	if clipboard.Unsupported {
		r.warn("no clipboard utility found (install xclip, xsel or wl-clipboard); copy is disabled")
	} else {
		r.pass("clipboard available")
	}

	fmt.Fprintln(r.out)
	if r.fail {
		fmt.Fprintln(r.out, "Some checks failed. See details above.")
		return 1
	}
	fmt.Fprintln(r.out, "All checks passed!")
	return 0
}

func checkDevices(r *report, c Checks) {
	devices, err := c.Audio.Devices()
	if err != nil {
		r.failf("cannot list devices: %v", err)
		return
	}
	if len(devices) == 0 {
		r.failf("no capture devices found")
		return
	}
	for _, d := range devices {
		tag := ""
		if audio.IsBluetooth(d.Name) {
			tag = " [bluetooth, lower quality]"
		}
		fmt.Fprintf(r.out, "  - %s%s\n", d.Name, tag)
	}
	name := "system default"
	if c.Device != nil {
		name = c.Device.Name
	}
	r.pass("%d device(s), using %s", len(devices), name)
}

func checkRecording(r *report, c Checks) *encoder.Segment {
	ctrl := recorder.NewController(c.Audio, c.Device, audio.DefaultConstraints())
	if err := ctrl.Start(); err != nil {
		r.failf("cannot start capture: %v", err)
		return nil
	}
	fmt.Fprintf(r.out, "  Speak now (%s)...\n", c.Record)
	if c.Wait != nil {
		c.Wait()
	} else {
		time.Sleep(c.Record)
	}
	blob, err := ctrl.Stop()
	if err != nil {
		r.failf("recording error: %v", err)
		return nil
	}
	if blob == nil {
		r.failf("no audio captured")
		return nil
	}
	seg, err := recorder.Convert(blob, 0)
	if err != nil {
		r.failf("converting capture: %v", err)
		return nil
	}
	rms := recorder.RMS(seg)
	fmt.Fprintf(r.out, "  Captured %.1fs at %d Hz/%d ch, level %.4f\n", blob.Duration().Seconds(), blob.SampleRate, blob.Channels, rms)
	if rms < silenceRMS {
		r.warn("capture is silent; check the input volume or pick another device")
	} else {
		r.pass("microphone is picking up sound")
	}
	return &seg
}

func checkTranscription(ctx context.Context, r *report, c Checks, seg *encoder.Segment) {
	start := time.Now()
	res, err := c.Transcriber.Transcribe(ctx, *seg)
	elapsed := time.Since(start)
	switch {
	case errors.Is(err, transcriber.ErrEmptyResult):
		r.warn("service answered but heard no speech (%dms)", elapsed.Milliseconds())
	case err != nil:
		r.failf("%v", err)
	default:
		fmt.Fprintf(r.out, "  Text: %q\n", res.Text)
		model := res.Model
		if model == "" {
			model = "default"
		}
		r.pass("model %s, %dms", model, elapsed.Milliseconds())
	}
}
