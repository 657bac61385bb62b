package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"parole/audio"
	"parole/recorder"
	"parole/transcriber"
)

func newConsoleDriver(tr recorder.Transcriber, verbose bool) (*driver, *audio.FakeContext, *bytes.Buffer) {
	fake := audio.NewFakeContextFromFrame(toneFrame(1, 16000), false)
	ctrl := recorder.NewController(fake, nil, audio.DefaultConstraints())
	input := &recorder.TextInput{}
	var out bytes.Buffer
	sink := newConsoleSink(&out, verbose)
	return newDriver(ctrl, recorder.NewOneShot(ctrl, tr, input, nil), input, sink, false), fake, &out
}

func TestRunScript(t *testing.T) {
	drv, fake, out := newConsoleDriver(transcriber.NewFake("hello world", nil), true)
	script := "START\nWAIT_AUDIO_DONE\nSTOP\nQUIT\n"

	if err := runScript(context.Background(), drv, strings.NewReader(script), fake); err != nil {
		t.Fatalf("runScript: %v", err)
	}
	got := out.String()
	for _, want := range []string{"recording...", "transcribing...", "submitted=1", "hello world"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRunScriptEOFStops(t *testing.T) {
	drv, fake, out := newConsoleDriver(transcriber.NewFake("until eof", nil), false)

	if err := runScript(context.Background(), drv, strings.NewReader("START\nWAIT_AUDIO_DONE\n"), fake); err != nil {
		t.Fatalf("runScript: %v", err)
	}
	if drv.Active() {
		t.Error("session still active after end of input")
	}
	if strings.TrimSpace(out.String()) != "until eof" {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunScriptSleep(t *testing.T) {
	drv, fake, _ := newConsoleDriver(transcriber.NewFake("x", nil), false)
	start := time.Now()
	if err := runScript(context.Background(), drv, strings.NewReader("SLEEP 30\nQUIT\n"), fake); err != nil {
		t.Fatalf("runScript: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("SLEEP returned after %v", elapsed)
	}
}

func TestRunScriptErrors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		fake   bool
	}{
		{"unknown command", "JUMP\n", true},
		{"bad sleep", "SLEEP soon\n", true},
		{"wait without fake", "WAIT_AUDIO_DONE\n", false},
		{"wait before start", "WAIT_AUDIO_DONE\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv, fake, _ := newConsoleDriver(transcriber.NewFake("x", nil), false)
			if !tt.fake {
				fake = nil
			}
			if err := runScript(context.Background(), drv, strings.NewReader(tt.script), fake); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRunTimed(t *testing.T) {
	drv, _, out := newConsoleDriver(transcriber.NewFake("timed text", nil), false)
	if err := runTimed(context.Background(), drv, 50*time.Millisecond); err != nil {
		t.Fatalf("runTimed: %v", err)
	}
	if strings.TrimSpace(out.String()) != "timed text" {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunTimedCancelled(t *testing.T) {
	drv, _, out := newConsoleDriver(transcriber.NewFake("cancelled", nil), false)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	if err := runTimed(ctx, drv, 0); err != nil {
		t.Fatalf("runTimed: %v", err)
	}
	if !strings.Contains(out.String(), "cancelled") {
		t.Errorf("output = %q", out.String())
	}
}
