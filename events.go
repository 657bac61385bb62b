package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"parole/recorder"
)

// EventSink abstracts the display layer so the TUI and the headless modes
// receive the same recording and transcription events.
type EventSink interface {
	RecordingStart()
	RecordingStop()
	RecordingTick(elapsed time.Duration)
	AudioLevel(level float64)
	NoVoiceWarning()
	VoiceCleared()
	LiveText(text string)
	Transcription(input string, sum recorder.Summary)
	Error(msg string)
}

// consoleSink prints events as plain lines for headless runs.
type consoleSink struct {
	mu      sync.Mutex
	w       io.Writer
	verbose bool
}

func newConsoleSink(w io.Writer, verbose bool) *consoleSink {
	return &consoleSink{w: w, verbose: verbose}
}

func (c *consoleSink) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format+"\n", args...)
}

func (c *consoleSink) RecordingStart() {
	if c.verbose {
		c.printf("recording...")
	}
}

func (c *consoleSink) RecordingStop() {
	if c.verbose {
		c.printf("transcribing...")
	}
}

func (c *consoleSink) RecordingTick(time.Duration) {}
func (c *consoleSink) AudioLevel(float64)          {}

func (c *consoleSink) NoVoiceWarning() {
	if c.verbose {
		c.printf("warning: no voice detected")
	}
}

func (c *consoleSink) VoiceCleared() {}

func (c *consoleSink) LiveText(text string) {
	if c.verbose {
		c.printf("live: %s", text)
	}
}

func (c *consoleSink) Transcription(input string, sum recorder.Summary) {
	if c.verbose {
		c.printf("segments: submitted=%d dropped=%d filtered=%d failed=%d", sum.Submitted, sum.Dropped, sum.Filtered, sum.Failed)
	}
	if sum.Text != "" {
		c.printf("%s", sum.Text)
	}
}

func (c *consoleSink) Error(msg string) {
	c.printf("error: %s", msg)
}
