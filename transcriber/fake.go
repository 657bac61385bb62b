package transcriber

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"parole/encoder"
)

// Fake answers every segment locally. Respond, when set, overrides the
// fixed Text/Err reply and may block to simulate slow uploads.
type Fake struct {
	Text    string
	Err     error
	Delay   time.Duration
	Respond func(ctx context.Context, seg encoder.Segment) (string, error)

	mu          sync.Mutex
	lang        string
	calls       []uint64
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func NewFake(text string, err error) *Fake {
	return &Fake{Text: text, Err: err}
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) SetLanguage(lang string) {
	f.mu.Lock()
	f.lang = lang
	f.mu.Unlock()
}

func (f *Fake) GetLanguage() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lang
}

func (f *Fake) Transcribe(ctx context.Context, seg encoder.Segment) (*Result, error) {
	return f.TranscribeLanguage(ctx, seg, f.GetLanguage())
}

func (f *Fake) TranscribeLanguage(ctx context.Context, seg encoder.Segment, lang string) (*Result, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, seg.Seq)
	f.mu.Unlock()

	if f.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, transportError(ctx, ctx.Err())
		case <-time.After(f.Delay):
		}
	}

	text, err := f.Text, f.Err
	if f.Respond != nil {
		text, err = f.Respond(ctx, seg)
	}
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, &Error{Kind: ErrEmptyResult}
	}
	return &Result{
		Text:     text,
		Language: lang,
		Duration: seg.DurationSeconds(),
		Model:    "fake",
		Attempts: []Attempt{{Model: "fake"}},
		Metrics:  &NetworkMetrics{Total: f.Delay},
	}, nil
}

// Calls returns the sequence numbers received so far, in arrival order.
func (f *Fake) Calls() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.calls...)
}

// MaxInFlight is the highest number of concurrent Transcribe calls observed.
func (f *Fake) MaxInFlight() int { return int(f.maxInFlight.Load()) }
