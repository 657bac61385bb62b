package recorder

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"parole/audio"
	"parole/encoder"
	"parole/metrics"
	"parole/transcriber"
)

// testOptions disables the ticker so tests decide when segments are cut.
func testOptions() Options {
	opts := DefaultOptions()
	opts.Every = time.Hour
	return opts
}

func newTestSegmenter(t *testing.T, tr Transcriber, opts Options) (*Segmenter, *manualCapture, *TextInput) {
	t.Helper()
	mc := newManualContext()
	input := &TextInput{}
	s := NewSegmenter(NewController(mc, nil, audio.DefaultConstraints()), tr, input, opts)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s, mc.capture(), input
}

// cut closes the current segment the same way a ticker fire does.
func cut(s *Segmenter) {
	s.mu.Lock()
	sess := s.cur
	s.mu.Unlock()
	s.process(sess, s.ctrl.Cut(), false, time.Time{})
}

func seqText(_ context.Context, seg encoder.Segment) (string, error) {
	return fmt.Sprintf("s%d", seg.Seq), nil
}

func TestSegmenterBoundsConcurrency(t *testing.T) {
	release := make(chan struct{})
	fake := &transcriber.Fake{Respond: func(ctx context.Context, seg encoder.Segment) (string, error) {
		<-release
		return seqText(ctx, seg)
	}}
	opts := testOptions()
	m := metrics.New(prometheus.NewRegistry())
	opts.Metrics = m
	s, dev, input := newTestSegmenter(t, fake, opts)

	for range 5 {
		dev.push(speech())
		cut(s)
	}
	close(release)

	sum, err := s.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sum.Submitted != 2 || sum.Dropped != 3 {
		t.Errorf("submitted=%d dropped=%d, want 2 and 3", sum.Submitted, sum.Dropped)
	}
	if got := fake.MaxInFlight(); got > 2 {
		t.Errorf("MaxInFlight = %d, want <= 2", got)
	}
	if got := input.String(); got != "s1 s2" {
		t.Errorf("input = %q, want %q", got, "s1 s2")
	}
	if !sum.Drained {
		t.Error("expected a full drain")
	}
	if got := testutil.ToFloat64(m.Segments.WithLabelValues("dropped")); got != 3 {
		t.Errorf("dropped metric = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.InFlight); got != 0 {
		t.Errorf("in-flight gauge = %v after drain", got)
	}
}

func TestSegmenterOrdersOutOfOrderCompletions(t *testing.T) {
	gate := make(chan struct{})
	fake := &transcriber.Fake{Respond: func(_ context.Context, seg encoder.Segment) (string, error) {
		if seg.Seq == 1 {
			<-gate
			return "one", nil
		}
		return "two", nil
	}}
	s, dev, input := newTestSegmenter(t, fake, testOptions())

	dev.push(speech())
	cut(s)
	dev.push(speech())
	cut(s)

	select {
	case got := <-s.Updates():
		if got != "two" {
			t.Fatalf("first update = %q, want %q", got, "two")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no update for seq 2")
	}

	close(gate)
	select {
	case got := <-s.Updates():
		if got != "one two" {
			t.Fatalf("second update = %q, want %q", got, "one two")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no update for seq 1")
	}

	if _, err := s.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := input.String(); got != "one two" {
		t.Errorf("input = %q", got)
	}
}

func TestSegmenterTicker(t *testing.T) {
	opts := testOptions()
	opts.Every = 20 * time.Millisecond
	s, dev, _ := newTestSegmenter(t, &transcriber.Fake{Respond: seqText}, opts)
	defer s.Stop(context.Background())

	dev.push(speech())
	select {
	case got := <-s.Updates():
		if got != "s1" {
			t.Errorf("update = %q, want s1", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ticker never cut a segment")
	}
}

func TestSegmenterSubmitsTailOnStop(t *testing.T) {
	fake := &transcriber.Fake{Respond: seqText}
	s, dev, input := newTestSegmenter(t, fake, testOptions())

	dev.push(speech())
	cut(s)
	dev.push(speech())

	sum, err := s.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sum.Submitted != 2 || !sum.Drained {
		t.Errorf("summary = %+v", sum)
	}
	if got := input.String(); got != "s1 s2" {
		t.Errorf("input = %q, want %q", got, "s1 s2")
	}
}

func TestSegmenterTailWaitsForSlot(t *testing.T) {
	fake := &transcriber.Fake{Respond: func(_ context.Context, seg encoder.Segment) (string, error) {
		if seg.Seq == 1 {
			time.Sleep(100 * time.Millisecond)
			return "first", nil
		}
		return "last", nil
	}}
	opts := testOptions()
	opts.MaxConcurrency = 1
	s, dev, input := newTestSegmenter(t, fake, opts)

	dev.push(speech())
	cut(s)
	dev.push(speech())

	sum, err := s.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sum.Submitted != 2 || sum.Dropped != 0 {
		t.Errorf("submitted=%d dropped=%d, want 2 and 0", sum.Submitted, sum.Dropped)
	}
	if got := input.String(); got != "first last" {
		t.Errorf("input = %q", got)
	}
}

func TestSegmenterDrainTimeout(t *testing.T) {
	fake := &transcriber.Fake{Respond: func(ctx context.Context, _ encoder.Segment) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	opts := testOptions()
	opts.DrainTimeout = 50 * time.Millisecond
	s, dev, input := newTestSegmenter(t, fake, opts)

	dev.push(speech())
	cut(s)

	start := time.Now()
	sum, err := s.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sum.Drained {
		t.Error("expected drain to time out")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Stop took %v", elapsed)
	}
	if input.String() != "" {
		t.Errorf("input = %q, want empty", input.String())
	}
	if err := s.Start(); err != nil {
		t.Fatalf("restart after timeout: %v", err)
	}
	s.Stop(context.Background())
}

func TestSegmenterIgnoresLateCompletion(t *testing.T) {
	release := make(chan struct{})
	done := make(chan struct{})
	fake := &transcriber.Fake{Respond: func(ctx context.Context, seg encoder.Segment) (string, error) {
		defer close(done)
		<-release
		return "stale", nil
	}}
	opts := testOptions()
	opts.DrainTimeout = 50 * time.Millisecond
	m := metrics.New(prometheus.NewRegistry())
	opts.Metrics = m
	s, dev, input := newTestSegmenter(t, fake, opts)

	dev.push(speech())
	cut(s)

	sum, err := s.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sum.Drained {
		t.Fatal("expected drain to time out")
	}

	close(release)
	<-done
	// transcribe finishes shortly after Respond returns.
	deadline := time.Now().Add(time.Second)
	for testutil.ToFloat64(m.Segments.WithLabelValues("abandoned")) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("late completion was not counted as abandoned")
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case text := <-s.Updates():
		t.Errorf("late completion published %q", text)
	default:
	}
	if input.String() != "" {
		t.Errorf("input = %q, want empty", input.String())
	}
	if got := testutil.ToFloat64(m.Segments.WithLabelValues("ok")); got != 0 {
		t.Errorf("ok segments = %v, want 0", got)
	}
}

func TestSegmenterFiltersShortAndSilent(t *testing.T) {
	fake := &transcriber.Fake{Respond: seqText}
	s, dev, _ := newTestSegmenter(t, fake, testOptions())

	dev.push(make([]byte, 10))
	cut(s)
	dev.push(make([]byte, 16000))

	sum, err := s.Stop(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Filtered != 2 || sum.Submitted != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if calls := fake.Calls(); len(calls) != 0 {
		t.Errorf("uploaded %v", calls)
	}
}

func TestSegmenterEmptyResult(t *testing.T) {
	fake := transcriber.NewFake("", nil)
	s, dev, input := newTestSegmenter(t, fake, testOptions())
	dev.push(speech())

	sum, err := s.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sum.Empty != 1 || sum.Failed != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if input.String() != "" {
		t.Errorf("input = %q", input.String())
	}
}

func TestSegmenterFatalError(t *testing.T) {
	fake := transcriber.NewFake("", &transcriber.Error{Kind: transcriber.ErrUnauthorized, Status: 401})
	s, dev, _ := newTestSegmenter(t, fake, testOptions())
	dev.push(speech())

	sum, err := s.Stop(context.Background())
	if !errors.Is(err, transcriber.ErrUnauthorized) {
		t.Fatalf("Stop err = %v, want unauthorized", err)
	}
	if sum.Failed != 1 {
		t.Errorf("Failed = %d", sum.Failed)
	}
}

func TestSegmenterTransientErrorKeepsSession(t *testing.T) {
	fake := &transcriber.Fake{Respond: func(_ context.Context, seg encoder.Segment) (string, error) {
		if seg.Seq == 1 {
			return "", &transcriber.Error{Kind: transcriber.ErrUpstream, Status: 502}
		}
		return "kept", nil
	}}
	s, dev, input := newTestSegmenter(t, fake, testOptions())
	dev.push(speech())
	cut(s)
	dev.push(speech())

	sum, err := s.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sum.Failed != 1 || input.String() != "kept" {
		t.Errorf("summary = %+v, input = %q", sum, input.String())
	}
}

func TestSegmenterCaptureFailure(t *testing.T) {
	fake := &transcriber.Fake{Respond: seqText}
	s, dev, input := newTestSegmenter(t, fake, testOptions())
	dev.push(speech())
	dev.fail(errors.New("track ended"))

	_, err := s.Stop(context.Background())
	var ce *CaptureError
	if !errors.As(err, &ce) {
		t.Fatalf("Stop err = %v, want *CaptureError", err)
	}
	if calls := fake.Calls(); len(calls) != 0 {
		t.Errorf("uploaded %v after failure", calls)
	}
	if input.String() != "" {
		t.Errorf("input = %q", input.String())
	}
}

func TestSegmenterRejectsDoubleStart(t *testing.T) {
	s, _, _ := newTestSegmenter(t, &transcriber.Fake{Respond: seqText}, testOptions())
	if err := s.Start(); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("second Start err = %v", err)
	}
	if _, err := s.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sum, err := s.Stop(context.Background()); err != nil || sum.Session != "" {
		t.Errorf("Stop while idle = %+v, %v", sum, err)
	}
}

func TestSegmenterOnSegment(t *testing.T) {
	var names []string
	opts := testOptions()
	opts.OnSegment = func(seg encoder.Segment) { names = append(names, seg.Name) }
	s, dev, _ := newTestSegmenter(t, &transcriber.Fake{Respond: seqText}, opts)
	dev.push(speech())
	cut(s)
	dev.push(speech())
	if _, err := s.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "segment_1.wav" || names[1] != "segment_2.wav" {
		t.Errorf("names = %v", names)
	}
}
