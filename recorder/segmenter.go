package recorder

import (
	"context"
	"errors"
	"sync"
	"time"

	"parole/encoder"
	"parole/log"
	"parole/metrics"
	"parole/transcriber"
)

// Transcriber is the part of transcriber.Transcriber the recorders use.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, seg encoder.Segment) (*transcriber.Result, error)
}

type Options struct {
	Every           time.Duration
	MinSegmentBytes int
	MaxConcurrency  int
	DrainTimeout    time.Duration
	// SilenceRMS drops segments whose level never reaches it. Zero disables
	// the gate.
	SilenceRMS float64
	Metrics    *metrics.Metrics
	// OnSegment sees every segment before it is uploaded.
	OnSegment func(encoder.Segment)
}

func DefaultOptions() Options {
	return Options{
		Every:           8 * time.Second,
		MinSegmentBytes: 1000,
		MaxConcurrency:  2,
		DrainTimeout:    5 * time.Second,
		SilenceRMS:      0.003,
	}
}

// Summary describes a finished session.
type Summary struct {
	Session   string
	Submitted int
	Dropped   int
	Filtered  int
	Empty     int
	Failed    int
	Text      string
	Drained   bool
}

// Segmenter slices a running capture into fixed-length segments and
// transcribes them concurrently, dropping segments while the in-flight
// window is full.
type Segmenter struct {
	ctrl  *Controller
	tr    Transcriber
	input Input
	opts  Options

	updates chan string

	mu       sync.Mutex
	cur      *liveSession
	stopping bool
}

// liveSession is the state of one Start/Stop cycle. Late completions from an
// abandoned session only ever touch their own liveSession.
type liveSession struct {
	id      string
	buf     *Buffer
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped chan struct{}
	tickers sync.WaitGroup

	mu      sync.Mutex
	seq     uint64
	pending map[uint64]struct{}
	changed chan struct{}
	fatal   error
	summary Summary
	closed  bool // set once Stop has taken the text
}

func NewSegmenter(ctrl *Controller, tr Transcriber, input Input, opts Options) *Segmenter {
	d := DefaultOptions()
	if opts.Every <= 0 {
		opts.Every = d.Every
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = d.MaxConcurrency
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = d.DrainTimeout
	}
	return &Segmenter{
		ctrl:    ctrl,
		tr:      tr,
		input:   input,
		opts:    opts,
		updates: make(chan string, 16),
	}
}

// Updates publishes the ordered session text after every completed segment.
func (s *Segmenter) Updates() <-chan string { return s.updates }

func (s *Segmenter) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil || s.stopping {
		return ErrAlreadyRecording
	}
	if err := s.ctrl.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &liveSession{
		id:      s.ctrl.SessionID(),
		buf:     NewBuffer(),
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
		pending: make(map[uint64]struct{}),
		changed: make(chan struct{}),
	}
	sess.summary.Session = sess.id
	s.cur = sess
	log.SessionStart(sess.id, s.tr.Name(), "segmented")

	sess.tickers.Add(1)
	go s.tick(sess)
	return nil
}

func (s *Segmenter) tick(sess *liveSession) {
	defer sess.tickers.Done()
	ticker := time.NewTicker(s.opts.Every)
	defer ticker.Stop()
	for {
		select {
		case <-sess.stopped:
			return
		case <-ticker.C:
			s.process(sess, s.ctrl.Cut(), false, time.Time{})
		}
	}
}

// process filters, converts and submits one blob. The tail segment waits for
// a free slot until deadline; every other segment is dropped when the window
// is full.
func (s *Segmenter) process(sess *liveSession, blob *Blob, tail bool, deadline time.Time) {
	if blob == nil {
		return
	}
	if len(blob.Data) < s.opts.MinSegmentBytes {
		sess.count(func(sm *Summary) { sm.Filtered++ })
		s.opts.Metrics.Segment("filtered")
		log.SegmentResult(sess.id, 0, "filtered", nil)
		return
	}

	sess.mu.Lock()
	sess.seq++
	seq := sess.seq
	sess.mu.Unlock()

	seg, err := Convert(blob, seq)
	if err != nil {
		sess.count(func(sm *Summary) { sm.Failed++ })
		s.opts.Metrics.Segment("failed")
		log.SegmentResult(sess.id, seq, "decode_failed", err)
		return
	}
	if s.opts.SilenceRMS > 0 && RMS(seg) < s.opts.SilenceRMS {
		sess.count(func(sm *Summary) { sm.Filtered++ })
		s.opts.Metrics.Segment("filtered")
		log.SegmentResult(sess.id, seq, "silent", nil)
		return
	}

	if !s.acquire(sess, seq, tail, deadline) {
		sess.count(func(sm *Summary) { sm.Dropped++ })
		s.opts.Metrics.Segment("dropped")
		log.SegmentResult(sess.id, seq, "dropped", nil)
		return
	}

	sess.count(func(sm *Summary) { sm.Submitted++ })
	s.opts.Metrics.Segment("submitted")
	s.opts.Metrics.ObserveSegment(seg.DurationSeconds())
	if s.opts.OnSegment != nil {
		s.opts.OnSegment(seg)
	}
	go s.transcribe(sess, seg)
}

func (s *Segmenter) acquire(sess *liveSession, seq uint64, wait bool, deadline time.Time) bool {
	for {
		sess.mu.Lock()
		if len(sess.pending) < s.opts.MaxConcurrency {
			sess.pending[seq] = struct{}{}
			sess.wg.Add(1)
			s.opts.Metrics.SetInFlight(len(sess.pending))
			sess.mu.Unlock()
			return true
		}
		changed := sess.changed
		sess.mu.Unlock()

		if !wait {
			return false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		select {
		case <-changed:
		case <-time.After(remaining):
			return false
		}
	}
}

func (s *Segmenter) release(sess *liveSession, seq uint64) {
	sess.mu.Lock()
	delete(sess.pending, seq)
	s.opts.Metrics.SetInFlight(len(sess.pending))
	close(sess.changed)
	sess.changed = make(chan struct{})
	sess.mu.Unlock()
	sess.wg.Done()
}

func (s *Segmenter) transcribe(sess *liveSession, seg encoder.Segment) {
	defer s.release(sess, seg.Seq)

	start := time.Now()
	res, err := s.tr.Transcribe(sess.ctx, seg)
	switch {
	case err == nil:
		sess.mu.Lock()
		if sess.closed {
			sess.mu.Unlock()
			s.opts.Metrics.Segment("abandoned")
			log.SegmentResult(sess.id, seg.Seq, "abandoned", nil)
			return
		}
		sess.buf.Put(seg.Seq, res.Text)
		s.publish(sess.buf.Text())
		sess.mu.Unlock()
		logMetrics(s.tr.Name(), seg, res, time.Since(start))
		s.opts.Metrics.Segment("ok")
		log.SegmentResult(sess.id, seg.Seq, "ok", nil)
	case errors.Is(err, transcriber.ErrEmptyResult):
		sess.count(func(sm *Summary) { sm.Empty++ })
		s.opts.Metrics.Segment("empty")
		log.SegmentResult(sess.id, seg.Seq, "empty", nil)
	default:
		sess.mu.Lock()
		sess.summary.Failed++
		if transcriber.Fatal(err) && sess.fatal == nil {
			sess.fatal = err
		}
		sess.mu.Unlock()
		s.opts.Metrics.Segment("failed")
		log.SegmentResult(sess.id, seg.Seq, "failed", err)
	}
}

func (s *Segmenter) publish(text string) {
	select {
	case s.updates <- text:
	default:
	}
}

// Stop ends the session: the final partial segment is submitted, in-flight
// uploads are awaited up to DrainTimeout, and the ordered text is appended to
// the input. A device failure or a session-fatal upload error is returned
// alongside the summary.
func (s *Segmenter) Stop(ctx context.Context) (Summary, error) {
	s.mu.Lock()
	sess := s.cur
	s.cur = nil
	if sess != nil {
		s.stopping = true
	}
	s.mu.Unlock()
	if sess == nil {
		return Summary{}, nil
	}
	defer func() {
		s.mu.Lock()
		s.stopping = false
		s.mu.Unlock()
	}()

	close(sess.stopped)
	sess.tickers.Wait()

	deadline := time.Now().Add(s.opts.DrainTimeout)
	blob, captureErr := s.ctrl.Stop()
	if captureErr == nil {
		s.process(sess, blob, true, deadline)
	}

	drained := waitUntil(ctx, &sess.wg, deadline)
	if !drained {
		log.Warnf("session %s: drain timeout, abandoning in-flight segments", sess.id)
	}
	sess.cancel()

	sess.mu.Lock()
	sess.closed = true
	sess.mu.Unlock()

	text := sess.buf.Text()
	if text != "" {
		s.input.Append(text)
		log.TranscriptionText(text)
	}
	sess.buf.Reset()

	sess.mu.Lock()
	summary := sess.summary
	summary.Text = text
	summary.Drained = drained
	fatal := sess.fatal
	sess.mu.Unlock()

	log.SessionEnd(sess.id, summary.Submitted, s.ctrl.Elapsed())

	if captureErr != nil {
		return summary, captureErr
	}
	return summary, fatal
}

func (sess *liveSession) count(fn func(*Summary)) {
	sess.mu.Lock()
	fn(&sess.summary)
	sess.mu.Unlock()
}

// waitUntil waits for wg until deadline or ctx ends. It reports whether wg
// finished.
func waitUntil(ctx context.Context, wg *sync.WaitGroup, deadline time.Time) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
