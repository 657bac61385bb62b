package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"parole/encoder"
	"parole/log"
	"parole/metrics"
	"parole/transcriber"
)

var ErrNoSpeech = errors.New("no speech detected")

// OneShot records until Stop and transcribes the whole capture as a single
// recording.wav upload.
type OneShot struct {
	ctrl    *Controller
	tr      Transcriber
	input   Input
	metrics *metrics.Metrics

	// OnSegment sees the encoded recording before it is uploaded.
	OnSegment func(encoder.Segment)
}

func NewOneShot(ctrl *Controller, tr Transcriber, input Input, m *metrics.Metrics) *OneShot {
	return &OneShot{ctrl: ctrl, tr: tr, input: input, metrics: m}
}

func (o *OneShot) Start() error {
	if err := o.ctrl.Start(); err != nil {
		return err
	}
	log.SessionStart(o.ctrl.SessionID(), o.tr.Name(), "single")
	return nil
}

// Updates never fires; single-shot text only arrives from Stop.
func (o *OneShot) Updates() <-chan string { return nil }

func (o *OneShot) Stop(ctx context.Context) (Summary, error) {
	id := o.ctrl.SessionID()
	summary := Summary{Session: id, Drained: true}
	defer func() { log.SessionEnd(id, summary.Submitted, o.ctrl.Elapsed()) }()

	blob, err := o.ctrl.Stop()
	if err != nil {
		return summary, err
	}
	if blob == nil {
		return summary, ErrNoSpeech
	}

	seg, err := Convert(blob, 0)
	if err != nil {
		summary.Failed++
		log.SegmentResult(id, 0, "decode_failed", err)
		return summary, fmt.Errorf("converting recording: %w", err)
	}
	if o.OnSegment != nil {
		o.OnSegment(seg)
	}

	summary.Submitted++
	o.metrics.Segment("submitted")
	o.metrics.ObserveSegment(seg.DurationSeconds())

	start := time.Now()
	res, err := o.tr.Transcribe(ctx, seg)
	switch {
	case errors.Is(err, transcriber.ErrEmptyResult):
		summary.Empty++
		o.metrics.Segment("empty")
		log.SegmentResult(id, 0, "empty", nil)
		return summary, ErrNoSpeech
	case err != nil:
		summary.Failed++
		o.metrics.Segment("failed")
		log.SegmentResult(id, 0, "failed", err)
		return summary, err
	}

	o.metrics.Segment("ok")
	log.SegmentResult(id, 0, "ok", nil)
	logMetrics(o.tr.Name(), seg, res, time.Since(start))

	summary.Text = res.Text
	o.input.Append(res.Text)
	log.TranscriptionText(res.Text)
	return summary, nil
}

func logMetrics(provider string, seg encoder.Segment, res *transcriber.Result, elapsed time.Duration) {
	m := log.Metrics{
		AudioLengthS: seg.DurationSeconds(),
		UploadKB:     float64(len(seg.Data)) / 1024,
		TotalTimeMs:  float64(elapsed.Milliseconds()),
		Retries:      res.Retries,
	}
	var reused bool
	var proto string
	if nm := res.Metrics; nm != nil {
		m.DNSTimeMs = float64(nm.DNS.Milliseconds())
		m.TLSTimeMs = float64(nm.TLS.Milliseconds())
		m.TTFBMs = float64(nm.TTFB.Milliseconds())
		reused = nm.ConnReused
		proto = nm.TLSProtocol
	}
	log.TranscriptionMetrics(m, provider, res.Model, reused, proto)
}

// Recorder is the common surface of OneShot and Segmenter.
type Recorder interface {
	Start() error
	Stop(ctx context.Context) (Summary, error)
	Updates() <-chan string
}

var (
	_ Recorder = (*OneShot)(nil)
	_ Recorder = (*Segmenter)(nil)
)
