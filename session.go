package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"parole/audio"
	"parole/history"
	"parole/log"
	"parole/recorder"
	"parole/transcriber"
)

// driver runs recording sessions for a UI: it meters the capture, watches for
// silence and reports results through an EventSink.
type driver struct {
	ctrl     *recorder.Controller
	rec      recorder.Recorder
	input    *recorder.TextInput
	sink     EventSink
	autoStop bool
	voice    *voiceDetector

	// history, when set, receives every finished session labelled with
	// mode and provider.
	history  *history.Store
	mode     string
	provider string

	stopReq chan struct{}

	mu      sync.Mutex
	active  bool
	done    chan struct{}
	started time.Time
}

func newDriver(ctrl *recorder.Controller, rec recorder.Recorder, input *recorder.TextInput, sink EventSink, autoStop bool) *driver {
	d := &driver{
		ctrl:     ctrl,
		rec:      rec,
		input:    input,
		sink:     sink,
		autoStop: autoStop,
		stopReq:  make(chan struct{}, 1),
	}
	voice, err := newVoiceDetector()
	if err != nil {
		log.Warnf("voice detection disabled: %v", err)
	}
	d.voice = voice
	ctrl.OnChunk(func(data []byte, f audio.CaptureConfig) {
		level := chunkRMS(data)
		if d.voice != nil {
			level = d.voice.Process(data, f)
		}
		d.sink.AudioLevel(level)
	})
	// The failure itself reaches the sink as a *CaptureError from Stop.
	ctrl.OnFailure(func(error) {
		d.requestStop()
	})
	if updates := rec.Updates(); updates != nil {
		go func() {
			for text := range updates {
				d.sink.LiveText(text)
			}
		}()
	}
	return d
}

// StopRequests fires when the session should end without user action: a
// device failure or a long silence in a live session.
func (d *driver) StopRequests() <-chan struct{} { return d.stopReq }

func (d *driver) requestStop() {
	select {
	case d.stopReq <- struct{}{}:
	default:
	}
}

func (d *driver) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *driver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active {
		return recorder.ErrAlreadyRecording
	}
	// drop a stale request left over from the previous session
	select {
	case <-d.stopReq:
	default:
	}
	if d.voice != nil {
		d.voice.Reset()
	}
	if err := d.rec.Start(); err != nil {
		d.sink.Error(describeError(err))
		return err
	}
	d.active = true
	d.done = make(chan struct{})
	d.started = time.Now()
	d.sink.RecordingStart()
	go d.tick(d.done)
	return nil
}

func (d *driver) tick(done <-chan struct{}) {
	mon := newVoiceWatch(d.autoStop)
	start := time.Now()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			d.sink.RecordingTick(time.Since(start))
			speech := d.voice == nil || d.voice.HasSpeechTick()
			switch mon.Tick(speech) {
			case voiceMissing, voiceStillMissing:
				log.Info("no_voice_warning")
				d.sink.NoVoiceWarning()
			case voiceBack:
				d.sink.VoiceCleared()
			case voiceGiveUp:
				log.Info("silence_auto_stop")
				d.requestStop()
				return
			}
		}
	}
}

// Stop ends the session and reports the outcome to the sink. It is a no-op
// when no session is active.
func (d *driver) Stop(ctx context.Context) (recorder.Summary, error) {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return recorder.Summary{}, nil
	}
	d.active = false
	close(d.done)
	started := d.started
	d.mu.Unlock()

	d.sink.RecordingStop()
	if d.voice != nil {
		total, speech := d.voice.Stats()
		log.Infof("voice_frames: %d/%d voiced", speech, total)
	}
	sum, err := d.rec.Stop(ctx)
	if err != nil {
		d.sink.Error(describeError(err))
	}
	d.sink.Transcription(d.input.String(), sum)
	d.record(ctx, started, sum, err)
	return sum, err
}

func (d *driver) record(ctx context.Context, started time.Time, sum recorder.Summary, err error) {
	if d.history == nil || sum.Session == "" {
		return
	}
	sess := history.Session{
		ID:        sum.Session,
		Mode:      d.mode,
		Provider:  d.provider,
		StartedAt: started,
		Elapsed:   time.Since(started),
		Submitted: sum.Submitted,
		Dropped:   sum.Dropped,
		Filtered:  sum.Filtered,
		Failed:    sum.Failed,
		Text:      sum.Text,
	}
	if err != nil {
		sess.Error = err.Error()
	}
	// the session context may already be past its deadline
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if herr := d.history.Record(ctx, sess); herr != nil {
		log.Warnf("history: %v", herr)
	}
}

// describeError turns session-level failures into the message shown to the
// user.
func describeError(err error) string {
	var capErr *recorder.CaptureError
	switch {
	case errors.Is(err, recorder.ErrPermissionDenied):
		return "microphone access denied; allow microphone access and try again"
	case errors.Is(err, recorder.ErrDeviceUnavailable):
		return "no usable microphone found; check the device and try again"
	case errors.As(err, &capErr):
		return "recording stopped: the microphone went away (" + capErr.Err.Error() + ")"
	case errors.Is(err, recorder.ErrAlreadyRecording):
		return "already recording"
	case errors.Is(err, recorder.ErrNoSpeech):
		return "no speech detected"
	case errors.Is(err, transcriber.ErrUnauthorized):
		return "transcription service rejected the API key; check MISTRAL_API_KEY"
	case errors.Is(err, transcriber.ErrRateLimited):
		return "transcription service is rate limiting requests; try again shortly"
	case errors.Is(err, transcriber.ErrTooLarge):
		return "recording too large to transcribe"
	case errors.Is(err, transcriber.ErrBadRequest):
		return "transcription request rejected: " + err.Error()
	case errors.Is(err, transcriber.ErrNetwork):
		return "cannot reach the transcription service"
	case errors.Is(err, transcriber.ErrUpstream):
		return "transcription service error; try again"
	}
	return err.Error()
}
