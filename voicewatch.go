package main

import "time"

const (
	tickInterval = 100 * time.Millisecond

	// voiceWarnAfter is both the warning delay and the window it is judged on.
	voiceWarnAfter = 8 * time.Second
	// voiceGiveUpAfter ends a live session that has heard almost nothing.
	voiceGiveUpAfter = 30 * time.Second

	minSpeechRatio   = 0.10
	clearSpeechRatio = 0.25
)

type voiceEvent int

const (
	voiceOK voiceEvent = iota
	voiceMissing
	voiceBack
	voiceStillMissing
	voiceGiveUp
)

// speechWindow is a ring of the most recent per-tick speech flags.
type speechWindow struct {
	flags []bool
	n     int // ticks seen
	hits  int // speech flags currently in the ring
}

func newSpeechWindow(size int) *speechWindow {
	return &speechWindow{flags: make([]bool, size)}
}

func (w *speechWindow) push(speech bool) {
	i := w.n % len(w.flags)
	if w.n >= len(w.flags) && w.flags[i] {
		w.hits--
	}
	w.flags[i] = speech
	if speech {
		w.hits++
	}
	w.n++
}

func (w *speechWindow) full() bool { return w.n >= len(w.flags) }

// recent is the speech share of the last k ticks; 1 before any tick.
func (w *speechWindow) recent(k int) float64 {
	k = min(k, w.n, len(w.flags))
	if k == 0 {
		return 1
	}
	hits := 0
	for i := 1; i <= k; i++ {
		if w.flags[(w.n-i)%len(w.flags)] {
			hits++
		}
	}
	return float64(hits) / float64(k)
}

// overall is the speech share of the whole ring.
func (w *speechWindow) overall() float64 {
	return float64(w.hits) / float64(len(w.flags))
}

// voiceWatch turns per-tick speech flags into no-voice warnings. Clearing a
// warning needs more speech than raising it. In live sessions the warning
// repeats and a long silence asks for the session to end.
type voiceWatch struct {
	live     bool
	warnTick int
	win      *speechWindow
	warned   bool
	lastWarn int
}

func newVoiceWatch(live bool) *voiceWatch {
	return &voiceWatch{
		live:     live,
		warnTick: int(voiceWarnAfter / tickInterval),
		win:      newSpeechWindow(int(voiceGiveUpAfter / tickInterval)),
	}
}

func (v *voiceWatch) Tick(speech bool) voiceEvent {
	v.win.push(speech)
	now := v.win.n
	r := v.win.recent(v.warnTick)

	switch {
	case !v.warned && now >= v.warnTick && r < minSpeechRatio:
		v.warned, v.lastWarn = true, now
		return voiceMissing
	case v.warned && r >= clearSpeechRatio:
		v.warned = false
		return voiceBack
	case !v.live:
		return voiceOK
	case v.win.full() && v.win.overall() < minSpeechRatio:
		return voiceGiveUp
	case v.warned && now-v.lastWarn >= v.warnTick:
		v.lastWarn = now
		return voiceStillMissing
	}
	return voiceOK
}
