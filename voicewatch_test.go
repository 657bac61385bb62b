package main

import "testing"

func tickN(v *voiceWatch, speech bool, n int) []voiceEvent {
	var evs []voiceEvent
	for range n {
		if ev := v.Tick(speech); ev != voiceOK {
			evs = append(evs, ev)
		}
	}
	return evs
}

func TestSpeechWindow(t *testing.T) {
	w := newSpeechWindow(4)
	if got := w.recent(3); got != 1 {
		t.Fatalf("empty recent = %v, want 1", got)
	}
	for _, s := range []bool{true, false, false, true, true, false} {
		w.push(s)
	}
	// ring holds false, true, true, false
	if got := w.overall(); got != 0.5 {
		t.Errorf("overall = %v, want 0.5", got)
	}
	if got := w.recent(2); got != 0.5 {
		t.Errorf("recent(2) = %v, want 0.5", got)
	}
	if got := w.recent(10); got != 0.5 {
		t.Errorf("recent(10) = %v, want 0.5", got)
	}
	if !w.full() {
		t.Error("window should be full")
	}
}

func TestVoiceWatchWarnsAfterDelay(t *testing.T) {
	v := newVoiceWatch(false)
	if evs := tickN(v, false, 79); len(evs) != 0 {
		t.Fatalf("events before 8s: %v", evs)
	}
	if ev := v.Tick(false); ev != voiceMissing {
		t.Fatalf("tick 80 = %d, want voiceMissing", ev)
	}
}

func TestVoiceWatchSingleShot(t *testing.T) {
	v := newVoiceWatch(false)
	evs := tickN(v, false, 400)
	if len(evs) != 1 || evs[0] != voiceMissing {
		t.Fatalf("events = %v, want one voiceMissing", evs)
	}
}

func TestVoiceWatchQuietDuringSpeech(t *testing.T) {
	for _, live := range []bool{false, true} {
		v := newVoiceWatch(live)
		if evs := tickN(v, true, 400); len(evs) != 0 {
			t.Errorf("live=%v: events during speech: %v", live, evs)
		}
	}
}

func TestVoiceWatchClearsOnSpeech(t *testing.T) {
	v := newVoiceWatch(false)
	tickN(v, false, 80)
	evs := tickN(v, true, 80)
	if len(evs) != 1 || evs[0] != voiceBack {
		t.Fatalf("events = %v, want one voiceBack", evs)
	}
}

func TestVoiceWatchNoiseDoesNotClear(t *testing.T) {
	v := newVoiceWatch(false)
	tickN(v, false, 80)
	for i := range 80 {
		if ev := v.Tick(i%10 == 0); ev == voiceBack {
			t.Fatalf("cleared at tick %d with 10%% speech", i)
		}
	}
}

func TestVoiceWatchLiveRepeatsThenGivesUp(t *testing.T) {
	v := newVoiceWatch(true)
	var repeats int
	for i := range 400 {
		switch v.Tick(false) {
		case voiceStillMissing:
			repeats++
		case voiceGiveUp:
			if i+1 != 300 {
				t.Errorf("gave up at tick %d, want 300", i+1)
			}
			if repeats == 0 {
				t.Error("no repeated warning before giving up")
			}
			return
		}
	}
	t.Fatal("live session never gave up")
}

func TestVoiceWatchSpeechPreventsGiveUp(t *testing.T) {
	v := newVoiceWatch(true)
	for i := range 500 {
		if ev := v.Tick(i%10 < 7); ev == voiceGiveUp {
			t.Fatalf("gave up at tick %d despite speech", i)
		}
	}
}
