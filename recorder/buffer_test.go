package recorder

import "testing"

func TestBufferOrdersBySeq(t *testing.T) {
	b := NewBuffer()
	b.Put(3, "three")
	b.Put(1, " one ")
	b.Put(2, "two")
	if got := b.Text(); got != "one two three" {
		t.Fatalf("Text = %q", got)
	}
}

func TestBufferIgnoresEmptyText(t *testing.T) {
	b := NewBuffer()
	b.Put(1, "one")
	b.Put(2, "   ")
	b.Put(3, "three")
	if b.Len() != 2 {
		t.Errorf("Len = %d, want 2", b.Len())
	}
	if got := b.Text(); got != "one three" {
		t.Errorf("Text = %q", got)
	}
	b.Reset()
	if b.Len() != 0 || b.Text() != "" {
		t.Error("Reset left text behind")
	}
}

func TestTextInputAppend(t *testing.T) {
	var in TextInput
	in.Append("  ")
	if in.String() != "" {
		t.Errorf("blank append changed input to %q", in.String())
	}
	in.Append("hello")
	in.Append("world ")
	if got := in.String(); got != "hello world" {
		t.Errorf("String = %q", got)
	}
	in.Clear()
	if in.String() != "" {
		t.Error("Clear left text behind")
	}
}

func TestBlobDuration(t *testing.T) {
	b := &Blob{Data: make([]byte, 44100*2*2), SampleRate: 44100, Channels: 2}
	if d := b.Duration(); d.Seconds() != 1 {
		t.Errorf("Duration = %v, want 1s", d)
	}
	var nilBlob *Blob
	if nilBlob.Duration() != 0 {
		t.Error("nil blob should have zero duration")
	}
}
