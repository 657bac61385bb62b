package recorder

import (
	"sort"
	"strings"
	"sync"
)

// Buffer collects segment text keyed by sequence number and renders it in
// sequence order regardless of completion order.
type Buffer struct {
	mu    sync.Mutex
	parts map[uint64]string
}

func NewBuffer() *Buffer {
	return &Buffer{parts: make(map[uint64]string)}
}

func (b *Buffer) Put(seq uint64, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	b.mu.Lock()
	b.parts[seq] = text
	b.mu.Unlock()
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.parts)
}

func (b *Buffer) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	seqs := make([]uint64, 0, len(b.parts))
	for seq := range b.parts {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	texts := make([]string, len(seqs))
	for i, seq := range seqs {
		texts[i] = b.parts[seq]
	}
	return strings.Join(texts, " ")
}

func (b *Buffer) Reset() {
	b.mu.Lock()
	b.parts = make(map[uint64]string)
	b.mu.Unlock()
}

// Input is the text field that receives finished transcriptions.
type Input interface {
	Append(text string)
}

// TextInput is a concurrency-safe Input backed by a string. Appended text is
// separated from existing content by a single space.
type TextInput struct {
	mu   sync.Mutex
	text string
}

func (t *TextInput) Append(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.text == "" {
		t.text = text
		return
	}
	t.text += " " + text
}

func (t *TextInput) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.text
}

func (t *TextInput) Clear() {
	t.mu.Lock()
	t.text = ""
	t.mu.Unlock()
}
