package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"parole/audio"
	"parole/encoder"
	"parole/log"
	"parole/transcriber"
)

// transcribeFile decodes a WAV or FLAC file, converts it to the upload format
// and sends it as a single recording.
func transcribeFile(ctx context.Context, tr transcriber.Transcriber, path string, onSegment func(encoder.Segment)) (*transcriber.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	frame, err := audio.Decode(data)
	if err != nil {
		return nil, err
	}
	frame = audio.Resample(frame, encoder.SampleRate)
	seg := encoder.NewSegment(0, frame.Samples)
	if onSegment != nil {
		onSegment(seg)
	}
	log.SessionStart("file", tr.Name(), "file")
	return tr.Transcribe(ctx, seg)
}

func runFile(ctx context.Context, w io.Writer, tr transcriber.Transcriber, path string, arch *archiver) int {
	var onSegment func(encoder.Segment)
	if arch != nil {
		onSegment = arch.Save
	}
	res, err := transcribeFile(ctx, tr, path, onSegment)
	if err != nil {
		log.Errorf("file transcription: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %s\n", describeError(err))
		return 1
	}
	log.TranscriptionText(res.Text)
	fmt.Fprintln(w, res.Text)
	return 0
}
