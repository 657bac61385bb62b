package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"parole/audio"
	"parole/encoder"
	"parole/log"
)

// archiver keeps a copy of every uploaded recording. Segments from one run
// share a timestamp prefix so they sort in upload order.
type archiver struct {
	dir    string
	format string
	prefix string
}

func newArchiver(dir, format string) (*archiver, error) {
	if format != "wav" && format != "flac" {
		return nil, fmt.Errorf("unknown save format %q (use wav or flac)", format)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	return &archiver{
		dir:    dir,
		format: format,
		prefix: time.Now().Format("20060102-150405"),
	}, nil
}

func (a *archiver) path(seg encoder.Segment) string {
	name := strings.TrimSuffix(seg.Name, ".wav") + "." + a.format
	return filepath.Join(a.dir, a.prefix+"_"+name)
}

// Save writes seg to the archive directory. Failures are logged and never
// interrupt the recording.
func (a *archiver) Save(seg encoder.Segment) {
	if err := a.write(seg); err != nil {
		log.Warnf("archive %s: %v", seg.Name, err)
	}
}

func (a *archiver) write(seg encoder.Segment) error {
	data := seg.Data
	if a.format == "flac" {
		frame, err := audio.Decode(seg.Data)
		if err != nil {
			return err
		}
		data, err = encoder.EncodeFLAC(frame.Samples)
		if err != nil {
			return err
		}
	}
	return os.WriteFile(a.path(seg), data, 0644)
}
