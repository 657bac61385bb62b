package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"parole/audio"
	"parole/config"
	"parole/doctor"
	"parole/transcriber"
)

// runDoctor implements "parole doctor".
func runDoctor(args []string) int {
	fs := flag.NewFlagSet("parole doctor", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file")
	device := fs.String("device", "", "Check the capture device whose name contains this string")
	fake := fs.String("fake", "", "Replay a WAV or FLAC file instead of the microphone")
	seconds := fs.Duration("record", 3*time.Second, "How long to record for the microphone check")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *device != "" {
		cfg.Recorder.Device = *device
	}

	checks := doctor.Checks{Record: *seconds, Out: os.Stdout}
	if tr, err := transcriber.New(cfg.TranscriberConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	} else {
		checks.Transcriber = tr
	}

	var actx audio.Context
	if *fake != "" {
		fc, err := audio.NewFakeContext(*fake, true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", *fake, err)
			return 1
		}
		actx = fc
	} else if actx, err = audio.NewContext(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: audio init: %v\n", err)
		return 1
	}
	defer actx.Close()
	checks.Audio = actx

	if checks.Device, err = audio.FindDevice(actx, cfg.Recorder.Device); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return doctor.Run(context.Background(), checks)
}
