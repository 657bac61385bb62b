package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"parole/audio"
	"parole/log"
)

// stopTimeout bounds how long a headless stop waits for uploads after the
// process has been asked to exit.
const stopTimeout = 30 * time.Second

func stopDriver(drv *driver) error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	_, err := drv.Stop(ctx)
	return err
}

// runTimed records once for d (or until a signal or stop request when d is
// zero) and prints the result.
func runTimed(ctx context.Context, drv *driver, d time.Duration) error {
	if err := drv.Start(); err != nil {
		return err
	}
	var timeout <-chan time.Time
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-timeout:
	case <-ctx.Done():
	case <-drv.StopRequests():
	}
	return stopDriver(drv)
}

// runScript drives sessions from line commands on r:
//
//	START            begin recording
//	STOP             end recording and print the text
//	WAIT_AUDIO_DONE  block until a replayed file has been fully delivered
//	SLEEP <ms>       pause
//	QUIT             stop any session and return
//
// End of input behaves like QUIT.
func runScript(ctx context.Context, drv *driver, r io.Reader, fake *audio.FakeContext) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	var lastErr error
	for {
		var cmd string
		var ok bool
		select {
		case <-ctx.Done():
			return stopDriver(drv)
		case <-drv.StopRequests():
			// auto-stop and device failures end the session; the script continues
			lastErr = stopDriver(drv)
			continue
		case cmd, ok = <-lines:
		}
		if !ok {
			if err := stopDriver(drv); err != nil {
				return err
			}
			return lastErr
		}

		verb, arg, _ := strings.Cut(cmd, " ")
		switch verb {
		case "":
		case "START":
			lastErr = drv.Start()
		case "STOP":
			lastErr = stopDriver(drv)
		case "WAIT_AUDIO_DONE":
			if err := waitAudioDone(ctx, fake); err != nil {
				return err
			}
		case "SLEEP":
			ms, err := strconv.Atoi(strings.TrimSpace(arg))
			if err != nil {
				return fmt.Errorf("SLEEP %q: %w", arg, err)
			}
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
			case <-ctx.Done():
			}
		case "QUIT":
			if err := stopDriver(drv); err != nil {
				return err
			}
			return lastErr
		default:
			log.Warnf("unknown script command %q", cmd)
			return fmt.Errorf("unknown command %q", cmd)
		}
	}
}

func waitAudioDone(ctx context.Context, fake *audio.FakeContext) error {
	if fake == nil {
		return fmt.Errorf("WAIT_AUDIO_DONE needs -fake")
	}
	capture := fake.Last()
	if capture == nil {
		return fmt.Errorf("WAIT_AUDIO_DONE before START")
	}
	select {
	case <-capture.AudioDone():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
