// Package shutdown translates termination signals into context
// cancellation.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
)

// Notify relays termination signals to ch.
func Notify(ch chan os.Signal) {
	signal.Notify(ch, signals...)
}

// NotifyContext returns a context cancelled on the first termination signal.
// A second signal exits the process with status 130.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 2)
	stopped := make(chan struct{})
	Notify(ch)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		case <-stopped:
			return
		}
		select {
		case <-ch:
			os.Exit(130)
		case <-stopped:
		}
	}()
	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			signal.Stop(ch)
			close(stopped)
		})
		cancel()
	}
}
