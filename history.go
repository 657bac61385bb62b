package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"parole/config"
	"parole/history"
	"parole/log"
)

func historyPath(cfg config.HistoryConfig) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	return filepath.Join(log.Dir(), "history.db")
}

// openHistory returns a nil store when history is disabled.
func openHistory(ctx context.Context, cfg config.HistoryConfig) (*history.Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	return history.Open(ctx, historyPath(cfg), cfg.MaxSessions)
}

// runHistory implements "parole history": the most recent sessions, newest
// first.
func runHistory(args []string) int {
	fs := flag.NewFlagSet("parole history", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file")
	logPath := fs.String("logpath", "", "Log directory holding history.db")
	limit := fs.Int("n", 10, "Number of sessions to show")
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
	if *logPath != "" {
		cfg.Logging.Path = *logPath
	}
	dir, err := log.ResolveDir(cfg.Logging.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	log.SetDir(dir)
	cfg.History.Enabled = true

	ctx := context.Background()
	store, err := openHistory(ctx, cfg.History)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	sessions, err := store.Recent(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	printSessions(os.Stdout, sessions)
	return 0
}

func printSessions(w io.Writer, sessions []history.Session) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "no sessions recorded")
		return
	}
	for _, s := range sessions {
		fmt.Fprintf(w, "%s  %-9s %-7s %5.1fs  segments=%d dropped=%d\n",
			s.StartedAt.Format("2006-01-02 15:04:05"), s.Mode, s.Provider, s.Elapsed.Seconds(), s.Submitted, s.Dropped)
		switch {
		case s.Error != "":
			fmt.Fprintf(w, "    error: %s\n", s.Error)
		case s.Text != "":
			fmt.Fprintf(w, "    %s\n", strings.Join(wrapText(s.Text, 76), "\n    "))
		}
	}
}
