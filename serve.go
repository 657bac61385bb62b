package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"parole/config"
	"parole/log"
	"parole/metrics"
	"parole/proxy"
	"parole/shutdown"
	"parole/transcriber"
)

// runServe implements "parole serve": the HTTP route that forwards uploads
// to Voxtral with the server-held API key.
func runServe(args []string) int {
	fs := flag.NewFlagSet("parole serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file")
	bind := fs.String("bind", "", "Listen address (default from config, :3000)")
	lang := fs.String("lang", "", "Default language when the upload does not name one")
	devFallback := fs.Bool("dev-fallback", false, "Answer with placeholder text when no API key is configured")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	log.InitConsole(os.Stderr)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "bind":
			cfg.Server.Bind = *bind
		case "lang":
			cfg.Server.Language = *lang
		case "dev-fallback":
			cfg.Server.DevFallback = *devFallback
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := log.SetLevel(cfg.Logging.Level); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	var up proxy.Upstream
	if cfg.Transcription.APIKey != "" {
		tcfg := cfg.TranscriberConfig()
		tcfg.Provider = "voxtral"
		// the calling client owns the retry budget
		tcfg.Retry = transcriber.RetryPolicy{}
		tcfg.Metrics = m
		up = transcriber.NewVoxtral(tcfg)
	} else {
		log.Warn("MISTRAL_API_KEY not set; uploads will be rejected")
	}

	srv := proxy.New(up, proxy.Options{
		Language:    cfg.Server.Language,
		DevFallback: cfg.Server.DevFallback,
		Metrics:     m,
	})
	mux := http.NewServeMux()
	mux.Handle("/", srv.Handler())
	mux.Handle("GET /metrics", metrics.Handler(reg))

	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()
	if err := proxy.Run(ctx, cfg.Server.Bind, mux); err != nil {
		log.Errorf("server: %v", err)
		return 1
	}
	return 0
}
