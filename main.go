package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/atotto/clipboard"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/term"

	"parole/audio"
	"parole/config"
	"parole/encoder"
	"parole/log"
	"parole/metrics"
	"parole/proxy"
	"parole/recorder"
	"parole/shutdown"
	"parole/transcriber"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			os.Exit(runServe(os.Args[2:]))
		case "doctor":
			os.Exit(runDoctor(os.Args[2:]))
		case "history":
			os.Exit(runHistory(os.Args[2:]))
		}
	}
	os.Exit(run(os.Args[1:]))
}

type options struct {
	configPath string
	provider   string
	lang       string
	live       bool
	segment    time.Duration
	device     string
	setup      bool
	file       string
	fake       string
	duration   time.Duration
	script     bool
	tui        bool
	copy       bool
	logPath    string
	metrics    string
	save       string
	saveFormat string
	verbose    bool
	version    bool
}

func parseFlags(args []string) (*options, *flag.FlagSet, error) {
	o := &options{}
	fs := flag.NewFlagSet("parole", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "YAML config file")
	fs.StringVar(&o.provider, "provider", "", "Transcription provider: voxtral or proxy")
	fs.StringVar(&o.lang, "lang", "", "Language code sent with each upload (e.g. en, fr). Empty = auto-detect")
	fs.BoolVar(&o.live, "live", false, "Segmented mode: transcribe every few seconds while recording")
	fs.DurationVar(&o.segment, "segment", 0, "Segment length in live mode (e.g. 8s)")
	fs.StringVar(&o.device, "device", "", "Use the capture device whose name contains this string")
	fs.BoolVar(&o.setup, "setup", false, "Pick the microphone interactively")
	fs.StringVar(&o.file, "file", "", "Transcribe a WAV or FLAC file and exit")
	fs.StringVar(&o.fake, "fake", "", "Replay a WAV or FLAC file as the microphone")
	fs.DurationVar(&o.duration, "duration", 0, "Record for this long without a UI, then print the text")
	fs.BoolVar(&o.script, "script", false, "Headless mode driven by commands on stdin")
	fs.BoolVar(&o.tui, "tui", true, "Run with terminal UI")
	fs.BoolVar(&o.copy, "copy", false, "Copy the text to the clipboard after a headless run")
	fs.StringVar(&o.logPath, "logpath", "", "Log directory path (default: OS-specific location, use ./ for current dir)")
	fs.StringVar(&o.metrics, "metrics", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	fs.StringVar(&o.save, "save", "", "Keep every uploaded recording in this directory")
	fs.StringVar(&o.saveFormat, "save-format", "wav", "Archive format: wav or flac")
	fs.BoolVar(&o.verbose, "v", false, "Print progress in headless modes")
	fs.BoolVar(&o.version, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return o, fs, nil
}

// applyFlags overrides cfg with the flags given on the command line.
func applyFlags(cfg *config.Config, o *options, fs *flag.FlagSet) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "provider":
			cfg.Transcription.Provider = o.provider
		case "lang":
			cfg.Transcription.Language = o.lang
		case "live":
			cfg.Recorder.Segmented = o.live
		case "segment":
			cfg.Recorder.SegmentMS = int(o.segment / time.Millisecond)
		case "device":
			cfg.Recorder.Device = o.device
		case "logpath":
			cfg.Logging.Path = o.logPath
		case "metrics":
			cfg.Telemetry.MetricsBind = o.metrics
		}
	})
}

func run(args []string) int {
	o, fs, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if o.version {
		fmt.Printf("parole %s\n", version)
		return 0
	}
	if o.saveFormat != "wav" && o.saveFormat != "flac" {
		fmt.Fprintf(os.Stderr, "Error: unknown save format %q (use wav or flac)\n", o.saveFormat)
		return 2
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	applyFlags(&cfg, o, fs)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logPath, err := log.ResolveDir(cfg.Logging.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	initCrashLog()
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()
	if err := log.SetLevel(cfg.Logging.Level); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)
	if bind := cfg.Telemetry.MetricsBind; bind != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", metrics.Handler(reg))
		go func() {
			if err := proxy.Run(ctx, bind, mux); err != nil {
				log.Errorf("metrics server: %v", err)
			}
		}()
	}

	tcfg := cfg.TranscriberConfig()
	tcfg.Metrics = m
	tr, err := transcriber.New(tcfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	var arch *archiver
	if o.save != "" {
		arch, err = newArchiver(o.save, o.saveFormat)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}

	if o.file != "" {
		return runFile(ctx, os.Stdout, tr, o.file, arch)
	}
	if w, ok := tr.(interface{ Warm() }); ok {
		go w.Warm()
	}

	var actx audio.Context
	var fake *audio.FakeContext
	if o.fake != "" {
		fake, err = audio.NewFakeContext(o.fake, true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", o.fake, err)
			return 1
		}
		actx = fake
	} else {
		actx, err = audio.NewContext()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: audio init: %v\n", err)
			return 1
		}
	}
	defer actx.Close()

	var dev *audio.DeviceInfo
	if o.setup {
		dev, err = audio.SelectDevice(actx)
	} else {
		dev, err = audio.FindDevice(actx, cfg.Recorder.Device)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctrl := recorder.NewController(actx, dev, audio.DefaultConstraints())
	input := &recorder.TextInput{}

	var onSegment func(encoder.Segment)
	if arch != nil {
		onSegment = arch.Save
	}

	hist, err := openHistory(ctx, cfg.History)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: session history disabled: %v\n", err)
	}
	defer hist.Close()

	var rec recorder.Recorder
	sessionMode, modeLabel := "single", "single"
	if cfg.Recorder.Segmented {
		opts := cfg.RecorderOptions()
		opts.Metrics = m
		opts.OnSegment = onSegment
		rec = recorder.NewSegmenter(ctrl, tr, input, opts)
		sessionMode, modeLabel = "segmented", fmt.Sprintf("live %s", opts.Every)
	} else {
		one := recorder.NewOneShot(ctrl, tr, input, m)
		one.OnSegment = onSegment
		rec = one
	}

	interactive := o.tui && !o.script && o.duration == 0 && term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		sink := &tuiSink{}
		drv := newDriver(ctrl, rec, input, sink, cfg.Recorder.Segmented)
		drv.history, drv.mode, drv.provider = hist, sessionMode, tr.Name()
		if err := runTUI(ctx, drv, sink, input, modeLineText(tr, modeLabel), deviceLineText(dev)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	sink := newConsoleSink(os.Stdout, o.verbose || o.script)
	drv := newDriver(ctrl, rec, input, sink, cfg.Recorder.Segmented)
	drv.history, drv.mode, drv.provider = hist, sessionMode, tr.Name()
	if o.script {
		err = runScript(ctx, drv, os.Stdin, fake)
	} else {
		err = runTimed(ctx, drv, o.duration)
	}
	if o.copy && input.String() != "" {
		if cerr := clipboard.WriteAll(input.String()); cerr != nil {
			fmt.Fprintf(os.Stderr, "Warning: copy failed: %v\n", cerr)
		}
	}
	if err != nil {
		return 1
	}
	return 0
}

func modeLineText(tr transcriber.Transcriber, mode string) string {
	label := tr.Name()
	if lang := tr.GetLanguage(); lang != "" {
		label += " (" + lang + ")"
	}
	return fmt.Sprintf("[%s | %s]", mode, label)
}

func deviceLineText(dev *audio.DeviceInfo) string {
	name := "system default"
	suffix := ""
	if dev != nil {
		name = dev.Name
		if audio.IsBluetooth(dev.Name) {
			suffix = " (BT!)"
		}
	}
	return "mic: " + name + suffix
}
