// Package log writes the diagnostics and transcript files kept in the log
// directory. Every function is a no-op until Init or InitConsole succeeds.
package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu         sync.Mutex
	diag       = zerolog.Nop()
	diagFile   *os.File
	transcript *os.File
	ready      atomic.Bool
	pid        = os.Getpid()
	dir        string
)

// Metrics is the per-upload summary written to the diagnostics log.
type Metrics struct {
	AudioLengthS float64
	UploadKB     float64
	DNSTimeMs    float64
	TLSTimeMs    float64
	TTFBMs       float64
	TotalTimeMs  float64
	Retries      int
}

func SetDir(d string) { dir = d }

func Dir() string { return dir }

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func openAppend(name string) (*os.File, error) {
	return os.OpenFile(filepath.Join(dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

// Init opens both log files in Dir.
func Init() error {
	mu.Lock()
	defer mu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}
	df, err := openAppend(diagFileName)
	if err != nil {
		return err
	}
	tf, err := openAppend(transcriptFileName)
	if err != nil {
		df.Close()
		return err
	}
	diagFile, transcript = df, tf
	diag = newLogger(zerolog.ConsoleWriter{
		Out:        df,
		TimeFormat: time.DateTime,
		NoColor:    true,
	})
	ready.Store(true)
	return nil
}

// InitConsole routes diagnostics to w instead of the log directory. Used by
// the serve command, which has no transcript file.
func InitConsole(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	diag = newLogger(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339})
	ready.Store(true)
}

func newLogger(w zerolog.ConsoleWriter) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Int("pid", pid).Logger()
}

// SetLevel applies a zerolog level name ("debug", "info", "warn", ...).
func SetLevel(level string) error {
	if level == "" {
		return nil
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

func Close() {
	mu.Lock()
	defer mu.Unlock()
	ready.Store(false)
	diag = zerolog.Nop()
	for _, f := range []**os.File{&diagFile, &transcript} {
		if *f != nil {
			(*f).Close()
			*f = nil
		}
	}
}

// logger returns the active diagnostics logger, or a disabled one.
func logger() *zerolog.Logger {
	if !ready.Load() {
		nop := zerolog.Nop()
		return &nop
	}
	mu.Lock()
	defer mu.Unlock()
	l := diag
	return &l
}

func Debugf(format string, args ...any) { logger().Debug().Msgf(format, args...) }

func Info(msg string) { logger().Info().Msg(msg) }

func Infof(format string, args ...any) { logger().Info().Msgf(format, args...) }

func Warn(msg string) { logger().Warn().Msg(msg) }

func Warnf(format string, args ...any) { logger().Warn().Msgf(format, args...) }

func Error(msg string) { logger().Error().Msg(msg) }

func Errorf(format string, args ...any) { logger().Error().Msgf(format, args...) }

// TranscriptionMetrics logs one upload's network timings.
func TranscriptionMetrics(m Metrics, provider, model string, connReused bool, tlsProto string) {
	conn := "new"
	if connReused {
		conn = "reused"
	}
	ev := logger().Info().
		Str("provider", provider).
		Str("model", model).
		Str("conn", conn)
	if tlsProto != "" {
		ev = ev.Str("tls_proto", tlsProto)
	}
	ev.Float64("audio_s", m.AudioLengthS).
		Float64("upload_kb", m.UploadKB).
		Float64("dns_ms", m.DNSTimeMs).
		Float64("tls_ms", m.TLSTimeMs).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("total_ms", m.TotalTimeMs).
		Int("retries", m.Retries).
		Msg("transcription")
}

// TranscriptionText appends one "time\t[pid]\ttext" line to the transcript.
func TranscriptionText(text string) {
	mu.Lock()
	defer mu.Unlock()
	if transcript == nil {
		return
	}
	fmt.Fprintf(transcript, "%s\t[%d]\t%s\n", time.Now().Format(time.DateTime), pid, text)
}

// SegmentResult records the outcome of one segment upload. status is one of
// "ok", "empty", "dropped", "filtered", "failed".
func SegmentResult(session string, seq uint64, status string, err error) {
	l := logger()
	ev := l.Info()
	if err != nil {
		ev = l.Warn().Err(err)
	}
	ev.Str("session", session).
		Uint64("seq", seq).
		Str("status", status).
		Msg("segment")
}

func SessionStart(session, provider, mode string) {
	logger().Info().
		Str("session", session).
		Str("provider", provider).
		Str("mode", mode).
		Msg("session_start")
}

func SessionEnd(session string, segments int, elapsed time.Duration) {
	logger().Info().
		Str("session", session).
		Int("segments", segments).
		Dur("elapsed", elapsed).
		Msg("session_end")
}

// Request logs one proxied HTTP request.
func Request(method, path string, status int, elapsed time.Duration) {
	logger().Info().
		Str("method", method).
		Str("path", path).
		Int("status", status).
		Dur("elapsed", elapsed).
		Msg("request")
}
