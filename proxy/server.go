// Package proxy serves the /api/voxtral route: a multipart audio upload is
// forwarded to Mistral with the server's API key and the transcript is
// returned as JSON.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"parole/encoder"
	"parole/log"
	"parole/metrics"
	"parole/transcriber"
)

const (
	Route = "/api/voxtral"

	// multipart framing on top of the upload limit
	formOverhead = 1 << 20

	fallbackText        = "Test transcription (no Mistral API key configured)"
	fallbackNoModelText = "Test transcription (no valid Mistral model found)"
)

// Upstream transcribes one upload with a per-request language hint.
type Upstream interface {
	Name() string
	TranscribeLanguage(ctx context.Context, seg encoder.Segment, lang string) (*transcriber.Result, error)
}

type Options struct {
	// Language is used when a request carries none.
	Language string
	// DevFallback answers with canned text instead of 401 when no
	// upstream is configured, and instead of 400 when every model
	// rejected the upload.
	DevFallback bool
	Metrics     *metrics.Metrics
}

type Server struct {
	up   Upstream
	opts Options
}

// New builds the route handler. up may be nil when no API key is set.
func New(up Upstream, opts Options) *Server {
	return &Server{up: up, opts: opts}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+Route, s.withMetrics(s.handleTranscribe))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) withMetrics(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		elapsed := time.Since(start)
		s.opts.Metrics.ObserveHTTP(sw.status, elapsed)
		log.Request(r.Method, r.URL.Path, sw.status, elapsed)
	}
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, transcriber.MaxUploadBytes+formOverhead)
	file, header, err := r.FormFile("audio")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "audio file too large", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "audio file required", err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading audio file", err.Error())
		return
	}

	lang := strings.TrimSpace(r.FormValue("language"))
	if lang == "" {
		lang = s.opts.Language
	}

	if s.up == nil {
		if s.opts.DevFallback {
			log.Warn("no Mistral API key, answering with fallback text")
			writeFallback(w, fallbackText)
			return
		}
		writeError(w, http.StatusUnauthorized, "Mistral API key required", "set MISTRAL_API_KEY in the server environment")
		return
	}

	log.Infof("proxy upload: name=%s size=%d type=%s", header.Filename, len(data), transcriber.DetectFormat(data))
	seg := encoder.Segment{Name: header.Filename, Data: data}
	res, err := s.up.TranscribeLanguage(r.Context(), seg, lang)
	if errors.Is(err, transcriber.ErrEmptyResult) {
		writeJSON(w, http.StatusOK, transcriber.ProxyResponse{Language: lang, Endpoint: s.up.Name()})
		return
	}
	if errors.Is(err, transcriber.ErrModelsExhausted) && s.opts.DevFallback {
		log.Warnf("every voxtral model rejected the upload, answering with fallback text: %v", err)
		writeFallback(w, fallbackNoModelText)
		return
	}
	if err != nil {
		status := StatusFor(err)
		log.Errorf("proxy transcription failed (%d): %v", status, err)
		writeError(w, status, "transcription failed", err.Error())
		return
	}

	language := res.Language
	if language == "" {
		language = lang
	}
	confidence := res.Confidence
	if confidence == 0 {
		confidence = 1
	}
	writeJSON(w, http.StatusOK, transcriber.ProxyResponse{
		Text:       res.Text,
		Confidence: confidence,
		Language:   language,
		Duration:   res.Duration,
		Model:      res.Model,
		Endpoint:   s.up.Name(),
	})
}

// StatusFor maps a transcription error to the status the route answers with.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, transcriber.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, transcriber.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, transcriber.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, transcriber.ErrBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, transcriber.ProxyResponse{Error: msg, Details: details})
}

func writeFallback(w http.ResponseWriter, text string) {
	writeJSON(w, http.StatusOK, transcriber.ProxyResponse{
		Text:       text,
		Confidence: 0.5,
		Endpoint:   "fallback",
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Errorf("writing response: %v", err)
	}
}

// Run serves h on addr until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
