package transcriber

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"parole/encoder"
	"parole/log"
	"parole/metrics"
)

type NetworkMetrics struct {
	DNS         time.Duration
	ConnWait    time.Duration
	TCP         time.Duration
	TLS         time.Duration
	ReqHeaders  time.Duration
	ReqBody     time.Duration
	TTFB        time.Duration
	Download    time.Duration
	Total       time.Duration
	ConnReused  bool
	TLSProtocol string
}

func (m *NetworkMetrics) Sum() time.Duration {
	return m.ConnWait + m.DNS + m.TCP + m.TLS + m.ReqHeaders + m.ReqBody + m.TTFB + m.Download
}

func firstNonEmpty(h http.Header, keys ...string) string {
	for _, k := range keys {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return "?"
}

// Attempt records one model tried during a transcription.
type Attempt struct {
	Model string
	Err   error
}

type Result struct {
	Text       string
	Language   string
	Duration   float64
	Model      string
	Confidence float64
	Retries    int
	Attempts   []Attempt
	Metrics    *NetworkMetrics
	RateLimit  string
}

type Transcriber interface {
	Name() string
	SetLanguage(lang string)
	GetLanguage() string
	Transcribe(ctx context.Context, seg encoder.Segment) (*Result, error)
}

type Config struct {
	Provider string // "voxtral" or "proxy"
	APIKey   string
	BaseURL  string
	Endpoint string // proxy route, e.g. http://localhost:3000/api/voxtral
	Models   []string
	Language string
	Retry    RetryPolicy
	Timeout  time.Duration
	Metrics  *metrics.Metrics
}

const (
	DefaultBaseURL = "https://api.mistral.ai"
	DefaultTimeout = 60 * time.Second
)

// DefaultModels is the fallback chain tried in order.
var DefaultModels = []string{"voxtral-mini-latest", "mistral-large", "large-latest"}

type baseTranscriber struct {
	client  *TracedClient
	apiURL  string
	retry   RetryPolicy
	metrics *metrics.Metrics

	mu   sync.RWMutex
	lang string
}

func (b *baseTranscriber) SetLanguage(lang string) {
	b.mu.Lock()
	b.lang = lang
	b.mu.Unlock()
}

func (b *baseTranscriber) GetLanguage() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lang
}

// Warm opens a connection ahead of the first upload.
func (b *baseTranscriber) Warm() {
	if tls := b.client.WarmConnection(b.apiURL); tls > 0 {
		log.Debugf("warmed connection to %s (tls %v)", b.apiURL, tls)
	}
}

func New(cfg Config) (Transcriber, error) {
	switch cfg.Provider {
	case "", "voxtral":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("set MISTRAL_API_KEY environment variable")
		}
		return NewVoxtral(cfg), nil
	case "proxy":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("proxy provider needs an endpoint")
		}
		return NewProxy(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (use voxtral or proxy)", cfg.Provider)
	}
}

func newBase(cfg Config, apiURL string) baseTranscriber {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return baseTranscriber{
		client:  NewTracedClient(timeout),
		apiURL:  apiURL,
		retry:   cfg.Retry,
		metrics: cfg.Metrics,
		lang:    cfg.Language,
	}
}

type formField struct{ name, value string }

func multipartBody(fileField, fileName string, data []byte, fields ...formField) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile(fileField, fileName)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := writer.WriteField(f.name, f.value); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &body, writer.FormDataContentType(), nil
}

func uploadName(seg encoder.Segment) string {
	if seg.Name != "" {
		return seg.Name
	}
	return "audio." + DetectFormat(seg.Data)
}

func transportError(ctx context.Context, err error) *Error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &Error{Kind: ErrNetwork, Message: "request aborted", Err: ctxErr}
	}
	return &Error{Kind: ErrNetwork, Err: err}
}
