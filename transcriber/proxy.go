package transcriber

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"parole/encoder"
)

// Proxy uploads to an /api/voxtral route, which holds the API key and
// runs the model fallback itself.
type Proxy struct {
	baseTranscriber
}

func NewProxy(cfg Config) *Proxy {
	return &Proxy{baseTranscriber: newBase(cfg, cfg.Endpoint)}
}

func (p *Proxy) Name() string { return "proxy" }

// ProxyResponse is the JSON body of the /api/voxtral route.
type ProxyResponse struct {
	Text       string  `json:"text,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Language   string  `json:"language,omitempty"`
	Duration   float64 `json:"duration,omitempty"`
	Model      string  `json:"model_used,omitempty"`
	Endpoint   string  `json:"endpoint_used,omitempty"`
	Error      string  `json:"error,omitempty"`
	Details    string  `json:"details,omitempty"`
}

func (p *Proxy) Transcribe(ctx context.Context, seg encoder.Segment) (*Result, error) {
	if err := Validate(seg.Data); err != nil {
		return nil, err
	}

	lang := p.GetLanguage()
	start := time.Now()
	var res *Result
	retries, err := p.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = p.send(ctx, seg, lang)
		return err
	})
	p.metrics.ObserveRequest(p.Name(), Outcome(err), time.Since(start), len(seg.Data), retries)
	if err != nil {
		return nil, err
	}
	res.Retries = retries
	res.Attempts = []Attempt{{Model: res.Model}}
	return res, nil
}

func (p *Proxy) send(ctx context.Context, seg encoder.Segment, lang string) (*Result, error) {
	body, contentType, err := multipartBody("audio", uploadName(seg), seg.Data, formField{"language", lang})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}

	var pr ProxyResponse
	parseErr := json.Unmarshal(resp.Body, &pr)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if parseErr == nil && pr.Error != "" {
			msg := pr.Error
			if pr.Details != "" {
				msg += ": " + pr.Details
			}
			return nil, &Error{Kind: statusKind(resp.StatusCode), Status: resp.StatusCode, Message: msg}
		}
		return nil, statusError(resp.StatusCode, resp.Body)
	}
	if parseErr != nil {
		return nil, &Error{Kind: ErrUpstream, Status: resp.StatusCode, Message: "proxy response parse error", Err: parseErr}
	}

	text := strings.TrimSpace(pr.Text)
	if text == "" {
		return nil, &Error{Kind: ErrEmptyResult, Status: resp.StatusCode}
	}
	return &Result{
		Text:       text,
		Language:   pr.Language,
		Duration:   pr.Duration,
		Model:      pr.Model,
		Confidence: pr.Confidence,
		Metrics:    resp.Metrics,
	}, nil
}
