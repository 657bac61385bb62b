package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"parole/encoder"
	"parole/log"
)

// Voxtral talks to the Mistral transcription endpoint directly.
type Voxtral struct {
	baseTranscriber
	apiKey string
	models []string
}

func NewVoxtral(cfg Config) *Voxtral {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	models := cfg.Models
	if len(models) == 0 {
		models = DefaultModels
	}
	return &Voxtral{
		baseTranscriber: newBase(cfg, base+"/v1/audio/transcriptions"),
		apiKey:          cfg.APIKey,
		models:          models,
	}
}

func (v *Voxtral) Name() string { return "voxtral" }

func (v *Voxtral) Models() []string { return v.models }

type voxtralResponse struct {
	Text       string  `json:"text"`
	Transcript string  `json:"transcript"`
	Language   string  `json:"language"`
	Duration   float64 `json:"duration"`
	Confidence float64 `json:"confidence"`
}

// Transcribe uploads seg, walking the model list until one accepts it.
// Transient failures are retried per model under the retry policy.
func (v *Voxtral) Transcribe(ctx context.Context, seg encoder.Segment) (*Result, error) {
	return v.TranscribeLanguage(ctx, seg, v.GetLanguage())
}

// TranscribeLanguage is Transcribe with an explicit language hint, for
// callers serving requests that each carry their own.
func (v *Voxtral) TranscribeLanguage(ctx context.Context, seg encoder.Segment, lang string) (*Result, error) {
	if err := Validate(seg.Data); err != nil {
		return nil, err
	}

	start := time.Now()
	var attempts []Attempt
	var errs []error
	retries := 0

	for _, model := range v.models {
		var res *Result
		n, err := v.retry.Do(ctx, func(ctx context.Context) error {
			var err error
			res, err = v.send(ctx, seg, model, lang)
			return err
		})
		retries += n
		attempts = append(attempts, Attempt{Model: model, Err: err})

		if err == nil {
			res.Model = model
			res.Retries = retries
			res.Attempts = attempts
			v.metrics.ObserveRequest(v.Name(), Outcome(nil), time.Since(start), len(seg.Data), retries)
			return res, nil
		}
		if modelRejected(err) {
			log.Warnf("voxtral model %s rejected: %v", model, err)
			errs = append(errs, err)
			continue
		}
		v.metrics.ObserveRequest(v.Name(), Outcome(err), time.Since(start), len(seg.Data), retries)
		return nil, err
	}

	err := &Error{
		Kind:    ErrBadRequest,
		Status:  http.StatusBadRequest,
		Message: "no model accepted the request",
		Err:     errors.Join(append([]error{ErrModelsExhausted}, errs...)...),
	}
	v.metrics.ObserveRequest(v.Name(), Outcome(err), time.Since(start), len(seg.Data), retries)
	return nil, err
}

func modelRejected(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Status == http.StatusBadRequest && strings.Contains(strings.ToLower(e.Message), "model")
}

func (v *Voxtral) send(ctx context.Context, seg encoder.Segment, model, lang string) (*Result, error) {
	body, contentType, err := multipartBody("file", uploadName(seg), seg.Data,
		formField{"model", model},
		formField{"language", lang},
		formField{"response_format", "json"},
	)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.apiURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+v.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp.StatusCode, resp.Body)
	}

	var vr voxtralResponse
	if err := json.Unmarshal(resp.Body, &vr); err != nil {
		return nil, &Error{Kind: ErrUpstream, Status: resp.StatusCode, Message: "voxtral response parse error", Err: err}
	}
	text := strings.TrimSpace(vr.Text)
	if text == "" {
		text = strings.TrimSpace(vr.Transcript)
	}
	if text == "" {
		return nil, &Error{Kind: ErrEmptyResult, Status: resp.StatusCode}
	}

	remaining := firstNonEmpty(resp.Header, "x-ratelimit-remaining-requests", "ratelimitbysize-remaining")
	limit := firstNonEmpty(resp.Header, "x-ratelimit-limit-requests", "ratelimitbysize-limit")

	language := vr.Language
	if language == "" {
		language = lang
	}
	return &Result{
		Text:       text,
		Language:   language,
		Duration:   vr.Duration,
		Confidence: vr.Confidence,
		Metrics:    resp.Metrics,
		RateLimit:  remaining + "/" + limit,
	}, nil
}
