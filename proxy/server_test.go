package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"parole/encoder"
	"parole/metrics"
	"parole/transcriber"
)

func uploadRequest(t *testing.T, audio []byte, lang string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if audio != nil {
		part, err := mw.CreateFormFile("audio", "recording.wav")
		if err != nil {
			t.Fatal(err)
		}
		part.Write(audio)
	}
	if lang != "" {
		mw.WriteField("language", lang)
	}
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, Route, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func wavBytes() []byte {
	return encoder.EncodeWAV(make([]float32, 1600), encoder.SampleRate)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) transcriber.ProxyResponse {
	t.Helper()
	var pr transcriber.ProxyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &pr); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return pr
}

func TestTranscribeSuccess(t *testing.T) {
	var gotLang string
	var gotName string
	fake := &transcriber.Fake{Respond: func(_ context.Context, seg encoder.Segment) (string, error) {
		gotName = seg.Name
		return "bonjour tout le monde", nil
	}}
	m := metrics.New(prometheus.NewRegistry())
	h := New(langRecorder{fake, &gotLang}, Options{Language: "fr", Metrics: m}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, wavBytes(), "en"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	pr := decode(t, rec)
	if pr.Text != "bonjour tout le monde" || pr.Language != "en" || pr.Model != "fake" || pr.Confidence != 1 {
		t.Errorf("response = %+v", pr)
	}
	if gotLang != "en" || gotName != "recording.wav" {
		t.Errorf("upstream saw lang=%q name=%q", gotLang, gotName)
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("200")); got != 1 {
		t.Errorf("http metric = %v", got)
	}
}

// langRecorder captures the language hint passed upstream.
type langRecorder struct {
	*transcriber.Fake
	lang *string
}

func (l langRecorder) TranscribeLanguage(ctx context.Context, seg encoder.Segment, lang string) (*transcriber.Result, error) {
	*l.lang = lang
	return l.Fake.TranscribeLanguage(ctx, seg, lang)
}

func TestTranscribeDefaultLanguage(t *testing.T) {
	var gotLang string
	h := New(langRecorder{transcriber.NewFake("salut", nil), &gotLang}, Options{Language: "fr"}).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, wavBytes(), ""))
	if rec.Code != http.StatusOK || gotLang != "fr" {
		t.Fatalf("status = %d, lang = %q", rec.Code, gotLang)
	}
}

func TestTranscribeMissingAudio(t *testing.T) {
	fake := transcriber.NewFake("unused", nil)
	h := New(fake, Options{}).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, uploadRequest(t, nil, "fr"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if pr := decode(t, rec); pr.Error == "" {
		t.Error("expected an error message")
	}
	if len(fake.Calls()) != 0 {
		t.Error("upstream called without audio")
	}
}

func TestTranscribeNoKey(t *testing.T) {
	rec := httptest.NewRecorder()
	New(nil, Options{}).Handler().ServeHTTP(rec, uploadRequest(t, wavBytes(), ""))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if pr := decode(t, rec); !strings.Contains(pr.Details, "MISTRAL_API_KEY") {
		t.Errorf("details = %q", pr.Details)
	}
}

func TestTranscribeDevFallback(t *testing.T) {
	rec := httptest.NewRecorder()
	New(nil, Options{DevFallback: true}).Handler().ServeHTTP(rec, uploadRequest(t, wavBytes(), ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	pr := decode(t, rec)
	if pr.Text == "" || pr.Endpoint != "fallback" || pr.Confidence != 0.5 {
		t.Errorf("response = %+v", pr)
	}
}

func TestTranscribeDevFallbackAllModelsRejected(t *testing.T) {
	rejected := &transcriber.Error{
		Kind:    transcriber.ErrBadRequest,
		Status:  http.StatusBadRequest,
		Message: "no model accepted the request",
		Err:     errors.Join(transcriber.ErrModelsExhausted, errors.New("unknown model")),
	}

	rec := httptest.NewRecorder()
	New(transcriber.NewFake("", rejected), Options{DevFallback: true}).Handler().ServeHTTP(rec, uploadRequest(t, wavBytes(), ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	pr := decode(t, rec)
	if pr.Text != fallbackNoModelText || pr.Endpoint != "fallback" || pr.Confidence != 0.5 {
		t.Errorf("response = %+v", pr)
	}

	rec = httptest.NewRecorder()
	New(transcriber.NewFake("", rejected), Options{}).Handler().ServeHTTP(rec, uploadRequest(t, wavBytes(), ""))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status without fallback = %d, want 400", rec.Code)
	}
}

func TestTranscribeEmptyResult(t *testing.T) {
	rec := httptest.NewRecorder()
	New(transcriber.NewFake("", nil), Options{}).Handler().ServeHTTP(rec, uploadRequest(t, wavBytes(), ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if pr := decode(t, rec); pr.Text != "" || pr.Error != "" {
		t.Errorf("response = %+v", pr)
	}
}

func TestTranscribeErrorStatus(t *testing.T) {
	tests := []struct {
		kind error
		want int
	}{
		{transcriber.ErrUnauthorized, http.StatusUnauthorized},
		{transcriber.ErrTooLarge, http.StatusRequestEntityTooLarge},
		{transcriber.ErrRateLimited, http.StatusTooManyRequests},
		{transcriber.ErrBadRequest, http.StatusBadRequest},
		{transcriber.ErrUpstream, http.StatusBadGateway},
		{transcriber.ErrNetwork, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.kind.Error(), func(t *testing.T) {
			fake := transcriber.NewFake("", &transcriber.Error{Kind: tt.kind, Message: "upstream said no"})
			rec := httptest.NewRecorder()
			New(fake, Options{}).Handler().ServeHTTP(rec, uploadRequest(t, wavBytes(), ""))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			pr := decode(t, rec)
			if pr.Error == "" || !strings.Contains(pr.Details, "upstream said no") {
				t.Errorf("response = %+v", pr)
			}
		})
	}
}

func TestStatusForPlainError(t *testing.T) {
	if got := StatusFor(errors.New("boom")); got != http.StatusBadGateway {
		t.Errorf("StatusFor = %d", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	New(nil, Options{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, Route, nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestProxyClientRoundTrip(t *testing.T) {
	srv := httptest.NewServer(New(transcriber.NewFake("via proxy", nil), Options{Language: "fr"}).Handler())
	defer srv.Close()

	client := transcriber.NewProxy(transcriber.Config{Endpoint: srv.URL + Route, Language: "fr"})
	res, err := client.Transcribe(context.Background(), encoder.NewSegment(0, make([]float32, 1600)))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "via proxy" || res.Model != "fake" || res.Language != "fr" {
		t.Errorf("result = %+v", res)
	}
}
