package transcriber

import (
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"
)

// maxResponseBytes caps how much of a response body is read. Transcription
// replies are small JSON documents.
const maxResponseBytes = 4 << 20

// TracedClient is an HTTP client that records per-phase timings of every
// upload. Uploads go to a single host, so a small idle pool is kept warm.
type TracedClient struct {
	client *http.Client
}

func NewTracedClient(timeout time.Duration) *TracedClient {
	return &TracedClient{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
	}
}

type TracedResponse struct {
	Body       []byte
	StatusCode int
	Header     http.Header
	Metrics    *NetworkMetrics
}

// phaseTracer stamps the connection phases of one request into m. Hooks run
// on the transport's read and write goroutines concurrently, so every field
// is guarded by mu.
type phaseTracer struct {
	mu                               sync.Mutex
	m                                NetworkMetrics
	getConn, dns, connect, handshake time.Time
	gotConn, wroteHeaders, wroteBody time.Time
	firstByte                        time.Time
}

// at runs fn with the tracer locked and the current time.
func (p *phaseTracer) at(fn func(now time.Time)) {
	now := time.Now()
	p.mu.Lock()
	fn(now)
	p.mu.Unlock()
}

func (p *phaseTracer) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GetConn: func(string) { p.at(func(now time.Time) { p.getConn = now }) },
		GotConn: func(info httptrace.GotConnInfo) {
			p.at(func(now time.Time) {
				p.gotConn = now
				p.m.ConnWait = now.Sub(p.getConn)
				p.m.ConnReused = info.Reused
			})
		},
		DNSStart: func(httptrace.DNSStartInfo) { p.at(func(now time.Time) { p.dns = now }) },
		DNSDone: func(httptrace.DNSDoneInfo) {
			p.at(func(now time.Time) { p.m.DNS = now.Sub(p.dns) })
		},
		ConnectStart: func(string, string) { p.at(func(now time.Time) { p.connect = now }) },
		ConnectDone: func(string, string, error) {
			p.at(func(now time.Time) { p.m.TCP = now.Sub(p.connect) })
		},
		TLSHandshakeStart: func() { p.at(func(now time.Time) { p.handshake = now }) },
		TLSHandshakeDone: func(state tls.ConnectionState, _ error) {
			p.at(func(now time.Time) {
				p.m.TLS = now.Sub(p.handshake)
				p.m.TLSProtocol = state.NegotiatedProtocol
			})
		},
		WroteHeaders: func() {
			p.at(func(now time.Time) {
				p.wroteHeaders = now
				p.m.ReqHeaders = now.Sub(p.gotConn)
			})
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			p.at(func(now time.Time) {
				p.wroteBody = now
				p.m.ReqBody = now.Sub(p.wroteHeaders)
			})
		},
		GotFirstResponseByte: func() {
			p.at(func(now time.Time) {
				p.firstByte = now
				// a server may answer before the body is fully written
				if !p.wroteBody.IsZero() {
					p.m.TTFB = now.Sub(p.wroteBody)
				}
			})
		},
	}
}

// finish stamps the download and total times and returns a copy of the
// metrics. Hooks still running on the write goroutine cannot alter it.
func (p *phaseTracer) finish(start time.Time) *NetworkMetrics {
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.firstByte.IsZero() {
		p.m.Download = now.Sub(p.firstByte)
	}
	p.m.Total = now.Sub(start)
	m := p.m
	return &m
}

// Do sends req and reads the whole response body. Transport errors are
// returned unclassified; callers map them through transportError.
func (c *TracedClient) Do(req *http.Request) (*TracedResponse, error) {
	p := &phaseTracer{}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), p.trace()))
	start := time.Now()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxResponseBytes {
		return nil, fmt.Errorf("response body exceeds %d bytes", maxResponseBytes)
	}

	return &TracedResponse{
		Body:       body,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Metrics:    p.finish(start),
	}, nil
}

// WarmConnection opens a pooled connection to url ahead of the first upload
// and returns the TLS handshake time it saved. Errors are ignored; the
// upload will simply dial again.
func (c *TracedClient) WarmConnection(url string) time.Duration {
	p := &phaseTracer{}
	req, err := http.NewRequest(http.MethodHead, url, nil)
	if err != nil {
		return 0
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), p.trace()))
	resp, err := c.client.Do(req)
	if err != nil {
		return 0
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return p.finish(time.Now()).TLS
}
