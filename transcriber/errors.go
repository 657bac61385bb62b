package transcriber

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrEmptyResult  = errors.New("empty transcription")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrUpstream     = errors.New("upstream error")
	ErrNetwork      = errors.New("network error")
	ErrBadRequest   = errors.New("bad request")
	ErrTooLarge     = errors.New("audio too large")

	// ErrModelsExhausted is wrapped by the bad-request error returned
	// after every configured model rejected the request.
	ErrModelsExhausted = errors.New("all models rejected")
)

// Error is a classified transcription failure. It matches its Kind sentinel
// and the wrapped cause through errors.Is.
type Error struct {
	Kind    error
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (%d)", msg, e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func statusKind(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrUnauthorized
	case status == http.StatusRequestEntityTooLarge:
		return ErrTooLarge
	case status >= 500:
		return ErrUpstream
	default:
		return ErrBadRequest
	}
}

func statusError(status int, body []byte) *Error {
	msg := string(body)
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return &Error{Kind: statusKind(status), Status: status, Message: msg}
}

// Retryable reports whether another attempt may succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstream) || errors.Is(err, ErrNetwork)
}

// Fatal reports whether err should end a whole recording session rather than
// a single segment.
func Fatal(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrBadRequest) || errors.Is(err, ErrTooLarge)
}

// Outcome maps err to a short label for logs and metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrEmptyResult):
		return "empty"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	case errors.Is(err, ErrUpstream):
		return "upstream"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	default:
		return "error"
	}
}
