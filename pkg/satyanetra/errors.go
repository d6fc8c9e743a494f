package satyanetra

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failure at the point where it happens.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindHTTP               Kind = "http"
	KindTimeout            Kind = "timeout"
	KindNetwork            Kind = "network"
	KindBackendMalformed   Kind = "backend_malformed"
	KindJobNotFound        Kind = "job_not_found"
	KindConflict           Kind = "conflict"
	KindMissingIdentifiers Kind = "missing_identifiers"
	KindRateLimited        Kind = "rate_limited"
)

// Stable error codes carried in the gateway's JSON envelope.
const (
	CodeMissingURL      = "missing_url"
	CodeInvalidURL      = "invalid_url"
	CodeBackendError    = "backend_error"
	CodeBackendTimeout  = "backend_timeout"
	CodeRequestTimeout  = "request_timeout"
	CodeInvalidResponse = "invalid_response"
	CodeProxyError      = "proxy_error"
	CodeJobNotFound     = "job_not_found"
	CodeNotReady        = "analysis_not_ready"
	CodeRateLimited     = "rate_limit_exceeded"
)

// User-facing messages for transport and decoding failures.
const (
	MsgTimeout         = "Request timed out. The backend might be waking up (this can take 30-60 seconds on free hosting)."
	MsgNetwork         = "Cannot connect to API. Please check your internet connection."
	MsgNonJSON         = "Gateway returned non-JSON response"
	MsgUnexpectedShape = "Gateway returned an unexpected response shape"
)

// Envelope is the structured error body emitted by the gateway.
type Envelope struct {
	Error   string `json:"error"`
	Kind    Kind   `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Status  int    `json:"status,omitempty"`
}

// Error is a classified failure. Status is zero when no HTTP response was
// received.
type Error struct {
	Kind    Kind
	Status  int
	Code    string
	Message string
	Detail  string
	Body    string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.Status > 0 {
		return fmt.Sprintf("satyanetra: %s (HTTP %d): %s", e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("satyanetra: %s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage returns the human-readable message for display.
func (e *Error) UserMessage() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Code != "":
		return e.Code
	case e.Status > 0:
		return fmt.Sprintf("Request failed with HTTP %d", e.Status)
	default:
		return string(e.Kind)
	}
}

// Transport reports whether the failure happened before any response arrived.
func (e *Error) Transport() bool {
	return e.Status == 0 && (e.Kind == KindTimeout || e.Kind == KindNetwork)
}

// NewError builds a classified error without an HTTP status.
func NewError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// KindOf returns the kind of err, or "" if err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether err is a transport-level failure worth another
// attempt. Well-formed HTTP error responses are never retried.
func Retryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Transport()
}

// UserMessage extracts the display message from any error.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.UserMessage()
	}
	return err.Error()
}

// errorFromResponse classifies a non-2xx response. The envelope, when the
// body carries one, decides the kind explicitly.
func errorFromResponse(status int, body []byte) *Error {
	e := &Error{Kind: KindHTTP, Status: status, Body: string(body)}

	var env Envelope
	explicit := false
	if err := json.Unmarshal(body, &env); err == nil {
		e.Code = env.Error
		e.Message = env.Message
		e.Detail = env.Detail
		if env.Kind != "" {
			e.Kind = env.Kind
			explicit = true
		}
	} else {
		e.Message = strings.TrimSpace(truncate(string(body), 200))
	}

	switch {
	case status == http.StatusConflict:
		e.Kind = KindConflict
	case status == http.StatusNotFound && e.Code == CodeJobNotFound:
		e.Kind = KindJobNotFound
	case explicit:
		// set by the gateway
	case e.Code == CodeRateLimited || status == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
	case e.Code == CodeBackendTimeout || e.Code == CodeRequestTimeout:
		e.Kind = KindTimeout
	case e.Code == CodeBackendError || e.Code == CodeInvalidResponse:
		e.Kind = KindBackendMalformed
	}
	return e
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
