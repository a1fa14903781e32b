package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/user/llmeter/internal/transport"
)

type ErrorKind string

const (
	KindCredential ErrorKind = "credential"
	KindAuth       ErrorKind = "auth"
	KindRefresh    ErrorKind = "refresh"
	KindRateLimit  ErrorKind = "rate_limit"
	KindNetwork    ErrorKind = "network"
	KindTimeout    ErrorKind = "timeout"
	KindParse      ErrorKind = "parse"
	KindStore      ErrorKind = "store"
	KindInternal   ErrorKind = "internal"
)

type Error struct {
	Kind       ErrorKind
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

func ParseError(format string, args ...any) *Error {
	return NewError(KindParse, format, args...)
}

// KindOf classifies err. Untyped context deadlines are timeouts and net
// errors are network failures; anything else is a defect.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	return KindInternal
}

func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// TransportError wraps a failure returned by a transport.Client.
func TransportError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return WrapError(KindTimeout, err, "request timed out")
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return WrapError(KindTimeout, err, "request timed out")
	}
	return WrapError(KindNetwork, err, "request failed")
}

// CheckStatus maps a non-2xx response onto the error taxonomy.
func CheckStatus(resp *transport.Response) error {
	if resp.OK() {
		return nil
	}
	switch resp.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return NewError(KindAuth, "authentication rejected (HTTP %d)", resp.Status)
	case http.StatusTooManyRequests:
		e := NewError(KindRateLimit, "rate limited, retry later")
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return e
	}
	return NewError(KindNetwork, "HTTP %d: %s", resp.Status, transport.Snippet(resp.Body, 200))
}

func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now).Round(time.Second)
	}
	return 0
}

// DecodeJSON unmarshals a backend body, reporting a shape mismatch as a
// parse error.
func DecodeJSON(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return WrapError(KindParse, err, "unexpected response")
	}
	return nil
}

// GetJSON issues the request, checks the status and decodes a JSON body into v
// when v is non-nil.
func GetJSON(ctx context.Context, c transport.Client, url string, headers map[string]string, v any) error {
	resp, err := c.Get(ctx, url, headers)
	if err != nil {
		return TransportError(err)
	}
	if err := CheckStatus(resp); err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return DecodeJSON(resp.Body, v)
}

func PostJSON(ctx context.Context, c transport.Client, url string, headers map[string]string, body []byte, v any) error {
	resp, err := c.Post(ctx, url, headers, body)
	if err != nil {
		return TransportError(err)
	}
	if err := CheckStatus(resp); err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return DecodeJSON(resp.Body, v)
}

type ErrorInfo struct {
	Kind              ErrorKind `yaml:"kind" json:"kind"`
	Message           string    `yaml:"message" json:"message"`
	RetryAfterSeconds int       `yaml:"retry_after_seconds,omitempty" json:"retry_after_seconds,omitempty"`
}

func (e *ErrorInfo) Error() string {
	return e.Message
}

// Info renders err for a Result.
func Info(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	out := &ErrorInfo{Kind: KindOf(err), Message: err.Error()}
	var pe *Error
	if errors.As(err, &pe) {
		out.RetryAfterSeconds = int(pe.RetryAfter / time.Second)
	}
	switch out.Kind {
	case KindTimeout:
		if pe == nil {
			out.Message = "timed out"
		}
	case KindInternal:
		out.Message = "internal error: " + err.Error()
	}
	return out
}
