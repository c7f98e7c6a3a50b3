package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
)

// ErrorKind is the closed set of failure classes the retry loop dispatches
// on. Classification happens once, at the API boundary, so downstream
// branches switch on the kind instead of re-parsing error strings.
type ErrorKind int

const (
	// KindOther is an unclassified failure; not retried.
	KindOther ErrorKind = iota

	// KindAuth means the credentials were rejected (401/403). Fatal for
	// the whole batch: no per-item retry can fix a bad key.
	KindAuth

	// KindRateLimit is a 429. Retryable after feeding the shared limiter.
	KindRateLimit

	// KindServer is a 5xx or transport-level failure. Retryable.
	KindServer

	// KindMalformed means the API answered but the response could not be
	// parsed into an annotation. Retryable a bounded number of times.
	KindMalformed
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindRateLimit:
		return "rate_limit"
	case KindServer:
		return "server"
	case KindMalformed:
		return "malformed"
	default:
		return "other"
	}
}

// APIError is the tagged error returned by the annotation client.
type APIError struct {
	Kind       ErrorKind
	StatusCode int           // HTTP status when known, 0 otherwise
	RetryAfter time.Duration // Server-provided wait hint, 0 if absent
	Message    string
	Err        error // Underlying cause, if any
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the error class is worth another attempt.
func (e *APIError) Retryable() bool {
	switch e.Kind {
	case KindRateLimit, KindServer, KindMalformed:
		return true
	}
	return false
}

var retryAfterPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)try again in (\d+) (second|minute|hour)s?`),
	regexp.MustCompile(`(?i)wait (\d+) (second|minute|hour)s?`),
	regexp.MustCompile(`(?i)retry[_-]after["':\s]+(\d+)`),
}

// parseRetryAfterFromMessage extracts a wait hint from an error message.
// Returns 0 when no hint is present.
func parseRetryAfterFromMessage(message string) time.Duration {
	for _, pattern := range retryAfterPatterns {
		m := pattern.FindStringSubmatch(message)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		unit := time.Second
		if len(m) > 2 {
			switch strings.ToLower(m[2]) {
			case "minute":
				unit = time.Minute
			case "hour":
				unit = time.Hour
			}
		}
		return time.Duration(n) * unit
	}
	return 0
}

// parseRetryAfterHeader reads a Retry-After header value in seconds.
func parseRetryAfterHeader(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	value := resp.Header.Get("Retry-After")
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return 0
}

// Classify maps an arbitrary error from the SDK to a tagged APIError.
//
// Context cancellation is passed through untouched so the caller's
// cancellation handling sees the original error. SDK errors classify by
// status code; anything else falls back to message inspection, since the
// SDK wraps some transport failures in plain errors.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr, err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &APIError{Kind: KindServer, Message: "request timed out", Err: err}
	}

	return classifyMessage(err)
}

func classifyStatus(sdkErr *anthropic.Error, err error) *APIError {
	status := sdkErr.StatusCode

	// The SDK's Error() dereferences the originating request, which is not
	// always populated; build the message from the fields we know are set.
	message := fmt.Sprintf("API error (HTTP %d %s)", status, http.StatusText(status))
	if sdkErr.Request != nil {
		message = sdkErr.Error()
	}

	out := &APIError{
		StatusCode: status,
		Message:    message,
		Err:        err,
		RetryAfter: parseRetryAfterHeader(sdkErr.Response),
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		out.Kind = KindAuth
	case status == http.StatusTooManyRequests:
		out.Kind = KindRateLimit
		if out.RetryAfter == 0 {
			out.RetryAfter = parseRetryAfterFromMessage(message)
		}
	case status >= 500:
		out.Kind = KindServer
	default:
		out.Kind = KindOther
	}
	return out
}

func classifyMessage(err error) *APIError {
	msg := err.Error()
	lower := strings.ToLower(msg)
	out := &APIError{Message: msg, Err: err}

	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "403") ||
		strings.Contains(lower, "unauthorized") || strings.Contains(lower, "forbidden") ||
		strings.Contains(lower, "invalid x-api-key") || strings.Contains(lower, "authentication"):
		out.Kind = KindAuth

	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "quota"):
		out.Kind = KindRateLimit
		out.RetryAfter = parseRetryAfterFromMessage(msg)

	case strings.Contains(lower, "500") || strings.Contains(lower, "502") ||
		strings.Contains(lower, "503") || strings.Contains(lower, "504") ||
		strings.Contains(lower, "internal server error") ||
		strings.Contains(lower, "bad gateway") ||
		strings.Contains(lower, "service unavailable") ||
		strings.Contains(lower, "gateway timeout") ||
		strings.Contains(lower, "overloaded"):
		out.Kind = KindServer

	case strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "temporary failure") ||
		strings.Contains(lower, "network"):
		out.Kind = KindServer

	default:
		out.Kind = KindOther
	}
	return out
}
