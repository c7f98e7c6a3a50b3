package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifySDKErrors(t *testing.T) {
	tests := []struct {
		name         string
		statusCode   int
		retryAfter   string
		expectedKind ErrorKind
		expectedWait time.Duration
	}{
		{
			name:         "401 unauthorized",
			statusCode:   http.StatusUnauthorized,
			expectedKind: KindAuth,
		},
		{
			name:         "403 forbidden",
			statusCode:   http.StatusForbidden,
			expectedKind: KindAuth,
		},
		{
			name:         "429 with Retry-After header",
			statusCode:   http.StatusTooManyRequests,
			retryAfter:   "30",
			expectedKind: KindRateLimit,
			expectedWait: 30 * time.Second,
		},
		{
			name:         "429 without Retry-After",
			statusCode:   http.StatusTooManyRequests,
			expectedKind: KindRateLimit,
		},
		{
			name:         "500 internal server error",
			statusCode:   http.StatusInternalServerError,
			expectedKind: KindServer,
		},
		{
			name:         "502 bad gateway",
			statusCode:   http.StatusBadGateway,
			expectedKind: KindServer,
		},
		{
			name:         "503 service unavailable",
			statusCode:   http.StatusServiceUnavailable,
			expectedKind: KindServer,
		},
		{
			name:         "504 gateway timeout",
			statusCode:   http.StatusGatewayTimeout,
			expectedKind: KindServer,
		},
		{
			name:         "400 bad request is not retryable",
			statusCode:   http.StatusBadRequest,
			expectedKind: KindOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{StatusCode: tt.statusCode, Header: http.Header{}}
			if tt.retryAfter != "" {
				resp.Header.Set("Retry-After", tt.retryAfter)
			}
			sdkErr := &anthropic.Error{StatusCode: tt.statusCode, Response: resp}

			classified := Classify(sdkErr)
			var apiErr *APIError
			require.ErrorAs(t, classified, &apiErr)

			assert.Equal(t, tt.expectedKind, apiErr.Kind)
			assert.Equal(t, tt.statusCode, apiErr.StatusCode)
			assert.Equal(t, tt.expectedWait, apiErr.RetryAfter)
			assert.NotEmpty(t, apiErr.Message)
		})
	}
}

// SDK errors surfaced without an originating request (their Error() would
// dereference it) must still classify and carry a readable message.
func TestClassifySDKErrorWithoutRequest(t *testing.T) {
	sdkErr := &anthropic.Error{StatusCode: http.StatusServiceUnavailable}

	var apiErr *APIError
	require.ErrorAs(t, Classify(sdkErr), &apiErr)
	assert.Equal(t, KindServer, apiErr.Kind)
	assert.Contains(t, apiErr.Message, "503")
	assert.Contains(t, apiErr.Error(), "server")
}

func TestClassifyMessageFallback(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		expectedKind ErrorKind
	}{
		{name: "rate limit wording", err: errors.New("rate limit exceeded"), expectedKind: KindRateLimit},
		{name: "quota wording", err: errors.New("monthly quota exhausted"), expectedKind: KindRateLimit},
		{name: "bare 429", err: errors.New("HTTP 429"), expectedKind: KindRateLimit},
		{name: "internal server error", err: errors.New("internal server error"), expectedKind: KindServer},
		{name: "overloaded", err: errors.New("anthropic: overloaded_error"), expectedKind: KindServer},
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), expectedKind: KindServer},
		{name: "network timeout", err: errors.New("network timeout"), expectedKind: KindServer},
		{name: "invalid api key", err: errors.New("invalid x-api-key"), expectedKind: KindAuth},
		{name: "unknown", err: errors.New("something odd"), expectedKind: KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var apiErr *APIError
			require.ErrorAs(t, Classify(tt.err), &apiErr)
			assert.Equal(t, tt.expectedKind, apiErr.Kind)
		})
	}
}

func TestClassifyPassesThroughCancellation(t *testing.T) {
	err := Classify(context.Canceled)
	assert.ErrorIs(t, err, context.Canceled)

	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}

func TestClassifyDeadlineIsServerKind(t *testing.T) {
	var apiErr *APIError
	require.ErrorAs(t, Classify(context.DeadlineExceeded), &apiErr)
	assert.Equal(t, KindServer, apiErr.Kind)
	assert.True(t, apiErr.Retryable())
}

func TestClassifyNil(t *testing.T) {
	assert.NoError(t, Classify(nil))
}

func TestParseRetryAfterFromMessage(t *testing.T) {
	tests := []struct {
		message  string
		expected time.Duration
	}{
		{message: "rate limit exceeded, try again in 12 minutes", expected: 12 * time.Minute},
		{message: "quota exceeded, try again in 720 seconds", expected: 720 * time.Second},
		{message: "rate limit hit, try again in 1 hour", expected: time.Hour},
		{message: "please wait 5 minutes before retrying", expected: 5 * time.Minute},
		{message: `{"error": "rate_limit_error", "retry_after": 600}`, expected: 600 * time.Second},
		{message: "Try Again In 10 Minutes", expected: 10 * time.Minute},
		{message: "unknown error format", expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseRetryAfterFromMessage(tt.message))
		})
	}
}

func TestAPIErrorRetryable(t *testing.T) {
	assert.True(t, (&APIError{Kind: KindRateLimit}).Retryable())
	assert.True(t, (&APIError{Kind: KindServer}).Retryable())
	assert.True(t, (&APIError{Kind: KindMalformed}).Retryable())
	assert.False(t, (&APIError{Kind: KindAuth}).Retryable())
	assert.False(t, (&APIError{Kind: KindOther}).Retryable())
}

func TestAPIErrorWrapping(t *testing.T) {
	cause := errors.New("boom")
	err := &APIError{Kind: KindServer, StatusCode: 503, Message: "service unavailable", Err: cause}

	assert.ErrorIs(t, fmt.Errorf("attempt failed: %w", err), err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "server")
}
