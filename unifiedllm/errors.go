package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// SDKError is the base error type for all unified LLM errors.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// ProviderError represents an error returned by an inference back-end.
type ProviderError struct {
	SDKError
	Provider   string
	StatusCode int
	Retryable  bool
	RetryAfter *time.Duration
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

// Concrete provider error types.

type AuthenticationError struct{ ProviderError }
type AccessDeniedError struct{ ProviderError }
type NotFoundError struct{ ProviderError }
type InvalidRequestError struct{ ProviderError }
type RateLimitError struct{ ProviderError }
type ServerError struct{ ProviderError }
type ContentFilterError struct{ ProviderError }
type ContextLengthError struct{ ProviderError }

// Non-provider errors.

type RequestTimeoutError struct{ SDKError }
type AbortError struct{ SDKError }
type NetworkError struct{ SDKError }
type StreamFailedError struct{ SDKError }
type NoObjectGeneratedError struct{ SDKError }
type ConfigurationError struct{ SDKError }

type retryClassifier interface {
	retryable() bool
}

func (e *ProviderError) retryable() bool          { return e.Retryable }
func (e *AuthenticationError) retryable() bool    { return false }
func (e *AccessDeniedError) retryable() bool      { return false }
func (e *NotFoundError) retryable() bool          { return false }
func (e *InvalidRequestError) retryable() bool    { return false }
func (e *ContentFilterError) retryable() bool     { return false }
func (e *ContextLengthError) retryable() bool     { return false }
func (e *RateLimitError) retryable() bool         { return true }
func (e *ServerError) retryable() bool            { return true }
func (e *RequestTimeoutError) retryable() bool    { return true }
func (e *AbortError) retryable() bool             { return false }
func (e *NetworkError) retryable() bool           { return true }
func (e *StreamFailedError) retryable() bool      { return true }
func (e *NoObjectGeneratedError) retryable() bool { return false }
func (e *ConfigurationError) retryable() bool     { return false }

// IsRetryable returns true if the error is safe to retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var rc retryClassifier
	if errors.As(err, &rc) {
		return rc.retryable()
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// Unknown errors default to retryable.
	return true
}

// ErrorFromStatusCode maps an HTTP status code to the appropriate error type.
func ErrorFromStatusCode(statusCode int, message, provider string, cause error, retryAfter *time.Duration) error {
	pe := ProviderError{
		SDKError:   SDKError{Message: message, Cause: cause},
		Provider:   provider,
		StatusCode: statusCode,
		RetryAfter: retryAfter,
	}

	switch statusCode {
	case 400, 422:
		return &InvalidRequestError{ProviderError: pe}
	case 401:
		return &AuthenticationError{ProviderError: pe}
	case 403:
		return &AccessDeniedError{ProviderError: pe}
	case 404:
		return &NotFoundError{ProviderError: pe}
	case 408:
		return &RequestTimeoutError{SDKError: pe.SDKError}
	case 413:
		return &ContextLengthError{ProviderError: pe}
	case 429:
		pe.Retryable = true
		return &RateLimitError{ProviderError: pe}
	case 500, 502, 503, 504, 529:
		pe.Retryable = true
		return &ServerError{ProviderError: pe}
	default:
		pe.Retryable = statusCode >= 500 || statusCode == 0
		return &pe
	}
}

// classifyError converts an error that carries no status code into the
// unified hierarchy by inspecting its type and message. Back-ends that
// report failures as plain errors (gollm, ollama, genai) go through here.
func classifyError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var rc retryClassifier
	if errors.As(err, &rc) {
		return err
	}
	msg := err.Error()
	switch {
	case errors.Is(err, context.Canceled):
		return &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: err}}
	case errors.Is(err, context.DeadlineExceeded):
		return &RequestTimeoutError{SDKError: SDKError{Message: "request timed out", Cause: err}}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &NetworkError{SDKError: SDKError{Message: msg, Cause: err}}
	}

	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key") || strings.Contains(lower, "invalid key"):
		return ErrorFromStatusCode(401, msg, provider, err, nil)
	case strings.Contains(lower, "403") || strings.Contains(lower, "forbidden"):
		return ErrorFromStatusCode(403, msg, provider, err, nil)
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit"):
		return ErrorFromStatusCode(429, msg, provider, err, nil)
	case strings.Contains(lower, "context length") || strings.Contains(lower, "too many tokens"):
		return ErrorFromStatusCode(413, msg, provider, err, nil)
	case strings.Contains(lower, "404") || strings.Contains(lower, "not found"):
		return ErrorFromStatusCode(404, msg, provider, err, nil)
	case strings.Contains(lower, "500") || strings.Contains(lower, "internal server") || strings.Contains(lower, "overloaded"):
		return ErrorFromStatusCode(500, msg, provider, err, nil)
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host"):
		return &NetworkError{SDKError: SDKError{Message: msg, Cause: err}}
	case strings.Contains(lower, "timeout"):
		return &RequestTimeoutError{SDKError: SDKError{Message: msg, Cause: err}}
	case strings.Contains(lower, "content filter") || strings.Contains(lower, "safety"):
		return &ContentFilterError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg, Cause: err}, Provider: provider,
		}}
	default:
		return &ProviderError{
			SDKError:  SDKError{Message: msg, Cause: err},
			Provider:  provider,
			Retryable: true,
		}
	}
}
