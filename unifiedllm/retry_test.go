package unifiedllm

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fastRetry returns a policy with millisecond delays for tests.
func fastRetry(n int) RetryPolicy {
	return RetryPolicy{MaxRetries: n, BaseDelay: time.Millisecond, BackoffMultiplier: 1, MaxDelay: time.Millisecond}
}

func TestRetryPolicyDelay(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:         time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          time.Minute,
	}

	delays := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	for i, expected := range delays {
		if got := policy.Delay(i); got != expected {
			t.Errorf("attempt %d: expected %v, got %v", i, expected, got)
		}
	}
}

func TestRetryPolicyDelayWithMaxCap(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:         time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          5 * time.Second,
	}

	// Attempt 10 would be 1024s without cap.
	if got := policy.Delay(10); got != 5*time.Second {
		t.Errorf("expected 5s (capped), got %v", got)
	}
}

func TestRetryPolicyDelayWithoutMultiplier(t *testing.T) {
	policy := RetryPolicy{BaseDelay: 3 * time.Second}
	if got := policy.Delay(4); got != 3*time.Second {
		t.Errorf("expected constant 3s delay, got %v", got)
	}
}

func TestRetryPolicyDelayWithJitter(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:         time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          time.Minute,
		Jitter:            true,
	}

	for i := 0; i < 100; i++ {
		got := policy.Delay(0)
		if got < 500*time.Millisecond || got >= 1500*time.Millisecond {
			t.Errorf("jittered delay out of range: %v", got)
		}
	}
}

func TestRetrySuccess(t *testing.T) {
	callCount := 0
	result, err := Retry(context.Background(), fastRetry(3), func(ctx context.Context) (string, error) {
		callCount++
		if callCount < 3 {
			return "", &ServerError{ProviderError: ProviderError{
				SDKError: SDKError{Message: "server error"}, Retryable: true,
			}}
		}
		return "success", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "success" {
		t.Errorf("expected %q, got %q", "success", result)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestRetryNonRetryableError(t *testing.T) {
	callCount := 0
	_, err := Retry(context.Background(), fastRetry(3), func(ctx context.Context) (string, error) {
		callCount++
		return "", &AuthenticationError{ProviderError: ProviderError{
			SDKError: SDKError{Message: "invalid key"},
		}}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if callCount != 1 {
		t.Errorf("expected 1 call (no retries for non-retryable), got %d", callCount)
	}
}

func TestRetryExhausted(t *testing.T) {
	callCount := 0
	_, err := Retry(context.Background(), fastRetry(2), func(ctx context.Context) (string, error) {
		callCount++
		return "", &ServerError{ProviderError: ProviderError{
			SDKError: SDKError{Message: "server error"}, Retryable: true,
		}}
	})
	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls (1 + 2 retries), got %d", callCount)
	}
}

func TestNoRetry(t *testing.T) {
	callCount := 0
	_, err := Retry(context.Background(), NoRetry(), func(ctx context.Context) (int, error) {
		callCount++
		return 0, &NetworkError{SDKError: SDKError{Message: "down"}}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestRetryHonorsRetryAfter(t *testing.T) {
	after := 2 * time.Millisecond
	var delays []time.Duration
	policy := fastRetry(1)
	policy.MaxDelay = time.Second
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		delays = append(delays, delay)
	}

	callCount := 0
	_, err := Retry(context.Background(), policy, func(ctx context.Context) (string, error) {
		callCount++
		if callCount == 1 {
			return "", ErrorFromStatusCode(429, "slow down", "p", nil, &after)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(delays) != 1 || delays[0] != after {
		t.Errorf("expected one retry after %v, got %v", after, delays)
	}
}

func TestRetryAfterBeyondMaxDelayGivesUp(t *testing.T) {
	after := time.Hour
	callCount := 0
	_, err := Retry(context.Background(), fastRetry(3), func(ctx context.Context) (string, error) {
		callCount++
		return "", ErrorFromStatusCode(429, "slow down", "p", nil, &after)
	})
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestRetryCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}

	_, err := Retry(ctx, policy, func(ctx context.Context) (string, error) {
		cancel()
		return "", &NetworkError{SDKError: SDKError{Message: "down"}}
	})
	var abort *AbortError
	if !errors.As(err, &abort) {
		t.Fatalf("expected AbortError, got %v", err)
	}
}
