package unifiedllm

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// LoggingMiddleware logs every completion at debug level and failures at
// warn level.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		fields := []zap.Field{
			zap.String("provider", req.Provider),
			zap.String("model", req.Model),
			zap.String("operation", req.Operation()),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			logger.Warn("model call failed", append(fields, zap.Error(err), zap.Bool("retryable", IsRetryable(err)))...)
			return nil, err
		}
		logger.Debug("model call",
			append(fields,
				zap.String("finish_reason", resp.FinishReason.Reason),
				zap.Int("input_tokens", resp.Usage.InputTokens),
				zap.Int("output_tokens", resp.Usage.OutputTokens),
			)...)
		return resp, nil
	}
}

// StreamLoggingMiddleware logs stream opens and open failures.
func StreamLoggingMiddleware(logger *zap.Logger) StreamMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, req Request, next func(context.Context, Request) (<-chan StreamEvent, error)) (<-chan StreamEvent, error) {
		ch, err := next(ctx, req)
		if err != nil {
			logger.Warn("model stream failed to open",
				zap.String("provider", req.Provider),
				zap.String("model", req.Model),
				zap.Error(err))
			return nil, err
		}
		logger.Debug("model stream opened",
			zap.String("provider", req.Provider),
			zap.String("model", req.Model),
			zap.String("operation", req.Operation()))
		return ch, nil
	}
}

// NewRequestLimiter returns a limiter admitting perMinute requests per
// minute with a burst of one, or nil when perMinute is not positive.
func NewRequestLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// RateLimitMiddleware blocks each call until the limiter admits it.
func RateLimitMiddleware(limiter *rate.Limiter) Middleware {
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		if err := waitLimiter(ctx, limiter); err != nil {
			return nil, err
		}
		return next(ctx, req)
	}
}

// RateLimitStreamMiddleware blocks each stream open until the limiter admits it.
func RateLimitStreamMiddleware(limiter *rate.Limiter) StreamMiddleware {
	return func(ctx context.Context, req Request, next func(context.Context, Request) (<-chan StreamEvent, error)) (<-chan StreamEvent, error) {
		if err := waitLimiter(ctx, limiter); err != nil {
			return nil, err
		}
		return next(ctx, req)
	}
}

func waitLimiter(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return &AbortError{SDKError: SDKError{Message: "rate limiter wait aborted", Cause: err}}
	}
	return nil
}
