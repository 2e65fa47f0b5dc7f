// Package metrics records Prometheus metrics for model calls and tool
// actions.
package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/martinemde/autollama/agentloop"
	"github.com/martinemde/autollama/unifiedllm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the autollama collectors.
type Recorder struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	tokensTotal     *prometheus.CounterVec
	toolActions     *prometheus.CounterVec
	loopEvents      *prometheus.CounterVec
}

// NewRecorder registers the collectors with reg. A nil reg uses the
// default registerer.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autollama_model_requests_total",
				Help: "Total number of model calls by provider, operation, and status",
			},
			[]string{"provider", "operation", "status", "error_type"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "autollama_model_request_duration_seconds",
				Help:    "Duration of model calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "operation"},
		),
		tokensTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autollama_model_tokens_total",
				Help: "Total number of tokens reported by providers",
			},
			[]string{"provider", "operation", "type"},
		),
		toolActions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autollama_tool_actions_total",
				Help: "Total number of file actions by operation and status",
			},
			[]string{"op", "status"},
		),
		loopEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autollama_loop_events_total",
				Help: "Total number of loop events by kind",
			},
			[]string{"kind"},
		),
	}
}

// ObserveRequest records a completed model call.
func (r *Recorder) ObserveRequest(provider, operation string, usage unifiedllm.Usage, err error, duration time.Duration) {
	status, errType := "success", ""
	if err != nil {
		status, errType = "error", errorType(err)
	}
	r.requestsTotal.WithLabelValues(provider, operation, status, errType).Inc()
	r.requestDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())

	if err == nil {
		r.tokensTotal.WithLabelValues(provider, operation, "input").Add(float64(usage.InputTokens))
		r.tokensTotal.WithLabelValues(provider, operation, "output").Add(float64(usage.OutputTokens))
	}
}

// ObserveToolAction counts one dispatcher result. It fits
// agentloop.WithActionObserver.
func (r *Recorder) ObserveToolAction(res agentloop.ActionResult) {
	r.toolActions.WithLabelValues(string(res.Op), string(res.Status)).Inc()
}

// HandleEvent counts loop events. It fits agentloop.WithEventHandler.
func (r *Recorder) HandleEvent(ev agentloop.Event) {
	switch ev.Kind {
	case agentloop.EventReviewDelta, agentloop.EventSnapshot:
		return
	}
	r.loopEvents.WithLabelValues(string(ev.Kind)).Inc()
}

// Middleware records every non-streaming call.
func (r *Recorder) Middleware() unifiedllm.Middleware {
	return func(ctx context.Context, req unifiedllm.Request, next func(context.Context, unifiedllm.Request) (*unifiedllm.Response, error)) (*unifiedllm.Response, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		var usage unifiedllm.Usage
		if resp != nil {
			usage = resp.Usage
		}
		r.ObserveRequest(req.Provider, req.Operation(), usage, err, time.Since(start))
		return resp, err
	}
}

// StreamMiddleware records stream opens. Token usage is not available
// until the stream finishes, so only status and open latency are kept.
func (r *Recorder) StreamMiddleware() unifiedllm.StreamMiddleware {
	return func(ctx context.Context, req unifiedllm.Request, next func(context.Context, unifiedllm.Request) (<-chan unifiedllm.StreamEvent, error)) (<-chan unifiedllm.StreamEvent, error) {
		start := time.Now()
		ch, err := next(ctx, req)
		status, errType := "success", ""
		if err != nil {
			status, errType = "error", errorType(err)
		}
		r.requestsTotal.WithLabelValues(req.Provider, req.Operation(), status, errType).Inc()
		r.requestDuration.WithLabelValues(req.Provider, req.Operation()).Observe(time.Since(start).Seconds())
		return ch, err
	}
}

// errorType maps an error onto a short label such as "RateLimitError".
func errorType(err error) string {
	name := fmt.Sprintf("%T", unwrapClassified(err))
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func unwrapClassified(err error) error {
	for err != nil {
		switch err.(type) {
		case *unifiedllm.AuthenticationError, *unifiedllm.AccessDeniedError, *unifiedllm.NotFoundError,
			*unifiedllm.InvalidRequestError, *unifiedllm.RateLimitError, *unifiedllm.ServerError,
			*unifiedllm.ContentFilterError, *unifiedllm.ContextLengthError, *unifiedllm.NetworkError,
			*unifiedllm.RequestTimeoutError, *unifiedllm.AbortError, *unifiedllm.StreamFailedError,
			*unifiedllm.ConfigurationError, *unifiedllm.NoObjectGeneratedError, *unifiedllm.ProviderError:
			return err
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		next := u.Unwrap()
		if next == nil {
			return err
		}
		err = next
	}
	return err
}
