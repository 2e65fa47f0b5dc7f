// Command autollama runs the plan, execute and review loop against a
// sandbox directory.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/martinemde/autollama/agentloop"
	"github.com/martinemde/autollama/config"
	"github.com/martinemde/autollama/logging"
	"github.com/martinemde/autollama/metrics"
	"github.com/martinemde/autollama/unifiedllm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var version = "dev"

// CLI defines the command-line interface.
type CLI struct {
	Objective       string           `arg:"" optional:"" help:"What the agent should build (overrides config)"`
	Config          string           `short:"c" help:"YAML config file path"`
	Sandbox         string           `short:"s" help:"Sandbox directory (wiped at start)"`
	Iterations      int              `short:"n" help:"Maximum plan/execute/review iterations"`
	Provider        string           `short:"p" help:"Provider: openai, fireworks, llama-stack, anthropic, ollama, gemini, or a gollm provider"`
	Model           string           `short:"m" help:"Model identifier"`
	BaseURL         string           `name:"base-url" help:"Provider base URL"`
	StopOnApproval  bool             `help:"Stop once the reviewer approves"`
	RequireToolCall bool             `help:"Force the executor to call a tool"`
	LogLevel        string           `help:"Log level (debug, info, warn, error)"`
	LogFormat       string           `help:"Log format (console, json)"`
	MetricsAddr     string           `help:"Serve Prometheus metrics on this address"`
	Version         kong.VersionFlag `help:"Show version information"`
}

func (c *CLI) overrides() config.Overrides {
	return config.Overrides{
		Objective:       c.Objective,
		SandboxDir:      c.Sandbox,
		MaxIterations:   c.Iterations,
		Provider:        c.Provider,
		Model:           c.Model,
		BaseURL:         c.BaseURL,
		StopOnApproval:  c.StopOnApproval,
		RequireToolCall: c.RequireToolCall,
		LogLevel:        c.LogLevel,
		LogFormat:       c.LogFormat,
		MetricsAddr:     c.MetricsAddr,
	}
}

func main() {
	_ = godotenv.Load()

	var cli CLI
	kong.Parse(&cli,
		kong.Name("autollama"),
		kong.Description("Plan, write, and review code in a sandbox directory."),
		kong.Vars{"version": version},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, &cli, os.Stdout))
}

func run(ctx context.Context, cli *CLI, out io.Writer) int {
	cfg, err := config.Load(cli.Config)
	if err == nil {
		err = cfg.Apply(cli.overrides())
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "autollama: %v\n", err)
		return 2
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "autollama: %v\n", err)
		return 2
	}
	defer func() { _ = logging.Sync(logger) }()

	objective := strings.TrimSpace(cfg.Objective)
	if objective == "" {
		logger.Error("an objective is required: pass it as an argument or set objective in the config")
		return 2
	}

	adapter, err := newAdapter(ctx, cfg)
	if err != nil {
		logger.Error("failed to create provider adapter", zap.String("provider", cfg.Provider.Name), zap.Error(err))
		return 2
	}

	reg := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(reg)
	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	client := newClient(cfg, adapter, recorder, logger)
	defer func() { _ = client.Close() }()

	console := newConsole(out)
	orch, err := agentloop.NewOrchestrator(client, cfg.AgentConfig(),
		agentloop.WithLogger(logger),
		agentloop.WithEventHandler(console.Handle),
		agentloop.WithEventHandler(recorder.HandleEvent),
		agentloop.WithActionObserver(recorder.ObserveToolAction),
	)
	if err != nil {
		logger.Error("failed to create orchestrator", zap.Error(err))
		return 2
	}

	logger.Info("starting run",
		zap.String("provider", cfg.Provider.Name),
		zap.String("model", cfg.Model),
		zap.String("sandbox", orch.Workspace().Root()),
		zap.Int("max_iterations", cfg.MaxIterations),
	)

	report, err := orch.Run(ctx, objective)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("run interrupted")
		}
		return 1
	}
	logger.Info("run finished",
		zap.String("run_id", report.RunID),
		zap.Int("iterations", len(report.Iterations)),
		zap.Bool("approved", report.Approved),
		zap.Duration("elapsed", report.Finished.Sub(report.Started)),
	)
	return 0
}

func newClient(cfg *config.Config, adapter unifiedllm.ProviderAdapter, recorder *metrics.Recorder, logger *zap.Logger) *unifiedllm.Client {
	llmLogger := logger.Named("llm")
	limiter := unifiedllm.NewRequestLimiter(cfg.RequestsPerMinute)

	policy := cfg.RetryPolicy()
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		llmLogger.Warn("retrying model call",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	return unifiedllm.NewClient(
		unifiedllm.WithProvider(cfg.Provider.Name, adapter),
		unifiedllm.WithDefaultProvider(cfg.Provider.Name),
		unifiedllm.WithRetryPolicy(policy),
		unifiedllm.WithMiddleware(
			unifiedllm.LoggingMiddleware(llmLogger),
			recorder.Middleware(),
			unifiedllm.RateLimitMiddleware(limiter),
		),
		unifiedllm.WithStreamMiddleware(
			unifiedllm.StreamLoggingMiddleware(llmLogger),
			recorder.StreamMiddleware(),
			unifiedllm.RateLimitStreamMiddleware(limiter),
		),
	)
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
	return srv
}
