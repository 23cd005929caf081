package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/PipeOpsHQ/rube/agent"
	"github.com/PipeOpsHQ/rube/api"
	authsqlite "github.com/PipeOpsHQ/rube/auth/sqlite"
	"github.com/PipeOpsHQ/rube/chat"
	"github.com/PipeOpsHQ/rube/connections"
	"github.com/PipeOpsHQ/rube/internal/config"
	"github.com/PipeOpsHQ/rube/observe"
	"github.com/PipeOpsHQ/rube/observe/metrics"
	otelsink "github.com/PipeOpsHQ/rube/observe/otel"
	"github.com/PipeOpsHQ/rube/platform"
	providerfactory "github.com/PipeOpsHQ/rube/providers/factory"
	"github.com/PipeOpsHQ/rube/state"
	statefactory "github.com/PipeOpsHQ/rube/state/factory"
	"github.com/PipeOpsHQ/rube/toolsession"
)

const eventBuffer = 256

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts.cfg, opts.logger)
		},
	}
}

func runServe(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	tp := sdktrace.NewTracerProvider()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	store, err := statefactory.Open(ctx, statefactory.Config{
		Backend:       cfg.Store.Backend,
		SQLitePath:    cfg.Store.SQLitePath,
		RedisAddr:     cfg.Store.RedisAddr,
		RedisPassword: cfg.Store.RedisPassword,
		RedisDB:       cfg.Store.RedisDB,
		RedisTTL:      cfg.Store.RedisTTL,
	}, logger.Named("state"))
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer closeStore(store, logger)

	keys, err := authsqlite.New(cfg.Store.AuthPath)
	if err != nil {
		return fmt.Errorf("open api key store: %w", err)
	}
	defer func() { _ = keys.Close() }()

	client := newPlatformClient(cfg, logger, m, tp)
	if !client.Configured() {
		logger.Warn("COMPOSIO_API_KEY is not set; platform calls will fail")
	}
	authConfigs := connections.NewAuthConfigs(client, logger.Named("authconfigs"))
	registry := connections.NewRegistry(client,
		connections.WithDetailConcurrency(cfg.Connections.DetailConcurrency),
		connections.WithRegistryLogger(logger.Named("registry")),
	)
	signals := connections.NewSignals()
	controller := connections.NewController(client, authConfigs, registry,
		connections.WithSignals(signals),
		connections.WithRequireIdentity(cfg.Connections.RequireIdentity),
		connections.WithWaitDefaults(connections.WaitOptions{
			MaxAttempts: cfg.Connections.WaitMaxAttempts,
			Interval:    cfg.Connections.WaitInterval,
		}),
		connections.WithControllerLogger(logger.Named("connections")),
	)

	sessions := toolsession.NewManager(client, registry,
		toolsession.WithCache(toolsession.NewCache(cfg.Sessions.TTL, cfg.Sessions.Capacity)),
		toolsession.WithLogger(logger.Named("toolsession")),
		toolsession.WithMetrics(m),
	)
	defer sessions.Close()
	registry.OnDelete(sessions.OnConnectionDeleted)

	events := observe.NewAsyncSink(observe.NewMultiSink(
		m,
		otelsink.NewSink(tp),
		observe.NewLogSink(logger.Named("events")),
	), eventBuffer)
	defer events.Close()

	orchestrator, err := buildChat(ctx, cfg, logger, store, sessions, events)
	if err != nil {
		return err
	}

	srv := api.NewServer(api.Config{
		Addr:          cfg.ListenAddr,
		AppURL:        cfg.AppURL,
		Auth:          keys,
		Store:         store,
		Toolkits:      client,
		AuthConfigs:   authConfigs,
		Registry:      registry,
		Controller:    controller,
		Signals:       signals,
		Chat:          orchestrator,
		WebhookSecret: cfg.Composio.WebhookSecret,
		Debug: api.NewDebugInfo(
			cfg.Composio.APIKey, cfg.LLM.OpenAIKey, cfg.LLM.OpenAIBaseURL, cfg.LLM.GeminiKey,
			cfg.Composio.WebhookSecret, cfg.LLM.Provider, cfg.LLM.Model, cfg.Store.Backend, cfg.AppURL,
		),
		Metrics:        m,
		Gatherer:       reg,
		TracerProvider: tp,
		Logger:         logger,
	})
	err = srv.ListenAndServe(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// buildChat returns a nil orchestrator when credentials are missing; the
// chat route then answers with a configuration error.
func buildChat(ctx context.Context, cfg config.Config, logger *zap.Logger, store state.Store, sessions *toolsession.Manager, events observe.Sink) (*chat.Orchestrator, error) {
	if !cfg.ChatConfigured() {
		logger.Warn("chat disabled: platform or model credentials are missing", zap.String("provider", cfg.LLM.Provider))
		return nil, nil
	}
	provider, err := providerfactory.New(ctx, providerfactory.Config{
		Provider:      cfg.LLM.Provider,
		Model:         cfg.LLM.Model,
		OpenAIKey:     cfg.LLM.OpenAIKey,
		OpenAIBaseURL: cfg.LLM.OpenAIBaseURL,
		GeminiKey:     cfg.LLM.GeminiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("build model provider: %w", err)
	}
	system, err := systemPrompt(cfg.Prompts, logger)
	if err != nil {
		return nil, err
	}
	runner, err := agent.New(provider,
		agent.WithSystemPrompt(system),
		agent.WithMaxSteps(cfg.LLM.MaxSteps),
		agent.WithRetryPolicy(agent.RetryPolicy{MaxAttempts: cfg.LLM.GenerateAttempts}),
		agent.WithParallelToolCalls(cfg.LLM.ParallelToolCalls),
		agent.WithObserver(events),
		agent.WithLogger(logger.Named("agent")),
	)
	if err != nil {
		return nil, fmt.Errorf("build agent: %w", err)
	}
	logger.Info("chat enabled", zap.String("provider", runner.Provider()), zap.String("model", cfg.LLM.Model))
	return chat.New(store, sessions, runner, chat.WithLogger(logger.Named("chat")))
}

func newPlatformClient(cfg config.Config, logger *zap.Logger, m *metrics.Metrics, tp *sdktrace.TracerProvider) *platform.Client {
	opts := []platform.Option{
		platform.WithBaseURL(cfg.Composio.BaseURL),
		platform.WithLogger(logger.Named("platform")),
	}
	if m != nil {
		opts = append(opts, platform.WithMetrics(m))
	}
	if tp != nil {
		opts = append(opts, platform.WithHTTPClient(&http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport, otelhttp.WithTracerProvider(tp)),
		}))
	}
	return platform.New(cfg.Composio.APIKey, opts...)
}

func closeStore(store state.Store, logger *zap.Logger) {
	if err := store.Close(); err != nil {
		logger.Warn("state store close failed", zap.Error(err))
	}
}
