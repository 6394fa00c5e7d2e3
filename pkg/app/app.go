// Package app assembles the question pipeline and its HTTP and MCP surfaces
// from a loaded configuration.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/ekaya-healthquery/pkg/adapters/datasource/all"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/audit"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/config"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/handlers"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/llm"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/logging"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/mcp"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/metrics"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/middleware"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/retry"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/safety"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/schema"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/services"
)

// Options override parts of the configured wiring.
type Options struct {
	// Store replaces the datasource opened from cfg.Store. App.Close still closes it.
	Store datasource.Datasource
	// Completer replaces the configured provider client. It is still wrapped
	// with the circuit breaker.
	Completer llm.Completer
	// Registry receives the pipeline metrics. A fresh registry is used when nil.
	Registry *prometheus.Registry
}

// App owns the store connection and every pipeline stage built on it.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Store     datasource.Datasource
	Completer *llm.GuardedCompleter
	Pipeline  *services.Pipeline

	registry *prometheus.Registry
}

// New opens the store, builds the completion client and assembles the pipeline.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	policy, err := safety.FromConfig(cfg.Safety)
	if err != nil {
		return nil, fmt.Errorf("failed to load safety policy: %w", err)
	}

	completer, err := newCompleter(cfg, opts.Completer, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}

	store := opts.Store
	if store == nil {
		store, err = datasource.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, datasource.Options{MaxOpenConns: cfg.Store.MaxOpenConns})
		if err != nil {
			logger.Error("Failed to open store",
				zap.String("driver", cfg.Store.Driver),
				zap.String("dsn", logging.SanitizeConnectionString(cfg.Store.DSN)),
				zap.String("error", logging.SanitizeError(err)))
			return nil, fmt.Errorf("failed to open %s store: %s", cfg.Store.Driver, logging.SanitizeError(err))
		}
	}

	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	auditor := audit.NewSecurityAuditor(logger)
	retryPolicy := retry.FromConfig(cfg.Retry)

	pipeline := services.NewPipeline(services.PipelineDeps{
		Schema: schema.NewDescriptor(store, logger),
		Generator: services.NewQueryGenerator(completer, retryPolicy, services.GenerationOptions{
			Temperature: cfg.LLM.GenerationTemperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		}, logger),
		Validator: safety.NewValidator(policy, auditor, logger),
		Executor:  services.NewQueryExecutor(store, services.ExecutorOptionsFromConfig(cfg.Store), auditor, logger),
		Insight: services.NewInsightGenerator(completer, safety.NewFilter(policy), retryPolicy, services.GenerationOptions{
			Temperature: cfg.LLM.InsightTemperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		}, auditor, logger),
		Metrics:     metrics.New(registry),
		PrivacyMode: cfg.Logging.PrivacyMode,
		Logger:      logger,
	})

	logger.Info("Pipeline assembled",
		zap.String("store", store.Type()),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", completer.GetModel()),
		zap.Int("row_cap", cfg.Store.RowCap),
		zap.Int("max_attempts", cfg.Retry.MaxAttempts))

	return &App{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Completer: completer,
		Pipeline:  pipeline,
		registry:  registry,
	}, nil
}

func newCompleter(cfg *config.Config, override llm.Completer, logger *zap.Logger) (*llm.GuardedCompleter, error) {
	if override == nil {
		return llm.NewCompleter(cfg.LLM, logger)
	}
	breaker := llm.NewCircuitBreaker(llm.CircuitBreakerConfig{
		Threshold:  cfg.LLM.CircuitThreshold,
		ResetAfter: cfg.LLM.CircuitResetAfter,
	})
	return llm.NewGuardedCompleter(override, breaker, logger), nil
}

// Handler returns the HTTP surface: health, the pipeline routes, the MCP
// endpoint and, when enabled, /metrics.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	handlers.NewHealthHandler(a.Config, a.Store, a.Completer.Breaker(), a.Logger).RegisterRoutes(mux)
	handlers.NewQueryHandler(a.Pipeline, a.Logger).RegisterRoutes(mux)
	handlers.NewEvaluateHandler(a.Pipeline, a.Logger).RegisterRoutes(mux)

	mcpServer := a.MCPServer()
	mux.Handle("/mcp", mcpServer.NewStreamableHTTPServer())

	if a.Config.Metrics.Enabled {
		mux.Handle("GET /metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	}

	var h http.Handler = mux
	h = middleware.RequestLogger(a.Logger)(h)
	h = middleware.Recoverer(a.Logger)(h)
	return h
}

// MCPServer builds the tool server over the pipeline.
func (a *App) MCPServer() *mcp.Server {
	s := mcp.NewServer(handlers.ServiceName, a.Config.Version, mcp.NewToolAuditor(a.Logger, a.Config.Logging.PrivacyMode), a.Logger)
	tools.RegisterHealthTool(s.MCP(), a.Config.Version, a.Completer.Breaker())
	tools.RegisterPipelineTools(s.MCP(), &tools.PipelineToolDeps{
		Pipeline: a.Pipeline,
		Logger:   a.Logger,
	})
	return s
}

// Close releases the store connection.
func (a *App) Close() error {
	return a.Store.Close()
}
