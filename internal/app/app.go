// Package app builds the object graph shared by the daemon and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/DracoR22/InvoiceIQ/internal/async"
	"github.com/DracoR22/InvoiceIQ/internal/common"
	"github.com/DracoR22/InvoiceIQ/internal/export"
	"github.com/DracoR22/InvoiceIQ/internal/ingest"
	"github.com/DracoR22/InvoiceIQ/internal/llm"
	"github.com/DracoR22/InvoiceIQ/internal/llm/anthropic"
	"github.com/DracoR22/InvoiceIQ/internal/llm/google"
	"github.com/DracoR22/InvoiceIQ/internal/llm/openai"
	"github.com/DracoR22/InvoiceIQ/internal/pdf"
	"github.com/DracoR22/InvoiceIQ/internal/pipeline"
	"github.com/DracoR22/InvoiceIQ/internal/repository"
	"github.com/DracoR22/InvoiceIQ/internal/server"
	"github.com/DracoR22/InvoiceIQ/internal/structured"
)

// NewLogger returns a text or JSON slog logger at the named level. Unknown
// levels fall back to info.
func NewLogger(w io.Writer, level string, asJSON bool) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if asJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Credentials returns the server-side API keys from cfg.
func Credentials(cfg common.LLMConfig) server.Credentials {
	return server.Credentials{
		llm.ProviderOpenAI:    cfg.OpenAIAPIKey,
		llm.ProviderAnthropic: cfg.AnthropicAPIKey,
		llm.ProviderGoogle:    cfg.GoogleAPIKey,
	}
}

// NewGateway wires the three provider backends and the response cache. With
// a redis URL the cache is shared across processes; the returned closer
// releases it.
func NewGateway(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*llm.Gateway, func() error, error) {
	opts := []llm.Option{
		llm.WithLogger(logger),
		llm.WithMaxConcurrency(cfg.LLM.MaxConcurrency),
		llm.WithMaxRetries(cfg.LLM.MaxRetries),
		llm.WithRetryBase(cfg.LLM.RetryBase),
		llm.WithCallTimeout(cfg.LLM.CallTimeout),
	}
	closer := func() error { return nil }
	if cfg.Redis.URL != "" {
		rc, err := llm.NewRedisCache(cfg.Redis.URL, cfg.LLM.CacheTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("redis cache: %w", err)
		}
		if err := rc.Ping(ctx); err != nil {
			_ = rc.Close()
			return nil, nil, fmt.Errorf("redis cache ping: %w", err)
		}
		logger.Info("llm.cache.redis")
		opts = append(opts, llm.WithCache(rc))
		closer = rc.Close
	} else {
		opts = append(opts, llm.WithCache(llm.NewMemoryCache(cfg.LLM.CacheTTL, 1024)))
	}

	gw := llm.NewGateway(map[llm.Provider]llm.BackendFactory{
		llm.ProviderOpenAI:    openai.NewFactory(openai.Config{Timeout: cfg.LLM.CallTimeout}, logger),
		llm.ProviderAnthropic: anthropic.NewFactory(anthropic.Config{Timeout: cfg.LLM.CallTimeout}),
		llm.ProviderGoogle:    google.NewFactory(),
	}, opts...)
	return gw, closer, nil
}

// App is every long-lived component, built once from a Config.
type App struct {
	Config       *common.Config
	Logger       *slog.Logger
	DB           *repository.DB
	Repo         repository.ExtractionRepository
	Gateway      *llm.Gateway
	Structured   *structured.Service
	Parser       *pdf.Parser
	Loader       *pdf.Loader
	Ingestor     *ingest.Ingestor
	Processor    *pipeline.Processor
	Exporter     *export.Service
	Creds        server.Credentials
	DefaultModel llm.ModelName

	closers []func() error
}

// New opens the database (migrating it when configured to) and builds the
// services on top of it.
func New(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	model, err := llm.ParseModelName(cfg.LLM.DefaultModel)
	if err != nil {
		return nil, common.NewAppError("CONFIG_ERROR", err.Error(), common.ErrInvalidInput)
	}

	a := &App{Config: cfg, Logger: logger, DefaultModel: model, Creds: Credentials(cfg.LLM)}

	a.DB, err = repository.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, common.WrapError(err, "open database")
	}
	a.closers = append(a.closers, a.DB.Close)
	if cfg.Database.AutoMigrate {
		if err := repository.Migrate(ctx, a.DB); err != nil {
			_ = a.Close()
			return nil, common.WrapError(err, "migrate")
		}
	}
	a.Repo = repository.NewExtractionRepository(a.DB, logger)

	gw, closeCache, err := NewGateway(ctx, cfg, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.closers = append(a.closers, closeCache)
	a.Gateway = gw

	a.Structured, err = structured.NewService(gw,
		structured.WithLogger(logger),
		structured.WithRequestTimeout(cfg.LLM.RequestTimeout),
	)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.Parser = pdf.NewParser(cfg.PDF, logger)
	a.Loader = pdf.NewLoader(cfg.PDF, logger)
	a.Ingestor = ingest.NewIngestor(a.Parser, a.Repo, logger)
	a.Exporter = export.NewService(a.Repo, logger)

	serverModel := llm.ModelRef{Name: model, APIKey: a.Creds[model.Provider()]}
	if strings.TrimSpace(serverModel.APIKey) == "" {
		logger.Warn("app.default_model.no_key", "model", model, "provider", model.Provider())
	}
	a.Processor = pipeline.NewProcessor(logger, a.Repo, a.Structured, serverModel)
	return a, nil
}

// NewQueue starts the background queue named by Config.Queue.Backend.
func (a *App) NewQueue(ctx context.Context) (async.Queue, error) {
	qc := a.Config.Queue
	opts := []async.Option{
		async.WithWorkers(qc.Workers),
		async.WithQueueSize(qc.Size),
		async.WithProcessTimeout(qc.ProcessTimeout),
	}
	switch qc.Backend {
	case "redis":
		q, err := async.NewRedisQueue(a.Config.Redis.URL, a.Processor, a.Logger, opts...)
		if err != nil {
			return nil, err
		}
		if err := q.Ping(ctx); err != nil {
			q.Shutdown(ctx)
			return nil, fmt.Errorf("redis queue ping: %w", err)
		}
		return q, nil
	case "memory", "":
		return async.NewProcessorQueue(a.Processor, a.Logger, opts...), nil
	default:
		return nil, common.NewAppError("CONFIG_ERROR", fmt.Sprintf("QUEUE_BACKEND %q is not supported", qc.Backend), common.ErrInvalidInput)
	}
}

// ExtractionServer returns the extraction service backed by this App.
func (a *App) ExtractionServer(queue async.Queue) *server.ExtractionServer {
	return &server.ExtractionServer{
		Repo:         a.Repo,
		Ingestor:     a.Ingestor,
		Processor:    a.Processor,
		Queue:        queue,
		Exporter:     a.Exporter,
		Creds:        a.Creds,
		DefaultModel: a.DefaultModel,
		Logger:       a.Logger,
	}
}

// Close releases everything New opened, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
