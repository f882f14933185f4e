package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/osvaldoandrade/formq/internal/documents"
	"github.com/osvaldoandrade/formq/internal/forms"
	"github.com/osvaldoandrade/formq/internal/jobs"
	"github.com/osvaldoandrade/formq/internal/llm"
	"github.com/osvaldoandrade/formq/internal/metrics"
	"github.com/osvaldoandrade/formq/internal/middleware"
	"github.com/osvaldoandrade/formq/internal/providers"
	"github.com/osvaldoandrade/formq/internal/ratelimit"
	"github.com/osvaldoandrade/formq/internal/resolver"
	"github.com/osvaldoandrade/formq/internal/services"
	"github.com/osvaldoandrade/formq/internal/solver"
	"github.com/osvaldoandrade/formq/internal/tracing"
	"github.com/osvaldoandrade/formq/pkg/auth"
	_ "github.com/osvaldoandrade/formq/pkg/auth/jwks"
	_ "github.com/osvaldoandrade/formq/pkg/auth/static"
	"github.com/osvaldoandrade/formq/pkg/config"
	"github.com/osvaldoandrade/formq/pkg/persistence"
	_ "github.com/osvaldoandrade/formq/pkg/persistence/memory"
	_ "github.com/osvaldoandrade/formq/pkg/persistence/redis"
	_ "github.com/osvaldoandrade/formq/pkg/persistence/sqlite"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

const (
	devToken   = "dev-token"
	devSubject = "dev"
)

type Application struct {
	Config      *config.Config
	Engine      *gin.Engine
	Tests       services.TestsService
	Documents   services.DocumentsService
	Batch       services.BatchService
	Jobs        *jobs.Store
	Storage     persistence.PluginPersistence
	Logger      *slog.Logger
	TZ          *time.Location
	Validator   auth.Validator
	RateLimiter ratelimit.Limiter
	Redis       *redis.Client

	// TracingShutdown flushes the span exporter; always non-nil.
	TracingShutdown func(context.Context) error

	parser    forms.Parser
	sink      forms.Sink
	llmClient llm.Client
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithValidator sets a custom bearer token validator
func WithValidator(validator auth.Validator) ApplicationOption {
	return func(app *Application) error {
		app.Validator = validator
		return nil
	}
}

// WithStorage replaces the configured persistence plugin
func WithStorage(storage persistence.PluginPersistence) ApplicationOption {
	return func(app *Application) error {
		app.Storage = storage
		return nil
	}
}

func WithFormParser(parser forms.Parser) ApplicationOption {
	return func(app *Application) error {
		app.parser = parser
		return nil
	}
}

func WithFormSink(sink forms.Sink) ApplicationOption {
	return func(app *Application) error {
		app.sink = sink
		return nil
	}
}

func WithLLMClient(client llm.Client) ApplicationOption {
	return func(app *Application) error {
		app.llmClient = client
		return nil
	}
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	app := &Application{Config: cfg}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.FixedZone("UTC", 0)
	}
	app.TZ = loc
	app.Logger = newLogger(cfg)
	logger := app.Logger

	shutdown, err := tracing.Setup(context.Background(), tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	app.TracingShutdown = shutdown

	app.Redis = providers.NewRedisProvider(cfg.RedisAddr, cfg.RedisPassword)
	if err := providers.Ping(context.Background(), app.Redis, 2*time.Second); err != nil {
		logger.Warn("redis unreachable; rate limits fail open", "addr", cfg.RedisAddr, "err", err)
	}
	app.RateLimiter = ratelimit.NewTokenBucketLimiter(app.Redis, cfg.RateLimit.KeyPrefix)

	if app.Storage == nil {
		providerCfg, err := cfg.PersistenceProviderConfig()
		if err != nil {
			return nil, err
		}
		storage, err := persistence.NewPersistence(providerCfg, persistence.PluginConfig{Timezone: loc})
		if err != nil {
			return nil, fmt.Errorf("persistence: %w", err)
		}
		app.Storage = storage
	}

	if app.Validator == nil {
		validator, err := newValidator(cfg, logger)
		if err != nil {
			return nil, err
		}
		app.Validator = validator
	}

	if app.llmClient == nil {
		client, err := llm.New(llm.Config{
			Provider: cfg.LLM.Provider,
			APIKey:   cfg.LLM.APIKey,
			Model:    cfg.LLM.Model,
			BaseURL:  cfg.LLM.BaseURL,
			Timeout:  cfg.LLMTimeout(),
		}, logger)
		if err != nil {
			return nil, err
		}
		app.llmClient = client
	}
	docs := app.Storage.DocumentStorage()
	validator, err := solver.NewAnswerValidator()
	if err != nil {
		return nil, err
	}
	slv := solver.New(app.llmClient, validator, solver.Config{
		MaxRetries:  cfg.LLM.MaxRetries,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLMTimeout(),
		Backoff:     cfg.SolverBackoff(),
		Context:     documents.NewRetriever(docs, cfg.Documents.ContextChunks),
	}, logger)

	if app.parser == nil {
		app.parser = forms.NewGoogleFormParser(time.Duration(cfg.FormFetchTimeoutSeconds)*time.Second, logger)
	}
	if app.sink == nil {
		app.sink = forms.NewHTTPSink(time.Duration(cfg.FormSubmitTimeoutSeconds)*time.Second, logger)
	}
	fill := resolver.NewRandomFill(rand.New(rand.NewSource(time.Now().UnixNano())), nil, cfg.RandomFillEmail)

	app.Jobs = jobs.NewStore(nil)
	metrics.RegisterJobsCollector(app.Jobs)

	tests := app.Storage.TestStorage()
	runs := app.Storage.RunStorage()
	executor := services.NewRunExecutorService(tests, runs, resolver.New(fill), slv, app.sink, logger, nil)
	callback := services.NewJobCallbackService(
		logger,
		cfg.WebhookHmacSecret,
		cfg.JobWebhookMaxAttempts,
		time.Duration(cfg.JobWebhookBaseBackoffSeconds)*time.Second,
		time.Duration(cfg.JobWebhookMaxBackoffSeconds)*time.Second,
		app.RateLimiter,
		cfg.RateLimit.Webhook,
	)
	app.Tests = services.NewTestsService(tests, runs, app.parser, logger, nil)
	app.Documents = services.NewDocumentsService(tests, docs, services.DocumentsConfig{
		ChunkSize:    cfg.Documents.ChunkSize,
		ChunkOverlap: cfg.Documents.ChunkOverlap,
		MaxSize:      cfg.Documents.MaxUploadBytes,
	}, logger, nil)
	app.Batch = services.NewBatchService(app.Jobs, tests, executor, callback, services.BatchConfig{
		MaxParallelRuns:  cfg.MaxParallelRuns,
		MaxBatchQuantity: cfg.MaxBatchQuantity,
	}, logger, nil)

	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		middleware.LoggerMiddleware(logger),
		middleware.TracingMiddleware(cfg.Tracing.ServiceName),
	)
	app.Engine = engine

	return app, nil
}

// Close waits for running batches and releases storage and redis.
func (app *Application) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		app.Batch.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		app.Logger.Warn("shutdown timed out with batches still running")
	}
	if app.Redis != nil {
		_ = app.Redis.Close()
	}
	_ = app.TracingShutdown(ctx)
	return app.Storage.Close()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler).With("service", "formq", "env", cfg.Env)
	slog.SetDefault(logger)
	return logger
}

func newValidator(cfg *config.Config, logger *slog.Logger) (auth.Validator, error) {
	if cfg.AuthProvider == "" {
		if !cfg.IsDev() {
			return nil, fmt.Errorf("authProvider is required outside dev")
		}
		logger.Warn("no auth provider configured; accepting the dev token", "subject", devSubject)
		return auth.NewValidator(auth.ProviderConfig{
			Type:   "static",
			Config: []byte(fmt.Sprintf(`{"token":%q,"subject":%q}`, devToken, devSubject)),
		})
	}
	providerCfg, err := cfg.AuthProviderConfig()
	if err != nil {
		return nil, err
	}
	return auth.NewValidator(providerCfg)
}
