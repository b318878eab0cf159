package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/hybrid-search/internal/config"
	"github.com/kirillkom/hybrid-search/internal/core/domain"
	"github.com/kirillkom/hybrid-search/internal/core/ports"
	"github.com/kirillkom/hybrid-search/internal/core/usecase"
	"github.com/kirillkom/hybrid-search/internal/infrastructure/embcache"
	"github.com/kirillkom/hybrid-search/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/hybrid-search/internal/infrastructure/llm/openai"
	"github.com/kirillkom/hybrid-search/internal/infrastructure/queue/nats"
	"github.com/kirillkom/hybrid-search/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/hybrid-search/internal/infrastructure/rerank/crossencoder"
	"github.com/kirillkom/hybrid-search/internal/infrastructure/resilience"
	"github.com/kirillkom/hybrid-search/internal/infrastructure/usage"
	"github.com/kirillkom/hybrid-search/internal/observability/metrics"
)

const usageDrainTimeout = 5 * time.Second

// App is the search side: everything the API and the CLI need.
type App struct {
	Config  config.Config
	Search  ports.SearchService
	Metrics *metrics.HTTPServerMetrics
	DB      *sql.DB

	closers []func()
}

type Options struct {
	// DisableUsage skips the NATS publisher, e.g. for one-off CLI runs.
	DisableUsage bool
	Logger       *slog.Logger
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{
		Config:  cfg,
		Metrics: metrics.NewHTTPServerMetrics("hybrid-search-api"),
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	app.DB = db
	app.closers = append(app.closers, func() { _ = db.Close() })

	policy := resiliencePolicy(cfg)
	executor := resilience.NewExecutor(policy,
		resilience.WithLogger(logger),
		resilience.WithStateListener(app.Metrics.BreakerStateChanged),
	)

	embedder, generator, embedModel := newModelClients(cfg, executor)
	var shared embcache.Store
	if len(cfg.RedisAddrs) > 0 {
		store, err := embcache.NewRedisStore(embcache.RedisConfig{Addrs: cfg.RedisAddrs})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init embedding cache: %w", err)
		}
		if err := store.Ping(ctx); err != nil {
			logger.Warn("embedding_cache_redis_unreachable", "error", err)
		}
		shared = store
		app.closers = append(app.closers, store.Close)
	}
	cachedEmbedder := embcache.New(embedder, shared, embcache.Config{
		Size:  cfg.EmbeddingCacheSize,
		TTL:   cfg.EmbeddingCacheTTL,
		Model: embedModel,
	}, app.Metrics.EmbeddingCacheCounter(), logger)

	var recorder ports.UsageRecorder
	if !opts.DisableUsage && cfg.NATSURL != "" {
		queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSUsageSubject, nats.Options{
			Name:               "hybrid-search-api",
			ResilienceExecutor: executor,
			Logger:             logger,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init usage queue: %w", err)
		}
		dispatcher, err := usage.NewDispatcher(queue, usage.Config{Workers: cfg.UsageWorkers},
			usage.NewLogObserver(logger, app.Metrics.UsageFailureCounter()))
		if err != nil {
			queue.Close()
			app.Close()
			return nil, fmt.Errorf("init usage dispatcher: %w", err)
		}
		// Dispatcher drains before the connection closes.
		app.closers = append(app.closers, queue.Close, func() {
			if err := dispatcher.Close(usageDrainTimeout); err != nil {
				logger.Warn("usage_dispatcher_close_timeout", "error", err)
			}
		})
		recorder = dispatcher
	}

	corpus := postgres.NewCorpusRepository(db)
	tuning := cfg.Tuning

	components := usecase.SearchComponents{
		QueryExpander: usecase.NewQueryExpander(generator, recorder, usecase.HyDEConfig{
			Timeout:   tuning.HyDETimeout,
			MaxTokens: tuning.HyDEMaxTokens,
			MaxLength: tuning.HyDEMaxLength,
		}, logger),
		ContextExpander: usecase.NewContextExpander(corpus, tuning.ContextPreviewLength, logger),
		Usage:           recorder,
		Observer:        app.Metrics,
		Logger:          logger,
	}
	if cfg.RerankURL != "" {
		// Retries must fit inside the rerank deadline.
		rerankExecutor := resilience.NewExecutor(policy.WithinBudget(tuning.RerankTimeout),
			resilience.WithLogger(logger),
			resilience.WithStateListener(app.Metrics.BreakerStateChanged),
		)
		encoder := crossencoder.New(crossencoder.Config{
			URL:      cfg.RerankURL,
			Model:    cfg.RerankModel,
			APIKey:   cfg.RerankAPIKey,
			Executor: rerankExecutor,
		})
		components.Reranker = usecase.NewReranker(encoder, recorder, usecase.RerankConfig{
			Timeout:      tuning.RerankTimeout,
			MaxDocLength: tuning.RerankMaxDocLength,
			Weights:      blendWeights(tuning.RerankWeights),
			Model:        cfg.RerankModel,
		}, logger)
	} else {
		logger.Info("rerank_disabled", "reason", "RERANK_URL is empty")
	}

	app.Search = usecase.NewSearchUseCase(
		cachedEmbedder,
		usecase.NewMultiSignalRetriever(corpus, app.Metrics, logger),
		components,
		usecase.SearchConfig{
			DefaultLimit: tuning.DefaultLimit,
			MaxLimit:     tuning.MaxLimit,
			RRFK:         tuning.RRFK,
			RRFWeights:   tuning.RRFWeights,
		},
	)
	return app, nil
}

// Ready pings the database.
func (a *App) Ready(ctx context.Context) error {
	if a.DB == nil {
		return errors.New("database not initialised")
	}
	return a.DB.PingContext(ctx)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Worker is the usage consumer side.
type Worker struct {
	Config   config.Config
	Queue    ports.UsageQueue
	Ingestor ports.UsageIngestor
	Metrics  *metrics.WorkerMetrics

	closeFn func()
}

func NewWorker(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Worker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	workerMetrics := metrics.NewWorkerMetrics("hybrid-search-worker")

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewUsageRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure usage schema: %w", err)
	}

	executor := resilience.NewExecutor(resiliencePolicy(cfg),
		resilience.WithLogger(logger),
		resilience.WithStateListener(workerMetrics.BreakerStateChanged),
	)
	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSUsageSubject, nats.Options{
		Name:               "hybrid-search-worker",
		ResilienceExecutor: executor,
		Logger:             logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init usage queue: %w", err)
	}

	return &Worker{
		Config:   cfg,
		Queue:    queue,
		Ingestor: usecase.NewUsageIngestUseCase(repo, logger),
		Metrics:  workerMetrics,
		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

// Handle persists one event and records worker metrics around it.
func (w *Worker) Handle(ctx context.Context, event domain.UsageEvent) error {
	start := time.Now()
	if !event.OccurredAt.IsZero() {
		w.Metrics.ObserveEventLag(start.Sub(event.OccurredAt))
	}
	w.Metrics.StartEvent()
	err := w.Ingestor.Ingest(ctx, event)
	w.Metrics.FinishEvent(string(event.RequestType), event.InputTokens, event.OutputTokens, time.Since(start), err)
	return err
}

func (w *Worker) Close() {
	if w.closeFn != nil {
		w.closeFn()
	}
}

func resiliencePolicy(cfg config.Config) resilience.Config {
	policy := resilience.DefaultConfig()
	policy.RetryMaxAttempts = cfg.ResilienceRetries
	policy.BreakerOpenTimeout = cfg.ResilienceOpenAfter
	return policy
}

func newModelClients(cfg config.Config, executor *resilience.Executor) (ports.Embedder, ports.TextGenerator, string) {
	if cfg.LLMProvider == "openai" {
		client := openai.New(openai.Config{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			GenModel:   cfg.OpenAIGenModel,
			EmbedModel: cfg.OpenAIEmbedModel,
			Executor:   executor,
		})
		return openai.NewEmbedder(client), openai.NewGenerator(client), cfg.OpenAIEmbedModel
	}
	client := ollama.NewWithOptions(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{
		ResilienceExecutor: executor,
	})
	return ollama.NewEmbedder(client), ollama.NewGenerator(client), cfg.OllamaEmbedModel
}

func blendWeights(w []float64) usecase.BlendWeights {
	if len(w) != 3 {
		return usecase.DefaultBlendWeights()
	}
	return usecase.BlendWeights{Semantic: w[0], Vector: w[1], Position: w[2]}
}
