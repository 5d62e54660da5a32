package di

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"retrieval-service/internal/adapter/llm"
	"retrieval-service/internal/adapter/metadata"
	rerankerclient "retrieval-service/internal/adapter/reranker"
	"retrieval-service/internal/adapter/vectorstore"
	"retrieval-service/internal/domain"
	"retrieval-service/internal/infra"
	"retrieval-service/internal/infra/config"
	"retrieval-service/internal/infra/httpclient"
	"retrieval-service/internal/usecase"
	"retrieval-service/internal/usecase/retrieval"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Container wires the adapters and usecases from configuration.
type Container struct {
	Config *config.Config
	Pool   *pgxpool.Pool

	Encoder  domain.VectorEncoder
	Cache    domain.SemanticCache
	Metadata domain.MetadataStore
	Reranker domain.Reranker

	Orchestrator    *retrieval.Orchestrator
	RetrieveUsecase usecase.RetrieveContextsUsecase

	Logger *slog.Logger
}

// New builds the full dependency graph. The pool is owned by the
// container; callers must Close it on shutdown.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	pool, err := infra.NewPostgresDB(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}

	ollamaTimeout := time.Duration(cfg.OllamaTimeout) * time.Second
	encoder := llm.NewOllamaEmbedder(cfg.OllamaURL, cfg.EmbeddingModel, ollamaTimeout,
		httpclient.NewPooledClient(ollamaTimeout))

	generator := buildGenerator(cfg, logger)
	techniques := retrieval.Techniques{
		Reformulate: technique(generator, cfg.Reformulate),
		Rewrite:     technique(generator, cfg.Rewrite),
		Hyde:        technique(generator, cfg.Hyde),
		Decompose:   technique(generator, cfg.Decompose),
	}

	rerankerTimeout := time.Duration(cfg.RerankerTimeout) * time.Second
	reranker := rerankerclient.NewClient(cfg.RerankerURL, cfg.RerankerModel,
		rerankerTimeout, logger, httpclient.NewPooledClient(rerankerTimeout))

	index := vectorstore.NewStore(pool)
	cacheStore := vectorstore.NewCacheStore(pool)
	metaStore, err := metadata.NewStore(pool)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to build metadata store: %w", err)
	}

	pipelineCfg := pipelineConfig(cfg)
	if err := pipelineCfg.Validate(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}

	cacheStage := retrieval.NewCacheStage(cacheStore, encoder, pipelineCfg.Cache, logger, nil)
	orchestrator := retrieval.NewOrchestrator(
		pipelineCfg, index, encoder, metaStore, reranker, techniques, cacheStage, logger)

	return &Container{
		Config:          cfg,
		Pool:            pool,
		Encoder:         encoder,
		Cache:           cacheStore,
		Metadata:        metaStore,
		Reranker:        reranker,
		Orchestrator:    orchestrator,
		RetrieveUsecase: usecase.NewRetrieveContextsUsecase(orchestrator),
		Logger:          logger,
	}, nil
}

// Close releases the container's resources.
func (c *Container) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// buildGenerator prefers the local Ollama endpoint and falls back to an
// OpenAI-compatible endpoint when an API key is configured.
func buildGenerator(cfg *config.Config, logger *slog.Logger) domain.TextGenerator {
	ollamaTimeout := time.Duration(cfg.OllamaTimeout) * time.Second
	ollama := llm.NewOllamaGenerator(cfg.OllamaURL, ollamaTimeout,
		httpclient.NewPooledClient(ollamaTimeout))

	if cfg.OpenAIAPIKey == "" {
		return ollama
	}
	openAI := llm.NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	return llm.NewFallbackGenerator(logger, ollama, openAI)
}

func technique(generator domain.TextGenerator, tc config.TechniqueConfig) retrieval.Technique {
	return retrieval.Technique{
		Generator:   generator,
		Model:       tc.Model,
		Temperature: tc.Temperature,
		MaxTokens:   tc.MaxTokens,
		Timeout:     tc.Timeout,
	}
}

func pipelineConfig(cfg *config.Config) retrieval.Config {
	pc := retrieval.DefaultConfig()
	pc.DefaultTopK = cfg.RetrievalTopK
	pc.SearchLimit = cfg.SearchLimit
	pc.SufficiencyThreshold = cfg.SufficiencyThreshold
	pc.MaxIterations = cfg.MaxIterations
	pc.MinContexts = cfg.MinContexts
	pc.Rerank.ScoreThreshold = cfg.RerankScoreThreshold
	pc.Rerank.FallbackTopN = cfg.RerankFallbackTopN
	pc.Rerank.Timeout = time.Duration(cfg.RerankerTimeout) * time.Second
	pc.Boost = retrieval.BoostStrategy{Summary: cfg.SummaryBoost, Question: cfg.QuestionBoost}
	pc.Cache = retrieval.CacheConfig{
		SimilarityThreshold: cfg.CacheSimilarity,
		TTL:                 time.Duration(cfg.CacheTTLSeconds) * time.Second,
	}
	return pc
}
