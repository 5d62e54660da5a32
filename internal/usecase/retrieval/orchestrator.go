package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"retrieval-service/internal/domain"
)

// Request is the orchestrator's input, already validated by the caller.
type Request struct {
	RetrievalID string
	Query       string
	TopK        int
	UserID      string
	UserRole    string
	UseCache    bool
}

// Metrics surfaces per-request observability to the caller. It never
// changes the response shape.
type Metrics struct {
	RetrievalID            string
	Iterations             int
	DecompositionTriggered bool
	SufficiencyScore       float64
	Stages                 []StageTiming
	Errors                 []string
	TotalDuration          time.Duration
}

// Result is the orchestrator's terminal output. Degraded upstream stages
// still produce a Result, possibly with zero contexts.
type Result struct {
	Contexts []domain.EnrichedContext
	Cached   bool
	Metrics  Metrics
}

// Orchestrator drives the retrieval state machine:
//
//	CacheCheck -> (hit: Done) | (miss: Analyze) -> BuildFilter ->
//	Retrieve -> Fuse -> Rerank -> Enrich -> Sufficiency ->
//	{Retry -> Analyze | Decompose -> Fuse | Finish -> CacheUpdate -> Done}
type Orchestrator struct {
	cfg        Config
	index      domain.VectorIndex
	encoder    domain.VectorEncoder
	meta       domain.MetadataStore
	reranker   domain.Reranker
	techniques Techniques
	cache      *CacheStage
	logger     *slog.Logger
}

// NewOrchestrator wires the pipeline. reranker may be nil (rerank then
// passes fusion ordering through); cache may be nil (every check misses).
func NewOrchestrator(
	cfg Config,
	index domain.VectorIndex,
	encoder domain.VectorEncoder,
	meta domain.MetadataStore,
	reranker domain.Reranker,
	techniques Techniques,
	cache *CacheStage,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		index:      index,
		encoder:    encoder,
		meta:       meta,
		reranker:   reranker,
		techniques: techniques,
		cache:      cache,
		logger:     logger,
	}
}

// decide is the pure transition function of the state machine. It maps
// the completed stage (plus the cache-check and sufficiency outcomes) to
// the next stage.
func decide(completed Stage, cacheHit bool, decision Decision) Stage {
	switch completed {
	case StageCacheCheck:
		if cacheHit {
			return StageDone
		}
		return StageAnalyze
	case StageAnalyze:
		return StageBuildFilter
	case StageBuildFilter:
		return StageRetrieve
	case StageRetrieve:
		return StageFuse
	case StageFuse:
		return StageRerank
	case StageRerank:
		return StageEnrich
	case StageEnrich:
		return StageSufficiency
	case StageSufficiency:
		switch decision {
		case DecisionRetry:
			return StageAnalyze
		case DecisionDecompose:
			return StageDecompose
		default:
			return StageCacheUpdate
		}
	case StageDecompose:
		return StageFuse
	case StageCacheUpdate:
		return StageDone
	default:
		return StageDone
	}
}

// Run executes the pipeline to a terminal state. It always returns a
// Result; non-fatal stage failures degrade to empty values and are
// reported through Metrics.Errors.
func (o *Orchestrator) Run(ctx context.Context, req Request) *Result {
	start := time.Now()

	topK := req.TopK
	if topK <= 0 {
		topK = o.cfg.DefaultTopK
	}
	st := State{
		RetrievalID:  req.RetrievalID,
		Query:        req.Query,
		TopK:         topK,
		UserID:       req.UserID,
		UserRole:     req.UserRole,
		CacheEnabled: req.UseCache,
	}

	cached := false
	stage := StageCacheCheck

	for stage != StageDone {
		if err := ctx.Err(); err != nil {
			st = st.Apply(Delta{Errors: []StageError{{
				Stage:   stage,
				Message: fmt.Sprintf("request cancelled: %v", err),
			}}})
			break
		}

		var decision Decision
		switch stage {
		case StageCacheCheck:
			var d Delta
			if o.cache != nil {
				d, cached = o.cache.Check(ctx, st)
			}
			st = st.Apply(d)
		case StageAnalyze:
			st = st.Apply(Analyze(ctx, st, o.encoder, o.techniques, o.logger))
		case StageBuildFilter:
			st = st.Apply(BuildFilter(ctx, st, o.meta, o.logger))
		case StageRetrieve:
			st = st.Apply(Retrieve(ctx, st, o.index, o.encoder, o.meta, o.cfg, o.logger))
		case StageFuse:
			st = st.Apply(Fuse(st, o.logger))
		case StageRerank:
			st = st.Apply(Rerank(ctx, st, o.reranker, o.cfg.Rerank, o.logger))
		case StageEnrich:
			st = st.Apply(Enrich(ctx, st, o.meta, o.logger))
		case StageSufficiency:
			var d Delta
			d, decision = Judge(st, o.cfg, o.logger)
			st = st.Apply(d)
		case StageDecompose:
			st = st.Apply(ExecuteSubQueries(ctx, st, o.index, o.encoder, o.logger))
		case StageCacheUpdate:
			if o.cache != nil {
				st = st.Apply(o.cache.Update(ctx, st))
			}
		}

		stage = decide(stage, cached, decision)
	}

	errs := make([]string, len(st.Errors))
	for i, e := range st.Errors {
		errs[i] = fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}

	result := &Result{
		Contexts: st.Contexts,
		Cached:   cached,
		Metrics: Metrics{
			RetrievalID:            st.RetrievalID,
			Iterations:             st.Iterations,
			DecompositionTriggered: st.DecompositionTriggered,
			SufficiencyScore:       st.SufficiencyScore,
			Stages:                 st.Timings,
			Errors:                 errs,
			TotalDuration:          time.Since(start),
		},
	}

	o.logger.Info("retrieval_pipeline_completed",
		slog.String("retrieval_id", st.RetrievalID),
		slog.Bool("cached", cached),
		slog.Int("context_count", len(result.Contexts)),
		slog.Int("iterations", st.Iterations),
		slog.Bool("decomposition_triggered", st.DecompositionTriggered),
		slog.Int("non_fatal_errors", len(errs)),
		slog.Int64("duration_ms", result.Metrics.TotalDuration.Milliseconds()))

	return result
}
