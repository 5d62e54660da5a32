package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"retrieval-service/internal/domain"
)

// Rerank scores the fused results against the query with the external
// cross-encoder and filters by score threshold. Two fallbacks keep the
// stage from emptying a non-empty candidate set: when every candidate
// fails the threshold, the top FallbackTopN by rerank score are kept;
// when the reranker itself is unreachable, the fusion ordering passes
// through unfiltered.
func Rerank(
	ctx context.Context,
	st State,
	reranker domain.Reranker,
	cfg RerankConfig,
	logger *slog.Logger,
) Delta {
	start := time.Now()

	done := func(results []domain.FusedResult, errors []StageError) Delta {
		return Delta{
			RerankedResults: &results,
			Errors:          errors,
			Timing:          &StageTiming{Stage: StageRerank, Duration: time.Since(start)},
			Stage:           StageRerank,
		}
	}

	if len(st.FusedResults) == 0 {
		return done([]domain.FusedResult{}, nil)
	}
	if reranker == nil {
		return done(st.FusedResults, nil)
	}

	candidates := make([]domain.RerankCandidate, len(st.FusedResults))
	for i, fr := range st.FusedResults {
		candidates[i] = domain.RerankCandidate{
			ID:      fr.ChunkID.String(),
			Content: fr.Content,
			Score:   fr.Score,
		}
	}

	rerankCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		rerankCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	scored, err := reranker.Rerank(rerankCtx, st.Query, candidates)
	if err != nil {
		logger.Warn("reranking_failed_using_fusion_order",
			slog.String("retrieval_id", st.RetrievalID),
			slog.String("error", err.Error()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()))
		return done(st.FusedResults, []StageError{{
			Stage:   StageRerank,
			Message: "reranker unreachable, fell back to fusion ordering",
		}})
	}

	scores := make(map[string]float64, len(scored))
	for _, r := range scored {
		scores[r.ID] = r.Score
	}

	rescored := make([]domain.FusedResult, 0, len(st.FusedResults))
	for _, fr := range st.FusedResults {
		if score, ok := scores[fr.ChunkID.String()]; ok {
			fr.Score = score
		}
		rescored = append(rescored, fr)
	}
	sort.SliceStable(rescored, func(i, j int) bool {
		return rescored[i].Score > rescored[j].Score
	})

	kept := make([]domain.FusedResult, 0, len(rescored))
	for _, fr := range rescored {
		if fr.Score >= cfg.ScoreThreshold {
			kept = append(kept, fr)
		}
	}

	// All candidates below threshold: keep the best few rather than
	// returning nothing for a non-empty input.
	if len(kept) == 0 {
		n := cfg.FallbackTopN
		if n > len(rescored) {
			n = len(rescored)
		}
		kept = rescored[:n]
		logger.Warn("rerank_threshold_removed_all_candidates",
			slog.String("retrieval_id", st.RetrievalID),
			slog.Float64("threshold", cfg.ScoreThreshold),
			slog.Int("fallback_count", len(kept)))
	}

	logger.Info("reranking_completed",
		slog.String("retrieval_id", st.RetrievalID),
		slog.Int("candidate_count", len(candidates)),
		slog.Int("kept_count", len(kept)),
		slog.String("model", reranker.ModelName()),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))

	return done(kept, nil)
}
