package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"retrieval-service/internal/domain"

	"golang.org/x/sync/errgroup"
)

// ExecuteSubQueries is the last-resort recall booster: each decomposed
// sub-query is embedded and searched concurrently, the hits are flattened
// and deduplicated keeping the highest score per chunk, and the result
// feeds fusion as one additional source. Runs at most once per request;
// any failure yields an empty contribution so the main-query results
// remain usable.
func ExecuteSubQueries(
	ctx context.Context,
	st State,
	index domain.VectorIndex,
	encoder domain.VectorEncoder,
	logger *slog.Logger,
) Delta {
	start := time.Now()

	var errors []StageError
	done := func(hits []domain.SearchHit) Delta {
		return Delta{
			SubQueryResults: &hits,
			Errors:          errors,
			Timing:          &StageTiming{Stage: StageDecompose, Duration: time.Since(start)},
			Stage:           StageDecompose,
		}
	}

	if len(st.SubQueries) == 0 {
		return done([]domain.SearchHit{})
	}

	perQueryLimit := st.TopK / len(st.SubQueries)
	if perQueryLimit < 3 {
		perQueryLimit = 3
	}

	embeddings, err := encoder.Encode(ctx, st.SubQueries)
	if err != nil || len(embeddings) != len(st.SubQueries) {
		if err == nil {
			err = fmt.Errorf("expected %d embeddings, got %d", len(st.SubQueries), len(embeddings))
		}
		logger.Warn("subquery_embedding_failed",
			slog.String("retrieval_id", st.RetrievalID),
			slog.String("error", err.Error()))
		errors = append(errors, StageError{
			Stage:   StageDecompose,
			Message: fmt.Sprintf("embedding: %v", err),
		})
		return done([]domain.SearchHit{})
	}

	results := make([][]domain.SearchHit, len(st.SubQueries))
	g, gctx := errgroup.WithContext(ctx)
	for i := range st.SubQueries {
		g.Go(func() error {
			hits, searchErr := index.HybridSearch(gctx, domain.HybridQuery{
				Collection: domain.CollectionChunks,
				QueryText:  st.SubQueries[i],
				Dense:      embeddings[i],
				Filter:     st.Filter,
				Limit:      perQueryLimit,
			})
			if searchErr != nil {
				return searchErr
			}
			results[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Warn("subquery_search_failed",
			slog.String("retrieval_id", st.RetrievalID),
			slog.String("error", err.Error()))
		errors = append(errors, StageError{
			Stage:   StageDecompose,
			Message: fmt.Sprintf("search: %v", err),
		})
		return done([]domain.SearchHit{})
	}

	deduped := dedupeBestScore(results, len(st.SubQueries)*perQueryLimit)

	logger.Info("subquery_execution_completed",
		slog.String("retrieval_id", st.RetrievalID),
		slog.Int("subquery_count", len(st.SubQueries)),
		slog.Int("per_query_limit", perQueryLimit),
		slog.Int("deduped_hits", len(deduped)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))

	return done(deduped)
}
