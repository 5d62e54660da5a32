package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"retrieval-service/internal/domain"

	"golang.org/x/sync/errgroup"
)

// Retrieve runs the per-source searches concurrently: the three-collection
// hybrid retrieval for the main query, plus hypothetical-document,
// reformulation, rewrite and metadata searches when query analysis
// produced inputs for them. Each branch writes a disjoint state field
// and fails independently.
func Retrieve(
	ctx context.Context,
	st State,
	index domain.VectorIndex,
	encoder domain.VectorEncoder,
	meta domain.MetadataStore,
	cfg Config,
	logger *slog.Logger,
) Delta {
	start := time.Now()

	var (
		mu     sync.Mutex
		errors []StageError
	)
	nonFatal := func(branch string, err error) {
		logger.Warn("retrieval_branch_failed",
			slog.String("retrieval_id", st.RetrievalID),
			slog.String("branch", branch),
			slog.String("error", err.Error()))
		mu.Lock()
		errors = append(errors, StageError{
			Stage:   StageRetrieve,
			Message: fmt.Sprintf("%s: %v", branch, err),
		})
		mu.Unlock()
	}

	var (
		mainHits     []domain.SearchHit
		hydeHits     []domain.SearchHit
		reformHits   []domain.SearchHit
		rewriteHits  []domain.SearchHit
		metadataHits []domain.SearchHit
	)

	g, gctx := errgroup.WithContext(ctx)

	// Main query: three collections, merged with confirmation boosts.
	g.Go(func() error {
		hits, err := searchCollections(gctx, index, st, cfg)
		if err != nil {
			nonFatal("main", err)
			return nil
		}
		mainHits = hits
		return nil
	})

	// Hypothetical-document search against the primary collection.
	if st.HydeEmbedding != nil {
		g.Go(func() error {
			hits, err := index.HybridSearch(gctx, domain.HybridQuery{
				Collection: domain.CollectionChunks,
				QueryText:  st.Query,
				Dense:      st.HydeEmbedding,
				Filter:     st.Filter,
				Limit:      cfg.SearchLimit,
			})
			if err != nil {
				nonFatal("hyde", err)
				return nil
			}
			hydeHits = hits
			return nil
		})
	}

	// Reformulated variants: embed then search each, keep the best score
	// per chunk across variants.
	if len(st.Reformulations) > 0 {
		g.Go(func() error {
			hits, err := searchVariants(gctx, index, encoder, st.Reformulations, st.Filter, cfg.SearchLimit)
			if err != nil {
				nonFatal("reformulation", err)
				return nil
			}
			reformHits = hits
			return nil
		})
	}

	// Rewritten query search.
	if st.Rewritten != "" {
		g.Go(func() error {
			hits, err := searchVariants(gctx, index, encoder, []string{st.Rewritten}, st.Filter, cfg.SearchLimit)
			if err != nil {
				nonFatal("rewrite", err)
				return nil
			}
			rewriteHits = hits
			return nil
		})
	}

	// Metadata keyword search over document titles/descriptions.
	g.Go(func() error {
		hits, err := meta.SearchDocuments(gctx, st.Query, cfg.SearchLimit/2)
		if err != nil {
			nonFatal("metadata", err)
			return nil
		}
		metadataHits = hits
		return nil
	})

	_ = g.Wait()

	logger.Info("retrieval_completed",
		slog.String("retrieval_id", st.RetrievalID),
		slog.Int("main_hits", len(mainHits)),
		slog.Int("hyde_hits", len(hydeHits)),
		slog.Int("reformulation_hits", len(reformHits)),
		slog.Int("rewrite_hits", len(rewriteHits)),
		slog.Int("metadata_hits", len(metadataHits)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))

	return Delta{
		MainResults:          &mainHits,
		HydeResults:          &hydeHits,
		ReformulationResults: &reformHits,
		RewriteResults:       &rewriteHits,
		MetadataResults:      &metadataHits,
		Errors:               errors,
		Timing:               &StageTiming{Stage: StageRetrieve, Duration: time.Since(start)},
		Stage:                StageRetrieve,
	}
}

// searchCollections queries the primary, summary and question collections
// concurrently and merges them. A single collection failing yields an
// empty list for that collection; the merge fails only when all three do.
func searchCollections(
	ctx context.Context,
	index domain.VectorIndex,
	st State,
	cfg Config,
) ([]domain.SearchHit, error) {
	if st.QueryEmbedding == nil {
		return nil, fmt.Errorf("no query embedding available")
	}

	type collectionQuery struct {
		collection domain.Collection
		limit      int
	}
	queries := []collectionQuery{
		{domain.CollectionChunks, cfg.SearchLimit},
		{domain.CollectionSummaries, cfg.SearchLimit / 2},
		{domain.CollectionQuestions, cfg.SearchLimit / 2},
	}

	results := make([][]domain.SearchHit, len(queries))
	failures := make([]error, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			hits, err := index.HybridSearch(gctx, domain.HybridQuery{
				Collection: q.collection,
				QueryText:  st.Query,
				Dense:      st.QueryEmbedding,
				Filter:     st.Filter,
				Limit:      q.limit,
			})
			if err != nil {
				failures[i] = err
				return nil
			}
			results[i] = hits
			return nil
		})
	}
	_ = g.Wait()

	if failures[0] != nil && failures[1] != nil && failures[2] != nil {
		return nil, fmt.Errorf("all collections failed: %w", failures[0])
	}

	return mergeCollectionHits(results[0], results[1], results[2], cfg.Boost, cfg.SearchLimit), nil
}

// mergeCollectionHits merges auxiliary-collection hits into the primary
// result set, keyed by parent chunk id (chunk id when absent). A primary
// hit confirmed by a higher-scoring auxiliary hit keeps its passage text
// and gets its score boosted; auxiliary hits without a primary entry are
// inserted with the boosted score even though their text may be a summary
// or question string.
func mergeCollectionHits(
	primary, summaries, questions []domain.SearchHit,
	boost BoostStrategy,
	limit int,
) []domain.SearchHit {
	type entry struct {
		hit   domain.SearchHit
		order int
	}
	merged := make(map[string]*entry, len(primary))
	order := 0

	for _, hit := range primary {
		key := hit.Key().String()
		if _, exists := merged[key]; exists {
			continue
		}
		merged[key] = &entry{hit: hit, order: order}
		order++
	}

	absorb := func(aux []domain.SearchHit, multiplier float64) {
		for _, hit := range aux {
			key := hit.Key().String()
			if existing, ok := merged[key]; ok {
				if hit.Score > existing.hit.Score {
					existing.hit.Score *= multiplier
				}
				continue
			}
			boosted := hit
			boosted.Score *= multiplier
			merged[key] = &entry{hit: boosted, order: order}
			order++
		}
	}
	absorb(summaries, boost.Summary)
	absorb(questions, boost.Question)

	entries := make([]*entry, 0, len(merged))
	for _, e := range merged {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].hit.Score != entries[j].hit.Score {
			return entries[i].hit.Score > entries[j].hit.Score
		}
		return entries[i].order < entries[j].order
	})

	if len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]domain.SearchHit, len(entries))
	for i, e := range entries {
		out[i] = e.hit
	}
	return out
}

// searchVariants embeds the given query variants, searches the primary
// collection for each concurrently, and flattens the results into one
// list ranked by the best score seen per chunk.
func searchVariants(
	ctx context.Context,
	index domain.VectorIndex,
	encoder domain.VectorEncoder,
	variants []string,
	filter *domain.AccessFilter,
	limit int,
) ([]domain.SearchHit, error) {
	embeddings, err := encoder.Encode(ctx, variants)
	if err != nil {
		return nil, fmt.Errorf("failed to encode variants: %w", err)
	}
	if len(embeddings) != len(variants) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(variants), len(embeddings))
	}

	results := make([][]domain.SearchHit, len(variants))
	g, gctx := errgroup.WithContext(ctx)
	for i := range variants {
		g.Go(func() error {
			hits, searchErr := index.HybridSearch(gctx, domain.HybridQuery{
				Collection: domain.CollectionChunks,
				QueryText:  variants[i],
				Dense:      embeddings[i],
				Filter:     filter,
				Limit:      limit,
			})
			if searchErr != nil {
				return searchErr
			}
			results[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return dedupeBestScore(results, limit), nil
}

// dedupeBestScore flattens ranked lists keeping the highest score per
// chunk id, ordered by score descending with first-seen tie-breaks.
func dedupeBestScore(lists [][]domain.SearchHit, limit int) []domain.SearchHit {
	type entry struct {
		hit   domain.SearchHit
		order int
	}
	best := make(map[string]*entry)
	order := 0
	for _, list := range lists {
		for _, hit := range list {
			key := hit.ChunkID.String()
			if existing, ok := best[key]; ok {
				if hit.Score > existing.hit.Score {
					existing.hit.Score = hit.Score
				}
				continue
			}
			best[key] = &entry{hit: hit, order: order}
			order++
		}
	}

	entries := make([]*entry, 0, len(best))
	for _, e := range best {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].hit.Score != entries[j].hit.Score {
			return entries[i].hit.Score > entries[j].hit.Score
		}
		return entries[i].order < entries[j].order
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]domain.SearchHit, len(entries))
	for i, e := range entries {
		out[i] = e.hit
	}
	return out
}
