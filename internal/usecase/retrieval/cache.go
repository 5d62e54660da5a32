package retrieval

import (
	"context"
	"log/slog"
	"time"

	"retrieval-service/internal/domain"

	"github.com/google/uuid"
)

// touchTimeout bounds the detached hit-counter write so a cache hit
// never blocks on bookkeeping.
const touchTimeout = 5 * time.Second

// CacheStage implements the semantic cache check and update around the
// pipeline. All failures are logged and swallowed; the cache is never on
// the critical failure path.
type CacheStage struct {
	store   domain.SemanticCache
	encoder domain.VectorEncoder
	cfg     CacheConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewCacheStage wires the cache stage. now is overridable for TTL tests;
// nil means time.Now.
func NewCacheStage(store domain.SemanticCache, encoder domain.VectorEncoder, cfg CacheConfig, logger *slog.Logger, now func() time.Time) *CacheStage {
	if now == nil {
		now = time.Now
	}
	return &CacheStage{store: store, encoder: encoder, cfg: cfg, logger: logger, now: now}
}

// Check embeds the query and looks up the nearest cache entry. A hit
// short-circuits the pipeline: the delta carries the cached contexts and
// the query embedding computed here. An expired entry is deleted and
// reported as a miss. Returns hit=false on any failure.
func (c *CacheStage) Check(ctx context.Context, st State) (Delta, bool) {
	start := time.Now()

	miss := func(errors []StageError, embedding []float32) Delta {
		d := Delta{
			Errors: errors,
			Timing: &StageTiming{Stage: StageCacheCheck, Duration: time.Since(start)},
			Stage:  StageCacheCheck,
		}
		if embedding != nil {
			d.QueryEmbedding = &embedding
		}
		return d
	}

	if !st.CacheEnabled || c.store == nil {
		return miss(nil, nil), false
	}

	embeddings, err := c.encoder.Encode(ctx, []string{st.Query})
	if err != nil || len(embeddings) == 0 {
		c.logger.Warn("cache_check_embedding_failed",
			slog.String("retrieval_id", st.RetrievalID))
		return miss([]StageError{{Stage: StageCacheCheck, Message: "query embedding failed"}}, nil), false
	}
	embedding := embeddings[0]

	entry, similarity, err := c.store.FindNearest(ctx, embedding, c.cfg.SimilarityThreshold)
	if err != nil {
		c.logger.Warn("cache_lookup_failed",
			slog.String("retrieval_id", st.RetrievalID),
			slog.String("error", err.Error()))
		return miss([]StageError{{Stage: StageCacheCheck, Message: "cache lookup failed"}}, embedding), false
	}
	if entry == nil {
		return miss(nil, embedding), false
	}

	if entry.Expired(c.now()) {
		if err := c.store.Delete(ctx, entry.ID); err != nil {
			c.logger.Warn("expired_cache_entry_delete_failed",
				slog.String("entry_id", entry.ID.String()),
				slog.String("error", err.Error()))
		}
		c.logger.Info("cache_entry_expired",
			slog.String("retrieval_id", st.RetrievalID),
			slog.String("entry_id", entry.ID.String()))
		return miss(nil, embedding), false
	}

	// Hit bookkeeping must not delay the response.
	go func(id uuid.UUID) {
		touchCtx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := c.store.Touch(touchCtx, id); err != nil {
			c.logger.Warn("cache_touch_failed",
				slog.String("entry_id", id.String()),
				slog.String("error", err.Error()))
		}
	}(entry.ID)

	c.logger.Info("cache_hit",
		slog.String("retrieval_id", st.RetrievalID),
		slog.String("entry_id", entry.ID.String()),
		slog.Float64("similarity", similarity),
		slog.Int("context_count", len(entry.Contexts)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))

	contexts := entry.Contexts
	return Delta{
		QueryEmbedding: &embedding,
		Contexts:       &contexts,
		Timing:         &StageTiming{Stage: StageCacheCheck, Duration: time.Since(start)},
		Stage:          StageCacheCheck,
	}, true
}

// Update persists the final contexts as a cache entry. It is a no-op
// unless caching is enabled for the request and every context's document
// is public. Failures are logged and swallowed.
func (c *CacheStage) Update(ctx context.Context, st State) Delta {
	start := time.Now()

	done := func(errors []StageError) Delta {
		return Delta{
			Errors: errors,
			Timing: &StageTiming{Stage: StageCacheUpdate, Duration: time.Since(start)},
			Stage:  StageCacheUpdate,
		}
	}

	if !st.CacheEnabled || c.store == nil || len(st.Contexts) == 0 || st.QueryEmbedding == nil {
		return done(nil)
	}

	docIDs := make([]string, 0, len(st.Contexts))
	seen := make(map[string]struct{})
	for _, ec := range st.Contexts {
		if ec.DocumentType != domain.AccessTypePublic {
			c.logger.Info("cache_update_skipped_non_public",
				slog.String("retrieval_id", st.RetrievalID),
				slog.String("document_id", ec.DocumentID))
			return done(nil)
		}
		if _, ok := seen[ec.DocumentID]; !ok {
			seen[ec.DocumentID] = struct{}{}
			docIDs = append(docIDs, ec.DocumentID)
		}
	}

	entry := &domain.CacheEntry{
		ID:             uuid.New(),
		Query:          st.Query,
		Contexts:       st.Contexts,
		DocumentIDs:    docIDs,
		CreatedAt:      c.now(),
		TTL:            c.cfg.TTL,
		LastAccessedAt: c.now(),
	}
	if err := c.store.Upsert(ctx, entry, st.QueryEmbedding); err != nil {
		c.logger.Warn("cache_update_failed",
			slog.String("retrieval_id", st.RetrievalID),
			slog.String("error", err.Error()))
		return done([]StageError{{Stage: StageCacheUpdate, Message: "cache update failed"}})
	}

	c.logger.Info("cache_entry_stored",
		slog.String("retrieval_id", st.RetrievalID),
		slog.String("entry_id", entry.ID.String()),
		slog.Int("context_count", len(entry.Contexts)),
		slog.Int("document_count", len(docIDs)))

	return done(nil)
}
