package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"retrieval-service/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// CacheStore implements domain.SemanticCache on a pgvector table. Entries
// are matched by cosine similarity of the query embedding; contexts are
// stored as a JSONB snapshot of the enriched response.
type CacheStore struct {
	pool *pgxpool.Pool
}

// NewCacheStore creates a semantic cache backed by the given pool.
func NewCacheStore(pool *pgxpool.Pool) *CacheStore {
	return &CacheStore{pool: pool}
}

var _ domain.SemanticCache = (*CacheStore)(nil)

func (s *CacheStore) FindNearest(ctx context.Context, embedding []float32, threshold float64) (*domain.CacheEntry, float64, error) {
	query := `
		SELECT id, query, contexts, document_ids, created_at, ttl_seconds,
		       hit_count, last_accessed_at,
		       1 - (embedding <=> $1) AS similarity
		FROM retrieval_cache
		WHERE 1 - (embedding <=> $1) >= $2
		ORDER BY embedding <=> $1
		LIMIT 1`

	var (
		entry      domain.CacheEntry
		contexts   []byte
		ttlSeconds int64
		similarity float64
	)
	err := s.pool.QueryRow(ctx, query, pgvector.NewVector(embedding), threshold).Scan(
		&entry.ID, &entry.Query, &contexts, &entry.DocumentIDs,
		&entry.CreatedAt, &ttlSeconds, &entry.HitCount, &entry.LastAccessedAt,
		&similarity,
	)
	if err == pgx.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query cache: %w", err)
	}

	if err := json.Unmarshal(contexts, &entry.Contexts); err != nil {
		return nil, 0, fmt.Errorf("failed to decode cached contexts: %w", err)
	}
	entry.TTL = time.Duration(ttlSeconds) * time.Second
	return &entry, similarity, nil
}

func (s *CacheStore) Upsert(ctx context.Context, entry *domain.CacheEntry, embedding []float32) error {
	contexts, err := json.Marshal(entry.Contexts)
	if err != nil {
		return fmt.Errorf("failed to encode contexts: %w", err)
	}

	query := `
		INSERT INTO retrieval_cache
			(id, query, embedding, contexts, document_ids, created_at,
			 ttl_seconds, hit_count, last_accessed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8)
		ON CONFLICT (id) DO UPDATE SET
			query = EXCLUDED.query,
			embedding = EXCLUDED.embedding,
			contexts = EXCLUDED.contexts,
			document_ids = EXCLUDED.document_ids,
			created_at = EXCLUDED.created_at,
			ttl_seconds = EXCLUDED.ttl_seconds,
			last_accessed_at = EXCLUDED.last_accessed_at`

	_, err = s.pool.Exec(ctx, query,
		entry.ID, entry.Query, pgvector.NewVector(embedding), contexts,
		entry.DocumentIDs, entry.CreatedAt,
		int64(entry.TTL/time.Second), entry.LastAccessedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert cache entry: %w", err)
	}
	return nil
}

func (s *CacheStore) Touch(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE retrieval_cache
		SET hit_count = hit_count + 1, last_accessed_at = now()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to touch cache entry: %w", err)
	}
	return nil
}

func (s *CacheStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM retrieval_cache WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func (s *CacheStore) DeleteByDocument(ctx context.Context, documentID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM retrieval_cache WHERE $1 = ANY(document_ids)`, documentID)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate cache for document: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *CacheStore) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM retrieval_cache
		WHERE created_at + make_interval(secs => ttl_seconds) <= now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired cache entries: %w", err)
	}
	return tag.RowsAffected(), nil
}
