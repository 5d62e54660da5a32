package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"retrieval-service/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// collectionTables maps logical collections to their tables. Every table
// shares the layout (id, parent_id, document_id, content, embedding,
// tsv, metadata).
var collectionTables = map[domain.Collection]string{
	domain.CollectionChunks:    "chunks",
	domain.CollectionSummaries: "chunk_summaries",
	domain.CollectionQuestions: "chunk_questions",
}

// Store implements domain.VectorIndex on pgvector. The hybrid search
// runs a dense cosine query and a full-text query per collection and
// fuses the two rankings with RRF (k=60) before returning.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a vector index backed by the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ domain.VectorIndex = (*Store)(nil)

const rrfK = 60.0

func (s *Store) HybridSearch(ctx context.Context, q domain.HybridQuery) ([]domain.SearchHit, error) {
	table, ok := collectionTables[q.Collection]
	if !ok {
		return nil, fmt.Errorf("unknown collection: %s", q.Collection)
	}
	if q.Limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", q.Limit)
	}

	dense, err := s.denseSearch(ctx, table, q)
	if err != nil {
		return nil, fmt.Errorf("dense search failed: %w", err)
	}

	var sparse []domain.SearchHit
	if strings.TrimSpace(q.QueryText) != "" {
		sparse, err = s.sparseSearch(ctx, table, q)
		if err != nil {
			return nil, fmt.Errorf("sparse search failed: %w", err)
		}
	}

	return fuseRankings(dense, sparse, q.Limit), nil
}

// accessClause renders the filter into a WHERE fragment. args are
// appended to the given slice; the returned clause references them by
// ordinal.
func accessClause(filter *domain.AccessFilter, args []any) (string, []any) {
	if !filter.Restricts() {
		return "", args
	}
	args = append(args, domain.AccessTypePublic)
	clause := fmt.Sprintf("d.access_type = $%d", len(args))
	if len(filter.WhitelistedDocs) > 0 {
		args = append(args, filter.WhitelistedDocs)
		clause = fmt.Sprintf("(%s OR c.document_id = ANY($%d))", clause, len(args))
	}
	return " AND " + clause, args
}

func (s *Store) denseSearch(ctx context.Context, table string, q domain.HybridQuery) ([]domain.SearchHit, error) {
	args := []any{pgvector.NewVector(q.Dense), q.Limit}
	clause, args := accessClause(q.Filter, args)

	query := fmt.Sprintf(`
		SELECT c.id, c.parent_id, c.document_id, c.content,
		       1 - (c.embedding <=> $1) AS score, c.metadata
		FROM %s c
		JOIN documents d ON d.id = c.document_id
		WHERE c.embedding IS NOT NULL%s
		ORDER BY c.embedding <=> $1
		LIMIT $2`,
		pgx.Identifier{table}.Sanitize(), clause)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHits(rows)
}

func (s *Store) sparseSearch(ctx context.Context, table string, q domain.HybridQuery) ([]domain.SearchHit, error) {
	args := []any{q.QueryText, q.Limit}
	clause, args := accessClause(q.Filter, args)

	query := fmt.Sprintf(`
		SELECT c.id, c.parent_id, c.document_id, c.content,
		       ts_rank_cd(c.tsv, websearch_to_tsquery('english', $1)) AS score, c.metadata
		FROM %s c
		JOIN documents d ON d.id = c.document_id
		WHERE c.tsv @@ websearch_to_tsquery('english', $1)%s
		ORDER BY score DESC
		LIMIT $2`,
		pgx.Identifier{table}.Sanitize(), clause)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHits(rows)
}

func scanHits(rows pgx.Rows) ([]domain.SearchHit, error) {
	var hits []domain.SearchHit
	for rows.Next() {
		var (
			h        domain.SearchHit
			parentID *uuid.UUID
			metadata map[string]any
		)
		if err := rows.Scan(&h.ChunkID, &parentID, &h.DocumentID, &h.Content, &h.Score, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan hit: %w", err)
		}
		h.ParentChunkID = parentID
		h.Metadata = metadata
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return hits, nil
}

// fuseRankings merges the dense and sparse rankings with RRF, keeping
// the dense hit's payload when a chunk appears in both.
func fuseRankings(dense, sparse []domain.SearchHit, limit int) []domain.SearchHit {
	type entry struct {
		hit   domain.SearchHit
		score float64
		order int
	}
	fused := make(map[uuid.UUID]*entry, len(dense))
	order := 0

	for rank, hit := range dense {
		fused[hit.ChunkID] = &entry{
			hit:   hit,
			score: 1.0 / (rrfK + float64(rank+1)),
			order: order,
		}
		order++
	}
	for rank, hit := range sparse {
		contribution := 1.0 / (rrfK + float64(rank+1))
		if existing, ok := fused[hit.ChunkID]; ok {
			existing.score += contribution
			continue
		}
		fused[hit.ChunkID] = &entry{hit: hit, score: contribution, order: order}
		order++
	}

	entries := make([]*entry, 0, len(fused))
	for _, e := range fused {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].order < entries[j].order
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}

	out := make([]domain.SearchHit, len(entries))
	for i, e := range entries {
		hit := e.hit
		hit.Score = e.score
		out[i] = hit
	}
	return out
}
