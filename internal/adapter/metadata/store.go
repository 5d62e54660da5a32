package metadata

import (
	"context"
	"fmt"

	"retrieval-service/internal/domain"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jackc/pgx/v5/pgxpool"
)

// documentInfoCacheSize bounds the in-process memo of document metadata.
// Document rows change rarely relative to retrieval traffic.
const documentInfoCacheSize = 4096

// Store implements domain.MetadataStore on Postgres, with an LRU memo in
// front of the document-info lookups.
type Store struct {
	pool    *pgxpool.Pool
	docInfo *lru.Cache[string, domain.DocumentInfo]
}

// NewStore creates a metadata store backed by the given pool.
func NewStore(pool *pgxpool.Pool) (*Store, error) {
	docInfo, err := lru.New[string, domain.DocumentInfo](documentInfoCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create document info cache: %w", err)
	}
	return &Store{pool: pool, docInfo: docInfo}, nil
}

var _ domain.MetadataStore = (*Store)(nil)

func (s *Store) GetParentChunks(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.ParentChunk, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]domain.ParentChunk{}, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, content, token_count,
		       COALESCE(section_path, ''), COALESCE(page, 0)
		FROM parent_chunks
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query parent chunks: %w", err)
	}
	defer rows.Close()

	chunks := make(map[uuid.UUID]domain.ParentChunk, len(ids))
	for rows.Next() {
		var pc domain.ParentChunk
		if err := rows.Scan(&pc.ID, &pc.DocumentID, &pc.Content, &pc.TokenCount, &pc.SectionPath, &pc.Page); err != nil {
			return nil, fmt.Errorf("failed to scan parent chunk: %w", err)
		}
		chunks[pc.ID] = pc
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return chunks, nil
}

func (s *Store) GetUserWhitelist(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT document_id
		FROM user_document_access
		WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user whitelist: %w", err)
	}
	defer rows.Close()

	var docIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan whitelist row: %w", err)
		}
		docIDs = append(docIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return docIDs, nil
}

func (s *Store) GetDocumentInfo(ctx context.Context, ids []string) (map[string]domain.DocumentInfo, error) {
	infos := make(map[string]domain.DocumentInfo, len(ids))
	var missing []string
	for _, id := range ids {
		if info, ok := s.docInfo.Get(id); ok {
			infos[id] = info
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return infos, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, title, access_type, COALESCE(description, '')
		FROM documents
		WHERE id = ANY($1)`, missing)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var info domain.DocumentInfo
		if err := rows.Scan(&info.ID, &info.Title, &info.AccessType, &info.Description); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		infos[info.ID] = info
		s.docInfo.Add(info.ID, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return infos, nil
}

// SearchDocuments keyword-matches document titles and descriptions and
// returns each match's first parent chunk as a representative hit. Only
// public documents are searched; whitelisted private documents still
// surface through the filtered vector searches.
func (s *Store) SearchDocuments(ctx context.Context, query string, limit int) ([]domain.SearchHit, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pc.id, d.id, d.title, d.access_type,
		       COALESCE(NULLIF(d.description, ''), d.title),
		       ts_rank_cd(d.search_tsv, websearch_to_tsquery('english', $1)) AS rank
		FROM documents d
		JOIN LATERAL (
			SELECT id FROM parent_chunks
			WHERE document_id = d.id
			ORDER BY page, id
			LIMIT 1
		) pc ON true
		WHERE d.search_tsv @@ websearch_to_tsquery('english', $1)
		  AND d.access_type = $3
		ORDER BY rank DESC
		LIMIT $2`, query, limit, domain.AccessTypePublic)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	defer rows.Close()

	var hits []domain.SearchHit
	for rows.Next() {
		var (
			hit        domain.SearchHit
			parentID   uuid.UUID
			title      string
			accessType string
		)
		if err := rows.Scan(&parentID, &hit.DocumentID, &title, &accessType, &hit.Content, &hit.Score); err != nil {
			return nil, fmt.Errorf("failed to scan document hit: %w", err)
		}
		hit.ChunkID = parentID
		hit.ParentChunkID = &parentID
		hit.Metadata = map[string]any{
			"title":       title,
			"access_type": accessType,
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return hits, nil
}
