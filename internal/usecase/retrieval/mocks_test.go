package retrieval

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"retrieval-service/internal/domain"

	"github.com/google/uuid"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeIndex struct {
	mu      sync.Mutex
	queries []domain.HybridQuery
	search  func(q domain.HybridQuery) ([]domain.SearchHit, error)
}

func (f *fakeIndex) HybridSearch(_ context.Context, q domain.HybridQuery) ([]domain.SearchHit, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	if f.search == nil {
		return nil, nil
	}
	return f.search(q)
}

type fakeEncoder struct {
	mu     sync.Mutex
	calls  int
	encode func(texts []string) ([][]float32, error)
}

func (f *fakeEncoder) Encode(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.encode == nil {
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{0.1, 0.2, 0.3}
		}
		return out, nil
	}
	return f.encode(texts)
}

func (f *fakeEncoder) Version() string { return "fake-encoder" }

type fakeGenerator struct {
	generate func(prompt string) (string, error)
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string, _ domain.GenerateOptions) (string, error) {
	if f.generate == nil {
		return "", nil
	}
	return f.generate(prompt)
}

func (f *fakeGenerator) Name() string { return "fake" }

type fakeMetadata struct {
	parentChunks func(ids []uuid.UUID) (map[uuid.UUID]domain.ParentChunk, error)
	whitelist    func(userID string) ([]string, error)
	docInfo      func(ids []string) (map[string]domain.DocumentInfo, error)
	searchDocs   func(query string, limit int) ([]domain.SearchHit, error)
}

func (f *fakeMetadata) GetParentChunks(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.ParentChunk, error) {
	if f.parentChunks == nil {
		return map[uuid.UUID]domain.ParentChunk{}, nil
	}
	return f.parentChunks(ids)
}

func (f *fakeMetadata) GetUserWhitelist(_ context.Context, userID string) ([]string, error) {
	if f.whitelist == nil {
		return nil, nil
	}
	return f.whitelist(userID)
}

func (f *fakeMetadata) GetDocumentInfo(_ context.Context, ids []string) (map[string]domain.DocumentInfo, error) {
	if f.docInfo == nil {
		return map[string]domain.DocumentInfo{}, nil
	}
	return f.docInfo(ids)
}

func (f *fakeMetadata) SearchDocuments(_ context.Context, query string, limit int) ([]domain.SearchHit, error) {
	if f.searchDocs == nil {
		return nil, nil
	}
	return f.searchDocs(query, limit)
}

type fakeReranker struct {
	rerank func(query string, candidates []domain.RerankCandidate) ([]domain.RerankResult, error)
}

func (f *fakeReranker) Rerank(_ context.Context, query string, candidates []domain.RerankCandidate) ([]domain.RerankResult, error) {
	return f.rerank(query, candidates)
}

func (f *fakeReranker) ModelName() string { return "fake-reranker" }

type fakeCache struct {
	mu        sync.Mutex
	entries   map[uuid.UUID]*domain.CacheEntry
	nearest   func(embedding []float32, threshold float64) (*domain.CacheEntry, float64, error)
	upsertErr error
	touched   []uuid.UUID
	deleted   []uuid.UUID
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[uuid.UUID]*domain.CacheEntry)}
}

func (f *fakeCache) FindNearest(_ context.Context, embedding []float32, threshold float64) (*domain.CacheEntry, float64, error) {
	if f.nearest == nil {
		return nil, 0, nil
	}
	return f.nearest(embedding, threshold)
}

func (f *fakeCache) Upsert(_ context.Context, entry *domain.CacheEntry, _ []float32) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.mu.Lock()
	f.entries[entry.ID] = entry
	f.mu.Unlock()
	return nil
}

func (f *fakeCache) Touch(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	f.touched = append(f.touched, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeCache) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, id)
	delete(f.entries, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeCache) DeleteByDocument(_ context.Context, documentID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, entry := range f.entries {
		for _, docID := range entry.DocumentIDs {
			if docID == documentID {
				delete(f.entries, id)
				n++
				break
			}
		}
	}
	return n, nil
}

func (f *fakeCache) DeleteExpired(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	now := time.Now()
	for id, entry := range f.entries {
		if entry.Expired(now) {
			delete(f.entries, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeCache) touchedIDs() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uuid.UUID, len(f.touched))
	copy(out, f.touched)
	return out
}

func hit(docID string, score float64) domain.SearchHit {
	return domain.SearchHit{
		ChunkID:    uuid.New(),
		DocumentID: docID,
		Content:    "content",
		Score:      score,
	}
}

func hitWithParent(docID string, parentID uuid.UUID, score float64) domain.SearchHit {
	return domain.SearchHit{
		ChunkID:       uuid.New(),
		ParentChunkID: &parentID,
		DocumentID:    docID,
		Content:       "content",
		Score:         score,
	}
}
