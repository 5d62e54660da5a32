package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CacheEntry is one persisted semantic-cache record. Entries only exist
// for responses whose every context belongs to a public document.
type CacheEntry struct {
	ID uuid.UUID
	// Query is the original query text, kept for diagnostics.
	Query    string
	Contexts []EnrichedContext
	// DocumentIDs is the distinct set of documents referenced by the
	// contexts, used for invalidation.
	DocumentIDs    []string
	CreatedAt      time.Time
	TTL            time.Duration
	HitCount       int
	LastAccessedAt time.Time
}

// Expired reports whether the entry's TTL has elapsed at the given time.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) >= e.TTL
}

// SemanticCache is the storage for embedding-keyed cache entries. TTL
// validation and the public-only write gate live in the pipeline's cache
// stage; this interface covers storage operations only.
type SemanticCache interface {
	// FindNearest returns the single entry most similar to the embedding
	// along with its cosine similarity, or nil when nothing reaches the
	// threshold.
	FindNearest(ctx context.Context, embedding []float32, threshold float64) (*CacheEntry, float64, error)

	// Upsert stores an entry keyed by its query embedding.
	Upsert(ctx context.Context, entry *CacheEntry, embedding []float32) error

	// Touch increments the hit counter and refreshes the last-access time.
	Touch(ctx context.Context, id uuid.UUID) error

	// Delete removes a single entry.
	Delete(ctx context.Context, id uuid.UUID) error

	// DeleteByDocument removes every entry referencing the document.
	DeleteByDocument(ctx context.Context, documentID string) (int64, error)

	// DeleteExpired removes every entry past its TTL.
	DeleteExpired(ctx context.Context) (int64, error)
}
