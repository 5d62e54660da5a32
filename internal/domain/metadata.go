package domain

import (
	"context"

	"github.com/google/uuid"
)

// ParentChunk is the enclosing larger passage of one or more child
// chunks, used for small-to-big expansion.
type ParentChunk struct {
	ID          uuid.UUID
	DocumentID  string
	Content     string
	TokenCount  int
	SectionPath string
	Page        int
}

// DocumentInfo carries document-level metadata. AccessType is "public"
// or "private" and doubles as the access-control attribute.
type DocumentInfo struct {
	ID          string
	Title       string
	AccessType  string
	Description string
}

// MetadataStore is the read-only relational metadata collaborator.
type MetadataStore interface {
	// GetParentChunks fetches parent-chunk records by id. Missing ids
	// are absent from the result map, not an error.
	GetParentChunks(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ParentChunk, error)

	// GetUserWhitelist returns the document ids the user may see beyond
	// public documents.
	GetUserWhitelist(ctx context.Context, userID string) ([]string, error)

	// GetDocumentInfo fetches title/type metadata for documents by id.
	GetDocumentInfo(ctx context.Context, ids []string) (map[string]DocumentInfo, error)

	// SearchDocuments performs a keyword search over document titles and
	// descriptions, returning each matching document's representative
	// chunk as a hit. Hit metadata carries "title" and "access_type".
	SearchDocuments(ctx context.Context, query string, limit int) ([]SearchHit, error)
}
