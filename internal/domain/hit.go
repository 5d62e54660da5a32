package domain

import "github.com/google/uuid"

// Collection identifies a searchable content collection in the vector engine.
type Collection string

const (
	// CollectionChunks holds the primary passage index (child granularity).
	CollectionChunks Collection = "chunks"
	// CollectionSummaries holds per-document summary embeddings.
	CollectionSummaries Collection = "chunk_summaries"
	// CollectionQuestions holds hypothetical-question embeddings.
	CollectionQuestions Collection = "chunk_questions"
)

// Source names a ranked list feeding RRF fusion.
type Source string

const (
	SourceMain          Source = "main"
	SourceHyde          Source = "hyde"
	SourceReformulation Source = "reformulation"
	SourceRewrite       Source = "rewrite"
	SourceMetadata      Source = "metadata"
	SourceSubQuery      Source = "subquery"
)

// SearchHit is one raw match returned by the vector engine.
// Content may be a summary or question string rather than full passage
// text when the hit comes from an auxiliary collection.
type SearchHit struct {
	ChunkID       uuid.UUID
	ParentChunkID *uuid.UUID
	DocumentID    string
	Content       string
	Score         float64
	Metadata      map[string]any
}

// Key returns the merge key for a hit: the parent chunk id when present,
// the chunk id otherwise.
func (h SearchHit) Key() uuid.UUID {
	if h.ParentChunkID != nil {
		return *h.ParentChunkID
	}
	return h.ChunkID
}

// FusedResult is the unit produced by RRF fusion.
type FusedResult struct {
	ChunkID       uuid.UUID
	ParentChunkID *uuid.UUID
	DocumentID    string
	Content       string
	// Score is the combined RRF score, replaced by the cross-encoder
	// score after reranking.
	Score float64
	// Sources lists contributing sources in the order they were seen.
	Sources      []Source
	SourceScores map[Source]float64
	// Document metadata, set when the metadata-search source covered
	// this result's document.
	DocumentTitle string
	DocumentType  string
}

// EnrichedContext is the externally returned unit: a parent chunk with
// its full text plus the child hits that justified its inclusion.
type EnrichedContext struct {
	ParentChunkID uuid.UUID
	DocumentID    string
	Content       string
	TokenCount    int
	Score         float64
	SectionPath   string
	Page          int
	DocumentTitle string
	DocumentType  string
	ChildHits     []SearchHit
}
