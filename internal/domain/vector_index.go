package domain

import "context"

// HybridQuery describes one hybrid dense+sparse search against a single
// collection. QueryText drives the sparse (keyword) side; engines that
// derive their own sparse encoding may ignore it.
type HybridQuery struct {
	Collection Collection
	QueryText  string
	Dense      []float32
	Filter     *AccessFilter
	Limit      int
}

// VectorIndex is the external vector search engine. Implementations
// return hits ranked by relevance, highest first.
type VectorIndex interface {
	HybridSearch(ctx context.Context, q HybridQuery) ([]SearchHit, error)
}
