package retrieval

import (
	"context"
	"fmt"
	"testing"

	"retrieval-service/internal/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fusedResult(score float64) domain.FusedResult {
	return domain.FusedResult{
		ChunkID: uuid.New(),
		Content: "content",
		Score:   score,
	}
}

func TestRerank_FiltersByThresholdAndReorders(t *testing.T) {
	a, b, c := fusedResult(0.03), fusedResult(0.02), fusedResult(0.01)
	st := State{
		RetrievalID:  "r-1",
		Query:        "q",
		FusedResults: []domain.FusedResult{a, b, c},
	}
	reranker := &fakeReranker{rerank: func(_ string, candidates []domain.RerankCandidate) ([]domain.RerankResult, error) {
		return []domain.RerankResult{
			{ID: a.ChunkID.String(), Score: 0.2},  // below threshold
			{ID: b.ChunkID.String(), Score: 0.9},  // best
			{ID: c.ChunkID.String(), Score: 0.5},  // kept
		}, nil
	}}

	cfg := RerankConfig{ScoreThreshold: 0.3, FallbackTopN: 3}
	d := Rerank(context.Background(), st, reranker, cfg, testLogger())

	require.NotNil(t, d.RerankedResults)
	kept := *d.RerankedResults
	require.Len(t, kept, 2)
	assert.Equal(t, b.ChunkID, kept[0].ChunkID)
	assert.Equal(t, 0.9, kept[0].Score)
	assert.Equal(t, c.ChunkID, kept[1].ChunkID)
	assert.Empty(t, d.Errors)
}

func TestRerank_AllBelowThresholdKeepsFallbackTopN(t *testing.T) {
	a, b, c, e := fusedResult(0.04), fusedResult(0.03), fusedResult(0.02), fusedResult(0.01)
	st := State{
		Query:        "q",
		FusedResults: []domain.FusedResult{a, b, c, e},
	}
	reranker := &fakeReranker{rerank: func(_ string, candidates []domain.RerankCandidate) ([]domain.RerankResult, error) {
		return []domain.RerankResult{
			{ID: a.ChunkID.String(), Score: 0.10},
			{ID: b.ChunkID.String(), Score: 0.25},
			{ID: c.ChunkID.String(), Score: 0.05},
			{ID: e.ChunkID.String(), Score: 0.20},
		}, nil
	}}

	cfg := RerankConfig{ScoreThreshold: 0.3, FallbackTopN: 3}
	d := Rerank(context.Background(), st, reranker, cfg, testLogger())

	kept := *d.RerankedResults
	require.Len(t, kept, 3)
	// Best rerank scores survive in rerank order.
	assert.Equal(t, b.ChunkID, kept[0].ChunkID)
	assert.Equal(t, e.ChunkID, kept[1].ChunkID)
	assert.Equal(t, a.ChunkID, kept[2].ChunkID)
}

func TestRerank_RerankerErrorFallsBackToFusionOrder(t *testing.T) {
	a, b := fusedResult(0.04), fusedResult(0.03)
	st := State{
		Query:        "q",
		FusedResults: []domain.FusedResult{a, b},
	}
	reranker := &fakeReranker{rerank: func(string, []domain.RerankCandidate) ([]domain.RerankResult, error) {
		return nil, fmt.Errorf("connection refused")
	}}

	d := Rerank(context.Background(), st, reranker, RerankConfig{ScoreThreshold: 0.3, FallbackTopN: 3}, testLogger())

	kept := *d.RerankedResults
	require.Len(t, kept, 2)
	// Fusion order and scores pass through unfiltered.
	assert.Equal(t, a.ChunkID, kept[0].ChunkID)
	assert.Equal(t, 0.04, kept[0].Score)
	require.Len(t, d.Errors, 1)
	assert.Equal(t, StageRerank, d.Errors[0].Stage)
}

func TestRerank_NilRerankerPassesThrough(t *testing.T) {
	a := fusedResult(0.04)
	st := State{FusedResults: []domain.FusedResult{a}}

	d := Rerank(context.Background(), st, nil, RerankConfig{ScoreThreshold: 0.3, FallbackTopN: 3}, testLogger())

	kept := *d.RerankedResults
	require.Len(t, kept, 1)
	assert.Equal(t, a.ChunkID, kept[0].ChunkID)
	assert.Empty(t, d.Errors)
}

func TestRerank_EmptyInput(t *testing.T) {
	called := false
	reranker := &fakeReranker{rerank: func(string, []domain.RerankCandidate) ([]domain.RerankResult, error) {
		called = true
		return nil, nil
	}}

	d := Rerank(context.Background(), State{}, reranker, RerankConfig{ScoreThreshold: 0.3, FallbackTopN: 3}, testLogger())

	assert.Empty(t, *d.RerankedResults)
	assert.False(t, called)
}
