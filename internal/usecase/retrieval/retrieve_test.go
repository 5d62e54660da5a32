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

func TestMergeCollectionHits_BoostAppliesOnlyWhenAuxOutscores(t *testing.T) {
	parentID := uuid.New()
	primary := hitWithParent("doc-1", parentID, 0.8)
	strongSummary := hitWithParent("doc-1", parentID, 0.9)

	boost := BoostStrategy{Summary: 1.05, Question: 1.10}

	merged := mergeCollectionHits([]domain.SearchHit{primary}, []domain.SearchHit{strongSummary}, nil, boost, 10)
	require.Len(t, merged, 1)
	assert.InDelta(t, 0.8*1.05, merged[0].Score, 1e-9)
	// The primary passage text survives the boost.
	assert.Equal(t, primary.ChunkID, merged[0].ChunkID)

	// Weaker auxiliary hit leaves the primary score alone.
	weakSummary := hitWithParent("doc-1", parentID, 0.5)
	merged = mergeCollectionHits([]domain.SearchHit{primary}, []domain.SearchHit{weakSummary}, nil, boost, 10)
	require.Len(t, merged, 1)
	assert.Equal(t, 0.8, merged[0].Score)
}

func TestMergeCollectionHits_QuestionBoostIsStronger(t *testing.T) {
	parentID := uuid.New()
	primary := hitWithParent("doc-1", parentID, 0.8)
	question := hitWithParent("doc-1", parentID, 0.9)

	boost := BoostStrategy{Summary: 1.05, Question: 1.10}
	merged := mergeCollectionHits([]domain.SearchHit{primary}, nil, []domain.SearchHit{question}, boost, 10)
	require.Len(t, merged, 1)
	assert.InDelta(t, 0.8*1.10, merged[0].Score, 1e-9)
}

func TestMergeCollectionHits_AuxOnlyEntryInsertedBoosted(t *testing.T) {
	summary := hitWithParent("doc-2", uuid.New(), 0.6)
	boost := BoostStrategy{Summary: 1.05, Question: 1.10}

	merged := mergeCollectionHits(nil, []domain.SearchHit{summary}, nil, boost, 10)
	require.Len(t, merged, 1)
	assert.InDelta(t, 0.6*1.05, merged[0].Score, 1e-9)
	assert.Equal(t, summary.ChunkID, merged[0].ChunkID)
}

func TestMergeCollectionHits_KeyFallsBackToChunkID(t *testing.T) {
	orphan := hit("doc-1", 0.7) // no parent id
	sameChunkSummary := orphan
	sameChunkSummary.Score = 0.9

	boost := BoostStrategy{Summary: 1.05, Question: 1.10}
	merged := mergeCollectionHits([]domain.SearchHit{orphan}, []domain.SearchHit{sameChunkSummary}, nil, boost, 10)
	require.Len(t, merged, 1)
	assert.InDelta(t, 0.7*1.05, merged[0].Score, 1e-9)
}

func TestMergeCollectionHits_SortsAndTruncates(t *testing.T) {
	var primary []domain.SearchHit
	for i := 0; i < 6; i++ {
		primary = append(primary, hit("doc-1", float64(i)))
	}
	merged := mergeCollectionHits(primary, nil, nil, DefaultBoostStrategy(), 3)
	require.Len(t, merged, 3)
	assert.Equal(t, 5.0, merged[0].Score)
	assert.Equal(t, 4.0, merged[1].Score)
	assert.Equal(t, 3.0, merged[2].Score)
}

func TestDedupeBestScore_KeepsHighestPerChunk(t *testing.T) {
	shared := hit("doc-1", 0.5)
	better := shared
	better.Score = 0.9

	deduped := dedupeBestScore([][]domain.SearchHit{{shared}, {better}}, 10)
	require.Len(t, deduped, 1)
	assert.Equal(t, 0.9, deduped[0].Score)
}

func TestRetrieve_BranchesRunAndFailIndependently(t *testing.T) {
	parentID := uuid.New()
	index := &fakeIndex{search: func(q domain.HybridQuery) ([]domain.SearchHit, error) {
		if q.Collection == domain.CollectionSummaries {
			return nil, fmt.Errorf("summaries down")
		}
		return []domain.SearchHit{hitWithParent("doc-1", parentID, 0.9)}, nil
	}}
	encoder := &fakeEncoder{}
	meta := &fakeMetadata{searchDocs: func(query string, limit int) ([]domain.SearchHit, error) {
		return nil, fmt.Errorf("metadata search down")
	}}

	st := State{
		RetrievalID:    "r-1",
		Query:          "what is the refund policy",
		TopK:           5,
		QueryEmbedding: []float32{0.1},
		HydeEmbedding:  []float32{0.2},
		Reformulations: []string{"refund rules", "return policy"},
		Rewritten:      "refund policy",
	}

	d := Retrieve(context.Background(), st, index, encoder, meta, DefaultConfig(), testLogger())

	require.NotNil(t, d.MainResults)
	assert.NotEmpty(t, *d.MainResults)
	require.NotNil(t, d.HydeResults)
	assert.NotEmpty(t, *d.HydeResults)
	require.NotNil(t, d.ReformulationResults)
	assert.NotEmpty(t, *d.ReformulationResults)
	require.NotNil(t, d.RewriteResults)
	assert.NotEmpty(t, *d.RewriteResults)
	require.NotNil(t, d.MetadataResults)
	assert.Empty(t, *d.MetadataResults)

	// Only the metadata branch failed.
	require.Len(t, d.Errors, 1)
	assert.Equal(t, StageRetrieve, d.Errors[0].Stage)
	assert.Contains(t, d.Errors[0].Message, "metadata")
}

func TestRetrieve_SkipsVariantBranchesWithoutAnalysisOutput(t *testing.T) {
	index := &fakeIndex{search: func(q domain.HybridQuery) ([]domain.SearchHit, error) {
		return []domain.SearchHit{hit("doc-1", 0.9)}, nil
	}}
	st := State{
		RetrievalID:    "r-1",
		Query:          "q",
		TopK:           5,
		QueryEmbedding: []float32{0.1},
	}

	d := Retrieve(context.Background(), st, index, &fakeEncoder{}, &fakeMetadata{}, DefaultConfig(), testLogger())

	assert.Empty(t, *d.HydeResults)
	assert.Empty(t, *d.ReformulationResults)
	assert.Empty(t, *d.RewriteResults)
	// Main search hits all three collections.
	assert.Len(t, index.queries, 3)
}

func TestSearchCollections_FailsOnlyWhenAllCollectionsFail(t *testing.T) {
	index := &fakeIndex{search: func(q domain.HybridQuery) ([]domain.SearchHit, error) {
		return nil, fmt.Errorf("engine down")
	}}
	st := State{Query: "q", QueryEmbedding: []float32{0.1}}

	_, err := searchCollections(context.Background(), index, st, DefaultConfig())
	assert.Error(t, err)
}

func TestSearchCollections_RequiresQueryEmbedding(t *testing.T) {
	_, err := searchCollections(context.Background(), &fakeIndex{}, State{Query: "q"}, DefaultConfig())
	assert.Error(t, err)
}

func TestSearchCollections_AuxiliaryLimitsAreHalved(t *testing.T) {
	index := &fakeIndex{search: func(q domain.HybridQuery) ([]domain.SearchHit, error) {
		return nil, nil
	}}
	st := State{Query: "q", QueryEmbedding: []float32{0.1}}
	cfg := DefaultConfig()

	_, err := searchCollections(context.Background(), index, st, cfg)
	require.NoError(t, err)

	limits := map[domain.Collection]int{}
	for _, q := range index.queries {
		limits[q.Collection] = q.Limit
	}
	assert.Equal(t, cfg.SearchLimit, limits[domain.CollectionChunks])
	assert.Equal(t, cfg.SearchLimit/2, limits[domain.CollectionSummaries])
	assert.Equal(t, cfg.SearchLimit/2, limits[domain.CollectionQuestions])
}
