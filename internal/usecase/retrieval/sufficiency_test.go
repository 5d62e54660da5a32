package retrieval

import (
	"testing"

	"retrieval-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contexts(scores ...float64) []domain.EnrichedContext {
	out := make([]domain.EnrichedContext, len(scores))
	for i, s := range scores {
		out[i] = domain.EnrichedContext{Score: s}
	}
	return out
}

func TestDefaultScorer_ZeroContextsScoreZero(t *testing.T) {
	assert.Equal(t, 0.0, DefaultScorer(nil, 3))
	assert.Equal(t, 0.0, DefaultScorer([]domain.EnrichedContext{}, 3))
}

func TestDefaultScorer_FullCoverageHighQuality(t *testing.T) {
	score := DefaultScorer(contexts(1.0, 1.0, 1.0), 3)
	assert.InDelta(t, 1.0, score, 1e-9)
}

func TestDefaultScorer_PartialCoverage(t *testing.T) {
	// One context of three wanted, perfect quality: 0.5*(1/3) + 0.5*1.
	score := DefaultScorer(contexts(1.0), 3)
	assert.InDelta(t, 0.5/3.0+0.5, score, 1e-9)
}

func TestDefaultScorer_ClampsScoresToUnitInterval(t *testing.T) {
	score := DefaultScorer(contexts(5.0, -2.0, 0.5), 3)
	// Clamped to 1, 0, 0.5 -> quality 0.5, coverage 1.
	assert.InDelta(t, 0.5+0.25, score, 1e-9)
}

func TestDefaultScorer_Monotone(t *testing.T) {
	lower := DefaultScorer(contexts(0.4, 0.4), 3)
	moreContexts := DefaultScorer(contexts(0.4, 0.4, 0.4), 3)
	higherScores := DefaultScorer(contexts(0.6, 0.6), 3)
	assert.GreaterOrEqual(t, moreContexts, lower)
	assert.GreaterOrEqual(t, higherScores, lower)
}

func TestJudge_FinishesWhenSufficient(t *testing.T) {
	cfg := DefaultConfig()
	st := State{Contexts: contexts(0.9, 0.9, 0.9)}

	d, decision := Judge(st, cfg, testLogger())
	assert.Equal(t, DecisionFinish, decision)
	require.NotNil(t, d.SufficiencyScore)
	assert.GreaterOrEqual(t, *d.SufficiencyScore, cfg.SufficiencyThreshold)
	assert.False(t, d.DecompositionTriggered)
}

func TestJudge_RetriesWhileIterationsRemain(t *testing.T) {
	cfg := DefaultConfig() // MaxIterations: 2
	st := State{Contexts: nil, Iterations: 1}

	_, decision := Judge(st, cfg, testLogger())
	assert.Equal(t, DecisionRetry, decision)

	// The analysis stage may run MaxIterations+1 times, so iteration
	// count equal to the maximum still retries.
	st.Iterations = 2
	_, decision = Judge(st, cfg, testLogger())
	assert.Equal(t, DecisionRetry, decision)
}

func TestJudge_DecomposesOnceAfterRetriesExhausted(t *testing.T) {
	cfg := DefaultConfig()
	st := State{
		Contexts:   nil,
		Iterations: cfg.MaxIterations + 1,
		SubQueries: []string{"sub a", "sub b"},
	}

	d, decision := Judge(st, cfg, testLogger())
	assert.Equal(t, DecisionDecompose, decision)
	assert.True(t, d.DecompositionTriggered)

	// Second pass with the flag set finishes regardless of score.
	st.DecompositionTriggered = true
	d, decision = Judge(st, cfg, testLogger())
	assert.Equal(t, DecisionFinish, decision)
	assert.False(t, d.DecompositionTriggered)
}

func TestJudge_FinishesWithoutSubQueries(t *testing.T) {
	cfg := DefaultConfig()
	st := State{Contexts: nil, Iterations: cfg.MaxIterations + 1}

	_, decision := Judge(st, cfg, testLogger())
	assert.Equal(t, DecisionFinish, decision)
}

func TestJudge_UsesInjectedScorer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scorer = func([]domain.EnrichedContext, int) float64 { return 1.0 }

	_, decision := Judge(State{}, cfg, testLogger())
	assert.Equal(t, DecisionFinish, decision)
}
