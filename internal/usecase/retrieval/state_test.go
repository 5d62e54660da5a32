package retrieval

import (
	"testing"
	"time"

	"retrieval-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply_NilFieldsLeaveSnapshotUntouched(t *testing.T) {
	st := State{
		Query:          "q",
		QueryEmbedding: []float32{0.1},
		Reformulations: []string{"a"},
		Iterations:     1,
	}

	next := st.Apply(Delta{})

	assert.Equal(t, st.QueryEmbedding, next.QueryEmbedding)
	assert.Equal(t, st.Reformulations, next.Reformulations)
	assert.Equal(t, 1, next.Iterations)
}

func TestApply_ExplicitEmptySliceOverwrites(t *testing.T) {
	st := State{Reformulations: []string{"a", "b"}}
	empty := []string{}

	next := st.Apply(Delta{Reformulations: &empty})
	assert.Empty(t, next.Reformulations)
}

func TestApply_IterationsAreAdditive(t *testing.T) {
	st := State{Iterations: 1}
	next := st.Apply(Delta{IterationsDelta: 1})
	assert.Equal(t, 2, next.Iterations)
	// Original snapshot is untouched.
	assert.Equal(t, 1, st.Iterations)
}

func TestApply_DecompositionFlagIsMonotonic(t *testing.T) {
	st := State{}
	next := st.Apply(Delta{DecompositionTriggered: true})
	assert.True(t, next.DecompositionTriggered)

	// A later delta without the flag never clears it.
	next = next.Apply(Delta{})
	assert.True(t, next.DecompositionTriggered)
}

func TestApply_ErrorsAndTimingsAppend(t *testing.T) {
	st := State{}
	st = st.Apply(Delta{
		Errors: []StageError{{Stage: StageAnalyze, Message: "one"}},
		Timing: &StageTiming{Stage: StageAnalyze, Duration: time.Millisecond},
	})
	st = st.Apply(Delta{
		Errors: []StageError{{Stage: StageRetrieve, Message: "two"}},
		Timing: &StageTiming{Stage: StageRetrieve, Duration: time.Millisecond},
	})

	require.Len(t, st.Errors, 2)
	assert.Equal(t, StageAnalyze, st.Errors[0].Stage)
	assert.Equal(t, StageRetrieve, st.Errors[1].Stage)
	require.Len(t, st.Timings, 2)
}

func TestApply_AppendDoesNotAliasPriorSnapshot(t *testing.T) {
	base := State{}
	withOne := base.Apply(Delta{Errors: []StageError{{Stage: StageAnalyze, Message: "one"}}})

	// Two divergent successors from the same snapshot must not share
	// backing arrays.
	a := withOne.Apply(Delta{Errors: []StageError{{Stage: StageFuse, Message: "a"}}})
	b := withOne.Apply(Delta{Errors: []StageError{{Stage: StageRerank, Message: "b"}}})

	assert.Equal(t, "a", a.Errors[1].Message)
	assert.Equal(t, "b", b.Errors[1].Message)
	require.Len(t, withOne.Errors, 1)
}

func TestApply_StageAndScalars(t *testing.T) {
	score := 0.7
	rewritten := "rewritten query"
	filter := domain.NewUnrestrictedFilter(domain.RoleSuperAdmin)

	st := State{}.Apply(Delta{
		SufficiencyScore: &score,
		Rewritten:        &rewritten,
		Filter:           filter,
		Stage:            StageSufficiency,
	})

	assert.Equal(t, 0.7, st.SufficiencyScore)
	assert.Equal(t, "rewritten query", st.Rewritten)
	assert.Same(t, filter, st.Filter)
	assert.Equal(t, StageSufficiency, st.CurrentStage)
}
