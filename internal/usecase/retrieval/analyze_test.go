package retrieval

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTechniques(generate func(prompt string) (string, error)) Techniques {
	g := &fakeGenerator{generate: generate}
	tech := Technique{Generator: g, Model: "test-model"}
	return Techniques{Reformulate: tech, Rewrite: tech, Hyde: tech, Decompose: tech}
}

func TestParseLines_StripsListMarkers(t *testing.T) {
	text := "- first variant\n2. second variant\n* third variant\n\n   fourth variant"
	lines := parseLines(text, 5)
	assert.Equal(t, []string{"first variant", "second variant", "third variant", "fourth variant"}, lines)
}

func TestParseLines_CapsAtMax(t *testing.T) {
	text := "a\nb\nc\nd\ne\nf"
	assert.Len(t, parseLines(text, 4), 4)
}

func TestAnalyze_AllBranchesPopulate(t *testing.T) {
	techniques := testTechniques(func(prompt string) (string, error) {
		return "line one\nline two", nil
	})
	st := State{RetrievalID: "r-1", Query: "what changed in v2"}

	d := Analyze(context.Background(), st, &fakeEncoder{}, techniques, testLogger())

	require.NotNil(t, d.QueryEmbedding)
	assert.NotEmpty(t, *d.QueryEmbedding)
	require.NotNil(t, d.Reformulations)
	assert.Equal(t, []string{"line one", "line two"}, *d.Reformulations)
	require.NotNil(t, d.Rewritten)
	assert.Equal(t, "line one", *d.Rewritten)
	require.NotNil(t, d.HydeEmbedding)
	assert.NotEmpty(t, *d.HydeEmbedding)
	require.NotNil(t, d.SubQueries)
	assert.Len(t, *d.SubQueries, 2)
	assert.Equal(t, 1, d.IterationsDelta)
	assert.Empty(t, d.Errors)
}

func TestAnalyze_SkipsEmbeddingWhenAlreadyPresent(t *testing.T) {
	encoder := &fakeEncoder{}
	techniques := testTechniques(func(string) (string, error) { return "", nil })
	st := State{Query: "q", QueryEmbedding: []float32{0.5}}

	d := Analyze(context.Background(), st, encoder, techniques, testLogger())

	assert.Nil(t, d.QueryEmbedding)
	// Only the hyde branch could call the encoder, and it generated
	// nothing.
	assert.Zero(t, encoder.calls)
}

func TestAnalyze_GeneratorFailuresAreNonFatal(t *testing.T) {
	techniques := testTechniques(func(string) (string, error) {
		return "", fmt.Errorf("model overloaded")
	})
	st := State{RetrievalID: "r-1", Query: "q"}

	d := Analyze(context.Background(), st, &fakeEncoder{}, techniques, testLogger())

	require.NotNil(t, d.QueryEmbedding)
	assert.NotEmpty(t, *d.QueryEmbedding)
	assert.Empty(t, *d.Reformulations)
	assert.Equal(t, "", *d.Rewritten)
	assert.Empty(t, *d.SubQueries)
	assert.Nil(t, *d.HydeEmbedding)
	// reformulate, rewrite, hyde, decompose all failed.
	assert.Len(t, d.Errors, 4)
	assert.Equal(t, 1, d.IterationsDelta)
}

func TestAnalyze_NilGeneratorDisablesTechnique(t *testing.T) {
	st := State{Query: "q"}

	d := Analyze(context.Background(), st, &fakeEncoder{}, Techniques{}, testLogger())

	assert.Empty(t, *d.Reformulations)
	assert.Empty(t, *d.SubQueries)
	assert.Empty(t, d.Errors)
}

func TestGenerateList_RespectsTechniqueCaps(t *testing.T) {
	g := &fakeGenerator{generate: func(string) (string, error) {
		return "a\nb\nc\nd\ne\nf\ng", nil
	}}
	tech := Technique{Generator: g}

	variants, err := generateList(context.Background(), tech, "prompt", maxReformulations)
	require.NoError(t, err)
	assert.Len(t, variants, maxReformulations)

	subs, err := generateList(context.Background(), tech, "prompt", maxSubQueries)
	require.NoError(t, err)
	assert.Len(t, subs, maxSubQueries)
}
