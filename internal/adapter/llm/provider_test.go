package llm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"retrieval-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGenerator struct {
	name string
	text string
	err  error
}

func (s *stubGenerator) Generate(context.Context, string, domain.GenerateOptions) (string, error) {
	return s.text, s.err
}

func (s *stubGenerator) Name() string { return s.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFallbackGenerator_UsesPrimaryWhenHealthy(t *testing.T) {
	primary := &stubGenerator{name: "primary", text: "from primary"}
	secondary := &stubGenerator{name: "secondary", text: "from secondary"}

	f := NewFallbackGenerator(discardLogger(), primary, secondary)

	text, err := f.Generate(context.Background(), "p", domain.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "from primary", text)
	assert.Equal(t, "primary", f.Name())
}

func TestFallbackGenerator_FallsThroughOnError(t *testing.T) {
	primary := &stubGenerator{name: "primary", err: fmt.Errorf("down")}
	secondary := &stubGenerator{name: "secondary", text: "from secondary"}

	f := NewFallbackGenerator(discardLogger(), primary, secondary)

	text, err := f.Generate(context.Background(), "p", domain.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "from secondary", text)
}

func TestFallbackGenerator_AllFail(t *testing.T) {
	f := NewFallbackGenerator(discardLogger(),
		&stubGenerator{name: "a", err: fmt.Errorf("a down")},
		&stubGenerator{name: "b", err: fmt.Errorf("b down")})

	_, err := f.Generate(context.Background(), "p", domain.GenerateOptions{})
	assert.Error(t, err)
}

func TestFallbackGenerator_SkipsNilEntries(t *testing.T) {
	f := NewFallbackGenerator(discardLogger(), nil, &stubGenerator{name: "only", text: "ok"})

	text, err := f.Generate(context.Background(), "p", domain.GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, "only", f.Name())
}

func TestFallbackGenerator_Empty(t *testing.T) {
	f := NewFallbackGenerator(discardLogger())

	_, err := f.Generate(context.Background(), "p", domain.GenerateOptions{})
	assert.Error(t, err)
	assert.Equal(t, "none", f.Name())
}
