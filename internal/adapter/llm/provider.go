package llm

import (
	"context"
	"fmt"
	"log/slog"

	"retrieval-service/internal/domain"
)

// FallbackGenerator tries each generator in order until one succeeds.
// Used to back a cheap local model with a hosted one.
type FallbackGenerator struct {
	chain  []domain.TextGenerator
	logger *slog.Logger
}

// NewFallbackGenerator builds a fallback chain. Nil entries are skipped.
func NewFallbackGenerator(logger *slog.Logger, generators ...domain.TextGenerator) *FallbackGenerator {
	chain := make([]domain.TextGenerator, 0, len(generators))
	for _, g := range generators {
		if g != nil {
			chain = append(chain, g)
		}
	}
	return &FallbackGenerator{chain: chain, logger: logger}
}

var _ domain.TextGenerator = (*FallbackGenerator)(nil)

func (f *FallbackGenerator) Generate(ctx context.Context, prompt string, opts domain.GenerateOptions) (string, error) {
	var lastErr error
	for i, g := range f.chain {
		text, err := g.Generate(ctx, prompt, opts)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if i < len(f.chain)-1 {
			f.logger.Warn("generator_fallback",
				slog.String("failed_provider", g.Name()),
				slog.String("next_provider", f.chain[i+1].Name()),
				slog.String("error", err.Error()))
		}
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		return "", fmt.Errorf("no generators configured")
	}
	return "", fmt.Errorf("all generators failed: %w", lastErr)
}

func (f *FallbackGenerator) Name() string {
	if len(f.chain) == 0 {
		return "none"
	}
	return f.chain[0].Name()
}
