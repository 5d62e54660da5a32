package domain

import "context"

// GenerateOptions tunes a single text-generation call.
type GenerateOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// TextGenerator defines the capability to send prompts to a
// text-generation provider and receive textual responses.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	Name() string
}
