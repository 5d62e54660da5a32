package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"retrieval-service/internal/domain"

	"golang.org/x/sync/errgroup"
)

const (
	maxReformulations = 5
	maxSubQueries     = 4
)

// Technique binds one query-transformation technique to its provider and
// generation settings. Generator is nil when the technique is disabled.
type Technique struct {
	Generator   domain.TextGenerator
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Techniques holds the four transformation techniques of the analysis
// fan-out.
type Techniques struct {
	Reformulate Technique
	Rewrite     Technique
	Hyde        Technique
	Decompose   Technique
}

// Analyze runs the query-analysis fan-out: query embedding, 3-5
// reformulated variants, one rewritten variant, a hypothetical-answer
// document with its embedding, and 2-4 decomposed sub-queries, all
// concurrently. Every branch failure is non-fatal; the branch's field
// stays empty and the error is recorded on the state.
func Analyze(
	ctx context.Context,
	st State,
	encoder domain.VectorEncoder,
	techniques Techniques,
	logger *slog.Logger,
) Delta {
	start := time.Now()

	var (
		mu     sync.Mutex
		errors []StageError
	)
	nonFatal := func(branch string, err error) {
		logger.Warn("analysis_branch_failed",
			slog.String("retrieval_id", st.RetrievalID),
			slog.String("branch", branch),
			slog.String("error", err.Error()))
		mu.Lock()
		errors = append(errors, StageError{
			Stage:   StageAnalyze,
			Message: fmt.Sprintf("%s: %v", branch, err),
		})
		mu.Unlock()
	}

	var (
		queryEmbedding []float32
		hydeEmbedding  []float32
		reformulations []string
		rewritten      string
		subQueries     []string
	)

	g, gctx := errgroup.WithContext(ctx)

	// goroutine A: original query embedding (skipped when the cache
	// check already computed it)
	if st.QueryEmbedding == nil {
		g.Go(func() error {
			embeddings, err := encoder.Encode(gctx, []string{st.Query})
			if err != nil {
				nonFatal("embedding", err)
				return nil
			}
			if len(embeddings) > 0 {
				queryEmbedding = embeddings[0]
			}
			return nil
		})
	}

	// goroutine B: reformulated variants
	g.Go(func() error {
		variants, err := generateList(gctx, techniques.Reformulate, reformulatePrompt(st.Query), maxReformulations)
		if err != nil {
			nonFatal("reformulate", err)
			return nil
		}
		reformulations = variants
		return nil
	})

	// goroutine C: rewritten query
	g.Go(func() error {
		text, err := generateText(gctx, techniques.Rewrite, rewritePrompt(st.Query))
		if err != nil {
			nonFatal("rewrite", err)
			return nil
		}
		rewritten = firstLine(text)
		return nil
	})

	// goroutine D: hypothetical-answer document and its embedding
	g.Go(func() error {
		doc, err := generateText(gctx, techniques.Hyde, hydePrompt(st.Query))
		if err != nil {
			nonFatal("hyde", err)
			return nil
		}
		if doc == "" {
			return nil
		}
		embeddings, err := encoder.Encode(gctx, []string{doc})
		if err != nil {
			nonFatal("hyde_embedding", err)
			return nil
		}
		if len(embeddings) > 0 {
			hydeEmbedding = embeddings[0]
		}
		return nil
	})

	// goroutine E: decomposed sub-queries
	g.Go(func() error {
		subs, err := generateList(gctx, techniques.Decompose, decomposePrompt(st.Query), maxSubQueries)
		if err != nil {
			nonFatal("decompose", err)
			return nil
		}
		subQueries = subs
		return nil
	})

	_ = g.Wait()

	logger.Info("query_analysis_completed",
		slog.String("retrieval_id", st.RetrievalID),
		slog.Int("iteration", st.Iterations+1),
		slog.Int("reformulation_count", len(reformulations)),
		slog.Bool("rewritten", rewritten != ""),
		slog.Bool("hyde", hydeEmbedding != nil),
		slog.Int("subquery_count", len(subQueries)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))

	d := Delta{
		Reformulations:  &reformulations,
		Rewritten:       &rewritten,
		SubQueries:      &subQueries,
		HydeEmbedding:   &hydeEmbedding,
		IterationsDelta: 1,
		Errors:          errors,
		Timing:          &StageTiming{Stage: StageAnalyze, Duration: time.Since(start)},
		Stage:           StageAnalyze,
	}
	if st.QueryEmbedding == nil {
		d.QueryEmbedding = &queryEmbedding
	}
	return d
}

// generateText runs one technique call under its own timeout.
func generateText(ctx context.Context, t Technique, prompt string) (string, error) {
	if t.Generator == nil {
		return "", nil
	}
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	text, err := t.Generator.Generate(ctx, prompt, domain.GenerateOptions{
		Model:       t.Model,
		Temperature: t.Temperature,
		MaxTokens:   t.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func generateList(ctx context.Context, t Technique, prompt string, max int) ([]string, error) {
	text, err := generateText(ctx, t, prompt)
	if err != nil {
		return nil, err
	}
	return parseLines(text, max), nil
}

// parseLines splits generator output into clean lines, stripping list
// markers the model may add despite instructions.
func parseLines(text string, max int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		trimmed = strings.TrimLeft(trimmed, "-*0123456789.) ")
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
		if len(out) == max {
			break
		}
	}
	return out
}

func firstLine(text string) string {
	lines := parseLines(text, 1)
	if len(lines) == 0 {
		return ""
	}
	return lines[0]
}

func reformulatePrompt(query string) string {
	return fmt.Sprintf(`You are an expert search query generator.
Generate 3 to 5 diverse reformulations of the user's question that would
find the same information with different wording.
Focus on synonyms, related terminology, and alternative phrasings.
Output ONLY the reformulated queries, one per line. Do not add numbering
or bullets or explanations.

Question: %s`, query)
}

func rewritePrompt(query string) string {
	return fmt.Sprintf(`Rewrite the following question as a single clear,
self-contained search query. Resolve pronouns and vague references.
Output ONLY the rewritten query on one line.

Question: %s`, query)
}

func hydePrompt(query string) string {
	return fmt.Sprintf(`Write a short factual passage (3-5 sentences) that
would plausibly appear in a document answering the question below.
Write the passage directly, without preamble.

Question: %s`, query)
}

func decomposePrompt(query string) string {
	return fmt.Sprintf(`Break the following question into 2 to 4 simpler,
self-contained sub-questions that can be answered independently.
If the question is already simple, output it unchanged as a single line.
Output ONLY the sub-questions, one per line. Do not add numbering or
bullets or explanations.

Question: %s`, query)
}
