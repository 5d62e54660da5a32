package retrieval

import (
	"fmt"
	"time"

	"retrieval-service/internal/domain"
)

// RRFConstant is the k constant of Reciprocal Rank Fusion. 60 is the
// standard value and is fixed by the algorithm, not tunable.
const RRFConstant = 60.0

// BoostStrategy returns the score multipliers applied when an auxiliary
// collection confirms a primary hit. Injectable so tests can substitute
// deterministic values.
type BoostStrategy struct {
	// Summary is applied when the summary collection outranks the
	// primary hit for the same parent chunk.
	Summary float64
	// Question is applied for hypothetical-question confirmations.
	Question float64
}

// DefaultBoostStrategy returns the tuned production multipliers.
func DefaultBoostStrategy() BoostStrategy {
	return BoostStrategy{Summary: 1.05, Question: 1.10}
}

// ScoreFunc computes a scalar sufficiency judgment in [0, 1] from the
// enriched context set. Implementations must be monotone: more, higher
// scoring contexts never decrease the result.
type ScoreFunc func(contexts []domain.EnrichedContext, minContexts int) float64

// RerankConfig holds cross-encoder reranking parameters.
type RerankConfig struct {
	// ScoreThreshold is the minimum cross-encoder score a candidate
	// needs to survive filtering.
	ScoreThreshold float64
	// FallbackTopN is how many candidates are kept when every candidate
	// fails the threshold.
	FallbackTopN int
	// Timeout bounds a single reranker call.
	Timeout time.Duration
}

// CacheConfig holds semantic-cache parameters.
type CacheConfig struct {
	// SimilarityThreshold is the minimum cosine similarity for a cache
	// hit. 0.95 keeps hits to near-duplicate queries.
	SimilarityThreshold float64
	// TTL is how long an entry stays valid after creation.
	TTL time.Duration
}

// Config holds tunable parameters for the retrieval pipeline.
type Config struct {
	// DefaultTopK is the target context count when the request does not
	// specify one.
	DefaultTopK int

	// SearchLimit is the candidate pool size fetched per search before
	// fusion. Auxiliary collections are queried at half this limit.
	SearchLimit int

	// SufficiencyThreshold is the minimum sufficiency score that ends
	// the adaptive loop.
	SufficiencyThreshold float64

	// MaxIterations bounds query-analysis retries. The analysis stage
	// runs at most MaxIterations+1 times per request.
	MaxIterations int

	// MinContexts is the context count considered adequate by the
	// default sufficiency scorer.
	MinContexts int

	Rerank RerankConfig
	Cache  CacheConfig
	Boost  BoostStrategy

	// Scorer judges context sufficiency; defaults to DefaultScorer.
	Scorer ScoreFunc
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTopK:          5,
		SearchLimit:          20,
		SufficiencyThreshold: 0.6,
		MaxIterations:        2,
		MinContexts:          3,
		Rerank: RerankConfig{
			ScoreThreshold: 0.3,
			FallbackTopN:   3,
			Timeout:        30 * time.Second,
		},
		Cache: CacheConfig{
			SimilarityThreshold: 0.95,
			TTL:                 time.Hour,
		},
		Boost:  DefaultBoostStrategy(),
		Scorer: DefaultScorer,
	}
}

// Validate checks that the configuration values are usable.
func (c Config) Validate() error {
	if c.DefaultTopK <= 0 {
		return fmt.Errorf("defaultTopK must be positive, got %d", c.DefaultTopK)
	}
	if c.SearchLimit <= 0 {
		return fmt.Errorf("searchLimit must be positive, got %d", c.SearchLimit)
	}
	if c.SufficiencyThreshold < 0 || c.SufficiencyThreshold > 1 {
		return fmt.Errorf("sufficiencyThreshold must be in [0, 1], got %f", c.SufficiencyThreshold)
	}
	if c.MaxIterations < 0 {
		return fmt.Errorf("maxIterations must be non-negative, got %d", c.MaxIterations)
	}
	if c.MinContexts <= 0 {
		return fmt.Errorf("minContexts must be positive, got %d", c.MinContexts)
	}
	if c.Rerank.FallbackTopN <= 0 {
		return fmt.Errorf("rerank fallbackTopN must be positive, got %d", c.Rerank.FallbackTopN)
	}
	if c.Cache.SimilarityThreshold <= 0 || c.Cache.SimilarityThreshold > 1 {
		return fmt.Errorf("cache similarityThreshold must be in (0, 1], got %f", c.Cache.SimilarityThreshold)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive, got %v", c.Cache.TTL)
	}
	if c.Boost.Summary < 1 || c.Boost.Question < 1 {
		return fmt.Errorf("boost multipliers must be >= 1, got %f/%f", c.Boost.Summary, c.Boost.Question)
	}
	return nil
}
