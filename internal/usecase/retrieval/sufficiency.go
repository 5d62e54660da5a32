package retrieval

import (
	"log/slog"
	"time"

	"retrieval-service/internal/domain"
)

// Decision is the adaptive-loop controller's verdict after judging the
// enriched context set.
type Decision string

const (
	// DecisionFinish accepts the current contexts and proceeds to the
	// cache-update stage.
	DecisionFinish Decision = "finish"
	// DecisionRetry loops back to query analysis.
	DecisionRetry Decision = "retry"
	// DecisionDecompose branches to the sub-query executor.
	DecisionDecompose Decision = "decompose"
)

// DefaultScorer is the default sufficiency function:
// half the score comes from coverage (context count against the minimum),
// half from quality (mean score of the top minContexts contexts, clamped
// to [0, 1]). Zero contexts score zero. Monotone in both count and
// scores.
func DefaultScorer(contexts []domain.EnrichedContext, minContexts int) float64 {
	if len(contexts) == 0 {
		return 0
	}
	if minContexts <= 0 {
		minContexts = 1
	}

	coverage := float64(len(contexts)) / float64(minContexts)
	if coverage > 1 {
		coverage = 1
	}

	n := minContexts
	if n > len(contexts) {
		n = len(contexts)
	}
	var sum float64
	for _, c := range contexts[:n] {
		s := c.Score
		if s > 1 {
			s = 1
		}
		if s < 0 {
			s = 0
		}
		sum += s
	}
	quality := sum / float64(n)

	return 0.5*coverage + 0.5*quality
}

// Judge computes the sufficiency score and decides the next transition
// per the adaptive-loop decision table. Decomposition is attempted at
// most once per request and only when sub-queries exist.
func Judge(st State, cfg Config, logger *slog.Logger) (Delta, Decision) {
	start := time.Now()

	scorer := cfg.Scorer
	if scorer == nil {
		scorer = DefaultScorer
	}
	score := scorer(st.Contexts, cfg.MinContexts)

	var decision Decision
	switch {
	case score >= cfg.SufficiencyThreshold:
		decision = DecisionFinish
	case st.Iterations <= cfg.MaxIterations:
		decision = DecisionRetry
	case !st.DecompositionTriggered && len(st.SubQueries) > 0:
		decision = DecisionDecompose
	default:
		decision = DecisionFinish
	}

	logger.Info("sufficiency_judged",
		slog.String("retrieval_id", st.RetrievalID),
		slog.Float64("score", score),
		slog.Float64("threshold", cfg.SufficiencyThreshold),
		slog.Int("iteration", st.Iterations),
		slog.Int("context_count", len(st.Contexts)),
		slog.String("decision", string(decision)))

	d := Delta{
		SufficiencyScore: &score,
		Timing:           &StageTiming{Stage: StageSufficiency, Duration: time.Since(start)},
		Stage:            StageSufficiency,
	}
	if decision == DecisionDecompose {
		d.DecompositionTriggered = true
	}
	return d, decision
}
