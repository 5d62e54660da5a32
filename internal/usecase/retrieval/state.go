package retrieval

import (
	"time"

	"retrieval-service/internal/domain"
)

// Stage names a pipeline state for routing, timing and observability.
type Stage string

const (
	StageCacheCheck  Stage = "cache_check"
	StageAnalyze     Stage = "analyze"
	StageBuildFilter Stage = "build_filter"
	StageRetrieve    Stage = "retrieve"
	StageFuse        Stage = "fuse"
	StageRerank      Stage = "rerank"
	StageEnrich      Stage = "enrich"
	StageSufficiency Stage = "sufficiency"
	StageDecompose   Stage = "decompose"
	StageCacheUpdate Stage = "cache_update"
	StageDone        Stage = "done"
)

// StageError records a non-fatal failure inside a stage.
type StageError struct {
	Stage   Stage
	Message string
}

// StageTiming records one stage execution's duration. A stage may appear
// multiple times when the adaptive loop re-runs it.
type StageTiming struct {
	Stage    Stage
	Duration time.Duration
}

// State is the immutable snapshot threaded through the workflow. Stages
// never mutate a State; they return a Delta that Apply merges into a new
// snapshot.
type State struct {
	// Request identity
	RetrievalID  string
	Query        string
	TopK         int
	UserID       string
	UserRole     string
	CacheEnabled bool

	// Query analysis outputs
	QueryEmbedding []float32
	HydeEmbedding  []float32
	Reformulations []string
	Rewritten      string
	SubQueries     []string

	Filter *domain.AccessFilter

	// Per-source ranked result lists
	MainResults          []domain.SearchHit
	HydeResults          []domain.SearchHit
	ReformulationResults []domain.SearchHit
	RewriteResults       []domain.SearchHit
	MetadataResults      []domain.SearchHit
	SubQueryResults      []domain.SearchHit

	FusedResults    []domain.FusedResult
	RerankedResults []domain.FusedResult
	Contexts        []domain.EnrichedContext

	// Loop control
	Iterations             int
	DecompositionTriggered bool
	SufficiencyScore       float64

	Errors       []StageError
	Timings      []StageTiming
	CurrentStage Stage
}

// Delta is a partial state update. Nil fields leave the corresponding
// snapshot field untouched; a non-nil pointer to an empty slice records
// an explicit empty result. Counters and flags merge additively and
// monotonically.
type Delta struct {
	QueryEmbedding *[]float32
	HydeEmbedding  *[]float32
	Reformulations *[]string
	Rewritten      *string
	SubQueries     *[]string

	Filter *domain.AccessFilter

	MainResults          *[]domain.SearchHit
	HydeResults          *[]domain.SearchHit
	ReformulationResults *[]domain.SearchHit
	RewriteResults       *[]domain.SearchHit
	MetadataResults      *[]domain.SearchHit
	SubQueryResults      *[]domain.SearchHit

	FusedResults    *[]domain.FusedResult
	RerankedResults *[]domain.FusedResult
	Contexts        *[]domain.EnrichedContext

	// IterationsDelta is added to the iteration counter.
	IterationsDelta int
	// DecompositionTriggered only ever flips the flag to true.
	DecompositionTriggered bool
	SufficiencyScore       *float64

	// Errors and Timing are appended, never replaced.
	Errors []StageError
	Timing *StageTiming

	Stage Stage
}

// Apply merges a delta into the snapshot and returns the new snapshot.
// Concurrent branches write to disjoint delta fields, so merging needs
// no synchronization.
func (s State) Apply(d Delta) State {
	next := s

	if d.QueryEmbedding != nil {
		next.QueryEmbedding = *d.QueryEmbedding
	}
	if d.HydeEmbedding != nil {
		next.HydeEmbedding = *d.HydeEmbedding
	}
	if d.Reformulations != nil {
		next.Reformulations = *d.Reformulations
	}
	if d.Rewritten != nil {
		next.Rewritten = *d.Rewritten
	}
	if d.SubQueries != nil {
		next.SubQueries = *d.SubQueries
	}
	if d.Filter != nil {
		next.Filter = d.Filter
	}
	if d.MainResults != nil {
		next.MainResults = *d.MainResults
	}
	if d.HydeResults != nil {
		next.HydeResults = *d.HydeResults
	}
	if d.ReformulationResults != nil {
		next.ReformulationResults = *d.ReformulationResults
	}
	if d.RewriteResults != nil {
		next.RewriteResults = *d.RewriteResults
	}
	if d.MetadataResults != nil {
		next.MetadataResults = *d.MetadataResults
	}
	if d.SubQueryResults != nil {
		next.SubQueryResults = *d.SubQueryResults
	}
	if d.FusedResults != nil {
		next.FusedResults = *d.FusedResults
	}
	if d.RerankedResults != nil {
		next.RerankedResults = *d.RerankedResults
	}
	if d.Contexts != nil {
		next.Contexts = *d.Contexts
	}
	if d.SufficiencyScore != nil {
		next.SufficiencyScore = *d.SufficiencyScore
	}

	next.Iterations += d.IterationsDelta
	if d.DecompositionTriggered {
		next.DecompositionTriggered = true
	}

	if len(d.Errors) > 0 {
		errs := make([]StageError, 0, len(s.Errors)+len(d.Errors))
		errs = append(errs, s.Errors...)
		errs = append(errs, d.Errors...)
		next.Errors = errs
	}
	if d.Timing != nil {
		timings := make([]StageTiming, 0, len(s.Timings)+1)
		timings = append(timings, s.Timings...)
		timings = append(timings, *d.Timing)
		next.Timings = timings
	}
	if d.Stage != "" {
		next.CurrentStage = d.Stage
	}

	return next
}
