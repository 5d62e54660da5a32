package retrieval

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"retrieval-service/internal/domain"
)

// sourceOrder fixes the order sources contribute to fusion. Summation is
// commutative so the order never changes scores, but it pins insertion
// order for reproducible tie-breaks.
var sourceOrder = []domain.Source{
	domain.SourceMain,
	domain.SourceHyde,
	domain.SourceReformulation,
	domain.SourceRewrite,
	domain.SourceMetadata,
	domain.SourceSubQuery,
}

// Fuse combines the per-source ranked lists with Reciprocal Rank Fusion.
// A chunk's score is the sum of 1/(K+rank) over every source it appears
// in, so chunks confirmed by independent signals rank higher. The output
// is capped at ceil(1.5*topK) to leave the reranker a buffer. The stage
// never fails; an empty input set fuses to an empty list.
func Fuse(st State, logger *slog.Logger) Delta {
	start := time.Now()

	lists := map[domain.Source][]domain.SearchHit{
		domain.SourceMain:          st.MainResults,
		domain.SourceHyde:          st.HydeResults,
		domain.SourceReformulation: st.ReformulationResults,
		domain.SourceRewrite:       st.RewriteResults,
		domain.SourceMetadata:      st.MetadataResults,
		domain.SourceSubQuery:      st.SubQueryResults,
	}

	fused := fuseSources(lists, st.TopK)

	logger.Info("rrf_fusion_completed",
		slog.String("retrieval_id", st.RetrievalID),
		slog.Int("fused_count", len(fused)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))

	return Delta{
		FusedResults: &fused,
		Timing:       &StageTiming{Stage: StageFuse, Duration: time.Since(start)},
		Stage:        StageFuse,
	}
}

func fuseSources(lists map[domain.Source][]domain.SearchHit, topK int) []domain.FusedResult {
	type entry struct {
		result domain.FusedResult
		order  int
	}
	fusedMap := make(map[string]*entry)
	order := 0

	for _, source := range sourceOrder {
		for rank, hit := range lists[source] {
			contribution := 1.0 / (RRFConstant + float64(rank+1))
			key := hit.ChunkID.String()

			if existing, ok := fusedMap[key]; ok {
				existing.result.Score += contribution
				existing.result.Sources = append(existing.result.Sources, source)
				existing.result.SourceScores[source] = hit.Score
				continue
			}
			fusedMap[key] = &entry{
				order: order,
				result: domain.FusedResult{
					ChunkID:       hit.ChunkID,
					ParentChunkID: hit.ParentChunkID,
					DocumentID:    hit.DocumentID,
					Content:       hit.Content,
					Score:         contribution,
					Sources:       []domain.Source{source},
					SourceScores:  map[domain.Source]float64{source: hit.Score},
				},
			}
			order++
		}
	}

	// Document metadata carried by metadata-search hits is propagated to
	// every fused entry of the same document.
	docTitles := make(map[string]string)
	docTypes := make(map[string]string)
	for _, hit := range lists[domain.SourceMetadata] {
		if title, ok := hit.Metadata["title"].(string); ok {
			docTitles[hit.DocumentID] = title
		}
		if accessType, ok := hit.Metadata["access_type"].(string); ok {
			docTypes[hit.DocumentID] = accessType
		}
	}

	entries := make([]*entry, 0, len(fusedMap))
	for _, e := range fusedMap {
		if title, ok := docTitles[e.result.DocumentID]; ok {
			e.result.DocumentTitle = title
		}
		if accessType, ok := docTypes[e.result.DocumentID]; ok {
			e.result.DocumentType = accessType
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].result.Score != entries[j].result.Score {
			return entries[i].result.Score > entries[j].result.Score
		}
		return entries[i].order < entries[j].order
	})

	limit := fusionCap(topK)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]domain.FusedResult, len(entries))
	for i, e := range entries {
		out[i] = e.result
	}
	return out
}

// fusionCap is the reranking buffer: ceil(1.5 * topK).
func fusionCap(topK int) int {
	return int(math.Ceil(1.5 * float64(topK)))
}
