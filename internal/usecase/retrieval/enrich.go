package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"retrieval-service/internal/domain"

	"github.com/google/uuid"
)

// Enrich maps the child-granularity reranked hits to their enclosing
// parent chunks (small-to-big), deduplicating by parent id and attaching
// the parent's full text and metadata from the metadata store. A parent
// missing from the store is dropped with a warning. The output is the
// final context set, truncated to topK.
func Enrich(
	ctx context.Context,
	st State,
	meta domain.MetadataStore,
	logger *slog.Logger,
) Delta {
	start := time.Now()

	var errors []StageError
	done := func(contexts []domain.EnrichedContext) Delta {
		return Delta{
			Contexts: &contexts,
			Errors:   errors,
			Timing:   &StageTiming{Stage: StageEnrich, Duration: time.Since(start)},
			Stage:    StageEnrich,
		}
	}

	if len(st.RerankedResults) == 0 {
		return done([]domain.EnrichedContext{})
	}

	// Group children under their parent; a hit without a parent id is
	// its own parent.
	type group struct {
		parentID uuid.UUID
		score    float64
		children []domain.SearchHit
		title    string
		docType  string
		order    int
	}
	groups := make(map[uuid.UUID]*group)
	groupOrder := 0
	for _, fr := range st.RerankedResults {
		parentID := fr.ChunkID
		if fr.ParentChunkID != nil {
			parentID = *fr.ParentChunkID
		}
		child := domain.SearchHit{
			ChunkID:       fr.ChunkID,
			ParentChunkID: fr.ParentChunkID,
			DocumentID:    fr.DocumentID,
			Content:       fr.Content,
			Score:         fr.Score,
		}
		if g, ok := groups[parentID]; ok {
			g.children = append(g.children, child)
			if fr.Score > g.score {
				g.score = fr.Score
			}
			continue
		}
		groups[parentID] = &group{
			parentID: parentID,
			score:    fr.Score,
			children: []domain.SearchHit{child},
			title:    fr.DocumentTitle,
			docType:  fr.DocumentType,
			order:    groupOrder,
		}
		groupOrder++
	}

	parentIDs := make([]uuid.UUID, 0, len(groups))
	for id := range groups {
		parentIDs = append(parentIDs, id)
	}
	parents, err := meta.GetParentChunks(ctx, parentIDs)
	if err != nil {
		logger.Warn("parent_chunk_fetch_failed",
			slog.String("retrieval_id", st.RetrievalID),
			slog.String("error", err.Error()))
		errors = append(errors, StageError{
			Stage:   StageEnrich,
			Message: "parent chunk fetch failed",
		})
		return done([]domain.EnrichedContext{})
	}

	// Fill document titles/types for groups the metadata source did not
	// already cover.
	docIDSet := make(map[string]struct{})
	for _, p := range parents {
		docIDSet[p.DocumentID] = struct{}{}
	}
	docIDs := make([]string, 0, len(docIDSet))
	for id := range docIDSet {
		docIDs = append(docIDs, id)
	}
	docs, err := meta.GetDocumentInfo(ctx, docIDs)
	if err != nil {
		logger.Warn("document_info_fetch_failed",
			slog.String("retrieval_id", st.RetrievalID),
			slog.String("error", err.Error()))
		errors = append(errors, StageError{
			Stage:   StageEnrich,
			Message: "document info fetch failed",
		})
		docs = nil
	}

	ordered := make([]*group, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].score != ordered[j].score {
			return ordered[i].score > ordered[j].score
		}
		return ordered[i].order < ordered[j].order
	})

	dropped := 0
	contexts := make([]domain.EnrichedContext, 0, len(ordered))
	for _, g := range ordered {
		parent, ok := parents[g.parentID]
		if !ok {
			dropped++
			logger.Warn("parent_chunk_missing",
				slog.String("retrieval_id", st.RetrievalID),
				slog.String("parent_chunk_id", g.parentID.String()))
			continue
		}
		ec := domain.EnrichedContext{
			ParentChunkID: parent.ID,
			DocumentID:    parent.DocumentID,
			Content:       parent.Content,
			TokenCount:    parent.TokenCount,
			Score:         g.score,
			SectionPath:   parent.SectionPath,
			Page:          parent.Page,
			DocumentTitle: g.title,
			DocumentType:  g.docType,
			ChildHits:     g.children,
		}
		if info, ok := docs[parent.DocumentID]; ok {
			if ec.DocumentTitle == "" {
				ec.DocumentTitle = info.Title
			}
			if ec.DocumentType == "" {
				ec.DocumentType = info.AccessType
			}
		}
		contexts = append(contexts, ec)
		if len(contexts) == st.TopK {
			break
		}
	}

	logger.Info("enrichment_completed",
		slog.String("retrieval_id", st.RetrievalID),
		slog.Int("parent_count", len(contexts)),
		slog.Int("dropped_missing_parents", dropped),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))

	return done(contexts)
}
