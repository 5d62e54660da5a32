package httpapi

import (
	"log/slog"
	"net/http"

	"retrieval-service/internal/domain"
	"retrieval-service/internal/usecase"

	"github.com/labstack/echo/v4"
)

// QueryRequest is the retrieval request body. Mode is echoed back
// unchanged so callers can correlate multi-mode clients.
type QueryRequest struct {
	Query    string `json:"query"`
	TopK     int    `json:"topK,omitempty"`
	Mode     string `json:"mode,omitempty"`
	UseCache *bool  `json:"useCache,omitempty"`
}

// ContextJSON is one enriched context in the response.
type ContextJSON struct {
	ParentChunkID string  `json:"parentChunkId"`
	DocumentID    string  `json:"documentId"`
	DocumentTitle string  `json:"documentTitle,omitempty"`
	Content       string  `json:"content"`
	Score         float64 `json:"score"`
	SectionPath   string  `json:"sectionPath,omitempty"`
	Page          int     `json:"page,omitempty"`
	TokenCount    int     `json:"tokenCount,omitempty"`
}

// StageTimingJSON is per-stage latency in the metrics block.
type StageTimingJSON struct {
	Stage      string `json:"stage"`
	DurationMs int64  `json:"durationMs"`
}

// MetricsJSON exposes pipeline observability without changing the
// context payload shape.
type MetricsJSON struct {
	RetrievalID            string            `json:"retrievalId"`
	Iterations             int               `json:"iterations"`
	DecompositionTriggered bool              `json:"decompositionTriggered"`
	SufficiencyScore       float64           `json:"sufficiencyScore"`
	Stages                 []StageTimingJSON `json:"stages,omitempty"`
	Errors                 []string          `json:"errors,omitempty"`
	TotalDurationMs        int64             `json:"totalDurationMs"`
}

// QueryResponse is the retrieval response body.
type QueryResponse struct {
	Query    string        `json:"query"`
	Mode     string        `json:"mode,omitempty"`
	Cached   bool          `json:"cached"`
	Contexts []ContextJSON `json:"contexts"`
	Metrics  MetricsJSON   `json:"metrics"`
}

type Handler struct {
	retrieveUsecase usecase.RetrieveContextsUsecase
	cache           domain.SemanticCache
	logger          *slog.Logger
}

func NewHandler(retrieveUsecase usecase.RetrieveContextsUsecase, cache domain.SemanticCache, logger *slog.Logger) *Handler {
	return &Handler{
		retrieveUsecase: retrieveUsecase,
		cache:           cache,
		logger:          logger,
	}
}

// Register wires the routes. queryGroup carries the gateway-auth and
// rate-limit middleware; adminGroup additionally requires SUPER_ADMIN.
func (h *Handler) Register(e *echo.Echo, queryMiddleware, adminMiddleware []echo.MiddlewareFunc) {
	e.POST("/query", h.Query, queryMiddleware...)

	admin := e.Group("/admin/cache", adminMiddleware...)
	admin.POST("/sweep", h.SweepCache)
	admin.POST("/invalidate", h.InvalidateCache)
}

// Query runs the retrieval pipeline for an authenticated request.
func (h *Handler) Query(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	useCache := true
	if req.UseCache != nil {
		useCache = *req.UseCache
	}

	ident := IdentityFrom(c)
	output, err := h.retrieveUsecase.Execute(c.Request().Context(), usecase.RetrieveContextsInput{
		Query:    req.Query,
		TopK:     req.TopK,
		UserID:   ident.UserID,
		UserRole: ident.Role,
		UseCache: useCache,
	})
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	result := output.Result
	contexts := make([]ContextJSON, 0, len(result.Contexts))
	for _, ec := range result.Contexts {
		contexts = append(contexts, ContextJSON{
			ParentChunkID: ec.ParentChunkID.String(),
			DocumentID:    ec.DocumentID,
			DocumentTitle: ec.DocumentTitle,
			Content:       ec.Content,
			Score:         ec.Score,
			SectionPath:   ec.SectionPath,
			Page:          ec.Page,
			TokenCount:    ec.TokenCount,
		})
	}

	stages := make([]StageTimingJSON, 0, len(result.Metrics.Stages))
	for _, st := range result.Metrics.Stages {
		stages = append(stages, StageTimingJSON{
			Stage:      string(st.Stage),
			DurationMs: st.Duration.Milliseconds(),
		})
	}

	return c.JSON(http.StatusOK, QueryResponse{
		Query:    req.Query,
		Mode:     req.Mode,
		Cached:   result.Cached,
		Contexts: contexts,
		Metrics: MetricsJSON{
			RetrievalID:            result.Metrics.RetrievalID,
			Iterations:             result.Metrics.Iterations,
			DecompositionTriggered: result.Metrics.DecompositionTriggered,
			SufficiencyScore:       result.Metrics.SufficiencyScore,
			Stages:                 stages,
			Errors:                 result.Metrics.Errors,
			TotalDurationMs:        result.Metrics.TotalDuration.Milliseconds(),
		},
	})
}

// SweepCache deletes expired cache entries.
func (h *Handler) SweepCache(c echo.Context) error {
	deleted, err := h.cache.DeleteExpired(c.Request().Context())
	if err != nil {
		h.logger.Error("cache_sweep_failed", slog.String("error", err.Error()))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "sweep failed"})
	}
	h.logger.Info("cache_sweep_completed", slog.Int64("deleted", deleted))
	return c.JSON(http.StatusOK, map[string]int64{"deleted": deleted})
}

// InvalidateCache removes every cache entry referencing a document,
// called when a document is re-ingested or its access level changes.
func (h *Handler) InvalidateCache(c echo.Context) error {
	var req struct {
		DocumentID string `json:"documentId"`
	}
	if err := c.Bind(&req); err != nil || req.DocumentID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "documentId is required"})
	}

	deleted, err := h.cache.DeleteByDocument(c.Request().Context(), req.DocumentID)
	if err != nil {
		h.logger.Error("cache_invalidate_failed",
			slog.String("document_id", req.DocumentID),
			slog.String("error", err.Error()))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "invalidate failed"})
	}
	h.logger.Info("cache_invalidated",
		slog.String("document_id", req.DocumentID),
		slog.Int64("deleted", deleted))
	return c.JSON(http.StatusOK, map[string]int64{"deleted": deleted})
}
