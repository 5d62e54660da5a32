package usecase

import (
	"context"
	"fmt"
	"strings"

	"retrieval-service/internal/usecase/retrieval"

	"github.com/google/uuid"
)

// RetrieveContextsInput defines the input parameters for RetrieveContexts.
type RetrieveContextsInput struct {
	Query    string
	TopK     int
	UserID   string
	UserRole string
	UseCache bool
}

// RetrieveContextsOutput is the terminal pipeline response.
type RetrieveContextsOutput struct {
	Result *retrieval.Result
}

// RetrieveContextsUsecase defines the interface for running the
// retrieval pipeline.
type RetrieveContextsUsecase interface {
	Execute(ctx context.Context, input RetrieveContextsInput) (*RetrieveContextsOutput, error)
}

type retrieveContextsUsecase struct {
	orchestrator *retrieval.Orchestrator
}

// NewRetrieveContextsUsecase creates a new RetrieveContextsUsecase.
func NewRetrieveContextsUsecase(orchestrator *retrieval.Orchestrator) RetrieveContextsUsecase {
	return &retrieveContextsUsecase{orchestrator: orchestrator}
}

// Execute validates the request and runs the pipeline. Validation
// failures are the only errors returned to the caller; everything past
// this point degrades gracefully inside the orchestrator.
func (u *retrieveContextsUsecase) Execute(ctx context.Context, input RetrieveContextsInput) (*RetrieveContextsOutput, error) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, fmt.Errorf("query is empty")
	}
	if input.TopK < 0 {
		return nil, fmt.Errorf("topK must be non-negative, got %d", input.TopK)
	}

	result := u.orchestrator.Run(ctx, retrieval.Request{
		RetrievalID: uuid.New().String(),
		Query:       strings.TrimSpace(input.Query),
		TopK:        input.TopK,
		UserID:      input.UserID,
		UserRole:    input.UserRole,
		UseCache:    input.UseCache,
	})

	return &RetrieveContextsOutput{Result: result}, nil
}
