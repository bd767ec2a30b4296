package query

import (
	"context"

	"github.com/schoolhub/student-ledger/internal/domain/concept"
	"github.com/schoolhub/student-ledger/internal/domain/ledger"
	"github.com/schoolhub/student-ledger/internal/domain/shared"
)

// ListConceptsQuery filters the catalog of a school.
type ListConceptsQuery struct {
	SchoolID   string
	TermID     string
	ActiveOnly bool
}

// ListConceptsHandler handles ListConceptsQuery.
type ListConceptsHandler struct {
	repos ledger.Repositories
}

// NewListConceptsHandler creates a new ListConceptsHandler.
func NewListConceptsHandler(repos ledger.Repositories) *ListConceptsHandler {
	return &ListConceptsHandler{repos: repos}
}

// Handle executes the query.
func (h *ListConceptsHandler) Handle(ctx context.Context, q ListConceptsQuery) ([]ConceptDTO, error) {
	if shared.IsBlank(q.SchoolID) {
		return nil, shared.NewValidationError("concept", "List", "school_id", "required", "school id is required")
	}

	concepts, err := h.repos.Concepts.List(ctx, concept.Filter{
		SchoolID:   q.SchoolID,
		TermID:     q.TermID,
		ActiveOnly: q.ActiveOnly,
	})
	if err != nil {
		return nil, err
	}

	out := make([]ConceptDTO, 0, len(concepts))
	for _, c := range concepts {
		out = append(out, NewConceptDTO(c))
	}
	return out, nil
}
