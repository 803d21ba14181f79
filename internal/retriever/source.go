// Package retriever implements the hybrid retriever: three
// Source implementations (lexical, dense, entity) fused into one ordered,
// deduplicated, budget-truncated Pack.
package retriever

import (
	"context"

	"github.com/cortexhq/cortex/internal/domain"
)

// Source is one signal contributing to the fused Pack. Each Source must
// never fail the overall request: a Source that cannot serve a query
// returns an empty slice and a non-nil error only for logging/degradation
// purposes, never aborting the retrieval.
type Source interface {
	// Name identifies the source for degradation logging and audit.
	Name() string
	// Search returns candidate items with a raw, source-local score. The
	// Fuser normalizes scores across sources before combining them.
	Search(ctx context.Context, question string, workspace string, limit int) ([]domain.EvidenceItem, error)
}

// Filters narrows a retrieval request.
type Filters struct {
	Domain     string
	SourceType domain.SourceType // empty means no restriction
}
