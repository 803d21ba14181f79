// Package lexical implements the sparse/BM25-style lexical retriever
// Source over Postgres full-text search: a weighted tsvector generated
// column ranked with ts_rank_cd.
package lexical

import (
	"context"
	"fmt"

	"github.com/cortexhq/cortex/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Source queries a `corpus` table's generated tsvector column via
// plainto_tsquery + ts_rank_cd.
type Source struct {
	pool            *pgxpool.Pool
	snippetMaxChars int
}

func New(pool *pgxpool.Pool, snippetMaxChars int) *Source {
	if snippetMaxChars <= 0 {
		snippetMaxChars = 480
	}
	return &Source{pool: pool, snippetMaxChars: snippetMaxChars}
}

func (s *Source) Name() string { return "lexical" }

func (s *Source) Search(ctx context.Context, question, workspace string, limit int) ([]domain.EvidenceItem, error) {
	if s.pool == nil {
		return nil, nil
	}

	const query = `
SELECT id::text, left(content, $1), ts_rank_cd(ts_fielded, plainto_tsquery('english', $2)) AS rank
FROM corpus
WHERE workspace = $3 AND ts_fielded @@ plainto_tsquery('english', $2)
ORDER BY rank DESC
LIMIT $4`

	rows, err := s.pool.Query(ctx, query, s.snippetMaxChars, question, workspace, limit)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	var items []domain.EvidenceItem
	for rows.Next() {
		var id, text string
		var rank float64
		if err := rows.Scan(&id, &text, &rank); err != nil {
			return nil, fmt.Errorf("lexical scan: %w", err)
		}
		items = append(items, domain.EvidenceItem{
			ItemID:     "corpus:" + id,
			SourceType: domain.SourceTypeCorpus,
			Text:       text,
			Score:      rank,
			Provenance: fmt.Sprintf("fts://corpus/%s", id),
		})
	}
	return items, rows.Err()
}
