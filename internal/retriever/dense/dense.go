// Package dense implements the retriever Source backed by a Typesense
// collection. It issues a keyword search only; no vector query is sent.
// Provenance URLs use the
// typesense:// scheme so audit rows can name the exact collection a hit
// came from.
package dense

import (
	"context"
	"fmt"

	"github.com/cortexhq/cortex/internal/domain"
	"github.com/typesense/typesense-go/v4/typesense"
	"github.com/typesense/typesense-go/v4/typesense/api"
)

// Source queries a Typesense collection's `text` field with Typesense's
// keyword search, filtered by workspace; the hit's text-match score is the
// item score. It does not query any embedding field.
type Source struct {
	client     *typesense.Client
	collection string
}

func New(url, apiKey, collection string) *Source {
	if url == "" {
		return &Source{}
	}
	client := typesense.NewClient(
		typesense.WithServer(url),
		typesense.WithAPIKey(apiKey),
	)
	return &Source{client: client, collection: collection}
}

func (s *Source) Name() string { return "dense" }

func (s *Source) Search(ctx context.Context, question, workspace string, limit int) ([]domain.EvidenceItem, error) {
	if s.client == nil {
		return nil, fmt.Errorf("dense source not configured")
	}

	filter := fmt.Sprintf("workspace:=%s", workspace)
	queryBy := "text"
	params := &api.SearchCollectionParams{
		Q:        &question,
		QueryBy:  &queryBy,
		FilterBy: &filter,
		PerPage:  &limit,
	}

	result, err := s.client.Collection(s.collection).Documents().Search(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("typesense search: %w", err)
	}

	var items []domain.EvidenceItem
	if result.Hits == nil {
		return items, nil
	}

	for _, hit := range *result.Hits {
		if hit.Document == nil {
			continue
		}
		doc := *hit.Document
		id, _ := doc["id"].(string)
		text, _ := doc["text"].(string)
		score := 0.0
		if hit.TextMatch != nil {
			score = float64(*hit.TextMatch)
		}
		url := fmt.Sprintf("typesense://%s/%s", s.collection, id)
		items = append(items, domain.EvidenceItem{
			ItemID:     "vector:" + id,
			SourceType: domain.SourceTypeVector,
			Text:       text,
			Score:      score,
			URL:        &url,
			Provenance: url,
		})
	}
	return items, nil
}
