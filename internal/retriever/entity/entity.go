// Package entity implements the entity/keyword-boost retriever Source:
// simple in-process term-overlap boosting over recent memory items, the
// third signal alongside the lexical and dense sources.
package entity

import (
	"context"
	"strings"
	"sync"

	"github.com/cortexhq/cortex/internal/domain"
)

// MemoryItem is one recent fact recorded for a workspace/domain.
type MemoryItem struct {
	ItemID    string
	Workspace string
	Domain    string
	Text      string
	Entities  []string
}

// Store is the in-process recent-memory store the entity Source reads.
// A real deployment would back this with the workspace DB's `memory`
// table; this in-process version serves recent items without forcing a DB
// round trip on every retrieval.
type Store struct {
	mu    sync.RWMutex
	items []MemoryItem
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Remember(item MemoryItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
}

// Source scores recent memory items by normalized term overlap with the
// question, a cheap entity-boost stand-in for a real graph traversal.
type Source struct {
	store *Store
}

func New(store *Store) *Source {
	return &Source{store: store}
}

func (s *Source) Name() string { return "entity" }

func (s *Source) Search(ctx context.Context, question, workspace string, limit int) ([]domain.EvidenceItem, error) {
	if s.store == nil {
		return nil, nil
	}

	terms := tokenize(question)
	s.store.mu.RLock()
	defer s.store.mu.RUnlock()

	var items []domain.EvidenceItem
	for _, mi := range s.store.items {
		if mi.Workspace != workspace {
			continue
		}
		score := overlap(terms, tokenize(mi.Text+" "+strings.Join(mi.Entities, " ")))
		if score <= 0 {
			continue
		}
		items = append(items, domain.EvidenceItem{
			ItemID:     "memory:" + mi.ItemID,
			SourceType: domain.SourceTypeMemory,
			Text:       mi.Text,
			Score:      score,
			Provenance: "memory://" + mi.ItemID,
		})
		if len(items) >= limit {
			break
		}
	}
	return items, nil
}

func tokenize(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(s)) {
		set[strings.Trim(f, ".,!?;:\"'()")] = struct{}{}
	}
	return set
}

func overlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	hits := 0
	for t := range a {
		if _, ok := b[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(a))
}
