package retriever

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/cortexhq/cortex/internal/domain"
	"github.com/cortexhq/cortex/internal/metrics"
)

// Weights controls the score-fusion formula:
// score = w_sparse*norm(sparse) + w_dense*norm(dense) + w_entity*boost.
type Weights struct {
	Sparse float64
	Dense  float64
	Entity float64
}

// Fuser combines a lexical, a dense, and an entity/keyword Source into one
// Pack. A Source failing (in particular the dense/vector backend) degrades
// the Fuser to the remaining sources, logged once per request.
type Fuser struct {
	Lexical Source
	Dense   Source
	Entity  Source
	Metrics *metrics.Registry // optional; counts per-source degrade events
}

// Fetch fans the question out, fuses and dedups the hits, and returns a
// Pack truncated to memoryBudget. It never returns an error: an empty Pack is a
// valid, expected result when the corpus is empty or sources fail.
func (f *Fuser) Fetch(ctx context.Context, question, workspace string, memoryBudget int, weights Weights, filters Filters) domain.Pack {
	if memoryBudget <= 0 {
		memoryBudget = 8
	}
	if memoryBudget > 32 {
		memoryBudget = 32
	}

	type scored struct {
		item   domain.EvidenceItem
		sparse float64
		dense  float64
		entity float64
	}

	byKey := make(map[string]*scored)
	var order []string
	var mu sync.Mutex
	var once sync.Once

	fetch := func(src Source, assign func(*scored, float64)) {
		if src == nil {
			return
		}
		items, err := src.Search(ctx, question, workspace, memoryBudget*3)
		if err != nil {
			once.Do(func() {
				slog.WarnContext(ctx, "retriever source degraded", "source", src.Name(), "error", err)
			})
			if f.Metrics != nil {
				f.Metrics.RetrieverDegradeTotal.WithLabelValues(src.Name()).Inc()
			}
			return
		}
		mu.Lock()
		defer mu.Unlock()
		for _, it := range items {
			key := contentKey(it)
			s, ok := byKey[key]
			if !ok {
				s = &scored{item: it}
				byKey[key] = s
				order = append(order, key)
			}
			assign(s, it.Score)
			// Keep the longest snippet and a provenance URL if one shows up later.
			if len(it.Text) > len(s.item.Text) {
				s.item.Text = it.Text
			}
			if s.item.URL == nil && it.URL != nil {
				s.item.URL = it.URL
			}
		}
	}

	var wg sync.WaitGroup
	for _, step := range []struct {
		src    Source
		assign func(*scored, float64)
	}{
		{f.Lexical, func(s *scored, v float64) { s.sparse = maxf(s.sparse, v) }},
		{f.Dense, func(s *scored, v float64) { s.dense = maxf(s.dense, v) }},
		{f.Entity, func(s *scored, v float64) { s.entity = maxf(s.entity, v) }},
	} {
		step := step
		if step.src == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			fetch(step.src, step.assign)
		}()
	}
	wg.Wait()

	if len(order) == 0 {
		return domain.Pack{}
	}

	maxSparse, maxDense, maxEntity := 0.0, 0.0, 0.0
	for _, key := range order {
		s := byKey[key]
		maxSparse = maxf(maxSparse, s.sparse)
		maxDense = maxf(maxDense, s.dense)
		maxEntity = maxf(maxEntity, s.entity)
	}

	results := make([]scored, 0, len(order))
	for _, key := range order {
		s := *byKey[key]
		norm := func(v, max float64) float64 {
			if max <= 0 {
				return 0
			}
			return v / max
		}
		fused := weights.Sparse*norm(s.sparse, maxSparse) +
			weights.Dense*norm(s.dense, maxDense) +
			weights.Entity*norm(s.entity, maxEntity)
		s.item.Score = fused
		results = append(results, s)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].item.Score > results[j].item.Score
	})

	if len(results) > memoryBudget {
		results = results[:memoryBudget]
	}

	pack := domain.Pack{Items: make([]domain.EvidenceItem, len(results))}
	for i, r := range results {
		pack.Items[i] = r.item
	}
	return pack
}

// contentKey deduplicates by URL when present, else by normalized text
// hash.
func contentKey(it domain.EvidenceItem) string {
	if it.URL != nil && *it.URL != "" {
		return "url:" + *it.URL
	}
	norm := strings.ToLower(strings.Join(strings.Fields(it.Text), " "))
	sum := sha256.Sum256([]byte(norm))
	return "text:" + hex.EncodeToString(sum[:])
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
