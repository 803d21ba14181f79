// Package calibration maintains the per-domain ThresholdTable derived
// from imported CalibrationArtifacts: an append-only artifact store plus
// a cache invalidated whenever new artifacts are imported.
package calibration

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cortexhq/cortex/internal/apperr"
	"github.com/cortexhq/cortex/internal/domain"
)

const (
	// defaultAlpha is the target miscoverage rate for the split-conformal
	// threshold: at most this fraction of artifacts labeled correct should
	// fall below τ_accept.
	defaultAlpha         = 0.1
	defaultBorderline    = 0.1
	minSNNEQuantileCount = 5
)

// Store persists CalibrationArtifacts and serves ThresholdTables from an
// in-memory cache, recomputed on import.
type Store struct {
	pool *pgxpool.Pool

	mu    sync.RWMutex
	cache map[string]domain.ThresholdTable
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, cache: make(map[string]domain.ThresholdTable)}
}

// Import appends artifacts and recomputes the threshold table for every
// domain touched. Importing the same set twice yields the same τ, since
// the computation is a deterministic function of the stored rows.
func (s *Store) Import(ctx context.Context, artifacts []domain.CalibrationArtifact) error {
	domains := map[string]bool{}
	for _, a := range artifacts {
		const q = `INSERT INTO cp_artifacts (domain, run_id, score, accepted, correct, created_at)
		           VALUES ($1, $2, $3, $4, $5, now())`
		if _, err := s.pool.Exec(ctx, q, a.Domain, a.RunID, a.Score, a.Accepted, a.Correct); err != nil {
			return apperr.Resource(fmt.Errorf("inserting calibration artifact: %w", err))
		}
		domains[a.Domain] = true
	}
	for d := range domains {
		if _, err := s.recompute(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// Threshold returns the cached ThresholdTable for domain, computing it on
// first use if not yet cached.
func (s *Store) Threshold(ctx context.Context, domainName string) (domain.ThresholdTable, error) {
	s.mu.RLock()
	t, ok := s.cache[domainName]
	s.mu.RUnlock()
	if ok {
		return t, nil
	}
	return s.recompute(ctx, domainName)
}

func (s *Store) recompute(ctx context.Context, domainName string) (domain.ThresholdTable, error) {
	const q = `SELECT score, accepted, correct FROM cp_artifacts WHERE domain = $1`
	rows, err := s.pool.Query(ctx, q, domainName)
	if err != nil {
		return domain.ThresholdTable{}, apperr.Resource(fmt.Errorf("querying calibration artifacts: %w", err))
	}
	defer rows.Close()

	var scores []float64
	var correctScores []float64
	n := 0
	for rows.Next() {
		var score float64
		var accepted, correct bool
		if err := rows.Scan(&score, &accepted, &correct); err != nil {
			return domain.ThresholdTable{}, fmt.Errorf("scanning calibration artifact: %w", err)
		}
		n++
		scores = append(scores, score)
		if correct {
			correctScores = append(correctScores, score)
		}
	}
	if err := rows.Err(); err != nil {
		return domain.ThresholdTable{}, err
	}

	table := domain.ThresholdTable{
		Domain:          domainName,
		TauAccept:       tauFromCorrectScores(correctScores),
		BorderlineDelta: defaultBorderline,
		SNNEQuantiles:   snneQuantiles(scores),
		SampleCount:     n,
		UpdatedAt:       time.Now(),
	}

	s.mu.Lock()
	s.cache[domainName] = table
	s.mu.Unlock()
	return table, nil
}

// tauFromCorrectScores picks the split-conformal threshold: the
// defaultAlpha quantile of scores known to have been correct, so that at
// most defaultAlpha of previously-correct answers would now fall below τ.
func tauFromCorrectScores(scores []float64) float64 {
	if len(scores) == 0 {
		return 0.7 // matches domain.DefaultPolicy's static threshold
	}
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	idx := int(math.Floor(defaultAlpha * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// snneQuantiles computes the decile baseline quantiles the uncertainty
// estimator's drift check compares against.
func snneQuantiles(scores []float64) []float64 {
	if len(scores) < minSNNEQuantileCount {
		return nil
	}
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	out := make([]float64, 0, 10)
	for i := 1; i <= 10; i++ {
		p := float64(i) / 10
		idx := int(p * float64(len(sorted)-1))
		out = append(out, sorted[idx])
	}
	return out
}
