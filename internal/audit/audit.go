// Package audit persists the redacted StepRecord trail with hand-rolled
// pgx queries against the pool. Redaction is a small, explicit regex mask
// rather than a general PII library: what gets masked must be reviewable
// at a glance.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cortexhq/cortex/common/id"
	"github.com/cortexhq/cortex/internal/apperr"
	"github.com/cortexhq/cortex/internal/domain"
)

// maskPatterns strip content that should never reach a persisted audit row:
// email addresses, bearer/API-key-shaped tokens, and raw credit-card-like
// digit runs. Each has a fixed replacement label so redaction is visible
// rather than silent.
var maskPatterns = []struct {
	re          *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[redacted-email]"},
	{regexp.MustCompile(`(?i)(bearer|api[_-]?key|sk-)[a-zA-Z0-9_\-\.]{8,}`), "[redacted-secret]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[redacted-number]"},
}

// Redact masks sensitive substrings from text bound for a StepRecord's
// question/answer fields, returning the cleaned text and how many
// substitutions were made.
func Redact(text string) (string, int) {
	count := 0
	out := text
	for _, p := range maskPatterns {
		matches := p.re.FindAllStringIndex(out, -1)
		if len(matches) == 0 {
			continue
		}
		count += len(matches)
		out = p.re.ReplaceAllString(out, p.replacement)
	}
	return out, count
}

// Store persists StepRecords directly against the connection pool.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Save redacts the question/answer text and inserts one audit row.
func (s *Store) Save(ctx context.Context, rec domain.StepRecord) (int64, error) {
	rec.RedactedQuestion, _ = Redact(rec.RedactedQuestion)
	rec.RedactedAnswer, _ = Redact(rec.RedactedAnswer)

	if rec.StepID == 0 {
		rec.StepID = id.New()
	}
	issuesJSON, err := json.Marshal(rec.Issues)
	if err != nil {
		return 0, fmt.Errorf("marshaling issues: %w", err)
	}
	trace := rec.Trace
	if trace == nil {
		trace = json.RawMessage("{}")
	}

	const q = `
INSERT INTO step_records (
	step_id, request_id, step_index, workspace, domain, is_refinement,
	redacted_question, redacted_answer, s1, s2, s, cp_accept, action,
	tools_used, pack_ids, issues, trace, status, created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, now()
)`
	_, err = s.pool.Exec(ctx, q,
		rec.StepID, rec.RequestID, rec.StepIndex, rec.Workspace, rec.Domain, rec.IsRefinement,
		rec.RedactedQuestion, rec.RedactedAnswer, rec.S1, rec.S2, rec.S, rec.CPAccept, rec.Action,
		rec.ToolsUsed, rec.PackIDs, issuesJSON, []byte(trace), rec.Status,
	)
	if err != nil {
		return 0, apperr.Resource(fmt.Errorf("inserting step record: %w", err))
	}
	return rec.StepID, nil
}

// Recent returns the most recently created step records, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]domain.StepRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const q = `
SELECT step_id, request_id, step_index, workspace, domain, is_refinement,
       redacted_question, redacted_answer, s1, s2, s, cp_accept, action,
       tools_used, pack_ids, issues, trace, status, created_at
FROM step_records
ORDER BY created_at DESC
LIMIT $1`
	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, apperr.Resource(fmt.Errorf("querying step records: %w", err))
	}
	defer rows.Close()
	return scanSteps(rows)
}

// Get returns a single step record by id.
func (s *Store) Get(ctx context.Context, stepID int64) (domain.StepRecord, bool, error) {
	const q = `
SELECT step_id, request_id, step_index, workspace, domain, is_refinement,
       redacted_question, redacted_answer, s1, s2, s, cp_accept, action,
       tools_used, pack_ids, issues, trace, status, created_at
FROM step_records
WHERE step_id = $1`
	rows, err := s.pool.Query(ctx, q, stepID)
	if err != nil {
		return domain.StepRecord{}, false, apperr.Resource(fmt.Errorf("querying step record: %w", err))
	}
	defer rows.Close()

	recs, err := scanSteps(rows)
	if err != nil {
		return domain.StepRecord{}, false, err
	}
	if len(recs) == 0 {
		return domain.StepRecord{}, false, nil
	}
	return recs[0], true, nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanSteps(rows rowScanner) ([]domain.StepRecord, error) {
	var out []domain.StepRecord
	for rows.Next() {
		var rec domain.StepRecord
		var issuesJSON, traceJSON []byte
		if err := rows.Scan(
			&rec.StepID, &rec.RequestID, &rec.StepIndex, &rec.Workspace, &rec.Domain, &rec.IsRefinement,
			&rec.RedactedQuestion, &rec.RedactedAnswer, &rec.S1, &rec.S2, &rec.S, &rec.CPAccept, &rec.Action,
			&rec.ToolsUsed, &rec.PackIDs, &issuesJSON, &traceJSON, &rec.Status, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning step record: %w", err)
		}
		if len(issuesJSON) > 0 {
			if err := json.Unmarshal(issuesJSON, &rec.Issues); err != nil {
				return nil, fmt.Errorf("unmarshaling issues: %w", err)
			}
		}
		rec.Trace = traceJSON
		out = append(out, rec)
	}
	return out, rows.Err()
}
