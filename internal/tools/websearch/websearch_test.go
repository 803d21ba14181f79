package websearch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexhq/cortex/internal/domain"
)

type fixedBackend struct {
	results []Result
	err     error
	lastK   int
}

func (b *fixedBackend) Search(ctx context.Context, query string, k int) ([]Result, error) {
	b.lastK = k
	return b.results, b.err
}

func TestExecuteReturnsBackendResults(t *testing.T) {
	backend := &fixedBackend{results: []Result{{Title: "t", URL: "https://example.com", Snippet: "s"}}}
	out := New(backend).Execute(context.Background(), map[string]any{"query": "anything"})

	require.Equal(t, domain.ToolOutcomeOk, out.Kind)
	results := out.Value.([]Result)
	require.Len(t, results, 1)
	assert.Equal(t, "https://example.com", results[0].URL)
	assert.Equal(t, 1, out.Meta["count"])
}

func TestExecuteCapsKAtTen(t *testing.T) {
	backend := &fixedBackend{}
	New(backend).Execute(context.Background(), map[string]any{"query": "q", "k": 50})
	assert.Equal(t, 10, backend.lastK)
}

func TestExecuteRequiresQuery(t *testing.T) {
	out := New(&fixedBackend{}).Execute(context.Background(), map[string]any{})
	assert.Equal(t, domain.ToolOutcomeFailed, out.Kind)
	assert.Equal(t, "parse_error", out.FailedKind)
}

func TestExecuteReportsBackendFailure(t *testing.T) {
	backend := &fixedBackend{err: errors.New("provider down")}
	out := New(backend).Execute(context.Background(), map[string]any{"query": "q"})
	assert.Equal(t, domain.ToolOutcomeFailed, out.Kind)
	assert.Equal(t, "network_error", out.FailedKind)
}

func TestNilBackendDefaultsToNull(t *testing.T) {
	out := New(nil).Execute(context.Background(), map[string]any{"query": "q"})
	assert.Equal(t, domain.ToolOutcomeFailed, out.Kind)
}
