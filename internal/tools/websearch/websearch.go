// Package websearch implements the WEB_SEARCH tool.
package websearch

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/cortexhq/cortex/internal/domain"
	"github.com/cortexhq/cortex/internal/tools"
)

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Params is the WEB_SEARCH tool's parameter schema.
type Params struct {
	Query string `json:"query" jsonschema:"required,description=Search query"`
	K     int    `json:"k,omitempty" jsonschema:"description=Number of results requested, max 10"`
}

// Backend performs the actual search. NullBackend (below) is the default
// when no provider is configured — it reports a network_error failure
// rather than pretending results exist.
type Backend interface {
	Search(ctx context.Context, query string, k int) ([]Result, error)
}

// NullBackend always fails with network_error, used when no search
// provider is configured. It keeps the tool wired (and testable via the
// blocked/error paths) without fabricating a provider.
type NullBackend struct{}

func (NullBackend) Search(ctx context.Context, query string, k int) ([]Result, error) {
	return nil, fmt.Errorf("no web search backend configured")
}

// Tool implements tools.Tool for WEB_SEARCH, with a circuit breaker
// around the backend call.
type Tool struct {
	backend Backend
	breaker *gobreaker.CircuitBreaker
}

func New(backend Backend) *Tool {
	if backend == nil {
		backend = NullBackend{}
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "web_search",
		Timeout: 30 * time.Second,
	})
	return &Tool{backend: backend, breaker: cb}
}

func (t *Tool) Name() domain.ToolName { return domain.ToolWebSearch }

func (t *Tool) Execute(ctx context.Context, args map[string]any) domain.ToolOutcome {
	query, _ := args["query"].(string)
	if query == "" {
		return tools.Failed("parse_error", "query is required")
	}
	k := 5
	if v, ok := args["k"].(int); ok && v > 0 {
		k = v
	}
	if k > 10 {
		k = 10
	}

	raw, err := t.breaker.Execute(func() (any, error) {
		return t.backend.Search(ctx, query, k)
	})
	if err != nil {
		return tools.Failed("network_error", err.Error())
	}

	results, _ := raw.([]Result)
	return tools.Ok(results, map[string]any{"count": len(results)})
}
