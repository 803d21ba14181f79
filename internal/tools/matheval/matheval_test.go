package matheval

import (
	"context"
	"testing"

	"github.com/cortexhq/cortex/internal/domain"
)

func TestExecuteEvaluatesArithmetic(t *testing.T) {
	out := New().Execute(context.Background(), map[string]any{"expression": "6 * 7.0"})
	if out.Kind != domain.ToolOutcomeOk {
		t.Fatalf("expected ok, got %s (%s)", out.Kind, out.FailedDetail)
	}
	if v := out.Value.(float64); v != 42 {
		t.Fatalf("expected 42, got %v", v)
	}
}

func TestExecuteCarriesUnitThrough(t *testing.T) {
	out := New().Execute(context.Background(), map[string]any{"expression": "40.0 + 2.0", "unit": "ms"})
	if out.Kind != domain.ToolOutcomeOk {
		t.Fatalf("expected ok, got %s", out.Kind)
	}
	if unit := out.Meta["unit"].(string); unit != "ms" {
		t.Fatalf("expected unit ms, got %q", unit)
	}
}

func TestExecuteResolvesVariables(t *testing.T) {
	out := New().Execute(context.Background(), map[string]any{
		"expression": "a / b",
		"vars":       map[string]any{"a": 10.0, "b": 4},
	})
	if out.Kind != domain.ToolOutcomeOk {
		t.Fatalf("expected ok, got %s (%s)", out.Kind, out.FailedDetail)
	}
	if v := out.Value.(float64); v != 2.5 {
		t.Fatalf("expected 2.5, got %v", v)
	}
}

func TestExecuteRejectsEmptyExpression(t *testing.T) {
	out := New().Execute(context.Background(), map[string]any{})
	if out.Kind != domain.ToolOutcomeFailed || out.FailedKind != "parse_error" {
		t.Fatalf("expected parse_error, got %s/%s", out.Kind, out.FailedKind)
	}
}

func TestExecuteReportsDomainErrorOnDivisionByZero(t *testing.T) {
	out := New().Execute(context.Background(), map[string]any{"expression": "1.0 / 0.0"})
	if out.Kind != domain.ToolOutcomeFailed || out.FailedKind != "domain_error" {
		t.Fatalf("expected domain_error, got %s/%s (%s)", out.Kind, out.FailedKind, out.FailedDetail)
	}
}

func TestExecuteRejectsNonNumericVariable(t *testing.T) {
	out := New().Execute(context.Background(), map[string]any{
		"expression": "a + 1",
		"vars":       map[string]any{"a": "not a number"},
	})
	if out.Kind != domain.ToolOutcomeFailed || out.FailedKind != "parse_error" {
		t.Fatalf("expected parse_error, got %s/%s", out.Kind, out.FailedKind)
	}
}
