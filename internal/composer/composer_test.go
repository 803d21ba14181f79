package composer

import (
	"context"
	"strings"
	"testing"

	"github.com/cortexhq/cortex/internal/domain"
)

func TestComposeExtractiveFallbackUsesTopPackItem(t *testing.T) {
	c := New(nil)
	pack := domain.Pack{Items: []domain.EvidenceItem{
		{ItemID: "a", Text: "Go channels synchronize goroutines.", Score: 0.9},
		{ItemID: "b", Text: "lower ranked item", Score: 0.1},
	}}

	draft, seq, err := c.Compose(context.Background(), "What is a channel?", pack, 0, nil)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if !strings.Contains(draft.Text, "Go channels synchronize goroutines.") {
		t.Fatalf("expected top pack item in draft, got %q", draft.Text)
	}
	if strings.Contains(draft.Text, "lower ranked item") {
		t.Fatalf("did not expect lower ranked item in draft, got %q", draft.Text)
	}
	if draft.StepIndex != 0 {
		t.Fatalf("expected step index 0, got %d", draft.StepIndex)
	}

	collected := Collect(seq)
	if collected != draft.Text {
		t.Fatalf("fragment stream did not reconstruct draft text: %q vs %q", collected, draft.Text)
	}
}

func TestComposeExtractiveFallbackEmptyPack(t *testing.T) {
	c := New(nil)
	draft, _, err := c.Compose(context.Background(), "What is X?", domain.Pack{}, 0, nil)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if !strings.Contains(draft.Text, "no supporting evidence") {
		t.Fatalf("expected no-evidence message, got %q", draft.Text)
	}
}

func TestExtractPlaceholders(t *testing.T) {
	text := "The total is {{pcn:total}} and the rate is {{pcn:rate}}."
	ids := extractPlaceholders(text)
	if len(ids) != 2 || ids[0] != "total" || ids[1] != "rate" {
		t.Fatalf("unexpected placeholders: %v", ids)
	}
}

func TestQuestionFocusStripsInterrogativePrefix(t *testing.T) {
	cases := map[string]string{
		"What is a goroutine?":      "a goroutine",
		"How does GC work?":         "GC work",
		"Explain concurrency in Go": "Explain concurrency in Go",
	}
	for q, want := range cases {
		if got := questionFocus(q); got != want {
			t.Errorf("questionFocus(%q) = %q, want %q", q, got, want)
		}
	}
}

func TestFragmentSeqReconstructsText(t *testing.T) {
	text := "hello   world\nnext line"
	if got := Collect(fragmentSeqOf(text)); got != text {
		t.Fatalf("fragment round-trip mismatch: %q vs %q", got, text)
	}
}

func TestFragmentSeqStopsEarly(t *testing.T) {
	seq := fragmentSeqOf("one two three four")
	var got []string
	seq(func(frag string) bool {
		got = append(got, frag)
		return len(got) < 2
	})
	if len(got) != 2 {
		t.Fatalf("expected iteration to stop after 2 fragments, got %d", len(got))
	}
}
