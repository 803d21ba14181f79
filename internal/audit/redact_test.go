package audit

import (
	"strings"
	"testing"
)

func TestRedactMasksEmailAddresses(t *testing.T) {
	out, n := Redact("contact jane.doe+test@example.co.uk about the incident")
	if n != 1 {
		t.Fatalf("expected 1 substitution, got %d", n)
	}
	if strings.Contains(out, "example.co.uk") {
		t.Fatalf("email survived redaction: %q", out)
	}
	if !strings.Contains(out, "[redacted-email]") {
		t.Fatalf("expected visible redaction label, got %q", out)
	}
}

func TestRedactMasksSecretShapedTokens(t *testing.T) {
	for _, in := range []string{
		"use api_key_abcDEF12345678 for access",
		"Authorization: Bearer_abcdef0123456789",
		"the key is sk-proj-abc123def456ghi",
	} {
		out, n := Redact(in)
		if n == 0 {
			t.Errorf("expected a substitution in %q, got none", in)
			continue
		}
		if !strings.Contains(out, "[redacted-secret]") {
			t.Errorf("expected secret label in %q", out)
		}
	}
}

func TestRedactMasksCardShapedDigitRuns(t *testing.T) {
	out, n := Redact("charged to 4111 1111 1111 1111 yesterday")
	if n != 1 {
		t.Fatalf("expected 1 substitution, got %d", n)
	}
	if strings.Contains(out, "4111") {
		t.Fatalf("card digits survived redaction: %q", out)
	}
}

func TestRedactLeavesCleanTextAlone(t *testing.T) {
	in := "What is the capacity of the main queue after step 3?"
	out, n := Redact(in)
	if n != 0 || out != in {
		t.Fatalf("clean text must pass unchanged, got %q (%d subs)", out, n)
	}
}
