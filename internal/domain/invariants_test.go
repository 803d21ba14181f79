package domain

import (
	"testing"
	"time"
)

func TestPolicyEmptyAllowlistAllowsEverything(t *testing.T) {
	p := Policy{}
	for _, tool := range []ToolName{ToolWebSearch, ToolWebFetch, ToolMathEval, ToolTableQuery} {
		if !p.ToolAllowed(tool) {
			t.Errorf("empty allowlist must not restrict %s", tool)
		}
	}
}

func TestPolicyNonEmptyAllowlistIsClosed(t *testing.T) {
	p := Policy{ToolsAllowed: []ToolName{ToolMathEval}}
	if !p.ToolAllowed(ToolMathEval) {
		t.Fatal("listed tool must be allowed")
	}
	if p.ToolAllowed(ToolWebFetch) {
		t.Fatal("unlisted tool must be blocked when the allowlist is non-empty")
	}
}

func TestPolicyTableAllowlistIsClosedByDefault(t *testing.T) {
	if (Policy{}).TableAllowed("orders") {
		t.Fatal("SQL table access must be closed with no allowlist")
	}
	p := Policy{TablesAllowed: []string{"orders"}}
	if !p.TableAllowed("orders") || p.TableAllowed("secrets") {
		t.Fatal("table allowlist must admit exactly its members")
	}
}

func TestPolicyRequiresApproval(t *testing.T) {
	p := Policy{ToolsRequiringApproval: []ToolName{ToolWebFetch}}
	if !p.RequiresApproval(ToolWebFetch) || p.RequiresApproval(ToolMathEval) {
		t.Fatal("approval requirement must match the configured list exactly")
	}
}

func TestDefaultPolicyMatchesSpecDefaults(t *testing.T) {
	p := DefaultPolicy("ws")
	if p.AcceptThreshold != 0.7 || p.BorderlineDelta != 0.1 {
		t.Fatalf("unexpected thresholds: %f/%f", p.AcceptThreshold, p.BorderlineDelta)
	}
	if p.ToolBudgetPerTurn != 4 || p.ToolBudgetPerRefinement != 2 {
		t.Fatalf("unexpected budgets: %d/%d", p.ToolBudgetPerTurn, p.ToolBudgetPerRefinement)
	}
	if !p.EgressTLSRequired || p.EgressAllowPrivateIPs {
		t.Fatal("egress must default to TLS-only with private IPs blocked")
	}
	if p.EgressMaxRedirects != 3 || p.EgressMaxBytes != 5<<20 {
		t.Fatalf("unexpected egress bounds: %d/%d", p.EgressMaxRedirects, p.EgressMaxBytes)
	}
}

func TestApprovalExpiryOnlyAppliesToPending(t *testing.T) {
	base := time.Now().Add(-time.Hour)
	pending := Approval{State: ApprovalPending, CreatedAt: base, TTL: 30 * time.Minute}
	if !pending.Expired(time.Now()) {
		t.Fatal("pending approval past its TTL must expire")
	}
	approved := Approval{State: ApprovalApproved, CreatedAt: base, TTL: 30 * time.Minute}
	if approved.Expired(time.Now()) {
		t.Fatal("resolved approvals never expire")
	}
}

func TestPCNResolvedStates(t *testing.T) {
	if (PCNToken{State: PCNPending}).Resolved() {
		t.Fatal("pending pcn is not resolved")
	}
	if !(PCNToken{State: PCNVerified}).Resolved() || !(PCNToken{State: PCNFailed}).Resolved() {
		t.Fatal("verified and failed are terminal states")
	}
}

func TestPackIDsPreserveOrder(t *testing.T) {
	p := Pack{Items: []EvidenceItem{{ItemID: "b"}, {ItemID: "a"}, {ItemID: "c"}}}
	ids := p.IDs()
	if len(ids) != 3 || ids[0] != "b" || ids[1] != "a" || ids[2] != "c" {
		t.Fatalf("ids must preserve pack order, got %v", ids)
	}
}
