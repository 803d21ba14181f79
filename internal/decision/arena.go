package decision

import (
	"fmt"
	"sync"

	"github.com/cortexhq/cortex/internal/domain"
)

// Arena owns every PCNToken and GoVEdge minted during one request and is
// freed at request end. The draft and GoV edges reference PCNs by id
// only; the arena is the one place values actually live.
type Arena struct {
	mu       sync.Mutex
	requestID string
	seq      int
	pcns     map[string]*domain.PCNToken
	govEdges []domain.GoVEdge
}

func NewArena(requestID string) *Arena {
	return &Arena{requestID: requestID, pcns: make(map[string]*domain.PCNToken)}
}

// Mint creates a new pending PCN token for a placeholder a tool is about to
// produce a numeric value for.
func (a *Arena) Mint(stepIndex int, placeholderKey, provenance string, policy domain.PCNPolicy) *domain.PCNToken {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	t := &domain.PCNToken{
		ID:             fmt.Sprintf("%s-pcn-%d", a.requestID, a.seq),
		StepIndex:      stepIndex,
		PlaceholderKey: placeholderKey,
		State:          domain.PCNPending,
		Provenance:     provenance,
		Policy:         policy,
	}
	a.pcns[t.ID] = t
	return t
}

// Resolve verifies value against the token's policy (unit, bounds,
// non-negativity) and transitions it to verified or failed.
func (a *Arena) Resolve(id string, value float64, unit string) (*domain.PCNToken, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.pcns[id]
	if !ok {
		return nil, fmt.Errorf("pcn %s not found in arena", id)
	}

	if reason := violatesPolicy(t.Policy, value, unit); reason != "" {
		t.State = domain.PCNFailed
		t.FailureReason = reason
		return t, nil
	}

	v := value
	t.Value = &v
	t.Unit = unit
	t.State = domain.PCNVerified
	return t, nil
}

// Fail marks a PCN as failed without a value (e.g. the tool that was
// supposed to resolve it errored).
func (a *Arena) Fail(id, reason string) (*domain.PCNToken, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.pcns[id]
	if !ok {
		return nil, false
	}
	t.State = domain.PCNFailed
	t.FailureReason = reason
	return t, true
}

func (a *Arena) Get(id string) (domain.PCNToken, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.pcns[id]
	if !ok {
		return domain.PCNToken{}, false
	}
	return *t, true
}

// All returns a snapshot of every PCN minted this request, in mint order is
// not guaranteed (map iteration) — callers needing order should sort by ID.
func (a *Arena) All() []domain.PCNToken {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.PCNToken, 0, len(a.pcns))
	for _, t := range a.pcns {
		out = append(out, *t)
	}
	return out
}

// AddGoVEdge records one premise→claim edge of the verification graph.
func (a *Arena) AddGoVEdge(e domain.GoVEdge) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.govEdges = append(a.govEdges, e)
}

// GoVEdges returns a snapshot of every edge recorded this request.
func (a *Arena) GoVEdges() []domain.GoVEdge {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.GoVEdge, len(a.govEdges))
	copy(out, a.govEdges)
	return out
}

// CheckGoV evaluates every edge's support: an edge is ok only if every PCN
// id it depends on resolved to verified. Unresolved or failed dependencies
// fail the edge, surfaced as a governance issue by the verifier.
func (a *Arena) CheckGoV() domain.GoVDelta {
	a.mu.Lock()
	defer a.mu.Unlock()

	delta := domain.GoVDelta{OK: true}
	for i := range a.govEdges {
		e := &a.govEdges[i]
		ok := true
		for _, pcnID := range e.SupportedBy {
			t, found := a.pcns[pcnID]
			if !found || t.State != domain.PCNVerified {
				ok = false
				break
			}
		}
		if ok {
			e.CheckOutcome = domain.GoVOutcomeOK
		} else {
			e.CheckOutcome = domain.GoVOutcomeFailed
			delta.OK = false
			delta.Failing = append(delta.Failing, e.From+"->"+e.To)
		}
	}
	return delta
}

// violatesPolicy returns a human-readable reason the value fails policy, or
// "" if it passes.
func violatesPolicy(policy domain.PCNPolicy, value float64, unit string) string {
	if policy.RequiredUnit != "" && unit != policy.RequiredUnit {
		return fmt.Sprintf("unit mismatch: expected %q, got %q", policy.RequiredUnit, unit)
	}
	if policy.NonNegative && value < 0 {
		return "value must be non-negative"
	}
	if policy.Min != nil && value < *policy.Min {
		return fmt.Sprintf("value %v below minimum %v", value, *policy.Min)
	}
	if policy.Max != nil && value > *policy.Max {
		return fmt.Sprintf("value %v above maximum %v", value, *policy.Max)
	}
	return ""
}

// Free releases the arena's records at request end.
func (a *Arena) Free() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pcns = nil
	a.govEdges = nil
}
