package decision

import "github.com/cortexhq/cortex/internal/domain"

// CheckGraph evaluates an externally-supplied graph-of-verification DAG
// against a caller-supplied set of already-verified PCN ids, for the
// standalone POST /gov/check endpoint. It is the same
// support rule Arena.CheckGoV applies to its own per-request edges, pulled
// out so a caller can check a DAG that never went through an Arena (e.g. a
// client validating a draft DAG before submitting it as evidence).
func CheckGraph(edges []domain.GoVEdge, verifiedPCN map[string]bool, assertions []string) (ok bool, failing []string, assertionResults map[string]bool) {
	ok = true
	assertionResults = make(map[string]bool, len(assertions))

	for _, e := range edges {
		edgeOK := true
		for _, pcnID := range e.SupportedBy {
			if !verifiedPCN[pcnID] {
				edgeOK = false
				break
			}
		}
		if !edgeOK {
			ok = false
			failing = append(failing, e.From+"->"+e.To)
		}
	}

	// Assertions are claim-node ids; an assertion holds only if every edge
	// terminating at that node checked out.
	for _, claim := range assertions {
		held := true
		for _, e := range edges {
			if e.To != claim {
				continue
			}
			for _, pcnID := range e.SupportedBy {
				if !verifiedPCN[pcnID] {
					held = false
				}
			}
		}
		assertionResults[claim] = held
		if !held {
			ok = false
		}
	}

	return ok, failing, assertionResults
}
