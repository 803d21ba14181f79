package domain

// Policy is a workspace's overlay. The key set is closed: it is the fixed
// set of fields below, read from typed workspace_policies columns, so there
// is no free-form key decoding step.
type Policy struct {
	Workspace                 string
	AcceptThreshold           float64
	BorderlineDelta           float64
	ToolBudgetPerTurn         int
	ToolBudgetPerRefinement   int
	ToolsRequiringApproval    []ToolName
	ToolsAllowed              []ToolName // empty means all tools allowed
	TablesAllowed             []string
	RetrieverWeightSparse     float64
	RetrieverWeightDense      float64
	RetrieverWeightEntity     float64
	VectorBackend             string // "typesense" | "none"
	EgressTLSRequired         bool
	EgressAllowPrivateIPs     bool
	EgressMaxRedirects        int
	EgressMaxBytes            int64
	EgressHostAllowlist       []string
	EgressHostDenylist        []string
}

// ToolAllowed reports whether a tool may run under this policy. An empty
// allowlist means no restriction; only a non-empty list closes the set.
func (p Policy) ToolAllowed(name ToolName) bool {
	if len(p.ToolsAllowed) == 0 {
		return true
	}
	for _, t := range p.ToolsAllowed {
		if t == name {
			return true
		}
	}
	return false
}

// RequiresApproval reports whether a tool must suspend on an Approval before
// running.
func (p Policy) RequiresApproval(name ToolName) bool {
	for _, t := range p.ToolsRequiringApproval {
		if t == name {
			return true
		}
	}
	return false
}

// TableAllowed reports whether a table name may be queried by TABLE_QUERY.
func (p Policy) TableAllowed(table string) bool {
	if len(p.TablesAllowed) == 0 {
		return false // closed-by-default for SQL, unlike general tool allowlist
	}
	for _, t := range p.TablesAllowed {
		if t == table {
			return true
		}
	}
	return false
}

// DefaultPolicy returns the process-wide defaults applied when no
// workspace overlay exists yet.
func DefaultPolicy(workspace string) Policy {
	return Policy{
		Workspace:               workspace,
		AcceptThreshold:         0.7,
		BorderlineDelta:         0.1,
		ToolBudgetPerTurn:       4,
		ToolBudgetPerRefinement: 2,
		RetrieverWeightSparse:   0.4,
		RetrieverWeightDense:    0.45,
		RetrieverWeightEntity:   0.15,
		VectorBackend:           "typesense",
		EgressTLSRequired:       true,
		EgressAllowPrivateIPs:   false,
		EgressMaxRedirects:      3,
		EgressMaxBytes:          5 << 20,
	}
}
