package domain

// PCNState is the lifecycle of a proof-carrying number placeholder.
type PCNState string

const (
	PCNPending  PCNState = "pcn_pending"
	PCNVerified PCNState = "pcn_verified"
	PCNFailed   PCNState = "pcn_failed"
)

// PCNPolicy carries the unit/bounds constraints a PCN must satisfy to verify.
type PCNPolicy struct {
	RequiredUnit string
	Min          *float64
	Max          *float64
	NonNegative  bool
}

// PCNToken is a numeric placeholder minted by a tool, resolved before
// final emission. Placeholders reference PCNs by id only; the per-request
// arena (internal/decision.Arena) owns the records.
type PCNToken struct {
	ID             string
	StepIndex      int
	PlaceholderKey string // matches Draft.Placeholders entries ("{{pcn:<key>}}")
	State          PCNState
	Value          *float64
	Unit           string
	Provenance     string // tool + args that produced it
	Policy         PCNPolicy
	FailureReason  string
}

// Resolved reports whether this PCN has reached a terminal state.
func (p PCNToken) Resolved() bool {
	return p.State == PCNVerified || p.State == PCNFailed
}
