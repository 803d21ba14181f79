package domain

// UnresolvedPlaceholder is the literal sentinel substituted for a PCN
// that could not be verified before final emission.
const UnresolvedPlaceholder = "[unverified]"

// Draft is the composer's output for one step. Placeholders reference
// PCN placeholder keys only; the draft never embeds a PCN's value directly
// until it is resolved.
type Draft struct {
	StepIndex    int
	Text         string
	Placeholders []string // placeholder keys still embedded in Text as {{pcn:<key>}}
	UsedTools    []string
}
