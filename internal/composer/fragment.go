package composer

import "strings"

// FragmentSeq is a lazy, finite sequence of text fragments forwarded to
// the stream as token events. It is a Go 1.23 range-over-func iterator: restartable
// only by calling fragmentSeqOf again, never by re-ranging the same value.
type FragmentSeq func(yield func(string) bool)

// fragmentSeqOf splits a finished draft's text into whitespace-preserving
// word fragments, mirroring how a streaming model response would arrive
// token by token even when the draft itself was produced all at once (the
// extractive fallback, or a non-streaming model call).
func fragmentSeqOf(text string) FragmentSeq {
	return func(yield func(string) bool) {
		if text == "" {
			return
		}
		fields := splitKeepingSpace(text)
		for _, f := range fields {
			if !yield(f) {
				return
			}
		}
	}
}

// splitKeepingSpace splits s into fragments that each carry their trailing
// whitespace, so concatenating the fragments reconstructs s exactly.
func splitKeepingSpace(s string) []string {
	var fragments []string
	var cur strings.Builder
	for _, r := range s {
		cur.WriteRune(r)
		if r == ' ' || r == '\n' || r == '\t' {
			fragments = append(fragments, cur.String())
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		fragments = append(fragments, cur.String())
	}
	return fragments
}

// Collect drains a FragmentSeq into a single string, mainly for tests and
// for the non-streaming HTTP response path where only the final text
// matters.
func Collect(seq FragmentSeq) string {
	var b strings.Builder
	seq(func(frag string) bool {
		b.WriteString(frag)
		return true
	})
	return b.String()
}
