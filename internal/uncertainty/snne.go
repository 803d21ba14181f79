// Package uncertainty implements the semantic-nearest-neighbor entropy (SNNE)
// estimator: n paraphrase samples of a draft are embedded,
// their pairwise cosine similarity drives an entropy proxy, and a per-domain
// logistic calibrator maps that proxy to s1 ∈ [0,1].
package uncertainty

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"strings"

	"github.com/cortexhq/cortex/common/llm"
	"github.com/cortexhq/cortex/internal/domain"
)

const (
	minSamples = 3
	maxSamples = 5
	embedDims  = 256
)

// Estimator computes SNNE for one draft. With no llm.AgentClient configured
// it falls back to deterministic paraphrase surrogates (word-order
// permutation and a small synonym table) rather than failing the step —
// the same "never fail the request" posture as the retriever and composer.
type Estimator struct {
	llm llm.AgentClient
}

func New(agentClient llm.AgentClient) *Estimator {
	return &Estimator{llm: agentClient}
}

// Estimate computes s1 for one step: sample, embed, compare, calibrate.
func (e *Estimator) Estimate(ctx context.Context, stepIndex int, draftText string, table domain.ThresholdTable) domain.UQ {
	samples := e.paraphrase(ctx, draftText)
	uq := domain.UQ{StepIndex: stepIndex, ParaphraseSamples: samples}

	if len(samples) <= 1 {
		// n=1 leaves entropy undefined; treated as maximum
		// uncertainty and logged.
		slog.WarnContext(ctx, "snne: fewer than 2 paraphrase samples, treating s1 as 0", "step", stepIndex)
		uq.RawSNNE = 0
		uq.S1 = 0
		return uq
	}

	vectors := make([][]float64, len(samples))
	for i, s := range samples {
		vectors[i] = embed(s)
	}

	sim := make([][]float64, len(samples))
	var sum float64
	var count int
	for i := range samples {
		sim[i] = make([]float64, len(samples))
		for j := range samples {
			if i == j {
				sim[i][j] = 1
				continue
			}
			c := cosine(vectors[i], vectors[j])
			sim[i][j] = c
			if j > i {
				sum += c
				count++
			}
		}
	}
	uq.Similarity = sim

	meanOffDiag := 0.0
	if count > 0 {
		meanOffDiag = sum / float64(count)
	}
	// Negative mean off-diagonal similarity: near 0 when paraphrases agree
	// closely (low entropy), more negative as they diverge.
	uq.RawSNNE = -meanOffDiag
	uq.S1 = logisticCalibrate(meanOffDiag, table.SNNEQuantiles)
	uq.DriftAlert = driftShift(meanOffDiag, table.SNNEQuantiles)
	return uq
}

// paraphrase generates n∈[3,5] samples, model-backed when an AgentClient is
// configured, else a deterministic surrogate.
func (e *Estimator) paraphrase(ctx context.Context, text string) []string {
	const n = 4
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if e.llm != nil {
		if samples, err := e.modelParaphrase(ctx, text, n); err == nil && len(samples) >= minSamples {
			if len(samples) > maxSamples {
				samples = samples[:maxSamples]
			}
			return samples
		}
	}
	return deterministicSurrogates(text, n)
}

func (e *Estimator) modelParaphrase(ctx context.Context, text string, n int) ([]string, error) {
	resp, err := e.llm.ChatWithTools(ctx, llm.AgentRequest{
		Messages: []llm.Message{
			{Role: "system", Content: "You rewrite the given text into distinct paraphrases preserving meaning. Reply with exactly one paraphrase per line, no numbering."},
			{Role: "user", Content: fmt.Sprintf("Produce %d paraphrases of:\n\n%s", n, text)},
		},
		MaxTokens: 1024,
	})
	if err != nil {
		return nil, fmt.Errorf("snne model paraphrase: %w", err)
	}
	lines := strings.Split(strings.TrimSpace(resp.Content), "\n")
	var out []string
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out, nil
}

// synonymTable is a small, deterministic substitution set used only when no
// model is configured — enough to perturb embeddings without inventing
// content.
var synonymTable = map[string]string{
	"important":  "significant",
	"shows":      "indicates",
	"because":    "since",
	"answer":     "response",
	"question":   "query",
	"large":      "sizable",
	"small":      "minor",
	"uses":       "employs",
	"provides":   "supplies",
	"supports":   "backs",
	"regarding":  "concerning",
	"additionally": "furthermore",
}

// deterministicSurrogates perturbs text n times via word-order rotation and
// synonym substitution so paraphrase samples carry some lexical variance
// without a model, documented in DESIGN.md.
func deterministicSurrogates(text string, n int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	out := make([]string, 0, n)
	out = append(out, text)
	for k := 1; k < n; k++ {
		variant := make([]string, len(words))
		copy(variant, words)
		rotate := k % len(variant)
		variant = append(variant[rotate:], variant[:rotate]...)
		for i, w := range variant {
			lower := strings.ToLower(strings.Trim(w, ".,;:!?"))
			if syn, ok := synonymTable[lower]; ok {
				variant[i] = syn
			}
		}
		out = append(out, strings.Join(variant, " "))
	}
	return out
}

// embed produces a deterministic hashed bag-of-words vector. No external
// embedding model is required at this size; a hand-rolled dot-product/norm
// is sufficient to drive the similarity proxy and keeps SNNE testable
// without network access (documented in DESIGN.md).
func embed(text string) []float64 {
	vec := make([]float64, embedDims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		idx := int(h.Sum32()) % embedDims
		if idx < 0 {
			idx += embedDims
		}
		vec[idx]++
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

func cosine(a, b []float64) float64 {
	var dot float64
	for i := range a {
		dot += a[i] * b[i]
	}
	return dot
}

// logisticCalibrate maps the mean off-diagonal similarity into [0,1],
// higher is more confident. Quantiles (when present) set the calibrator's
// midpoint and slope per domain; absent a baseline it uses fixed defaults.
func logisticCalibrate(meanSim float64, quantiles []float64) float64 {
	midpoint := 0.5
	slope := 8.0
	if len(quantiles) >= 2 {
		midpoint = quantiles[len(quantiles)/2]
		spread := quantiles[len(quantiles)-1] - quantiles[0]
		if spread > 1e-6 {
			slope = 4.0 / spread
		}
	}
	return 1.0 / (1.0 + math.Exp(-slope*(meanSim-midpoint)))
}

// driftShift is a KS-like shift detector: the current sample falls well
// outside the domain's baseline quantile range, suggesting the embedding
// model changed between calibration and now.
func driftShift(meanSim float64, quantiles []float64) bool {
	if len(quantiles) < 2 {
		return false
	}
	lo, hi := quantiles[0], quantiles[len(quantiles)-1]
	margin := (hi - lo) * 0.5
	return meanSim < lo-margin || meanSim > hi+margin
}
