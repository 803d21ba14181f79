package domain

// UQ is the uncertainty estimator's (SNNE) output for one step.
type UQ struct {
	StepIndex         int
	ParaphraseSamples []string
	Similarity        [][]float64 // pairwise cosine similarity matrix, len == len(ParaphraseSamples)
	RawSNNE           float64     // negative mean off-diagonal similarity (or variance proxy)
	S1                float64     // RawSNNE mapped to [0,1] via the logistic calibrator; higher = more confident
	DriftAlert        bool        // KS-like shift detected against the domain's baseline quantiles
}
