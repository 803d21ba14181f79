package domain

import "time"

// CalibrationArtifact is one append-only observation driving the per-domain
// conformal threshold.
type CalibrationArtifact struct {
	Domain    string
	RunID     string
	Score     float64
	Accepted  bool
	Correct   bool
	CreatedAt time.Time
}

// ThresholdTable is the derived, cache-invalidated-on-import per-domain
// decision threshold.
type ThresholdTable struct {
	Domain          string
	TauAccept       float64
	BorderlineDelta float64
	SNNEQuantiles   []float64 // baseline quantiles for drift detection
	SampleCount     int
	UpdatedAt       time.Time
}

// Calibrated reports whether enough artifacts exist to trust this table
// over the static default.
func (t ThresholdTable) Calibrated(minSamples int) bool {
	return t.SampleCount >= minSamples
}
