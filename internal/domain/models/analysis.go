package models

import "time"

// AnalysisResult is the consolidated output of one run: everything the
// reporting side needs, as plain records. Note: no transport (json/http)
// concerns here.
type AnalysisResult struct {
	Symbol     string
	RunAt      time.Time
	Regimes    *RegimeModel
	Filtered   []FilteredProbability
	VaR        *VaRSeries
	Comparison *Comparison
	// Warnings carries non-fatal conditions (non-convergence, persistent
	// numerical degeneracy) surfaced as part of the result.
	Warnings []string
}
