package models

// BacktestDecision is the outcome of a coverage test at the configured
// significance level.
type BacktestDecision string

const (
	DecisionAccept BacktestDecision = "accept"
	DecisionReject BacktestDecision = "reject"
)

// TestResult is one likelihood-ratio test outcome.
type TestResult struct {
	Name      string
	Statistic float64
	PValue    float64
	Decision  BacktestDecision
}

// BacktestSuite is the full validation of a VaR series against realized
// returns: the three coverage tests plus summary counts and the excess-loss
// statistics recovered from the violation days.
type BacktestSuite struct {
	Model         string
	Observations  int
	Violations    int
	ViolationRate float64
	ExpectedRate  float64

	Kupiec         TestResult
	Christoffersen TestResult
	Joint          TestResult

	// MeanExcess and MaxExcess measure losses beyond the VaR threshold on
	// violation days; zero when there were no violations.
	MeanExcess  float64
	MaxExcess   float64
	MaxDrawdown float64
}

// Comparison puts the adaptive model next to the static baseline.
type Comparison struct {
	Adaptive BacktestSuite
	Baseline BacktestSuite
	// ViolationRateImprovement is the relative reduction of the violation
	// rate versus the baseline, in percent.
	ViolationRateImprovement float64
}
