package risk

// AdjustmentConfig shapes the signal-driven volatility multiplier
// f(signal) = 1 + (signal − Baseline) / Scale, clamped to [Min, Max].
// The constants follow the GPR-index convention: an index of 100 is the
// historical norm, so f(100) = 1 and every 500 index points add one sigma
// multiple.
type AdjustmentConfig struct {
	Baseline float64
	Scale    float64
	Min      float64
	Max      float64
}

// DefaultAdjustment returns the GPR-calibrated adjustment.
func DefaultAdjustment() AdjustmentConfig {
	return AdjustmentConfig{Baseline: 100, Scale: 500, Min: 0.5, Max: 3}
}

// Factor evaluates f at the given signal. It is monotonically non-decreasing
// in the signal and equals exactly 1 at the baseline.
func (a AdjustmentConfig) Factor(signal float64) float64 {
	f := 1 + (signal-a.Baseline)/a.Scale
	if f < a.Min {
		return a.Min
	}
	if f > a.Max {
		return a.Max
	}
	return f
}
