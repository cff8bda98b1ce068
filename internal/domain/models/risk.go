package models

import "time"

// DistributionFamily selects the conditional return distribution used for
// quantiles and tail expectations.
type DistributionFamily string

const (
	DistNormal   DistributionFamily = "normal"
	DistStudentT DistributionFamily = "student-t"
)

// Valid reports whether the family is one of the supported set.
func (d DistributionFamily) Valid() bool {
	return d == DistNormal || d == DistStudentT
}

// VaREstimate is one step of the VaR series. Value is the loss threshold on
// the negative-return side, expressed as a positive magnitude: a Value of
// 0.021 means a one-step loss worse than -2.1% is not expected at the given
// confidence.
type VaREstimate struct {
	Timestamp  time.Time
	Confidence float64
	Value      float64
	// ES is the expected shortfall at the same confidence, same sign
	// convention as Value.
	ES float64
}

// VaRSeries accumulates estimates over one analysis run.
type VaRSeries struct {
	Symbol     string
	Confidence float64
	Estimates  []VaREstimate
}

// Values extracts the VaR column.
func (s *VaRSeries) Values() []float64 {
	out := make([]float64, len(s.Estimates))
	for i, e := range s.Estimates {
		out[i] = e.Value
	}
	return out
}
