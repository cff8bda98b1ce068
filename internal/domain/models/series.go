package models

import (
	"math"
	"time"
)

// Observation is one aligned (return, geopolitical signal) sample.
type Observation struct {
	Timestamp time.Time
	Return    float64
	Signal    float64
	// Secondary is an optional second exogenous signal (e.g. an oil-supply
	// stress index); zero when the series carries only one signal.
	Secondary float64
}

// ObservationSeries is an immutable, strictly time-ordered sequence of
// observations. Build it through NewObservationSeries so the invariants are
// checked once, at the boundary.
type ObservationSeries struct {
	Symbol       string
	Observations []Observation
	HasSecondary bool
}

// NewObservationSeries validates and wraps raw observations. Timestamps must
// be strictly increasing and every value finite; alignment (no gaps, no
// missing values) is the ingestion side's job and is assumed here.
func NewObservationSeries(symbol string, obs []Observation, hasSecondary bool) (*ObservationSeries, error) {
	if len(obs) == 0 {
		return nil, NewValidationError("observations", "empty series")
	}
	for i, o := range obs {
		if i > 0 && !o.Timestamp.After(obs[i-1].Timestamp) {
			return nil, NewValidationError("timestamp", "not strictly increasing at index %d", i)
		}
		if !isFinite(o.Return) {
			return nil, NewValidationError("return", "non-finite value at index %d", i)
		}
		if !isFinite(o.Signal) {
			return nil, NewValidationError("signal", "non-finite value at index %d", i)
		}
		if hasSecondary && !isFinite(o.Secondary) {
			return nil, NewValidationError("secondary", "non-finite value at index %d", i)
		}
	}
	return &ObservationSeries{Symbol: symbol, Observations: obs, HasSecondary: hasSecondary}, nil
}

// Len returns the number of observations.
func (s *ObservationSeries) Len() int { return len(s.Observations) }

// Returns extracts the return column.
func (s *ObservationSeries) Returns() []float64 {
	out := make([]float64, len(s.Observations))
	for i, o := range s.Observations {
		out[i] = o.Return
	}
	return out
}

// Signals extracts the geopolitical signal column.
func (s *ObservationSeries) Signals() []float64 {
	out := make([]float64, len(s.Observations))
	for i, o := range s.Observations {
		out[i] = o.Signal
	}
	return out
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
