package models

import (
	"math"
	"testing"
	"time"
)

func validObs(n int) []Observation {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	obs := make([]Observation, n)
	for i := range obs {
		obs[i] = Observation{
			Timestamp: base.Add(time.Duration(i) * 24 * time.Hour),
			Return:    0.001 * float64(i%5),
			Signal:    100,
		}
	}
	return obs
}

func TestNewObservationSeries(t *testing.T) {
	s, err := NewObservationSeries("EURUSD", validObs(10), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Len() != 10 {
		t.Fatalf("len %d, want 10", s.Len())
	}
	if got := s.Returns(); len(got) != 10 || got[3] != 0.003 {
		t.Fatalf("returns column wrong: %v", got)
	}
	if got := s.Signals(); got[0] != 100 {
		t.Fatalf("signals column wrong: %v", got)
	}
}

func TestNewObservationSeriesEmpty(t *testing.T) {
	if _, err := NewObservationSeries("EURUSD", nil, false); err == nil {
		t.Fatalf("expected error on empty series")
	}
}

func TestNewObservationSeriesTimestampOrder(t *testing.T) {
	obs := validObs(5)
	obs[3].Timestamp = obs[2].Timestamp
	if _, err := NewObservationSeries("EURUSD", obs, false); err == nil {
		t.Fatalf("expected error on duplicate timestamp")
	}

	obs = validObs(5)
	obs[2].Timestamp = obs[4].Timestamp
	if _, err := NewObservationSeries("EURUSD", obs, false); err == nil {
		t.Fatalf("expected error on out-of-order timestamp")
	}
}

func TestNewObservationSeriesNonFinite(t *testing.T) {
	obs := validObs(5)
	obs[1].Return = math.NaN()
	if _, err := NewObservationSeries("EURUSD", obs, false); err == nil {
		t.Fatalf("expected error on NaN return")
	}

	obs = validObs(5)
	obs[4].Signal = math.Inf(1)
	if _, err := NewObservationSeries("EURUSD", obs, false); err == nil {
		t.Fatalf("expected error on infinite signal")
	}
}

func TestNewObservationSeriesSecondary(t *testing.T) {
	obs := validObs(5)
	obs[2].Secondary = math.NaN()

	// NaN in the secondary column only matters when the column is declared
	if _, err := NewObservationSeries("EURUSD", obs, false); err != nil {
		t.Fatalf("unexpected error without secondary: %v", err)
	}
	if _, err := NewObservationSeries("EURUSD", obs, true); err == nil {
		t.Fatalf("expected error on NaN secondary")
	}
}
