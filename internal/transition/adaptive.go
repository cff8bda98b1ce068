package transition

import (
	"math"
)

// Coef holds the linear score of one (source, destination) cell:
// intercept + Signal*s + Secondary*s2, with s and s2 already standardized.
type Coef struct {
	Intercept float64
	Signal    float64
	Secondary float64
}

// Coefficients parameterizes the signal-conditioned transition model. The
// raw signal is standardized as (signal − Baseline) / Scale before entering
// the scores, so the coefficients stay well-conditioned for GPR-style
// indexes that live around 100.
type Coefficients struct {
	K        int
	Cells    [][]Coef
	Baseline float64
	Scale    float64
}

// Default returns hand-set starting coefficients: sticky diagonal
// intercepts, and signal slopes that grow with destination severity so a
// rising signal pushes probability mass toward more severe regimes. These
// are the calibration starting point, not the final model.
func Default(k int) Coefficients {
	cells := make([][]Coef, k)
	for i := 0; i < k; i++ {
		cells[i] = make([]Coef, k)
		for j := 0; j < k; j++ {
			c := Coef{Signal: float64(j) - float64(k-1)/2}
			if i == j {
				c.Intercept = 2
			}
			cells[i][j] = c
		}
	}
	return Coefficients{K: k, Cells: cells, Baseline: 100, Scale: 100}
}

// Evaluate produces the transition matrix for the given signal values. The
// softmax normalization makes every row stochastic by construction, for any
// finite signal and any coefficient values; scores are shifted by their row
// maximum before exponentiation so extreme signals cannot overflow.
//
// Evaluate is stateless: same inputs, same matrix.
func Evaluate(c Coefficients, signal, secondary float64) [][]float64 {
	s := (signal - c.Baseline) / c.Scale
	s2 := (secondary - c.Baseline) / c.Scale

	out := make([][]float64, c.K)
	for i := 0; i < c.K; i++ {
		scores := make([]float64, c.K)
		maxScore := math.Inf(-1)
		for j := 0; j < c.K; j++ {
			cell := c.Cells[i][j]
			scores[j] = cell.Intercept + cell.Signal*s + cell.Secondary*s2
			if scores[j] > maxScore {
				maxScore = scores[j]
			}
		}
		row := make([]float64, c.K)
		var sum float64
		for j := 0; j < c.K; j++ {
			row[j] = math.Exp(scores[j] - maxScore)
			sum += row[j]
		}
		for j := 0; j < c.K; j++ {
			row[j] /= sum
		}
		out[i] = row
	}
	return out
}
