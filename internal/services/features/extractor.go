package features

import (
	"math"

	"github.com/montanaflynn/stats"
)

// RollingVolatility computes the annualized rolling standard deviation of
// returns over `window` steps, in percent. Entries before a full window hold
// NaN; callers that need a dense series should use SyntheticGPR which fills.
func RollingVolatility(returns []float64, window int, periodsPerYear float64) []float64 {
	out := make([]float64, len(returns))
	for i := range out {
		if i+1 < window {
			out[i] = math.NaN()
			continue
		}
		sd, err := stats.StandardDeviationSample(returns[i+1-window : i+1])
		if err != nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = sd * math.Sqrt(periodsPerYear) * 100
	}
	return out
}

// SyntheticGPR derives a geopolitical-risk proxy from the return series when
// no exogenous index is supplied: rolling 30-step volatility normalized to
// mean 100 / std 50, amplified 1.5x on days where |r| exceeds three sample
// standard deviations, then smoothed with a 5-step centered mean. Steps with
// no defined value fall back to the 100 baseline.
func SyntheticGPR(returns []float64, periodsPerYear float64) []float64 {
	const (
		volWindow   = 30
		baseline    = 100.0
		spread      = 50.0
		smoothSpan  = 5
		amplifier   = 1.5
		extremeSigm = 3.0
	)

	vol := RollingVolatility(returns, volWindow, periodsPerYear)

	defined := make([]float64, 0, len(vol))
	for _, v := range vol {
		if !math.IsNaN(v) {
			defined = append(defined, v)
		}
	}
	if len(defined) < 2 {
		out := make([]float64, len(returns))
		for i := range out {
			out[i] = baseline
		}
		return out
	}
	volMean, _ := stats.Mean(defined)
	volStd, _ := stats.StandardDeviationSample(defined)
	if volStd == 0 {
		volStd = 1
	}
	retStd, _ := stats.StandardDeviationSample(returns)

	gpr := make([]float64, len(returns))
	for i := range returns {
		if math.IsNaN(vol[i]) {
			gpr[i] = math.NaN()
			continue
		}
		g := (vol[i]-volMean)/volStd*spread + baseline
		if retStd > 0 && math.Abs(returns[i]) > extremeSigm*retStd {
			g *= amplifier
		}
		gpr[i] = g
	}

	// centered smoothing, ignoring undefined neighbours
	half := smoothSpan / 2
	out := make([]float64, len(gpr))
	for i := range gpr {
		sum, n := 0.0, 0
		for j := i - half; j <= i+half; j++ {
			if j < 0 || j >= len(gpr) || math.IsNaN(gpr[j]) {
				continue
			}
			sum += gpr[j]
			n++
		}
		if n == 0 {
			out[i] = baseline
			continue
		}
		out[i] = sum / float64(n)
	}
	return out
}

// MaxDrawdown returns the worst peak-to-trough decline of the cumulative
// return path, as a negative fraction.
func MaxDrawdown(returns []float64) float64 {
	cum := 1.0
	peak := 1.0
	worst := 0.0
	for _, r := range returns {
		cum *= 1 + r
		if cum > peak {
			peak = cum
		}
		if dd := (cum - peak) / peak; dd < worst {
			worst = dd
		}
	}
	return worst
}
