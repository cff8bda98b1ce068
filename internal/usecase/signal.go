package usecase

import (
	"context"
	"math"

	"geovar/internal/domain/models"
	domrepo "geovar/internal/domain/repository"
)

// FetchAndApplySignal replaces the series signal column with values pulled
// from the external index provider, one value per observation.
func FetchAndApplySignal(ctx context.Context, source domrepo.SignalSource, series *models.ObservationSeries) error {
	if source == nil {
		return models.NewValidationError("fetch_signal", "no signal provider configured")
	}
	n := len(series.Observations)
	from := series.Observations[0].Timestamp.Format("2006-01-02")
	to := series.Observations[n-1].Timestamp.Format("2006-01-02")

	values, err := source.Fetch(ctx, from, to)
	if err != nil {
		return err
	}
	if len(values) != n {
		return models.NewValidationError("fetch_signal", "provider returned %d values for %d observations", len(values), n)
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return models.NewValidationError("fetch_signal", "non-finite value at index %d", i)
		}
		series.Observations[i].Signal = v
	}
	return nil
}
