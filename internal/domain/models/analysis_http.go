package models

// Requests for analysis HTTP endpoints. Defined in domain for consistency and reuse.

// ObservationPayload mirrors Observation for JSON transport.
type ObservationPayload struct {
	Timestamp string  `json:"timestamp" validate:"required"`
	Return    float64 `json:"return"`
	Signal    float64 `json:"signal"`
	Secondary float64 `json:"secondary"`
}

type AnalyzeRequest struct {
	Symbol       string               `json:"symbol" validate:"required"`
	Observations []ObservationPayload `json:"observations" validate:"required,min=2,dive"`
	Confidence   float64              `json:"confidence" default:"0.95" validate:"gt=0,lt=1"`
	Regimes      int                  `json:"regimes" default:"3" validate:"gte=2,lte=8"`
	Distribution string               `json:"distribution" default:"normal" validate:"oneof=normal student-t"`
	HasSecondary bool                 `json:"has_secondary"`
	// SynthesizeSignal derives a synthetic geopolitical index from realized
	// volatility when the posted observations carry no signal column.
	SynthesizeSignal bool `json:"synthesize_signal"`
	// FetchSignal pulls the index from the configured external provider
	// instead; mutually exclusive with SynthesizeSignal.
	FetchSignal bool `json:"fetch_signal"`
}

type ResultRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	Limit  int    `query:"limit" json:"limit" default:"500" validate:"gte=1,lte=10000"`
}

type BacktestRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
}
