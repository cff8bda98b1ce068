package gprindex

import (
	"context"
	"fmt"
	"time"

	drepo "geovar/internal/domain/repository"
	xhttp "geovar/pkg/http"
)

// Client fetches a geopolitical risk index from an external HTTP provider.
// It implements SignalSource: one bounded request per analysis, no streaming.
type Client struct {
	baseURL string
	apiKey  string
	http    *xhttp.Client
}

// New creates a new GPR index client.
func New(baseURL, apiKey string, timeout time.Duration) drepo.SignalSource {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    xhttp.NewClient(xhttp.WithTimeout(timeout)),
	}
}

type indexResponse struct {
	Values []struct {
		Date  string  `json:"date"`
		Value float64 `json:"value"`
	} `json:"values"`
}

// Fetch returns the index values for [from, to], ordered as the provider
// returns them (ascending by date).
func (c *Client) Fetch(ctx context.Context, from, to string) ([]float64, error) {
	var resp indexResponse
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    c.baseURL + "/v1/index",
		Headers: map[string]string{
			"Authorization": "Bearer " + c.apiKey,
		},
		QueryParams: map[string][]string{
			"from": {from},
			"to":   {to},
		},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("gpr index fetch: %w", err)
	}
	if len(resp.Values) == 0 {
		return nil, fmt.Errorf("gpr index fetch: empty range %s..%s", from, to)
	}

	out := make([]float64, len(resp.Values))
	for i, v := range resp.Values {
		out[i] = v.Value
	}
	return out, nil
}
