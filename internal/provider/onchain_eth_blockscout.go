package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"coinlens/internal/domain"
	"coinlens/internal/fetch"

	"go.opentelemetry.io/otel/trace"
)

// ETHBlockscoutProvider serves onchain.stats for ETH from the
// Blockscout explorer stats endpoint.
type ETHBlockscoutProvider struct {
	client  *http.Client
	baseURL string
	tracer  trace.Tracer
}

func NewETHBlockscoutProvider(tracer trace.Tracer, baseURL string) *ETHBlockscoutProvider {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = "https://eth.blockscout.com"
	}
	return &ETHBlockscoutProvider{
		client:  &http.Client{Timeout: 20 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		tracer:  tracer,
	}
}

// Stats is the onchain.stats caller. Params: symbol (must be ETH).
func (p *ETHBlockscoutProvider) Stats(ctx context.Context, params map[string]string) (any, error) {
	_, span := p.tracer.Start(ctx, "onchain.eth-blockscout.stats")
	defer span.End()

	if sym := params["symbol"]; sym != "ETH" {
		return nil, fmt.Errorf("unsupported symbol for eth blockscout: %s", sym)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/v2/stats", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readBody(resp, "eth blockscout")
	if err != nil {
		return nil, err
	}

	var payload struct {
		TransactionsToday            any `json:"transactions_today"`
		NetworkUtilizationPercentage any `json:"network_utilization_percentage"`
		GasPrices                    struct {
			Average any `json:"average"`
		} `json:"gas_prices"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode eth blockscout payload: %w", fetch.ErrMalformed)
	}

	txToday := asFloat(payload.TransactionsToday)
	utilization := asFloat(payload.NetworkUtilizationPercentage)
	gasAvg := asFloat(payload.GasPrices.Average)
	if txToday <= 0 && utilization <= 0 {
		return nil, fmt.Errorf("eth blockscout payload has no usable metrics: %w", fetch.ErrMalformed)
	}

	txNorm := clamp((txToday-1_500_000.0)/1_500_000.0, -1, 1)
	utilNorm := clamp((utilization-45.0)/55.0, -1, 1)
	gasPenalty := clamp((gasAvg-25.0)/120.0, -1, 1)

	score := clamp((0.45*txNorm)+(0.35*utilNorm)-(0.20*gasPenalty), -1, 1)

	return &domain.ChainStats{
		Chain:      "ethereum",
		Symbol:     "ETH",
		BucketTime: time.Now().UTC().Truncate(time.Hour),
		Score:      score,
		Confidence: confidenceFromScore(score),
		Metrics: map[string]float64{
			"transactions_today":             txToday,
			"network_utilization_percentage": utilization,
			"gas_price_average":              gasAvg,
		},
	}, nil
}
