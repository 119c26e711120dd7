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

// BTCMempoolProvider serves onchain.stats for BTC from mempool.space's
// public statistics endpoint.
type BTCMempoolProvider struct {
	client  *http.Client
	baseURL string
	tracer  trace.Tracer
}

func NewBTCMempoolProvider(tracer trace.Tracer, baseURL string) *BTCMempoolProvider {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = "https://mempool.space"
	}
	return &BTCMempoolProvider{
		client:  &http.Client{Timeout: 20 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		tracer:  tracer,
	}
}

// Stats is the onchain.stats caller. Params: symbol (must be BTC).
func (p *BTCMempoolProvider) Stats(ctx context.Context, params map[string]string) (any, error) {
	_, span := p.tracer.Start(ctx, "onchain.btc-mempool.stats")
	defer span.End()

	if sym := params["symbol"]; sym != "BTC" {
		return nil, fmt.Errorf("unsupported symbol for btc mempool: %s", sym)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/v1/statistics/24h", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readBody(resp, "btc mempool")
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Count           float64 `json:"count"`
		VBytesPerSecond float64 `json:"vbytes_per_second"`
		MinFee          float64 `json:"min_fee"`
		TotalFee        float64 `json:"total_fee"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode btc mempool payload: %w", fetch.ErrMalformed)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("btc mempool payload has no rows: %w", fetch.ErrMalformed)
	}

	r := rows[0]
	countNorm := clamp((r.Count-120000.0)/180000.0, -1, 1)
	throughputNorm := clamp((r.VBytesPerSecond-1200.0)/2400.0, -1, 1)
	feeLoadNorm := clamp((r.MinFee-5.0)/40.0, -1, 1)
	totalFeeNorm := clamp((r.TotalFee-2_000_000.0)/8_000_000.0, -1, 1)

	score := clamp((0.35*countNorm)+(0.35*throughputNorm)+(0.15*totalFeeNorm)-(0.15*feeLoadNorm), -1, 1)

	return &domain.ChainStats{
		Chain:      "bitcoin",
		Symbol:     "BTC",
		BucketTime: time.Now().UTC().Truncate(time.Hour),
		Score:      score,
		Confidence: confidenceFromScore(score),
		Metrics: map[string]float64{
			"mempool_count":     r.Count,
			"vbytes_per_second": r.VBytesPerSecond,
			"min_fee":           r.MinFee,
			"total_fee":         r.TotalFee,
		},
	}, nil
}
