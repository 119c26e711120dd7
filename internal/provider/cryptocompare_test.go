package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"coinlens/internal/domain"
	"coinlens/internal/fetch"
)

func TestCryptoCompareQuote(t *testing.T) {
	t.Parallel()

	p := NewCryptoCompareProvider(testTracer(), "k")
	p.baseURL = "http://example"
	p.client = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			if got := req.Header.Get("Authorization"); got != "Apikey k" {
				t.Fatalf("authorization header missing, got %q", got)
			}
			return jsonResponse(http.StatusOK, map[string]any{
				"RAW": map[string]any{
					"SOL": map[string]any{
						"USD": map[string]any{
							"PRICE":            142.7,
							"TOTALVOLUME24HTO": 3.1e9,
							"CHANGEPCT24HOUR":  4.2,
							"MKTCAP":           6.6e10,
							"LASTUPDATE":       int64(1767225600),
						},
					},
				},
			}), nil
		}),
	}

	v, err := p.Quote(context.Background(), map[string]string{"symbol": "SOL"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q := v.(*domain.Quote)
	if q.PriceUSD != 142.7 || q.LastUpdatedUnix != 1767225600 {
		t.Fatalf("unexpected quote: %+v", q)
	}
}

func TestCryptoCompareQuoteRejectsMissingPrice(t *testing.T) {
	t.Parallel()

	p := NewCryptoCompareProvider(testTracer(), "")
	p.baseURL = "http://example"
	p.client = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, map[string]any{
				"RAW": map[string]any{"SOL": map[string]any{"USD": map[string]any{"PRICE": nil}}},
			}), nil
		}),
	}

	_, err := p.Quote(context.Background(), map[string]string{"symbol": "SOL"})
	if !errors.Is(err, fetch.ErrMalformed) {
		t.Fatalf("null PRICE should be malformed, got %v", err)
	}
}

func TestCryptoCompareNews(t *testing.T) {
	t.Parallel()

	p := NewCryptoCompareProvider(testTracer(), "")
	p.baseURL = "http://example"
	p.client = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			if !strings.Contains(req.URL.Path, "/data/v2/news/") {
				t.Fatalf("unexpected path: %s", req.URL.Path)
			}
			return jsonResponse(http.StatusOK, map[string]any{
				"Data": []map[string]any{
					{
						"id":           "1",
						"title":        "Bitcoin breaks resistance",
						"url":          "https://example.com/1",
						"body":         "Details about the move.",
						"source":       "exampledesk",
						"published_on": int64(1767225600),
					},
					{
						"id":           "2",
						"title":        "",
						"published_on": int64(1767225601),
					},
				},
			}), nil
		}),
	}

	v, err := p.News(context.Background(), map[string]string{"limit": "10"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	items := v.([]domain.NewsItem)
	if len(items) != 1 {
		t.Fatalf("untitled rows should be skipped, got %d items", len(items))
	}
	if items[0].Title != "Bitcoin breaks resistance" || items[0].Source != "cryptocompare" {
		t.Fatalf("unexpected item: %+v", items[0])
	}
}

func TestCryptoCompareNewsEmpty(t *testing.T) {
	t.Parallel()

	p := NewCryptoCompareProvider(testTracer(), "")
	p.baseURL = "http://example"
	p.client = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, map[string]any{"Data": []any{}}), nil
		}),
	}

	_, err := p.News(context.Background(), nil)
	if !errors.Is(err, fetch.ErrMalformed) {
		t.Fatalf("empty news should be malformed, got %v", err)
	}
}
