package provider

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"coinlens/internal/domain"
	"coinlens/internal/fetch"
)

func TestRedditNews(t *testing.T) {
	t.Parallel()

	p := NewRedditProvider(testTracer(), "CryptoCurrency")
	p.baseURL = "http://example"
	p.client = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			if got := req.Header.Get("User-Agent"); got == "" {
				t.Error("reddit requests must carry a user agent")
			}
			return jsonResponse(http.StatusOK, map[string]any{
				"data": map[string]any{
					"children": []map[string]any{
						{"data": map[string]any{
							"id":          "abc123",
							"title":       "Daily discussion",
							"author":      "mod_team",
							"created_utc": 1767225600.0,
							"permalink":   "/r/CryptoCurrency/comments/abc123/daily/",
							"url":         "https://external.example/x",
						}},
						{"data": map[string]any{
							"id":    "notime",
							"title": "No timestamp",
						}},
						{"data": map[string]any{
							"id":          "notitle",
							"created_utc": 1767225600.0,
						}},
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
		t.Fatalf("posts without a title or timestamp should be skipped, got %d items", len(items))
	}
	item := items[0]
	if item.Source != "reddit/r/CryptoCurrency" || item.SourceID != "abc123" {
		t.Fatalf("unexpected item identity: %+v", item)
	}
	if item.URL != "https://www.reddit.com/r/CryptoCurrency/comments/abc123/daily/" {
		t.Fatalf("permalink should win over the external url, got %q", item.URL)
	}
	if item.PublishedAt.Unix() != 1767225600 {
		t.Fatalf("unexpected publish time: %v", item.PublishedAt)
	}
}

func TestRedditNewsNoUsablePosts(t *testing.T) {
	t.Parallel()

	p := NewRedditProvider(testTracer(), "")
	p.baseURL = "http://example"
	p.client = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, map[string]any{
				"data": map[string]any{"children": []any{}},
			}), nil
		}),
	}

	if _, err := p.News(context.Background(), nil); !errors.Is(err, fetch.ErrMalformed) {
		t.Fatalf("empty listing should be malformed, got %v", err)
	}
}

func TestRedditRateLimit(t *testing.T) {
	t.Parallel()

	p := NewRedditProvider(testTracer(), "CryptoCurrency")
	p.baseURL = "http://example"
	p.client = &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			return textResponse(http.StatusTooManyRequests, "slow down"), nil
		}),
	}

	if _, err := p.News(context.Background(), nil); !errors.Is(err, fetch.ErrRateLimited) {
		t.Fatalf("429 should surface as rate limited, got %v", err)
	}
}
