package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"coinlens/internal/domain"
	"coinlens/internal/fetch"

	"go.opentelemetry.io/otel/trace"
)

const (
	redditBaseURL     = "https://www.reddit.com"
	defaultRedditUA   = "coinlens/1.0 (market data aggregator)"
	defaultSubreddit  = "CryptoCurrency"
	defaultRedditSize = 40
)

// RedditProvider serves news.latest from a subreddit's hot listing.
// Last-resort news source behind the dedicated feeds.
type RedditProvider struct {
	client    *http.Client
	baseURL   string
	subreddit string
	userAgent string
	tracer    trace.Tracer
}

func NewRedditProvider(tracer trace.Tracer, subreddit string) *RedditProvider {
	subreddit = strings.TrimSpace(subreddit)
	if subreddit == "" {
		subreddit = defaultSubreddit
	}
	return &RedditProvider{
		client:    &http.Client{Timeout: 20 * time.Second},
		baseURL:   redditBaseURL,
		subreddit: subreddit,
		userAgent: defaultRedditUA,
		tracer:    tracer,
	}
}

// News is the news.latest caller. Params: limit.
func (p *RedditProvider) News(ctx context.Context, params map[string]string) (any, error) {
	_, span := p.tracer.Start(ctx, "reddit.news")
	defer span.End()

	limit := defaultRedditSize
	if l := params["limit"]; l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	base := strings.TrimRight(p.baseURL, "/")
	u := fmt.Sprintf("%s/r/%s/hot.json?limit=%d", base, url.PathEscape(p.subreddit), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readBody(resp, "reddit")
	if err != nil {
		return nil, err
	}

	var payload struct {
		Data struct {
			Children []struct {
				Data redditPost `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode reddit payload: %w", fetch.ErrMalformed)
	}
	if len(payload.Data.Children) == 0 {
		return nil, fmt.Errorf("subreddit %s has no posts: %w", p.subreddit, fetch.ErrMalformed)
	}

	items := make([]domain.NewsItem, 0, len(payload.Data.Children))
	for _, child := range payload.Data.Children {
		item, ok := normalizeRedditPost(p.subreddit, child.Data)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("subreddit %s has no usable posts: %w", p.subreddit, fetch.ErrMalformed)
	}
	return items, nil
}

type redditPost struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	SelfText   string  `json:"selftext"`
	Author     string  `json:"author"`
	CreatedUTC float64 `json:"created_utc"`
	Permalink  string  `json:"permalink"`
	URL        string  `json:"url"`
}

func normalizeRedditPost(subreddit string, post redditPost) (domain.NewsItem, bool) {
	title := sanitizeText(post.Title, 300)
	if title == "" || post.CreatedUTC <= 0 {
		return domain.NewsItem{}, false
	}

	link := sanitizeText(post.URL, 500)
	if post.Permalink != "" {
		link = redditBaseURL + sanitizeText(post.Permalink, 400)
	}

	return domain.NewsItem{
		Source:      "reddit/r/" + subreddit,
		SourceID:    sanitizeText(post.ID, 250),
		Title:       title,
		URL:         link,
		Excerpt:     sanitizeText(post.SelfText, 420),
		Author:      sanitizeText(post.Author, 120),
		PublishedAt: time.Unix(int64(post.CreatedUTC), 0).UTC(),
	}, true
}
