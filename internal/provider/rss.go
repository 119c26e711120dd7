package provider

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"coinlens/internal/domain"
	"coinlens/internal/fetch"

	"go.opentelemetry.io/otel/trace"
)

var defaultNewsFeeds = []string{
	"https://www.coindesk.com/arc/outboundfeeds/rss/",
	"https://cointelegraph.com/rss",
}

// RSSProvider serves news.latest from configured RSS feeds.
type RSSProvider struct {
	client *http.Client
	feeds  []string
	tracer trace.Tracer
}

func NewRSSProvider(tracer trace.Tracer, feeds []string) *RSSProvider {
	if len(feeds) == 0 {
		feeds = defaultNewsFeeds
	}
	return &RSSProvider{
		client: &http.Client{Timeout: 20 * time.Second},
		feeds:  feeds,
		tracer: tracer,
	}
}

// News is the news.latest caller. Params: limit. Feeds are fetched in
// order; one healthy feed is enough for a successful result.
func (p *RSSProvider) News(ctx context.Context, params map[string]string) (any, error) {
	_, span := p.tracer.Start(ctx, "rss.news")
	defer span.End()

	limit := 40
	if l := params["limit"]; l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	var items []domain.NewsItem
	var lastErr error
	for _, feedURL := range p.feeds {
		feedItems, err := p.fetchFeed(ctx, feedURL, limit)
		if err != nil {
			lastErr = err
			continue
		}
		items = append(items, feedItems...)
		if len(items) >= limit {
			items = items[:limit]
			break
		}
	}
	if len(items) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, fmt.Errorf("rss feeds produced no items: %w", fetch.ErrMalformed)
	}
	return items, nil
}

func (p *RSSProvider) fetchFeed(ctx context.Context, feedURL string, maxItems int) ([]domain.NewsItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/rss+xml, application/xml, text/xml")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readBody(resp, "rss")
	if err != nil {
		return nil, err
	}

	return parseRSSItems(feedURL, body, maxItems)
}

// parseRSSItems maps raw RSS XML onto canonical news items. Entries
// without a usable title are skipped rather than emitted half-empty.
func parseRSSItems(feedURL string, body []byte, maxItems int) ([]domain.NewsItem, error) {
	var rss struct {
		Channel struct {
			Title string `xml:"title"`
			Items []struct {
				Title       string `xml:"title"`
				Link        string `xml:"link"`
				Description string `xml:"description"`
				GUID        string `xml:"guid"`
				PubDate     string `xml:"pubDate"`
				Creator     string `xml:"creator"`
				Author      string `xml:"author"`
			} `xml:"item"`
		} `xml:"channel"`
	}
	if err := xml.Unmarshal(body, &rss); err != nil {
		return nil, fmt.Errorf("decode rss payload: %w", fetch.ErrMalformed)
	}

	source := sanitizeText(rss.Channel.Title, 120)
	if source == "" {
		source = feedURL
	}

	items := make([]domain.NewsItem, 0, min(maxItems, len(rss.Channel.Items)))
	for i, row := range rss.Channel.Items {
		if i >= maxItems {
			break
		}
		title := sanitizeText(row.Title, 300)
		if title == "" {
			continue
		}
		publishedAt := parseRSSDate(row.PubDate)
		if publishedAt.IsZero() {
			publishedAt = time.Now().UTC()
		}
		author := sanitizeText(row.Creator, 120)
		if author == "" {
			author = sanitizeText(row.Author, 120)
		}
		sourceID := sanitizeText(row.GUID, 250)
		if sourceID == "" {
			sourceID = sanitizeText(row.Link, 250)
		}
		if sourceID == "" {
			h := sha1.Sum([]byte(title + "|" + publishedAt.Format(time.RFC3339Nano)))
			sourceID = hex.EncodeToString(h[:])
		}

		items = append(items, domain.NewsItem{
			Source:      source,
			SourceID:    sourceID,
			Title:       title,
			URL:         sanitizeText(row.Link, 500),
			Excerpt:     sanitizeText(htmlStrip(row.Description), 420),
			Author:      author,
			PublishedAt: publishedAt.UTC(),
		})
	}

	return items, nil
}

func parseRSSDate(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	layouts := []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822, time.RFC3339}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func htmlStrip(in string) string {
	if strings.TrimSpace(in) == "" {
		return ""
	}
	var b strings.Builder
	inside := false
	for _, r := range in {
		switch r {
		case '<':
			inside = true
			continue
		case '>':
			inside = false
			continue
		}
		if !inside {
			b.WriteRune(r)
		}
	}
	return b.String()
}
