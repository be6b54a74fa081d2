package rss

import (
	"context"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultUserAgent = "NewsIntelligenceBot/1.0 (compatible; RSS Reader)"
	maxFeedBytes     = 10 << 20
	maxPageBytes     = 5 << 20

	defaultHostInterval = time.Second
)

// Fetcher downloads feeds and article pages. Requests to the same host are
// spaced at least hostInterval apart.
type Fetcher struct {
	client    *http.Client
	userAgent string

	hostInterval time.Duration
	mu           sync.Mutex
	hosts        map[string]*rate.Limiter
}

// NewFetcher creates a fetcher. A nil client gets a 30s timeout.
func NewFetcher(client *http.Client, userAgent string) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Fetcher{
		client:       client,
		userAgent:    userAgent,
		hostInterval: defaultHostInterval,
		hosts:        make(map[string]*rate.Limiter),
	}
}

// WithHostInterval sets the minimum spacing between requests to one host.
// Zero or negative disables the limit.
func (f *Fetcher) WithHostInterval(d time.Duration) *Fetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hostInterval = d
	f.hosts = make(map[string]*rate.Limiter)
	return f
}

func (f *Fetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hostInterval <= 0 {
		return nil
	}
	l, ok := f.hosts[host]
	if !ok {
		l = rate.NewLimiter(rate.Every(f.hostInterval), 1)
		f.hosts[host] = l
	}
	return l
}

func (f *Fetcher) wait(ctx context.Context, rawURL string) error {
	u, err := neturl.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url %s: %w", rawURL, err)
	}
	l := f.limiter(u.Host)
	if l == nil {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("wait for %s: %w", u.Host, err)
	}
	return nil
}

// Fetch downloads and parses the feed at url.
func (f *Fetcher) Fetch(ctx context.Context, url string) (Feed, error) {
	body, err := f.get(ctx, url, "application/rss+xml, application/atom+xml, application/xml, text/xml", maxFeedBytes)
	if err != nil {
		return Feed{}, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return Feed{}, fmt.Errorf("read feed %s: %w", url, err)
	}
	feed, err := Parse(data)
	if err != nil {
		return Feed{}, fmt.Errorf("parse feed %s: %w", url, err)
	}
	return feed, nil
}

// FetchArticle downloads an article page and extracts its main text.
func (f *Fetcher) FetchArticle(ctx context.Context, url string) (string, error) {
	body, err := f.get(ctx, url, "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8", maxPageBytes)
	if err != nil {
		return "", err
	}
	defer body.Close()

	_, text, err := ExtractMain(body)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", url, err)
	}
	return text, nil
}

type limitedBody struct {
	io.Reader
	io.Closer
}

func (f *Fetcher) get(ctx context.Context, url, accept string, limit int64) (io.ReadCloser, error) {
	if err := f.wait(ctx, url); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", accept)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("get %s: HTTP %d", url, resp.StatusCode)
	}
	return limitedBody{Reader: io.LimitReader(resp.Body, limit), Closer: resp.Body}, nil
}
