// Package article holds the ingested news article aggregate.
package article

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// MinContentChars is the shortest body accepted for ingestion.
const MinContentChars = 100

// Entities groups named mentions found in an article.
type Entities struct {
	People        []string `json:"people,omitempty"`
	Organizations []string `json:"organizations,omitempty"`
	Locations     []string `json:"locations,omitempty"`
}

// IsEmpty reports whether no mention is recorded.
func (e Entities) IsEmpty() bool {
	return len(e.People) == 0 && len(e.Organizations) == 0 && len(e.Locations) == 0
}

// Article is an ingested news item. Content, embedding and tags never change after creation.
type Article struct {
	id          string
	url         string
	title       string
	content     string
	summary     string
	author      string
	source      string
	credibility int
	publishedAt time.Time
	fetchedAt   time.Time
	embedding   []float32
	topics      []string
	entities    Entities
	sentiment   *float64
}

// Draft carries the parsed feed item fields before an id and embedding are assigned.
type Draft struct {
	URL         string
	Title       string
	Content     string
	Summary     string
	Author      string
	Source      string
	Credibility int
	PublishedAt time.Time
	Topics      []string
	Entities    Entities
	Sentiment   *float64
}

// New validates a draft and creates an Article with the given id and embedding.
func New(id string, d Draft, embedding []float32, fetchedAt time.Time) (Article, error) {
	if id == "" {
		return Article{}, fmt.Errorf("article id is required")
	}
	if err := ValidateURL(d.URL); err != nil {
		return Article{}, err
	}
	if strings.TrimSpace(d.Title) == "" {
		return Article{}, fmt.Errorf("title is required")
	}
	if len(strings.TrimSpace(d.Content)) < MinContentChars {
		return Article{}, fmt.Errorf("content shorter than %d chars", MinContentChars)
	}
	if d.Credibility < 0 || d.Credibility > 100 {
		return Article{}, fmt.Errorf("credibility %d out of range [0,100]", d.Credibility)
	}
	if d.Sentiment != nil && (*d.Sentiment < -1 || *d.Sentiment > 1) {
		return Article{}, fmt.Errorf("sentiment %v out of range [-1,1]", *d.Sentiment)
	}
	if len(embedding) == 0 {
		return Article{}, fmt.Errorf("embedding is required")
	}

	published := d.PublishedAt
	if published.IsZero() {
		published = fetchedAt
	}

	return Article{
		id:          id,
		url:         d.URL,
		title:       strings.TrimSpace(d.Title),
		content:     d.Content,
		summary:     d.Summary,
		author:      d.Author,
		source:      d.Source,
		credibility: d.Credibility,
		publishedAt: published.UTC(),
		fetchedAt:   fetchedAt.UTC(),
		embedding:   append([]float32(nil), embedding...),
		topics:      normalizeTopics(d.Topics),
		entities:    d.Entities,
		sentiment:   d.Sentiment,
	}, nil
}

// Reconstruct hydrates an Article from storage without validation.
func Reconstruct(id string, d Draft, embedding []float32, fetchedAt time.Time) Article {
	return Article{
		id:          id,
		url:         d.URL,
		title:       d.Title,
		content:     d.Content,
		summary:     d.Summary,
		author:      d.Author,
		source:      d.Source,
		credibility: d.Credibility,
		publishedAt: d.PublishedAt,
		fetchedAt:   fetchedAt,
		embedding:   embedding,
		topics:      d.Topics,
		entities:    d.Entities,
		sentiment:   d.Sentiment,
	}
}

// ValidateURL accepts absolute http(s) URLs only.
func ValidateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("url host is required")
	}
	return nil
}

func normalizeTopics(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// ID returns the article identifier.
func (a *Article) ID() string { return a.id }

// URL returns the dedup key.
func (a *Article) URL() string { return a.url }

// Title returns the headline.
func (a *Article) Title() string { return a.title }

// Content returns the body text.
func (a *Article) Content() string { return a.content }

// Summary returns the optional feed summary.
func (a *Article) Summary() string { return a.summary }

// Author returns the optional byline.
func (a *Article) Author() string { return a.author }

// Source returns the publisher name.
func (a *Article) Source() string { return a.source }

// Credibility returns the publisher credibility score in [0,100].
func (a *Article) Credibility() int { return a.credibility }

// PublishedAt returns the publication time.
func (a *Article) PublishedAt() time.Time { return a.publishedAt }

// FetchedAt returns the ingestion time.
func (a *Article) FetchedAt() time.Time { return a.fetchedAt }

// Embedding returns the article vector.
func (a *Article) Embedding() []float32 { return a.embedding }

// Topics returns the lowercased topic tags.
func (a *Article) Topics() []string { return a.topics }

// Entities returns the named mentions.
func (a *Article) Entities() Entities { return a.entities }

// Sentiment returns the optional sentiment score in [-1,1].
func (a *Article) Sentiment() *float64 { return a.sentiment }

// Draft returns the article's descriptive fields.
func (a *Article) Draft() Draft {
	return Draft{
		URL:         a.url,
		Title:       a.title,
		Content:     a.content,
		Summary:     a.summary,
		Author:      a.author,
		Source:      a.source,
		Credibility: a.credibility,
		PublishedAt: a.publishedAt,
		Topics:      a.topics,
		Entities:    a.entities,
		Sentiment:   a.sentiment,
	}
}

// Scored is an article paired with its similarity to a query vector.
type Scored struct {
	Article    Article
	Similarity float64
}

// Filter narrows nearest-neighbor and recency queries.
type Filter struct {
	Since          time.Time
	ExcludeSources []string
	Source         string // restrict to a single source when set
	Topics         []string
	ExcludeIDs     []string
}
