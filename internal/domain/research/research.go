// Package research holds deep-research cache entries and the generation contract.
package research

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned when no entry is stored for an article.
var ErrMiss = errors.New("research entry not found")

// Entry is a cached analysis for one article.
type Entry struct {
	ArticleID   string
	Analysis    string
	RelatedIDs  []string
	GeneratedAt time.Time
	ExpiresAt   time.Time
	ViewCount   int64
	Invalidated bool
}

// Valid reports whether the entry may be served at now.
func (e *Entry) Valid(now time.Time) bool {
	return !e.Invalidated && now.Before(e.ExpiresAt)
}

// ContextArticle is one article in a generation context bundle.
type ContextArticle struct {
	ID          string
	Title       string
	Source      string
	URL         string
	Content     string
	Credibility int
	PublishedAt time.Time
}

// Bundle is the input to analysis generation.
type Bundle struct {
	Main     ContextArticle
	Related  []ContextArticle
	Siblings []ContextArticle
	Story    string // primary cluster title, empty when unclustered
}

// Generator produces analysis text for a bundle.
type Generator interface {
	Generate(ctx context.Context, b Bundle) (string, error)
}

// Result is what Analyze returns to callers.
type Result struct {
	Analysis    string
	Related     []ContextArticle
	GeneratedAt time.Time
	FromCache   bool
}
