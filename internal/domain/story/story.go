// Package story models evolving story clusters and their article links.
package story

import (
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/newsiq/newsengine/internal/domain"
)

// MaxTitleRunes bounds a cluster title derived from its founding headline.
const MaxTitleRunes = 100

// Status is the lifecycle stage of a cluster. Transitions only move forward.
type Status string

// Cluster lifecycle stages.
const (
	StatusDeveloping Status = "developing"
	StatusOngoing    Status = "ongoing"
	StatusResolved   Status = "resolved"
)

func (s Status) rank() int {
	switch s {
	case StatusDeveloping:
		return 0
	case StatusOngoing:
		return 1
	case StatusResolved:
		return 2
	default:
		return -1
	}
}

// ParseStatus validates a stored status value.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if st.rank() < 0 {
		return "", fmt.Errorf("unknown story status %q", s)
	}
	return st, nil
}

// Cluster is a story: a running mean of member embeddings plus lifecycle state.
type Cluster struct {
	ID           string
	Title        string
	Description  string
	FirstSeen    time.Time
	LastUpdated  time.Time
	ArticleCount int
	IsActive     bool
	Status       Status
	// Mean is the unnormalized running mean; Centroid is its unit-length form used for search.
	Mean     []float32
	Centroid []float32
	// Recent holds member assignment times inside the volume window.
	Recent []time.Time
}

// New founds a cluster on a single article embedding.
func New(id, headline string, e []float32, at time.Time) *Cluster {
	c := &Cluster{
		ID:           id,
		Title:        TitleFrom(headline),
		FirstSeen:    at,
		LastUpdated:  at,
		ArticleCount: 1,
		IsActive:     true,
		Status:       StatusDeveloping,
		Mean:         append([]float32(nil), e...),
		Centroid:     domain.Normalize(e),
		Recent:       []time.Time{at},
	}
	c.Description = describe(c.ArticleCount)
	return c
}

// Absorb folds e into the centroid and returns the similarity between the old and new centroid.
func (c *Cluster) Absorb(e []float32, at time.Time) float64 {
	prev := c.Centroid
	c.Mean = domain.RunningMean(c.Mean, e, c.ArticleCount)
	c.Centroid = domain.Normalize(c.Mean)
	c.ArticleCount++
	if at.After(c.LastUpdated) {
		c.LastUpdated = at
	}
	c.Recent = append(c.Recent, at)
	c.Description = describe(c.ArticleCount)
	return domain.Cosine(prev, c.Centroid)
}

// Policy holds the status transition thresholds.
type Policy struct {
	OngoingVolume int
	OngoingWindow time.Duration
	Quiescence    time.Duration
}

// Advance applies at most the forward transitions allowed at now and reports whether status changed.
func (c *Cluster) Advance(now time.Time, p Policy) bool {
	c.pruneRecent(now, p.OngoingWindow)

	next := c.Status
	switch {
	case c.Status != StatusResolved && p.Quiescence > 0 && now.Sub(c.LastUpdated) >= p.Quiescence:
		next = StatusResolved
	case c.Status == StatusDeveloping && p.OngoingVolume > 0 && len(c.Recent) >= p.OngoingVolume:
		next = StatusOngoing
	}
	if next.rank() <= c.Status.rank() {
		return false
	}
	c.Status = next
	if next == StatusResolved {
		c.IsActive = false
	}
	return true
}

func (c *Cluster) pruneRecent(now time.Time, window time.Duration) {
	if window <= 0 {
		return
	}
	cutoff := now.Add(-window)
	kept := c.Recent[:0]
	for _, t := range c.Recent {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	c.Recent = kept
}

// TitleFrom trims a headline to MaxTitleRunes.
func TitleFrom(headline string) string {
	if utf8.RuneCountInString(headline) <= MaxTitleRunes {
		return headline
	}
	r := []rune(headline)
	return string(r[:MaxTitleRunes-3]) + "..."
}

func describe(n int) string {
	if n == 1 {
		return "Story with 1 related article"
	}
	return "Story with " + strconv.Itoa(n) + " related articles"
}

// Scored is a cluster with its centroid similarity to a query vector.
type Scored struct {
	Cluster    Cluster
	Similarity float64
}

// Order selects the sort key for cluster listings. Both orders are descending.
type Order int

// Listing orders.
const (
	ByLastUpdated Order = iota
	ByArticleCount
)

// Link associates an article with a cluster.
type Link struct {
	ClusterID  string
	ArticleID  string
	Relevance  float64
	AssignedAt time.Time
	Primary    bool
}

// Decision records what Assign did with an article.
type Decision string

// Assignment outcomes.
const (
	DecisionJoined   Decision = "joined"
	DecisionCreated  Decision = "created"
	DecisionExisting Decision = "existing"
)

// Assignment is the result of clustering one article.
type Assignment struct {
	Decision Decision
	Primary  Link
	Linked   []Link
}

// Member is a linked article summary used to build timelines.
type Member struct {
	ArticleID   string
	Title       string
	Source      string
	URL         string
	Credibility int
	PublishedAt time.Time
	Relevance   float64
}

// Event is one dated entry of a story timeline.
type Event struct {
	Date         time.Time
	Headline     string
	ArticleCount int
	KeyArticles  []Member
}

// Timeline is a cluster with its members grouped by publication day.
type Timeline struct {
	Cluster Cluster
	Events  []Event
}
