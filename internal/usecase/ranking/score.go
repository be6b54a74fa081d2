package ranking

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/newsiq/newsengine/internal/domain"
	domart "github.com/newsiq/newsengine/internal/domain/article"
)

// Weights are the linear score coefficients. They must sum to 1.
type Weights struct {
	LongTerm    float64
	Session     float64
	Credibility float64
	Recency     float64
}

// DefaultWeights favours long-term preference over session intent.
func DefaultWeights() Weights {
	return Weights{LongTerm: 0.45, Session: 0.25, Credibility: 0.15, Recency: 0.15}
}

// Validate checks that weights are non-negative and sum to 1.
func (w Weights) Validate() error {
	for _, v := range []float64{w.LongTerm, w.Session, w.Credibility, w.Recency} {
		if v < 0 {
			return fmt.Errorf("weights must be non-negative")
		}
	}
	if sum := w.LongTerm + w.Session + w.Credibility + w.Recency; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("weights sum to %.4f, want 1", sum)
	}
	return nil
}

type scorer struct {
	weights  Weights
	halfLife time.Duration
	longTerm []float32
	session  []float32
	now      time.Time
}

func (s *scorer) score(a *domart.Article) float64 {
	e := a.Embedding()
	return s.weights.LongTerm*domain.Cosine(s.longTerm, e) +
		s.weights.Session*domain.Cosine(s.session, e) +
		s.weights.Credibility*float64(a.Credibility())/100 +
		s.weights.Recency*s.recency(a.PublishedAt())
}

// recency is exp(-hours/half_life). Future timestamps count as fresh.
func (s *scorer) recency(published time.Time) float64 {
	if s.halfLife <= 0 {
		return 0
	}
	hours := max(0, s.now.Sub(published).Hours())
	return math.Exp(-hours / s.halfLife.Hours())
}

// sortItems orders by score desc, then id asc.
func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].Article.ID() < items[j].Article.ID()
	})
}
