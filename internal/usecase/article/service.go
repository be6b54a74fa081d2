// Package article is the vector article store: idempotent writes keyed by URL and
// similarity queries over stored embeddings.
package article

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/newsiq/newsengine/internal/domain"
	domart "github.com/newsiq/newsengine/internal/domain/article"
	"github.com/newsiq/newsengine/internal/transport/events"
)

// Service stores articles and answers neighbor queries.
type Service struct {
	repo   Repository
	pub    Publisher
	logger *zap.Logger
	maxK   int
	now    func() time.Time
}

// New creates an article service. pub may be nil when nothing consumes stored articles.
func New(repo Repository, pub Publisher, logger *zap.Logger) *Service {
	return &Service{repo: repo, pub: pub, logger: logger, maxK: 100, now: time.Now}
}

// WithMaxK caps k for neighbor queries.
func (s *Service) WithMaxK(k int) *Service {
	if k > 0 {
		s.maxK = k
	}
	return s
}

// Put stores a new article. When the URL is already known the existing id is
// returned with created=false and nothing is written.
func (s *Service) Put(ctx context.Context, a *domart.Article) (string, bool, error) {
	owner, reserved, err := s.repo.Reserve(ctx, a.URL(), a.ID())
	if err != nil {
		return "", false, fmt.Errorf("reserve url: %w", err)
	}
	if !reserved {
		return owner, false, nil
	}

	if err := s.repo.Save(ctx, a); err != nil {
		if rerr := s.repo.Release(ctx, a.URL()); rerr != nil {
			s.logger.Error("Failed to release url reservation",
				zap.String("article_id", a.ID()), zap.Error(rerr))
		}
		return "", false, fmt.Errorf("save article: %w", err)
	}

	if s.pub != nil {
		evt := events.ArticleStored{ArticleID: a.ID(), Source: a.Source(), StoredAt: s.now().UTC()}
		if err := s.pub.PublishArticleStored(ctx, evt); err != nil {
			s.logger.Warn("Failed to publish stored article",
				zap.String("article_id", a.ID()), zap.Error(err))
		}
	}
	return a.ID(), true, nil
}

// Get returns an article by id.
func (s *Service) Get(ctx context.Context, id string) (domart.Article, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return domart.Article{}, fmt.Errorf("get article: %w", err)
	}
	return a, nil
}

// GetMany returns the existing articles among ids, in input order.
func (s *Service) GetMany(ctx context.Context, ids []string) ([]domart.Article, error) {
	out, err := s.repo.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get articles: %w", err)
	}
	return out, nil
}

// LookupURL reports the id stored under url, if any.
func (s *Service) LookupURL(ctx context.Context, url string) (string, bool, error) {
	id, ok, err := s.repo.LookupURL(ctx, url)
	if err != nil {
		return "", false, fmt.Errorf("lookup url: %w", err)
	}
	return id, ok, nil
}

// NearestNeighbors returns up to k articles ordered by similarity desc, then
// published_at desc, then id.
func (s *Service) NearestNeighbors(
	ctx context.Context, vector []float32, k int, f domart.Filter,
) ([]domart.Scored, error) {
	if len(vector) == 0 || domain.IsZero(vector) {
		return nil, fmt.Errorf("query vector is empty: %w", domain.ErrInvalidInput)
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive: %w", domain.ErrInvalidInput)
	}
	k = min(k, s.maxK)

	out, err := s.repo.Nearest(ctx, vector, k, f)
	if err != nil {
		return nil, fmt.Errorf("nearest neighbors: %w", err)
	}
	return out, nil
}

// Recent returns articles matching f, newest first.
func (s *Service) Recent(ctx context.Context, f domart.Filter, offset, limit int) ([]domart.Article, error) {
	if limit <= 0 {
		return nil, nil
	}
	out, err := s.repo.Recent(ctx, f, max(offset, 0), limit)
	if err != nil {
		return nil, fmt.Errorf("recent articles: %w", err)
	}
	return out, nil
}

// Count returns how many articles match f.
func (s *Service) Count(ctx context.Context, f domart.Filter) (int, error) {
	n, err := s.repo.Count(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return n, nil
}
