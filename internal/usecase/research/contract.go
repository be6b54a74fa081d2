package research

import (
	"context"
	"time"

	domart "github.com/newsiq/newsengine/internal/domain/article"
	domresearch "github.com/newsiq/newsengine/internal/domain/research"
	"github.com/newsiq/newsengine/internal/domain/story"
)

// CacheRepository stores one analysis per article.
type CacheRepository interface {
	Get(ctx context.Context, articleID string) (domresearch.Entry, error)
	Save(ctx context.Context, e *domresearch.Entry) error
	IncrementViews(ctx context.Context, articleID string) error
	Invalidate(ctx context.Context, articleID string) (bool, error)
	Cleanup(ctx context.Context, now time.Time) (int, error)
}

// ArticleReader serves the article and its neighbors.
type ArticleReader interface {
	Get(ctx context.Context, id string) (domart.Article, error)
	GetMany(ctx context.Context, ids []string) ([]domart.Article, error)
	NearestNeighbors(ctx context.Context, vector []float32, k int, f domart.Filter) ([]domart.Scored, error)
}

// StoryReader resolves an article's primary story and its members.
type StoryReader interface {
	PrimaryCluster(ctx context.Context, articleID string) (story.Cluster, bool, error)
	Members(ctx context.Context, clusterID string, limit int) ([]story.Link, error)
}
