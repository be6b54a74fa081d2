package clustering

import (
	"context"

	domart "github.com/newsiq/newsengine/internal/domain/article"
	"github.com/newsiq/newsengine/internal/domain/story"
)

// Repository defines the storage contract for clusters and their links.
type Repository interface {
	Save(ctx context.Context, c *story.Cluster) error
	Get(ctx context.Context, id string) (story.Cluster, error)
	GetMany(ctx context.Context, ids []string) (map[string]story.Cluster, error)
	Nearest(ctx context.Context, vector []float32, k int) ([]story.Scored, error)
	List(ctx context.Context, activeOnly bool, order story.Order, offset, limit int) ([]story.Cluster, int, error)
	Link(ctx context.Context, l story.Link) error
	LinksOf(ctx context.Context, articleID string) ([]story.Link, error)
	Members(ctx context.Context, clusterID string) ([]story.Link, error)
}

// ArticleReader loads articles being clustered or rendered into timelines.
type ArticleReader interface {
	Get(ctx context.Context, id string) (domart.Article, error)
	GetMany(ctx context.Context, ids []string) ([]domart.Article, error)
}
