package article

import (
	"context"

	domart "github.com/newsiq/newsengine/internal/domain/article"
	"github.com/newsiq/newsengine/internal/transport/events"
)

// Repository defines the storage contract for articles.
type Repository interface {
	Reserve(ctx context.Context, url, id string) (owner string, reserved bool, err error)
	Release(ctx context.Context, url string) error
	LookupURL(ctx context.Context, url string) (string, bool, error)
	Save(ctx context.Context, a *domart.Article) error
	Get(ctx context.Context, id string) (domart.Article, error)
	GetMany(ctx context.Context, ids []string) ([]domart.Article, error)
	Nearest(ctx context.Context, vector []float32, k int, f domart.Filter) ([]domart.Scored, error)
	Recent(ctx context.Context, f domart.Filter, offset, limit int) ([]domart.Article, error)
	Count(ctx context.Context, f domart.Filter) (int, error)
}

// Publisher announces stored articles to downstream consumers.
type Publisher interface {
	PublishArticleStored(ctx context.Context, evt events.ArticleStored) error
}
