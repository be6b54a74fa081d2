package ingestion

import (
	"context"

	domart "github.com/newsiq/newsengine/internal/domain/article"
	domsource "github.com/newsiq/newsengine/internal/domain/source"
	"github.com/newsiq/newsengine/internal/transport/rss"
)

// SourceRepository persists feed registrations and their health.
type SourceRepository interface {
	Save(ctx context.Context, s *domsource.Source) error
	Get(ctx context.Context, id string) (domsource.Source, error)
	List(ctx context.Context) ([]domsource.Source, error)
	AddStored(ctx context.Context, id string, n int64) error
}

// Fetcher downloads feeds and article pages.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (rss.Feed, error)
	FetchArticle(ctx context.Context, url string) (string, error)
}

// ArticleStore is the subset of the article service ingestion writes through.
type ArticleStore interface {
	LookupURL(ctx context.Context, url string) (string, bool, error)
	Put(ctx context.Context, a *domart.Article) (string, bool, error)
}
