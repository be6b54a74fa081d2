package chi

import (
	"context"

	domart "github.com/newsiq/newsengine/internal/domain/article"
	domresearch "github.com/newsiq/newsengine/internal/domain/research"
	domsource "github.com/newsiq/newsengine/internal/domain/source"
	"github.com/newsiq/newsengine/internal/domain/story"
	domuser "github.com/newsiq/newsengine/internal/domain/user"
	clusteringuc "github.com/newsiq/newsengine/internal/usecase/clustering"
	healthuc "github.com/newsiq/newsengine/internal/usecase/health"
	ingestionuc "github.com/newsiq/newsengine/internal/usecase/ingestion"
	rankinguc "github.com/newsiq/newsengine/internal/usecase/ranking"
)

// FeedService ranks feeds and records reader feedback.
type FeedService interface {
	Rank(ctx context.Context, userID string, page, pageSize int, includeBlindSpots bool) (rankinguc.Page, error)
	Bookmarks(ctx context.Context, userID string, page, pageSize int) (rankinguc.Page, error)
	RecordInteraction(ctx context.Context, in domuser.Interaction) (string, error)
	UpdatePreferences(ctx context.Context, userID string, prefs domuser.Preferences) (domuser.Profile, error)
	Profile(ctx context.Context, userID string) (domuser.Profile, error)
}

// ArticleService reads stored articles.
type ArticleService interface {
	Get(ctx context.Context, id string) (domart.Article, error)
	Count(ctx context.Context, f domart.Filter) (int, error)
}

// ResearchService serves cached or freshly generated analyses.
type ResearchService interface {
	Analyze(ctx context.Context, articleID string) (domresearch.Result, error)
	Invalidate(ctx context.Context, articleID string) (bool, error)
	Cleanup(ctx context.Context) (int, error)
}

// StoryService lists clusters and runs lifecycle sweeps.
type StoryService interface {
	List(ctx context.Context, activeOnly bool, limit int) ([]story.Cluster, int, error)
	Timeline(ctx context.Context, id string) (story.Timeline, error)
	Sweep(ctx context.Context) (clusteringuc.SweepResult, error)
}

// IngestionService exposes feed sources to operators.
type IngestionService interface {
	Sources(ctx context.Context) ([]domsource.Source, error)
	Reactivate(ctx context.Context, id string) (domsource.Source, error)
	PollAll(ctx context.Context) ([]ingestionuc.PollResult, error)
}

// HealthService aggregates dependency probes.
type HealthService interface {
	Check(ctx context.Context) healthuc.Report
}
