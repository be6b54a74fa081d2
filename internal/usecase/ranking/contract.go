package ranking

import (
	"context"

	domart "github.com/newsiq/newsengine/internal/domain/article"
	"github.com/newsiq/newsengine/internal/domain/story"
	domuser "github.com/newsiq/newsengine/internal/domain/user"
)

// UserRepository stores reader profiles, session vectors and engagement.
type UserRepository interface {
	Profile(ctx context.Context, id string) (domuser.Profile, error)
	SaveProfile(ctx context.Context, p *domuser.Profile) error
	Session(ctx context.Context, id string) (domuser.Session, bool, error)
	SaveSession(ctx context.Context, id string, s domuser.Session) error
	RecordEngagement(ctx context.Context, id, source, clusterID string) error
	Engagement(ctx context.Context, id string) (domuser.Engagement, error)
}

// InteractionLog appends reader events and lists the articles a reader acted on.
type InteractionLog interface {
	Append(ctx context.Context, in *domuser.Interaction) (string, error)
	ArticleIDs(ctx context.Context, userID string, t domuser.InteractionType, offset, limit int) ([]string, int, error)
}

// ArticleReader serves candidate articles.
type ArticleReader interface {
	Get(ctx context.Context, id string) (domart.Article, error)
	GetMany(ctx context.Context, ids []string) ([]domart.Article, error)
	NearestNeighbors(ctx context.Context, vector []float32, k int, f domart.Filter) ([]domart.Scored, error)
	Recent(ctx context.Context, f domart.Filter, offset, limit int) ([]domart.Article, error)
}

// StoryReader exposes cluster salience and membership.
type StoryReader interface {
	Salient(ctx context.Context, limit int) ([]story.Cluster, error)
	Members(ctx context.Context, clusterID string, limit int) ([]story.Link, error)
	PrimaryCluster(ctx context.Context, articleID string) (story.Cluster, bool, error)
}
