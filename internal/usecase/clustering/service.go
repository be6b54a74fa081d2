// Package clustering groups articles into evolving stories with an online,
// single-pass assignment: join the nearest active cluster when it is close
// enough, otherwise found a new one.
package clustering

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/newsiq/newsengine/internal/domain"
	domart "github.com/newsiq/newsengine/internal/domain/article"
	"github.com/newsiq/newsengine/internal/domain/story"
	"github.com/newsiq/newsengine/internal/metrics"
	"github.com/newsiq/newsengine/internal/syncx"
)

// Thresholds are the similarity cut-offs used during assignment.
type Thresholds struct {
	Join           float64 // join threshold: minimum similarity to become a primary member
	Link           float64 // link threshold: minimum similarity for a secondary link, below Join
	StabilityFloor float64 // drift below this is logged
}

// DefaultThresholds returns the tuned defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{Join: 0.80, Link: 0.70, StabilityFloor: 0.5}
}

// DefaultPolicy returns the default lifecycle policy.
func DefaultPolicy() story.Policy {
	return story.Policy{OngoingVolume: 3, OngoingWindow: 24 * time.Hour, Quiescence: 72 * time.Hour}
}

const (
	candidates      = 3
	timelineKeyArts = 3
	sweepPage       = 200
)

// Service assigns articles to clusters and serves story views.
type Service struct {
	repo       Repository
	articles   ArticleReader
	thresholds Thresholds
	policy     story.Policy
	clusters   *syncx.KeyedMutex
	inflight   *syncx.KeyedMutex
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string
}

// New creates a clustering service with default thresholds and policy.
func New(repo Repository, articles ArticleReader, logger *zap.Logger) *Service {
	return &Service{
		repo:       repo,
		articles:   articles,
		thresholds: DefaultThresholds(),
		policy:     DefaultPolicy(),
		clusters:   syncx.NewKeyedMutex(),
		inflight:   syncx.NewKeyedMutex(),
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// WithThresholds overrides similarity thresholds. Link must stay below Join.
func (s *Service) WithThresholds(t Thresholds) *Service {
	if t.Join > 0 && t.Join <= 1 && t.Link > 0 && t.Link < t.Join {
		s.thresholds = t
	}
	return s
}

// WithPolicy overrides the lifecycle policy.
func (s *Service) WithPolicy(p story.Policy) *Service {
	s.policy = p
	return s
}

// Assign clusters one stored article. Repeated calls for the same article
// return the existing primary link without touching any centroid.
func (s *Service) Assign(ctx context.Context, articleID string) (story.Assignment, error) {
	unlock := s.inflight.Lock(articleID)
	defer unlock()

	links, err := s.repo.LinksOf(ctx, articleID)
	if err != nil {
		return story.Assignment{}, fmt.Errorf("existing links: %w", err)
	}
	if len(links) > 0 {
		metrics.ClusterAssignmentsTotal.WithLabelValues(string(story.DecisionExisting)).Inc()
		return story.Assignment{Decision: story.DecisionExisting, Primary: links[0], Linked: links[1:]}, nil
	}

	a, err := s.articles.Get(ctx, articleID)
	if err != nil {
		return story.Assignment{}, fmt.Errorf("load article: %w", err)
	}
	e := a.Embedding()
	if len(e) == 0 || domain.IsZero(e) {
		return story.Assignment{}, fmt.Errorf("article %s has no embedding: %w", articleID, domain.ErrInvalidInput)
	}

	near, err := s.repo.Nearest(ctx, e, candidates)
	if err != nil {
		return story.Assignment{}, fmt.Errorf("nearest clusters: %w", err)
	}

	var out story.Assignment
	joined := false
	if len(near) > 0 && near[0].Similarity >= s.thresholds.Join {
		out, joined, err = s.join(ctx, &a, near[0].Cluster.ID)
		if err != nil {
			return story.Assignment{}, err
		}
	}
	if !joined {
		out, err = s.create(ctx, &a)
		if err != nil {
			return story.Assignment{}, err
		}
	}

	if l, ok := s.crossLink(near, out.Primary); ok {
		if err := s.repo.Link(ctx, l); err != nil {
			return story.Assignment{}, fmt.Errorf("cross link: %w", err)
		}
		out.Linked = append(out.Linked, l)
	}

	metrics.ClusterAssignmentsTotal.WithLabelValues(string(out.Decision)).Inc()
	return out, nil
}

// join folds the article into clusterID under the cluster lock. The similarity is
// re-checked against the fresh centroid; joined=false means the caller should create instead.
func (s *Service) join(ctx context.Context, a *domart.Article, clusterID string) (story.Assignment, bool, error) {
	unlock := s.clusters.Lock(clusterID)
	defer unlock()

	c, err := s.repo.Get(ctx, clusterID)
	if err != nil {
		return story.Assignment{}, false, fmt.Errorf("load cluster: %w", err)
	}
	sim := domain.Cosine(a.Embedding(), c.Centroid)
	if !c.IsActive || sim < s.thresholds.Join {
		return story.Assignment{}, false, nil
	}

	now := s.now().UTC()
	drift := c.Absorb(a.Embedding(), now)
	if drift < s.thresholds.StabilityFloor {
		s.logger.Info("Cluster centroid drifted",
			zap.String("cluster_id", c.ID), zap.Float64("stability", drift))
	}
	if c.Advance(now, s.policy) {
		metrics.ClusterTransitionsTotal.WithLabelValues(string(c.Status)).Inc()
	}
	// The link goes first: a retried Assign that finds it never absorbs the
	// article a second time.
	l := story.Link{ClusterID: c.ID, ArticleID: a.ID(), Relevance: clamp01(sim), AssignedAt: now, Primary: true}
	if err := s.repo.Link(ctx, l); err != nil {
		return story.Assignment{}, false, fmt.Errorf("link article: %w", err)
	}
	if err := s.repo.Save(ctx, &c); err != nil {
		return story.Assignment{}, false, fmt.Errorf("save cluster: %w", err)
	}
	return story.Assignment{Decision: story.DecisionJoined, Primary: l}, true, nil
}

func (s *Service) create(ctx context.Context, a *domart.Article) (story.Assignment, error) {
	now := s.now().UTC()
	c := story.New(s.newID(), a.Title(), a.Embedding(), now)
	if err := s.repo.Save(ctx, c); err != nil {
		return story.Assignment{}, fmt.Errorf("save cluster: %w", err)
	}
	l := story.Link{
		ClusterID:  c.ID,
		ArticleID:  a.ID(),
		Relevance:  clamp01(domain.Cosine(a.Embedding(), c.Centroid)),
		AssignedAt: now,
		Primary:    true,
	}
	if err := s.repo.Link(ctx, l); err != nil {
		return story.Assignment{}, fmt.Errorf("link article: %w", err)
	}
	return story.Assignment{Decision: story.DecisionCreated, Primary: l}, nil
}

// crossLink picks the best candidate other than the primary cluster that clears the link threshold.
func (s *Service) crossLink(near []story.Scored, primary story.Link) (story.Link, bool) {
	for _, c := range near {
		if c.Cluster.ID == primary.ClusterID {
			continue
		}
		if c.Similarity < s.thresholds.Link {
			return story.Link{}, false
		}
		return story.Link{
			ClusterID:  c.Cluster.ID,
			ArticleID:  primary.ArticleID,
			Relevance:  clamp01(c.Similarity),
			AssignedAt: primary.AssignedAt,
		}, true
	}
	return story.Link{}, false
}

// SweepResult reports what a lifecycle sweep did.
type SweepResult struct {
	Checked      int
	Transitioned int
}

// Sweep advances the status of every active cluster.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	var ids []string
	for offset := 0; ; offset += sweepPage {
		page, total, err := s.repo.List(ctx, true, story.ByLastUpdated, offset, sweepPage)
		if err != nil {
			return res, fmt.Errorf("list active clusters: %w", err)
		}
		for i := range page {
			ids = append(ids, page[i].ID)
		}
		if len(page) == 0 || offset+len(page) >= total {
			break
		}
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		changed, err := s.advance(ctx, id)
		if err != nil {
			return res, err
		}
		res.Checked++
		if changed {
			res.Transitioned++
		}
	}
	return res, nil
}

func (s *Service) advance(ctx context.Context, id string) (bool, error) {
	unlock := s.clusters.Lock(id)
	defer unlock()

	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return false, fmt.Errorf("load cluster %s: %w", id, err)
	}
	if !c.Advance(s.now().UTC(), s.policy) {
		return false, nil
	}
	if err := s.repo.Save(ctx, &c); err != nil {
		return false, fmt.Errorf("save cluster %s: %w", id, err)
	}
	metrics.ClusterTransitionsTotal.WithLabelValues(string(c.Status)).Inc()
	s.logger.Info("Cluster status changed", zap.String("cluster_id", id), zap.String("status", string(c.Status)))
	return true, nil
}

// List returns up to limit clusters, most recently updated first, with the total count.
func (s *Service) List(ctx context.Context, activeOnly bool, limit int) ([]story.Cluster, int, error) {
	out, total, err := s.repo.List(ctx, activeOnly, story.ByLastUpdated, 0, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list clusters: %w", err)
	}
	return out, total, nil
}

// Salient returns active clusters with the most members first.
func (s *Service) Salient(ctx context.Context, limit int) ([]story.Cluster, error) {
	out, _, err := s.repo.List(ctx, true, story.ByArticleCount, 0, limit)
	if err != nil {
		return nil, fmt.Errorf("list salient clusters: %w", err)
	}
	return out, nil
}

// Get returns a cluster by id.
func (s *Service) Get(ctx context.Context, id string) (story.Cluster, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return story.Cluster{}, fmt.Errorf("get cluster: %w", err)
	}
	return c, nil
}

// PrimaryCluster returns the article's primary cluster; ok is false for unclustered articles.
func (s *Service) PrimaryCluster(ctx context.Context, articleID string) (story.Cluster, bool, error) {
	links, err := s.repo.LinksOf(ctx, articleID)
	if err != nil {
		return story.Cluster{}, false, fmt.Errorf("article links: %w", err)
	}
	if len(links) == 0 {
		return story.Cluster{}, false, nil
	}
	c, err := s.repo.Get(ctx, links[0].ClusterID)
	if err != nil {
		return story.Cluster{}, false, fmt.Errorf("get primary cluster: %w", err)
	}
	return c, true, nil
}

// Members returns up to limit links of a cluster, most relevant first. limit <= 0 returns all.
func (s *Service) Members(ctx context.Context, clusterID string, limit int) ([]story.Link, error) {
	links, err := s.repo.Members(ctx, clusterID)
	if err != nil {
		return nil, fmt.Errorf("cluster members: %w", err)
	}
	if limit > 0 && len(links) > limit {
		links = links[:limit]
	}
	return links, nil
}

// Timeline groups a cluster's members by UTC publication day, oldest day first.
func (s *Service) Timeline(ctx context.Context, id string) (story.Timeline, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return story.Timeline{}, fmt.Errorf("get cluster: %w", err)
	}
	links, err := s.repo.Members(ctx, id)
	if err != nil {
		return story.Timeline{}, fmt.Errorf("cluster members: %w", err)
	}

	relevance := make(map[string]float64, len(links))
	ids := make([]string, len(links))
	for i, l := range links {
		ids[i] = l.ArticleID
		relevance[l.ArticleID] = l.Relevance
	}
	arts, err := s.articles.GetMany(ctx, ids)
	if err != nil {
		return story.Timeline{}, fmt.Errorf("load members: %w", err)
	}

	byDay := map[time.Time][]story.Member{}
	for i := range arts {
		a := &arts[i]
		day := truncateDay(a.PublishedAt())
		byDay[day] = append(byDay[day], story.Member{
			ArticleID:   a.ID(),
			Title:       a.Title(),
			Source:      a.Source(),
			URL:         a.URL(),
			Credibility: a.Credibility(),
			PublishedAt: a.PublishedAt(),
			Relevance:   relevance[a.ID()],
		})
	}

	events := make([]story.Event, 0, len(byDay))
	for day, members := range byDay {
		sortMembers(members)
		key := members
		if len(key) > timelineKeyArts {
			key = key[:timelineKeyArts]
		}
		events = append(events, story.Event{
			Date:         day,
			Headline:     members[0].Title,
			ArticleCount: len(members),
			KeyArticles:  key,
		})
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Date.Before(events[j].Date) })

	return story.Timeline{Cluster: c, Events: events}, nil
}

// sortMembers orders by credibility desc, relevance desc, published_at asc, id asc.
func sortMembers(m []story.Member) {
	sort.Slice(m, func(i, j int) bool {
		if m[i].Credibility != m[j].Credibility {
			return m[i].Credibility > m[j].Credibility
		}
		if m[i].Relevance != m[j].Relevance {
			return m[i].Relevance > m[j].Relevance
		}
		if !m[i].PublishedAt.Equal(m[j].PublishedAt) {
			return m[i].PublishedAt.Before(m[j].PublishedAt)
		}
		return m[i].ArticleID < m[j].ArticleID
	})
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func clamp01(f float64) float64 {
	return max(0, min(1, f))
}
