// Package ranking orders articles per reader and folds interactions back into
// their preference vectors.
package ranking

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/newsiq/newsengine/internal/domain"
	domart "github.com/newsiq/newsengine/internal/domain/article"
	domuser "github.com/newsiq/newsengine/internal/domain/user"
	"github.com/newsiq/newsengine/internal/metrics"
	"github.com/newsiq/newsengine/internal/syncx"
)

// MaxPageSize bounds a single feed page.
const MaxPageSize = 100

// Feed modes reported in metrics and responses.
const (
	ModePersonalized = "personalized"
	ModeColdStart    = "cold_start"
	ModeDegraded     = "degraded"
	ModeBookmarks    = "bookmarks"
)

// Options tunes candidate retrieval, scoring and feedback.
type Options struct {
	Weights                 Weights
	HalfLife                time.Duration
	Lookback                time.Duration
	CandidateK              int
	RecentLimit             int
	BlindSpotClusters       int
	BlindSpotMembers        int
	BlindSpotMinCredibility int
	LearningRate            float64
	SessionAlpha            float64
	FallbackSize            int
	FallbackTTL             time.Duration
	Workers                 int
	QueueDepth              int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Weights:                 DefaultWeights(),
		HalfLife:                24 * time.Hour,
		Lookback:                7 * 24 * time.Hour,
		CandidateK:              200,
		RecentLimit:             200,
		BlindSpotClusters:       10,
		BlindSpotMembers:        10,
		BlindSpotMinCredibility: 70,
		LearningRate:            0.05,
		SessionAlpha:            0.3,
		FallbackSize:            1024,
		FallbackTTL:             15 * time.Minute,
		Workers:                 8,
		QueueDepth:              64,
	}
}

// Item is one ranked article.
type Item struct {
	Article   domart.Article
	Score     float64
	BlindSpot bool
}

// Page is one page of a ranked feed.
type Page struct {
	Items    []Item
	Page     int
	PageSize int
	Total    int
	HasMore  bool
	Degraded bool
	Mode     string
}

// pool is everything needed to rank a reader's feed. The last good pool per
// reader is kept as a fallback for store outages.
type pool struct {
	profile    domuser.Profile
	session    []float32
	candidates []domart.Article
	blindSpots []domart.Article
	mode       string
}

// Service ranks feeds and applies reader feedback.
type Service struct {
	users        UserRepository
	interactions InteractionLog
	articles     ArticleReader
	stories      StoryReader
	logger       *zap.Logger
	opts         Options

	fallback *expirable.LRU[string, *pool]
	workers  *syncx.ShardedPool

	now func() time.Time
}

// New creates a ranking service. opts are validated; zero fields take defaults.
func New(
	users UserRepository, interactions InteractionLog, articles ArticleReader,
	stories StoryReader, opts Options, logger *zap.Logger,
) (*Service, error) {
	opts = withDefaults(opts)
	if err := opts.Weights.Validate(); err != nil {
		return nil, fmt.Errorf("ranking weights: %w", err)
	}
	return &Service{
		users:        users,
		interactions: interactions,
		articles:     articles,
		stories:      stories,
		logger:       logger,
		opts:         opts,
		fallback:     expirable.NewLRU[string, *pool](opts.FallbackSize, nil, opts.FallbackTTL),
		workers:      syncx.NewShardedPool(opts.Workers, opts.QueueDepth),
		now:          time.Now,
	}, nil
}

func withDefaults(o Options) Options {
	d := DefaultOptions()
	if o.Weights == (Weights{}) {
		o.Weights = d.Weights
	}
	if o.HalfLife <= 0 {
		o.HalfLife = d.HalfLife
	}
	if o.Lookback <= 0 {
		o.Lookback = d.Lookback
	}
	if o.CandidateK <= 0 {
		o.CandidateK = d.CandidateK
	}
	if o.RecentLimit <= 0 {
		o.RecentLimit = d.RecentLimit
	}
	if o.BlindSpotClusters <= 0 {
		o.BlindSpotClusters = d.BlindSpotClusters
	}
	if o.BlindSpotMembers <= 0 {
		o.BlindSpotMembers = d.BlindSpotMembers
	}
	if o.BlindSpotMinCredibility <= 0 {
		o.BlindSpotMinCredibility = d.BlindSpotMinCredibility
	}
	if o.LearningRate <= 0 {
		o.LearningRate = d.LearningRate
	}
	if o.SessionAlpha <= 0 || o.SessionAlpha > 1 {
		o.SessionAlpha = d.SessionAlpha
	}
	if o.FallbackSize <= 0 {
		o.FallbackSize = d.FallbackSize
	}
	if o.FallbackTTL <= 0 {
		o.FallbackTTL = d.FallbackTTL
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = d.QueueDepth
	}
	return o
}

// Rank returns page (1-based) of the reader's feed. Page boundaries may shift
// between calls as new articles arrive.
func (s *Service) Rank(
	ctx context.Context, userID string, page, pageSize int, includeBlindSpots bool,
) (Page, error) {
	if userID == "" {
		return Page{}, fmt.Errorf("user id is required: %w", domain.ErrInvalidInput)
	}
	if page < 1 {
		return Page{}, fmt.Errorf("page must be >= 1: %w", domain.ErrInvalidInput)
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return Page{}, fmt.Errorf("per_page must be within [1,%d]: %w", MaxPageSize, domain.ErrInvalidInput)
	}

	p, err := s.buildPool(ctx, userID)
	degraded := false
	if err != nil {
		cached, ok := s.fallback.Get(userID)
		if !ok {
			return Page{}, fmt.Errorf("rank feed: %w: %w", domain.ErrUpstreamUnavailable, err)
		}
		s.logger.Warn("Serving feed from fallback pool", zap.String("user_id", userID), zap.Error(err))
		p, degraded = cached, true
	} else {
		s.fallback.Add(userID, p)
	}

	out := s.compose(p, page, pageSize, includeBlindSpots)
	out.Degraded = degraded
	if degraded {
		out.Mode = ModeDegraded
	}
	metrics.FeedRequestsTotal.WithLabelValues(out.Mode).Inc()
	return out, nil
}

func (s *Service) buildPool(ctx context.Context, userID string) (*pool, error) {
	profile, err := s.users.Profile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	sess, _, err := s.users.Session(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	f := domart.Filter{Since: s.now().Add(-s.opts.Lookback), ExcludeSources: profile.MutedSources}
	p := &pool{profile: profile, session: sess.Vector, mode: ModePersonalized}
	seen := make(map[string]bool)
	add := func(a domart.Article) {
		if seen[a.ID()] || profile.IsMuted(a.Source()) {
			return
		}
		seen[a.ID()] = true
		p.candidates = append(p.candidates, a)
	}

	for _, vec := range [][]float32{profile.LongTerm, sess.Vector} {
		if domain.IsZero(vec) {
			continue
		}
		near, err := s.articles.NearestNeighbors(ctx, vec, s.opts.CandidateK, f)
		if err != nil {
			return nil, fmt.Errorf("candidate neighbors: %w", err)
		}
		for _, sc := range near {
			add(sc.Article)
		}
	}

	if domain.IsZero(profile.LongTerm) && domain.IsZero(sess.Vector) {
		p.mode = ModeColdStart
		recent, err := s.coldStart(ctx, f, profile.Topics)
		if err != nil {
			return nil, err
		}
		for _, a := range recent {
			add(a)
		}
	}

	if profile.Diversity.Share() > 0 {
		spots, err := s.blindSpots(ctx, userID, &profile, f.Since)
		if err != nil {
			return nil, err
		}
		p.blindSpots = spots
	}
	return p, nil
}

// coldStart serves recent articles, narrowed to the reader's topics when that yields any.
func (s *Service) coldStart(ctx context.Context, f domart.Filter, topics []string) ([]domart.Article, error) {
	if len(topics) > 0 {
		tf := f
		tf.Topics = topics
		out, err := s.articles.Recent(ctx, tf, 0, s.opts.RecentLimit)
		if err != nil {
			return nil, fmt.Errorf("recent by topic: %w", err)
		}
		if len(out) > 0 {
			return out, nil
		}
	}
	out, err := s.articles.Recent(ctx, f, 0, s.opts.RecentLimit)
	if err != nil {
		return nil, fmt.Errorf("recent articles: %w", err)
	}
	return out, nil
}

type salient struct {
	article  domart.Article
	salience float64
}

// blindSpots collects credible members of the most salient active stories whose
// source and story the reader has never engaged with, most salient first.
func (s *Service) blindSpots(
	ctx context.Context, userID string, profile *domuser.Profile, since time.Time,
) ([]domart.Article, error) {
	engaged, err := s.users.Engagement(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load engagement: %w", err)
	}
	clusters, err := s.stories.Salient(ctx, s.opts.BlindSpotClusters)
	if err != nil {
		return nil, fmt.Errorf("salient stories: %w", err)
	}

	maxCount := 1
	for _, c := range clusters {
		maxCount = max(maxCount, c.ArticleCount)
	}

	var found []salient
	seen := make(map[string]bool)
	for _, c := range clusters {
		if engaged.Clusters[c.ID] {
			continue
		}
		links, err := s.stories.Members(ctx, c.ID, s.opts.BlindSpotMembers)
		if err != nil {
			return nil, fmt.Errorf("story members: %w", err)
		}
		ids := make([]string, 0, len(links))
		for _, l := range links {
			if l.Primary && !seen[l.ArticleID] {
				ids = append(ids, l.ArticleID)
			}
		}
		members, err := s.articles.GetMany(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("story articles: %w", err)
		}
		for _, a := range members {
			if a.Credibility() < s.opts.BlindSpotMinCredibility ||
				engaged.Sources[a.Source()] || profile.IsMuted(a.Source()) ||
				a.PublishedAt().Before(since) {
				continue
			}
			seen[a.ID()] = true
			found = append(found, salient{
				article:  a,
				salience: float64(c.ArticleCount) / float64(maxCount) * float64(a.Credibility()) / 100,
			})
		}
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].salience != found[j].salience {
			return found[i].salience > found[j].salience
		}
		return found[i].article.ID() < found[j].article.ID()
	})
	out := make([]domart.Article, len(found))
	for i := range found {
		out[i] = found[i].article
	}
	return out, nil
}

func (s *Service) compose(p *pool, page, pageSize int, includeBlindSpots bool) Page {
	sc := &scorer{
		weights:  s.opts.Weights,
		halfLife: s.opts.HalfLife,
		longTerm: p.profile.LongTerm,
		session:  p.session,
		now:      s.now(),
	}
	slots := 0
	if includeBlindSpots && len(p.blindSpots) > 0 {
		slots = p.profile.Diversity.Slots(pageSize)
	}
	var spots map[string]bool
	if slots > 0 {
		spots = make(map[string]bool, len(p.blindSpots))
		for i := range p.blindSpots {
			spots[p.blindSpots[i].ID()] = true
		}
	}

	ranked := make([]Item, 0, len(p.candidates))
	for i := range p.candidates {
		if spots[p.candidates[i].ID()] {
			continue
		}
		ranked = append(ranked, Item{Article: p.candidates[i], Score: sc.score(&p.candidates[i])})
	}
	sortItems(ranked)

	out := Page{Page: page, PageSize: pageSize, Mode: p.mode}
	if slots == 0 {
		out.Total = len(ranked)
		out.HasMore = page*pageSize < out.Total
		start := min((page-1)*pageSize, len(ranked))
		end := min(start+pageSize, len(ranked))
		out.Items = slices.Clone(ranked[start:end])
		return out
	}

	out.Total = len(ranked) + len(p.blindSpots)
	out.Items = s.layout(ranked, p.blindSpots, sc, page, pageSize, slots)
	out.HasMore = page*pageSize < out.Total
	return out
}

// layout lays the feed out page by page: each page takes up to slots blind
// spots in salience order and fills the rest with ranked items, so every
// article appears on exactly one page. Blind spots take the tail slots.
func (s *Service) layout(ranked []Item, spots []domart.Article, sc *scorer, page, pageSize, slots int) []Item {
	pos, next := 0, 0
	for pg := 1; ; pg++ {
		n := min(slots, len(spots)-next)
		take := min(pageSize-n, len(ranked)-pos)
		if pg == page {
			window := slices.Clone(ranked[pos : pos+take])
			for i := 0; i < n; i++ {
				a := spots[next+i]
				window = append(window, Item{Article: a, Score: sc.score(&a), BlindSpot: true})
			}
			if n > 0 {
				metrics.BlindSpotsServedTotal.Add(float64(n))
			}
			return window
		}
		pos += take
		next += n
		if pos >= len(ranked) && next >= len(spots) {
			return nil
		}
	}
}

// Bookmarks returns page (1-based) of the reader's bookmarked articles, most
// recently bookmarked first. Bookmarked articles that no longer exist are skipped.
func (s *Service) Bookmarks(ctx context.Context, userID string, page, pageSize int) (Page, error) {
	if userID == "" {
		return Page{}, fmt.Errorf("user id is required: %w", domain.ErrInvalidInput)
	}
	if page < 1 {
		return Page{}, fmt.Errorf("page must be >= 1: %w", domain.ErrInvalidInput)
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return Page{}, fmt.Errorf("per_page must be within [1,%d]: %w", MaxPageSize, domain.ErrInvalidInput)
	}

	ids, total, err := s.interactions.ArticleIDs(ctx, userID, domuser.InteractionBookmark, (page-1)*pageSize, pageSize)
	if err != nil {
		return Page{}, fmt.Errorf("list bookmarks: %w", err)
	}
	arts, err := s.articles.GetMany(ctx, ids)
	if err != nil {
		return Page{}, fmt.Errorf("load bookmarks: %w", err)
	}
	byID := make(map[string]domart.Article, len(arts))
	for i := range arts {
		byID[arts[i].ID()] = arts[i]
	}
	out := Page{Page: page, PageSize: pageSize, Total: total, HasMore: page*pageSize < total, Mode: ModeBookmarks}
	for _, id := range ids {
		if a, ok := byID[id]; ok {
			out.Items = append(out.Items, Item{Article: a})
		}
	}
	return out, nil
}

// Profile returns the reader's stored preferences.
func (s *Service) Profile(ctx context.Context, userID string) (domuser.Profile, error) {
	p, err := s.users.Profile(ctx, userID)
	if err != nil {
		return domuser.Profile{}, fmt.Errorf("load profile: %w", err)
	}
	return p, nil
}

// UpdatePreferences applies a partial preference update through the reader's
// feedback queue and waits for it.
func (s *Service) UpdatePreferences(
	ctx context.Context, userID string, prefs domuser.Preferences,
) (domuser.Profile, error) {
	if userID == "" {
		return domuser.Profile{}, fmt.Errorf("user id is required: %w", domain.ErrInvalidInput)
	}
	if prefs.Diversity != nil {
		d, err := domuser.ParseDiversity(string(*prefs.Diversity))
		if err != nil {
			return domuser.Profile{}, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
		}
		prefs.Diversity = &d
	}

	var updated domuser.Profile
	err := s.workers.Do(ctx, userID, func(ctx context.Context) error {
		p, err := s.users.Profile(ctx, userID)
		if err != nil {
			return fmt.Errorf("load profile: %w", err)
		}
		p.Apply(prefs)
		p.UpdatedAt = s.now().UTC()
		if err := s.users.SaveProfile(ctx, &p); err != nil {
			return fmt.Errorf("save profile: %w", err)
		}
		updated = p
		return nil
	})
	if err != nil {
		return domuser.Profile{}, fmt.Errorf("update preferences: %w", err)
	}
	return updated, nil
}

// RecordInteraction logs the event and queues the preference update. The
// update is applied asynchronously, in order, per reader.
func (s *Service) RecordInteraction(ctx context.Context, in domuser.Interaction) (string, error) {
	if err := in.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	a, err := s.articles.Get(ctx, in.ArticleID)
	if err != nil {
		return "", fmt.Errorf("get article: %w", err)
	}

	in.CreatedAt = s.now().UTC()
	id, err := s.interactions.Append(ctx, &in)
	if err != nil {
		return "", fmt.Errorf("append interaction: %w", err)
	}
	in.ID = id

	err = s.workers.Submit(ctx, in.UserID, func(ctx context.Context) error {
		if err := s.applyFeedback(ctx, &in, &a); err != nil {
			s.logger.Error("Failed to apply feedback",
				zap.String("user_id", in.UserID),
				zap.String("interaction_id", in.ID),
				zap.Error(err))
			return err
		}
		return nil
	})
	if err != nil {
		return id, fmt.Errorf("queue feedback: %w", err)
	}
	return id, nil
}

func (s *Service) applyFeedback(ctx context.Context, in *domuser.Interaction, a *domart.Article) error {
	e := a.Embedding()
	if in.Type.UpdatesLongTerm() {
		p, err := s.users.Profile(ctx, in.UserID)
		if err != nil {
			return fmt.Errorf("load profile: %w", err)
		}
		step := s.opts.LearningRate * in.Type.Weight()
		if !domain.IsZero(p.LongTerm) || step > 0 {
			p.LongTerm = domain.Normalize(domain.Nudge(p.LongTerm, e, step))
		}
		if in.Type == domuser.InteractionMute {
			p.Mute(a.Source())
		}
		p.UpdatedAt = s.now().UTC()
		if err := s.users.SaveProfile(ctx, &p); err != nil {
			return fmt.Errorf("save profile: %w", err)
		}
	} else {
		sess, _, err := s.users.Session(ctx, in.UserID)
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		alpha := min(1, s.opts.SessionAlpha*in.SessionWeight())
		sess.Vector = domain.Normalize(domain.Blend(sess.Vector, e, alpha))
		sess.UpdatedAt = s.now().UTC()
		if err := s.users.SaveSession(ctx, in.UserID, sess); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
	}

	if !in.Type.IsPositive() {
		return nil
	}
	clusterID := ""
	c, ok, err := s.stories.PrimaryCluster(ctx, a.ID())
	switch {
	case err != nil && !errors.Is(err, domain.ErrClusterNotFound):
		s.logger.Warn("Primary cluster lookup failed", zap.String("article_id", a.ID()), zap.Error(err))
	case ok:
		clusterID = c.ID
	}
	if err := s.users.RecordEngagement(ctx, in.UserID, a.Source(), clusterID); err != nil {
		return fmt.Errorf("record engagement: %w", err)
	}
	return nil
}

// Close drains queued feedback until ctx ends.
func (s *Service) Close(ctx context.Context) error {
	if err := s.workers.Close(ctx); err != nil {
		return fmt.Errorf("close feedback workers: %w", err)
	}
	return nil
}
