// Package research serves cached article analyses and generates missing ones
// at most once per article at a time.
package research

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/newsiq/newsengine/internal/domain"
	domart "github.com/newsiq/newsengine/internal/domain/article"
	domresearch "github.com/newsiq/newsengine/internal/domain/research"
	"github.com/newsiq/newsengine/internal/metrics"
)

// Options tunes caching and context assembly.
type Options struct {
	TTL                  time.Duration
	GenerationTimeout    time.Duration
	RelatedK             int
	SiblingLimit         int
	MainChars            int
	RelatedChars         int
	StaleAfterNewRelated int // 0 disables the staleness check
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		TTL:                  24 * time.Hour,
		GenerationTimeout:    60 * time.Second,
		RelatedK:             5,
		SiblingLimit:         5,
		MainChars:            3000,
		RelatedChars:         500,
		StaleAfterNewRelated: 3,
	}
}

// Service is the deep research cache.
type Service struct {
	cache     CacheRepository
	articles  ArticleReader
	stories   StoryReader
	generator domresearch.Generator
	logger    *zap.Logger
	opts      Options

	group singleflight.Group
	now   func() time.Time
}

// New creates a research service. Zero option fields take defaults; a negative
// StaleAfterNewRelated disables the staleness check.
func New(
	cache CacheRepository, articles ArticleReader, stories StoryReader,
	generator domresearch.Generator, opts Options, logger *zap.Logger,
) *Service {
	d := DefaultOptions()
	if opts.TTL <= 0 {
		opts.TTL = d.TTL
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = d.GenerationTimeout
	}
	if opts.RelatedK <= 0 {
		opts.RelatedK = d.RelatedK
	}
	if opts.SiblingLimit < 0 {
		opts.SiblingLimit = 0
	}
	if opts.MainChars <= 0 {
		opts.MainChars = d.MainChars
	}
	if opts.RelatedChars <= 0 {
		opts.RelatedChars = d.RelatedChars
	}
	if opts.StaleAfterNewRelated < 0 {
		opts.StaleAfterNewRelated = 0
	}
	return &Service{
		cache:     cache,
		articles:  articles,
		stories:   stories,
		generator: generator,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
	}
}

// Analyze returns the cached analysis of an article or generates it.
// Concurrent callers for the same article share one generation. A caller whose
// ctx ends stops waiting; the generation continues for the others.
func (s *Service) Analyze(ctx context.Context, articleID string) (domresearch.Result, error) {
	if articleID == "" {
		return domresearch.Result{}, fmt.Errorf("article id is required: %w", domain.ErrInvalidInput)
	}

	if res, ok := s.lookup(ctx, articleID); ok {
		metrics.ResearchLookupsTotal.WithLabelValues("hit").Inc()
		return res, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(articleID, func() (any, error) {
		// A generation that finished between the miss above and joining the
		// group has already been saved.
		if res, ok := s.lookup(detached, articleID); ok {
			return res, nil
		}
		return s.generate(detached, articleID)
	})

	select {
	case <-ctx.Done():
		return domresearch.Result{}, fmt.Errorf("analyze %s: %w", articleID, ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			metrics.ResearchLookupsTotal.WithLabelValues("error").Inc()
			return domresearch.Result{}, fmt.Errorf("analyze %s: %w", articleID, r.Err)
		}
		res, _ := r.Val.(domresearch.Result)
		switch {
		case r.Shared:
			metrics.ResearchLookupsTotal.WithLabelValues("shared").Inc()
		case res.FromCache:
			metrics.ResearchLookupsTotal.WithLabelValues("hit").Inc()
		default:
			metrics.ResearchLookupsTotal.WithLabelValues("generated").Inc()
		}
		return res, nil
	}
}

// lookup serves a valid, fresh cache entry. Store errors are treated as a miss.
func (s *Service) lookup(ctx context.Context, articleID string) (domresearch.Result, bool) {
	entry, err := s.cache.Get(ctx, articleID)
	if err != nil {
		if !errors.Is(err, domresearch.ErrMiss) {
			s.logger.Warn("Research cache read failed", zap.String("article_id", articleID), zap.Error(err))
		}
		return domresearch.Result{}, false
	}
	if !entry.Valid(s.now()) {
		return domresearch.Result{}, false
	}
	if s.stale(ctx, &entry) {
		s.logger.Info("Research entry stale, regenerating", zap.String("article_id", articleID))
		return domresearch.Result{}, false
	}

	if err := s.cache.IncrementViews(ctx, articleID); err != nil {
		s.logger.Warn("Failed to count research view", zap.String("article_id", articleID), zap.Error(err))
	}
	related, err := s.articles.GetMany(ctx, entry.RelatedIDs)
	if err != nil {
		s.logger.Warn("Failed to load related articles", zap.String("article_id", articleID), zap.Error(err))
	}
	out := make([]domresearch.ContextArticle, 0, len(related))
	for i := range related {
		out = append(out, s.contextOf(&related[i], s.opts.RelatedChars))
	}
	return domresearch.Result{
		Analysis:    entry.Analysis,
		Related:     out,
		GeneratedAt: entry.GeneratedAt,
		FromCache:   true,
	}, true
}

// stale reports whether enough new related articles arrived after the entry was generated.
func (s *Service) stale(ctx context.Context, e *domresearch.Entry) bool {
	if s.opts.StaleAfterNewRelated <= 0 {
		return false
	}
	a, err := s.articles.Get(ctx, e.ArticleID)
	if err != nil {
		return false
	}
	near, err := s.articles.NearestNeighbors(ctx, a.Embedding(), s.opts.RelatedK*2,
		domart.Filter{Since: e.GeneratedAt, ExcludeIDs: []string{a.ID()}})
	if err != nil {
		s.logger.Debug("Staleness check failed", zap.String("article_id", a.ID()), zap.Error(err))
		return false
	}
	fresh := 0
	for _, n := range near {
		if n.Article.FetchedAt().After(e.GeneratedAt) {
			fresh++
		}
	}
	return fresh >= s.opts.StaleAfterNewRelated
}

func (s *Service) generate(ctx context.Context, articleID string) (domresearch.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.GenerationTimeout)
	defer cancel()
	start := time.Now()

	a, err := s.articles.Get(ctx, articleID)
	if err != nil {
		return domresearch.Result{}, s.generationError(ctx, fmt.Errorf("get article: %w", err))
	}
	bundle, relatedIDs, err := s.bundle(ctx, &a)
	if err != nil {
		return domresearch.Result{}, s.generationError(ctx, err)
	}

	text, err := s.generator.Generate(ctx, bundle)
	if err != nil {
		err = s.generationError(ctx, err)
		if !errors.Is(err, domain.ErrGenerationTimeout) && !errors.Is(err, domain.ErrUpstreamUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
		}
		return domresearch.Result{}, err
	}
	metrics.ResearchGenerationDuration.Observe(time.Since(start).Seconds())

	now := s.now().UTC()
	entry := domresearch.Entry{
		ArticleID:   articleID,
		Analysis:    text,
		RelatedIDs:  relatedIDs,
		GeneratedAt: now,
		ExpiresAt:   now.Add(s.opts.TTL),
	}
	if err := s.cache.Save(ctx, &entry); err != nil {
		s.logger.Error("Failed to cache analysis", zap.String("article_id", articleID), zap.Error(err))
	}

	return domresearch.Result{
		Analysis:    text,
		Related:     bundle.Related,
		GeneratedAt: now,
	}, nil
}

// generationError maps a deadline hit by the generation context to ErrGenerationTimeout.
func (s *Service) generationError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %w", domain.ErrGenerationTimeout, s.opts.GenerationTimeout, err)
	}
	return err
}

// bundle collects the nearest articles from other sources first, fills from the
// same source, then adds siblings from the primary story.
func (s *Service) bundle(ctx context.Context, a *domart.Article) (domresearch.Bundle, []string, error) {
	b := domresearch.Bundle{Main: s.contextOf(a, s.opts.MainChars)}
	k := s.opts.RelatedK
	used := map[string]bool{a.ID(): true}

	other, err := s.articles.NearestNeighbors(ctx, a.Embedding(), k,
		domart.Filter{ExcludeSources: []string{a.Source()}, ExcludeIDs: []string{a.ID()}})
	if err != nil {
		return b, nil, fmt.Errorf("related articles: %w", err)
	}
	related := other
	if len(related) < k {
		same, err := s.articles.NearestNeighbors(ctx, a.Embedding(), k-len(related),
			domart.Filter{Source: a.Source(), ExcludeIDs: []string{a.ID()}})
		if err != nil {
			return b, nil, fmt.Errorf("same-source articles: %w", err)
		}
		related = append(related, same...)
	}

	ids := make([]string, 0, len(related))
	for i := range related {
		r := &related[i].Article
		if used[r.ID()] {
			continue
		}
		used[r.ID()] = true
		ids = append(ids, r.ID())
		b.Related = append(b.Related, s.contextOf(r, s.opts.RelatedChars))
	}

	if s.opts.SiblingLimit == 0 {
		return b, ids, nil
	}
	c, ok, err := s.stories.PrimaryCluster(ctx, a.ID())
	if err != nil {
		s.logger.Warn("Primary story lookup failed", zap.String("article_id", a.ID()), zap.Error(err))
		return b, ids, nil
	}
	if !ok {
		return b, ids, nil
	}
	b.Story = c.Title

	links, err := s.stories.Members(ctx, c.ID, s.opts.SiblingLimit+len(used))
	if err != nil {
		return b, nil, fmt.Errorf("story members: %w", err)
	}
	sibIDs := make([]string, 0, s.opts.SiblingLimit)
	for _, l := range links {
		if used[l.ArticleID] {
			continue
		}
		used[l.ArticleID] = true
		sibIDs = append(sibIDs, l.ArticleID)
		if len(sibIDs) == s.opts.SiblingLimit {
			break
		}
	}
	siblings, err := s.articles.GetMany(ctx, sibIDs)
	if err != nil {
		return b, nil, fmt.Errorf("story siblings: %w", err)
	}
	for i := range siblings {
		b.Siblings = append(b.Siblings, s.contextOf(&siblings[i], s.opts.RelatedChars))
	}
	return b, ids, nil
}

func (s *Service) contextOf(a *domart.Article, maxRunes int) domresearch.ContextArticle {
	return domresearch.ContextArticle{
		ID:          a.ID(),
		Title:       a.Title(),
		Source:      a.Source(),
		URL:         a.URL(),
		Content:     truncate(a.Content(), maxRunes),
		Credibility: a.Credibility(),
		PublishedAt: a.PublishedAt(),
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// Invalidate marks the article's analysis as unusable. It reports whether an entry existed.
func (s *Service) Invalidate(ctx context.Context, articleID string) (bool, error) {
	if articleID == "" {
		return false, fmt.Errorf("article id is required: %w", domain.ErrInvalidInput)
	}
	ok, err := s.cache.Invalidate(ctx, articleID)
	if err != nil {
		return false, fmt.Errorf("invalidate research: %w", err)
	}
	return ok, nil
}

// Cleanup deletes expired and invalidated entries and returns how many were removed.
func (s *Service) Cleanup(ctx context.Context) (int, error) {
	n, err := s.cache.Cleanup(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("cleanup research cache: %w", err)
	}
	return n, nil
}
