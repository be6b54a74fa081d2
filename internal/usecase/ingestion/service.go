// Package ingestion polls registered feeds and writes new articles into the store.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/newsiq/newsengine/internal/domain"
	domart "github.com/newsiq/newsengine/internal/domain/article"
	domsource "github.com/newsiq/newsengine/internal/domain/source"
	"github.com/newsiq/newsengine/internal/metrics"
	"github.com/newsiq/newsengine/internal/syncx"
	"github.com/newsiq/newsengine/internal/transport/rss"
)

// Options tunes polling and per-item processing.
type Options struct {
	Concurrency          int
	DefaultInterval      time.Duration
	MaxItemsPerFetch     int
	MinContentForExtract int
	EmbedAttempts        int
	EmbedBackoff         time.Duration
	MaxEmbedChars        int
	Backoff              domsource.Backoff
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Concurrency:          4,
		DefaultInterval:      5 * time.Minute,
		MaxItemsPerFetch:     50,
		MinContentForExtract: 500,
		EmbedAttempts:        3,
		EmbedBackoff:         time.Second,
		MaxEmbedChars:        32000,
		Backoff:              domsource.Backoff{Max: 6 * time.Hour, Threshold: 5},
	}
}

// SourceDef is a feed declared in configuration.
type SourceDef struct {
	Name        string
	URL         string
	Interval    time.Duration
	Credibility int
	Topics      []string
}

// PollResult summarizes one poll of one source.
type PollResult struct {
	SourceID   string `json:"source_id"`
	Source     string `json:"source"`
	Fetched    int    `json:"fetched"`
	Stored     int    `json:"stored"`
	Duplicates int    `json:"duplicates"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	Error      string `json:"error,omitempty"`
}

type outcome string

const (
	outcomeStored    outcome = "stored"
	outcomeDuplicate outcome = "duplicate"
	outcomeSkipped   outcome = "skipped"
	outcomeError     outcome = "error"
)

// Service schedules feed polls and ingests their items.
type Service struct {
	sources  SourceRepository
	fetcher  Fetcher
	articles ArticleStore
	embedder domain.Embedder
	logger   *zap.Logger
	opts     Options

	sem   *semaphore.Weighted
	locks *syncx.KeyedMutex

	mu    sync.Mutex
	kicks map[string]chan struct{}

	now   func() time.Time
	newID func() string
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an ingestion service with DefaultOptions.
func New(
	sources SourceRepository, fetcher Fetcher, articles ArticleStore,
	embedder domain.Embedder, logger *zap.Logger,
) *Service {
	s := &Service{
		sources:  sources,
		fetcher:  fetcher,
		articles: articles,
		embedder: embedder,
		logger:   logger,
		locks:    syncx.NewKeyedMutex(),
		kicks:    make(map[string]chan struct{}),
		now:      time.Now,
		newID:    uuid.NewString,
		sleep:    sleepCtx,
	}
	return s.WithOptions(DefaultOptions())
}

// WithOptions replaces the tunables. Zero fields keep their defaults.
func (s *Service) WithOptions(o Options) *Service {
	d := DefaultOptions()
	if o.Concurrency <= 0 {
		o.Concurrency = d.Concurrency
	}
	if o.DefaultInterval <= 0 {
		o.DefaultInterval = d.DefaultInterval
	}
	if o.MaxItemsPerFetch <= 0 {
		o.MaxItemsPerFetch = d.MaxItemsPerFetch
	}
	if o.MinContentForExtract < 0 {
		o.MinContentForExtract = 0
	}
	if o.EmbedAttempts <= 0 {
		o.EmbedAttempts = d.EmbedAttempts
	}
	if o.EmbedBackoff < 0 {
		o.EmbedBackoff = 0
	}
	if o.MaxEmbedChars <= 0 {
		o.MaxEmbedChars = d.MaxEmbedChars
	}
	if o.Backoff.Threshold <= 0 {
		o.Backoff.Threshold = d.Backoff.Threshold
	}
	if o.Backoff.Max <= 0 {
		o.Backoff.Max = d.Backoff.Max
	}
	s.opts = o
	s.sem = semaphore.NewWeighted(int64(o.Concurrency))
	return s
}

// Sync upserts configured sources. Known sources keep their health state.
func (s *Service) Sync(ctx context.Context, defs []SourceDef) error {
	for _, def := range defs {
		if err := domart.ValidateURL(def.URL); err != nil {
			return fmt.Errorf("source %q: %w: %w", def.Name, domain.ErrInvalidInput, err)
		}
		id := domsource.IDFor(def.URL)
		interval := def.Interval
		if interval <= 0 {
			interval = s.opts.DefaultInterval
		}

		src, err := s.sources.Get(ctx, id)
		switch {
		case errors.Is(err, domain.ErrSourceNotFound):
			src = domsource.Source{ID: id, IsActive: true}
		case err != nil:
			return fmt.Errorf("load source %s: %w", id, err)
		}
		src.Name = def.Name
		src.URL = def.URL
		src.Interval = interval
		src.Credibility = def.Credibility
		src.Topics = def.Topics

		if err := s.sources.Save(ctx, &src); err != nil {
			return fmt.Errorf("save source %s: %w", id, err)
		}
	}
	s.refreshInactive(ctx)
	return nil
}

// Sources lists every registered source with its health.
func (s *Service) Sources(ctx context.Context) ([]domsource.Source, error) {
	out, err := s.sources.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return out, nil
}

// Run starts one poll loop per registered source and blocks until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	srcs, err := s.sources.List(ctx)
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}

	var wg sync.WaitGroup
	for _, src := range srcs {
		kick := s.kickChan(src.ID)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, src.ID, kick)
		}()
	}
	s.logger.Info("Ingestion started", zap.Int("sources", len(srcs)))

	wg.Wait()
	s.logger.Info("Ingestion stopped")
	return nil
}

func (s *Service) loop(ctx context.Context, id string, kick <-chan struct{}) {
	var delay time.Duration
	for {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case <-kick:
			timer.Stop()
		}

		res, src, err := s.poll(ctx, id)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, domain.ErrSourceExhausted):
			// parked until an operator reactivates the source
			select {
			case <-ctx.Done():
				return
			case <-kick:
				delay = 0
				continue
			}
		case errors.Is(err, domain.ErrSourceNotFound):
			s.logger.Warn("Source removed, stopping poll loop", zap.String("source_id", id))
			return
		case err != nil:
			s.logger.Warn("Poll failed", zap.String("source_id", id), zap.Error(err))
		default:
			s.logger.Debug("Poll finished",
				zap.String("source", res.Source),
				zap.Int("fetched", res.Fetched),
				zap.Int("stored", res.Stored))
		}

		delay = s.opts.DefaultInterval
		if src.ID != "" {
			delay = src.NextDelay(s.opts.Backoff)
		}
	}
}

func (s *Service) kickChan(id string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.kicks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.kicks[id] = ch
	}
	return ch
}

func (s *Service) kick(id string) {
	select {
	case s.kickChan(id) <- struct{}{}:
	default:
	}
}

// PollNow polls one source immediately, bypassing its schedule.
func (s *Service) PollNow(ctx context.Context, id string) (PollResult, error) {
	res, _, err := s.poll(ctx, id)
	return res, err
}

// PollAll polls every active source once. Per-source failures are reported in the results.
func (s *Service) PollAll(ctx context.Context) ([]PollResult, error) {
	srcs, err := s.sources.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	results := make([]PollResult, 0, len(srcs))
	var mu sync.Mutex
	var g errgroup.Group
	for _, src := range srcs {
		if !src.IsActive {
			continue
		}
		g.Go(func() error {
			res, _, err := s.poll(ctx, src.ID)
			if err != nil {
				res.Error = err.Error()
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return results, fmt.Errorf("poll all: %w", err)
	}
	return results, nil
}

// Reactivate clears the failure state of a source and resumes its poll loop.
func (s *Service) Reactivate(ctx context.Context, id string) (domsource.Source, error) {
	unlock := s.locks.Lock(id)
	src, err := s.sources.Get(ctx, id)
	if err != nil {
		unlock()
		return domsource.Source{}, fmt.Errorf("get source: %w", err)
	}
	src.Reactivate()
	if err := s.sources.Save(ctx, &src); err != nil {
		unlock()
		return domsource.Source{}, fmt.Errorf("save source: %w", err)
	}
	unlock()

	s.logger.Info("Source reactivated", zap.String("source_id", id), zap.String("source", src.Name))
	s.refreshInactive(ctx)
	s.kick(id)
	return src, nil
}

// poll fetches one source and ingests its items. Polls of the same source are serialized.
func (s *Service) poll(ctx context.Context, id string) (PollResult, domsource.Source, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return PollResult{SourceID: id}, domsource.Source{}, fmt.Errorf("acquire poll slot: %w", err)
	}
	defer s.sem.Release(1)

	src, err := s.sources.Get(ctx, id)
	if err != nil {
		return PollResult{SourceID: id}, domsource.Source{}, fmt.Errorf("get source: %w", err)
	}
	res := PollResult{SourceID: id, Source: src.Name}
	if !src.IsActive {
		return res, src, fmt.Errorf("source %s: %w", src.Name, domain.ErrSourceExhausted)
	}

	feed, err := s.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		if ctx.Err() != nil {
			return res, src, fmt.Errorf("fetch %s: %w", src.Name, err)
		}
		return res, src, s.recordFailure(ctx, &src, err)
	}

	items := feed.Items
	if len(items) > s.opts.MaxItemsPerFetch {
		items = items[:s.opts.MaxItemsPerFetch]
	}
	res.Fetched = len(items)
	var ready []pending
	for i := range items {
		p, out := s.prepare(ctx, &src, &items[i])
		if out != "" {
			res.count(out)
			continue
		}
		ready = append(ready, p)
	}
	vecs := s.embedBatch(ctx, &src, ready)
	for i := range ready {
		res.count(s.store(ctx, &src, &ready[i], vecs[i]))
	}

	src.RecordSuccess(s.now().UTC())
	metrics.FeedPollsTotal.WithLabelValues("success").Inc()
	if err := s.sources.Save(ctx, &src); err != nil {
		return res, src, fmt.Errorf("save source: %w", err)
	}
	if err := s.sources.AddStored(ctx, id, int64(res.Stored)); err != nil {
		s.logger.Warn("Failed to update stored counter", zap.String("source_id", id), zap.Error(err))
	}
	return res, src, nil
}

func (s *Service) recordFailure(ctx context.Context, src *domsource.Source, cause error) error {
	metrics.FeedPollsTotal.WithLabelValues("error").Inc()
	exhausted := src.RecordFailure(cause, s.now().UTC(), s.opts.Backoff)
	if err := s.sources.Save(ctx, src); err != nil {
		s.logger.Error("Failed to save source health", zap.String("source_id", src.ID), zap.Error(err))
	}
	if !exhausted {
		s.logger.Warn("Feed fetch failed",
			zap.String("source", src.Name),
			zap.Int("error_count", src.ErrorCount),
			zap.Duration("next_delay", src.NextDelay(s.opts.Backoff)),
			zap.Error(cause))
		return fmt.Errorf("fetch %s: %w", src.Name, cause)
	}

	s.logger.Error("Source deactivated",
		zap.String("source", src.Name),
		zap.String("source_id", src.ID),
		zap.Int("error_count", src.ErrorCount),
		zap.Error(domain.ErrSourceExhausted),
		zap.NamedError("cause", cause))
	s.refreshInactive(ctx)
	return fmt.Errorf("fetch %s: %w: %w", src.Name, domain.ErrSourceExhausted, cause)
}

func (s *Service) refreshInactive(ctx context.Context) {
	srcs, err := s.sources.List(ctx)
	if err != nil {
		s.logger.Warn("Failed to count inactive sources", zap.Error(err))
		return
	}
	inactive := 0
	for _, src := range srcs {
		if !src.IsActive {
			inactive++
		}
	}
	metrics.SourcesInactive.Set(float64(inactive))
}

// pending is a new item whose content is settled and which only needs a vector.
type pending struct {
	item    *rss.Item
	content string
	text    string
}

func (r *PollResult) count(o outcome) {
	metrics.FeedItemsTotal.WithLabelValues(string(o)).Inc()
	switch o {
	case outcomeStored:
		r.Stored++
	case outcomeDuplicate:
		r.Duplicates++
	case outcomeSkipped:
		r.Skipped++
	case outcomeError:
		r.Failed++
	}
}

// prepare validates and dedupes one item and settles its content. A non-empty
// outcome means the item is done.
func (s *Service) prepare(ctx context.Context, src *domsource.Source, it *rss.Item) (pending, outcome) {
	log := s.logger.With(zap.String("source", src.Name), zap.String("url", it.URL))

	if domart.ValidateURL(it.URL) != nil || strings.TrimSpace(it.Title) == "" {
		log.Debug("Skipping item without url or title")
		return pending{}, outcomeSkipped
	}
	if _, ok, err := s.articles.LookupURL(ctx, it.URL); err != nil {
		log.Warn("URL lookup failed", zap.Error(err))
		return pending{}, outcomeError
	} else if ok {
		return pending{}, outcomeDuplicate
	}

	content := it.Content
	if utf8.RuneCountInString(content) < s.opts.MinContentForExtract {
		text, err := s.fetcher.FetchArticle(ctx, it.URL)
		if err != nil {
			log.Debug("Content extraction failed", zap.Error(err))
		} else if utf8.RuneCountInString(text) > utf8.RuneCountInString(content) {
			content = text
		}
	}
	if len(strings.TrimSpace(content)) < domart.MinContentChars {
		log.Debug("Skipping item with short content", zap.Int("chars", len(content)))
		return pending{}, outcomeSkipped
	}

	return pending{
		item:    it,
		content: content,
		text:    domain.ClipText(it.Title+"\n\n"+content, s.opts.MaxEmbedChars),
	}, ""
}

// embedBatch embeds all ready items in one call. On failure it returns nil
// vectors and each item is embedded on its own.
func (s *Service) embedBatch(ctx context.Context, src *domsource.Source, ready []pending) [][]float32 {
	out := make([][]float32, len(ready))
	if len(ready) < 2 {
		return out
	}
	texts := make([]string, len(ready))
	for i := range ready {
		texts[i] = ready[i].text
	}
	res, err := domain.EmbedAll(ctx, s.embedder, texts)
	if err == nil && len(res.Embeddings) == len(texts) {
		return res.Embeddings
	}
	s.logger.Warn("Batch embedding failed, embedding items one by one",
		zap.String("source", src.Name), zap.Int("items", len(texts)), zap.Error(err))
	return out
}

// store embeds the item if it has no vector yet and writes the article.
func (s *Service) store(ctx context.Context, src *domsource.Source, p *pending, vec []float32) outcome {
	it := p.item
	log := s.logger.With(zap.String("source", src.Name), zap.String("url", it.URL))

	if len(vec) == 0 {
		var err error
		if vec, err = s.embed(ctx, p.text); err != nil {
			log.Warn("Embedding failed", zap.Error(err))
			return outcomeError
		}
	}

	a, err := domart.New(s.newID(), domart.Draft{
		URL:         it.URL,
		Title:       it.Title,
		Content:     p.content,
		Summary:     it.Summary,
		Author:      it.Author,
		Source:      src.Name,
		Credibility: src.Credibility,
		PublishedAt: it.PublishedAt,
		Topics:      append(append([]string(nil), src.Topics...), it.Categories...),
	}, vec, s.now())
	if err != nil {
		log.Debug("Skipping invalid item", zap.Error(err))
		return outcomeSkipped
	}

	_, created, err := s.articles.Put(ctx, &a)
	if err != nil {
		log.Warn("Store failed", zap.Error(err))
		return outcomeError
	}
	if !created {
		return outcomeDuplicate
	}
	return outcomeStored
}

// embed retries UpstreamUnavailable failures with exponential backoff. Rejected
// requests fail at once.
func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	delay := s.opts.EmbedBackoff
	var lastErr error
	for attempt := 1; attempt <= s.opts.EmbedAttempts; attempt++ {
		res, err := s.embedder.Embed(ctx, text)
		if err == nil {
			return res.Embedding, nil
		}
		lastErr = err
		if !errors.Is(err, domain.ErrUpstreamUnavailable) || attempt == s.opts.EmbedAttempts {
			break
		}
		if err := s.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("embed retry: %w", err)
		}
		delay *= 2
	}
	return nil, fmt.Errorf("embed: %w", lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
