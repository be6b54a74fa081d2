package research

import (
	"context"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/newsiq/newsengine/internal/domain"
	domart "github.com/newsiq/newsengine/internal/domain/article"
	domresearch "github.com/newsiq/newsengine/internal/domain/research"
	"github.com/newsiq/newsengine/internal/domain/story"
)

var testNow = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)

type memCache struct {
	mu      sync.Mutex
	entries map[string]domresearch.Entry
	saves   int
}

func newMemCache() *memCache { return &memCache{entries: map[string]domresearch.Entry{}} }

func (m *memCache) Get(_ context.Context, id string) (domresearch.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return domresearch.Entry{}, domresearch.ErrMiss
	}
	return e, nil
}

func (m *memCache) Save(_ context.Context, e *domresearch.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.ArticleID] = *e
	m.saves++
	return nil
}

func (m *memCache) IncrementViews(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[id]
	e.ViewCount++
	m.entries[id] = e
	return nil
}

func (m *memCache) Invalidate(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return false, nil
	}
	e.Invalidated = true
	m.entries[id] = e
	return true, nil
}

func (m *memCache) Cleanup(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.entries {
		if !e.Valid(now) {
			delete(m.entries, id)
			n++
		}
	}
	return n, nil
}

func (m *memCache) entry(id string) (domresearch.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	return e, ok
}

type memArticles struct {
	mu    sync.Mutex
	items []domart.Article
}

func (m *memArticles) add(a domart.Article) {
	m.mu.Lock()
	m.items = append(m.items, a)
	m.mu.Unlock()
}

func (m *memArticles) Get(_ context.Context, id string) (domart.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.items {
		if a.ID() == id {
			return a, nil
		}
	}
	return domart.Article{}, domain.ErrArticleNotFound
}

func (m *memArticles) GetMany(ctx context.Context, ids []string) ([]domart.Article, error) {
	var out []domart.Article
	for _, id := range ids {
		if a, err := m.Get(ctx, id); err == nil {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memArticles) NearestNeighbors(
	_ context.Context, vec []float32, k int, f domart.Filter,
) ([]domart.Scored, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domart.Scored
	for _, a := range m.items {
		switch {
		case slices.Contains(f.ExcludeIDs, a.ID()),
			slices.Contains(f.ExcludeSources, a.Source()),
			f.Source != "" && a.Source() != f.Source,
			!f.Since.IsZero() && a.PublishedAt().Before(f.Since):
			continue
		}
		out = append(out, domart.Scored{Article: a, Similarity: domain.Cosine(vec, a.Embedding())})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Article.ID() < out[j].Article.ID()
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

type memStories struct {
	primary map[string]story.Cluster
	members map[string][]story.Link
}

func (m *memStories) PrimaryCluster(_ context.Context, id string) (story.Cluster, bool, error) {
	c, ok := m.primary[id]
	return c, ok, nil
}

func (m *memStories) Members(_ context.Context, id string, limit int) ([]story.Link, error) {
	links := m.members[id]
	if limit > 0 && len(links) > limit {
		links = links[:limit]
	}
	return links, nil
}

// stubGenerator delegates to fn and counts calls.
type stubGenerator struct {
	calls atomic.Int32
	fn    func(ctx context.Context, b domresearch.Bundle) (string, error)
}

func (g *stubGenerator) Generate(ctx context.Context, b domresearch.Bundle) (string, error) {
	g.calls.Add(1)
	if g.fn != nil {
		return g.fn(ctx, b)
	}
	return "Background: analysis of " + b.Main.ID, nil
}

func mkArticle(t *testing.T, id, source string, vec []float32, fetched time.Time, contentLen int) domart.Article {
	t.Helper()
	content := ""
	for len([]rune(content)) < contentLen {
		content += "word "
	}
	a, err := domart.New(id, domart.Draft{
		URL:         "https://" + source + ".example/" + id,
		Title:       "Title " + id,
		Content:     content,
		Source:      source,
		Credibility: 75,
		PublishedAt: fetched,
	}, vec, fetched)
	if err != nil {
		t.Fatalf("article %s: %v", id, err)
	}
	return a
}

type fixture struct {
	svc      *Service
	cache    *memCache
	articles *memArticles
	stories  *memStories
	gen      *stubGenerator
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		cache:    newMemCache(),
		articles: &memArticles{},
		stories:  &memStories{primary: map[string]story.Cluster{}, members: map[string][]story.Link{}},
		gen:      &stubGenerator{},
	}
	f.svc = New(f.cache, f.articles, f.stories, f.gen, opts, zap.NewNop())
	f.svc.now = func() time.Time { return testNow }

	old := testNow.Add(-48 * time.Hour)
	f.articles.add(mkArticle(t, "main", "wire", []float32{1, 0, 0}, old, 200))
	return f
}

// pausingCache holds the first Get issued after arm until release is closed,
// returning what the store held when the Get was issued.
type pausingCache struct {
	*memCache
	armed   atomic.Bool
	paused  chan struct{}
	release chan struct{}
}

func newPausingCache(m *memCache) *pausingCache {
	return &pausingCache{memCache: m, paused: make(chan struct{}), release: make(chan struct{})}
}

func (p *pausingCache) arm() { p.armed.Store(true) }

func (p *pausingCache) Get(ctx context.Context, id string) (domresearch.Entry, error) {
	e, err := p.memCache.Get(ctx, id)
	if p.armed.CompareAndSwap(true, false) {
		close(p.paused)
		<-p.release
	}
	return e, err
}
