package ingestion

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/newsiq/newsengine/internal/domain"
	domart "github.com/newsiq/newsengine/internal/domain/article"
	domsource "github.com/newsiq/newsengine/internal/domain/source"
	"github.com/newsiq/newsengine/internal/transport/rss"
)

type memSources struct {
	mu     sync.Mutex
	items  map[string]domsource.Source
	stored map[string]int64
}

func newMemSources() *memSources {
	return &memSources{items: map[string]domsource.Source{}, stored: map[string]int64{}}
}

func (m *memSources) Save(_ context.Context, s *domsource.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[s.ID] = *s
	return nil
}

func (m *memSources) Get(_ context.Context, id string) (domsource.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	if !ok {
		return domsource.Source{}, fmt.Errorf("source %s: %w", id, domain.ErrSourceNotFound)
	}
	return s, nil
}

func (m *memSources) List(_ context.Context) ([]domsource.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domsource.Source, 0, len(m.items))
	for _, s := range m.items {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memSources) AddStored(_ context.Context, id string, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored[id] += n
	return nil
}

// stubFetcher serves feeds and pages by url; fetchErr fails every feed fetch.
type stubFetcher struct {
	mu       sync.Mutex
	feeds    map[string]rss.Feed
	pages    map[string]string
	fetchErr error
	fetches  atomic.Int32
	extracts atomic.Int32
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) (rss.Feed, error) {
	f.fetches.Add(1)
	if err := ctx.Err(); err != nil {
		return rss.Feed{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return rss.Feed{}, f.fetchErr
	}
	return f.feeds[url], nil
}

func (f *stubFetcher) FetchArticle(_ context.Context, url string) (string, error) {
	f.extracts.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	text, ok := f.pages[url]
	if !ok {
		return "", fmt.Errorf("get %s: HTTP 404", url)
	}
	return text, nil
}

func (f *stubFetcher) setErr(err error) {
	f.mu.Lock()
	f.fetchErr = err
	f.mu.Unlock()
}

type memArticles struct {
	mu    sync.Mutex
	byURL map[string]domart.Article
}

func newMemArticles() *memArticles { return &memArticles{byURL: map[string]domart.Article{}} }

func (m *memArticles) LookupURL(_ context.Context, url string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byURL[url]
	return a.ID(), ok, nil
}

func (m *memArticles) Put(_ context.Context, a *domart.Article) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byURL[a.URL()]; ok {
		return existing.ID(), false, nil
	}
	m.byURL[a.URL()] = *a
	return a.ID(), true, nil
}

func (m *memArticles) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byURL)
}

// stubEmbedder fails the first failures calls with err, then returns a fixed vector.
type stubEmbedder struct {
	calls    atomic.Int32
	failures int32
	err      error
	failOn   string

	mu    sync.Mutex
	texts []string
}

func (e *stubEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	n := e.calls.Add(1)
	e.mu.Lock()
	e.texts = append(e.texts, text)
	e.mu.Unlock()
	if e.failOn != "" && len(text) >= len(e.failOn) && text[:len(e.failOn)] == e.failOn {
		return domain.EmbeddingResult{}, fmt.Errorf("provider: %w", domain.ErrInvalidInput)
	}
	if n <= e.failures {
		return domain.EmbeddingResult{}, e.err
	}
	return domain.EmbeddingResult{Embedding: []float32{1, 0, 0}}, nil
}

// batchEmbedder adds a batch endpoint to stubEmbedder; batchErr fails every batch.
type batchEmbedder struct {
	*stubEmbedder
	batches  atomic.Int32
	batchErr error
	sizes    []int
}

func (b *batchEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	b.batches.Add(1)
	b.mu.Lock()
	b.sizes = append(b.sizes, len(texts))
	b.mu.Unlock()
	if b.batchErr != nil {
		return domain.BatchEmbeddingResult{}, b.batchErr
	}
	out := domain.BatchEmbeddingResult{Embeddings: make([][]float32, len(texts))}
	for i := range texts {
		out.Embeddings[i] = []float32{0, 1, 0}
	}
	return out, nil
}

const feedURL = "https://wire.example/rss"

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *Service
	sources  *memSources
	fetcher  *stubFetcher
	articles *memArticles
	embedder *stubEmbedder
	sourceID string
}

func newFixture(t *testing.T, items ...rss.Item) *fixture {
	t.Helper()
	f := &fixture{
		sources:  newMemSources(),
		fetcher:  &stubFetcher{feeds: map[string]rss.Feed{feedURL: {Title: "Wire", Items: items}}, pages: map[string]string{}},
		articles: newMemArticles(),
		embedder: &stubEmbedder{},
	}
	f.svc = New(f.sources, f.fetcher, f.articles, f.embedder, zap.NewNop())
	f.svc.now = func() time.Time { return testNow }
	var seq atomic.Int32
	f.svc.newID = func() string { return fmt.Sprintf("a%d", seq.Add(1)) }
	f.svc.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }

	if err := f.svc.Sync(context.Background(), []SourceDef{{
		Name: "Wire", URL: feedURL, Interval: 5 * time.Minute, Credibility: 80, Topics: []string{"World"},
	}}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	f.sourceID = domsource.IDFor(feedURL)
	return f
}

func longText(word string) string {
	s := ""
	for len(s) < 600 {
		s += word + " "
	}
	return s
}

func item(path, content string) rss.Item {
	return rss.Item{
		URL:         "https://wire.example/" + path,
		Title:       "Headline " + path,
		Content:     content,
		PublishedAt: testNow.Add(-time.Hour),
		Categories:  []string{"Politics"},
	}
}
