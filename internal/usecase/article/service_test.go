package article

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/newsiq/newsengine/internal/domain"
	domart "github.com/newsiq/newsengine/internal/domain/article"
	"github.com/newsiq/newsengine/internal/transport/events"
)

// --- Mocks ---

// memRepo implements Repository with an in-memory URL registry.
type memRepo struct {
	mu       sync.Mutex
	urls     map[string]string
	articles map[string]domart.Article
	saveErr  error
	released []string

	nearestFn func(vector []float32, k int, f domart.Filter) ([]domart.Scored, error)
}

func newMemRepo() *memRepo {
	return &memRepo{urls: map[string]string{}, articles: map[string]domart.Article{}}
}

func (m *memRepo) Reserve(_ context.Context, url, id string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, ok := m.urls[url]; ok {
		return owner, false, nil
	}
	m.urls[url] = id
	return id, true, nil
}

func (m *memRepo) Release(_ context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.urls, url)
	m.released = append(m.released, url)
	return nil
}

func (m *memRepo) LookupURL(_ context.Context, url string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.urls[url]
	return id, ok, nil
}

func (m *memRepo) Save(_ context.Context, a *domart.Article) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.articles[a.ID()] = *a
	return nil
}

func (m *memRepo) Get(_ context.Context, id string) (domart.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.articles[id]
	if !ok {
		return domart.Article{}, domain.ErrArticleNotFound
	}
	return a, nil
}

func (m *memRepo) GetMany(ctx context.Context, ids []string) ([]domart.Article, error) {
	var out []domart.Article
	for _, id := range ids {
		if a, err := m.Get(ctx, id); err == nil {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memRepo) Nearest(_ context.Context, vector []float32, k int, f domart.Filter) ([]domart.Scored, error) {
	if m.nearestFn != nil {
		return m.nearestFn(vector, k, f)
	}
	return nil, nil
}

func (m *memRepo) Recent(_ context.Context, _ domart.Filter, _, _ int) ([]domart.Article, error) {
	return nil, nil
}

func (m *memRepo) Count(_ context.Context, _ domart.Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.articles), nil
}

type mockPublisher struct {
	mu     sync.Mutex
	events []events.ArticleStored
	err    error
}

func (m *mockPublisher) PublishArticleStored(_ context.Context, evt events.ArticleStored) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return m.err
}

func makeArticle(t *testing.T, id, url string) *domart.Article {
	t.Helper()
	a, err := domart.New(id, domart.Draft{
		URL:         url,
		Title:       "Headline " + id,
		Content:     strings.Repeat("body ", 30),
		Source:      "Wire",
		Credibility: 75,
	}, []float32{1, 0, 0}, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("domart.New: %v", err)
	}
	return &a
}

// --- Tests ---

func TestPut_StoresAndPublishes(t *testing.T) {
	repo, pub := newMemRepo(), &mockPublisher{}
	svc := New(repo, pub, zap.NewNop())

	id, created, err := svc.Put(context.Background(), makeArticle(t, "a1", "https://x.example/1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "a1" || !created {
		t.Errorf("id=%q created=%v", id, created)
	}
	if len(pub.events) != 1 || pub.events[0].ArticleID != "a1" || pub.events[0].Source != "Wire" {
		t.Errorf("events = %+v", pub.events)
	}
}

func TestPut_DuplicateURLIsNoop(t *testing.T) {
	repo, pub := newMemRepo(), &mockPublisher{}
	svc := New(repo, pub, zap.NewNop())
	ctx := context.Background()

	_, _, _ = svc.Put(ctx, makeArticle(t, "a1", "https://x.example/1"))
	id, created, err := svc.Put(ctx, makeArticle(t, "a2", "https://x.example/1"))
	if err != nil {
		t.Fatalf("duplicate must not be an error: %v", err)
	}
	if id != "a1" || created {
		t.Errorf("id=%q created=%v, want existing a1", id, created)
	}
	if n, _ := svc.Count(ctx, domart.Filter{}); n != 1 {
		t.Errorf("stored %d articles, want 1", n)
	}
	if len(pub.events) != 1 {
		t.Errorf("published %d events, want 1", len(pub.events))
	}
}

func TestPut_ConcurrentSameURL(t *testing.T) {
	repo, pub := newMemRepo(), &mockPublisher{}
	svc := New(repo, pub, zap.NewNop())

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	ids := map[string]bool{}
	arts := make([]*domart.Article, 10)
	for i := range arts {
		arts[i] = makeArticle(t, fmt.Sprintf("a%d", i), "https://x.example/same")
	}
	for _, a := range arts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, created, err := svc.Put(context.Background(), a)
			if err != nil {
				t.Errorf("put: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[id] = true
			if created {
				createdCount++
			}
		}()
	}
	wg.Wait()

	if createdCount != 1 || len(ids) != 1 {
		t.Errorf("created=%d distinct ids=%d, want 1/1", createdCount, len(ids))
	}
	if len(pub.events) != 1 {
		t.Errorf("published %d events, want 1", len(pub.events))
	}
}

func TestPut_SaveFailureReleasesURL(t *testing.T) {
	repo := newMemRepo()
	repo.saveErr = errors.New("write failed")
	svc := New(repo, nil, zap.NewNop())

	_, _, err := svc.Put(context.Background(), makeArticle(t, "a1", "https://x.example/1"))
	if err == nil {
		t.Fatal("expected error")
	}
	if len(repo.released) != 1 {
		t.Fatalf("reservation not released: %v", repo.released)
	}
	if _, ok, _ := svc.LookupURL(context.Background(), "https://x.example/1"); ok {
		t.Error("url still reserved after failed save")
	}
}

func TestPut_PublishFailureStillStores(t *testing.T) {
	repo := newMemRepo()
	svc := New(repo, &mockPublisher{err: errors.New("bus closed")}, zap.NewNop())

	_, created, err := svc.Put(context.Background(), makeArticle(t, "a1", "https://x.example/1"))
	if err != nil || !created {
		t.Fatalf("created=%v err=%v", created, err)
	}
	if _, err := svc.Get(context.Background(), "a1"); err != nil {
		t.Errorf("article not stored: %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	svc := New(newMemRepo(), nil, zap.NewNop())
	_, err := svc.Get(context.Background(), "missing")
	if !errors.Is(err, domain.ErrArticleNotFound) {
		t.Fatalf("expected ErrArticleNotFound, got %v", err)
	}
}

func TestNearestNeighbors_Validation(t *testing.T) {
	svc := New(newMemRepo(), nil, zap.NewNop())
	ctx := context.Background()

	tests := []struct {
		name   string
		vector []float32
		k      int
	}{
		{"empty vector", nil, 5},
		{"zero vector", []float32{0, 0}, 5},
		{"zero k", []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.NearestNeighbors(ctx, tt.vector, tt.k, domart.Filter{})
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestNearestNeighbors_CapsK(t *testing.T) {
	repo := newMemRepo()
	var gotK int
	repo.nearestFn = func(_ []float32, k int, _ domart.Filter) ([]domart.Scored, error) {
		gotK = k
		return nil, nil
	}
	svc := New(repo, nil, zap.NewNop()).WithMaxK(10)

	if _, err := svc.NearestNeighbors(context.Background(), []float32{1}, 500, domart.Filter{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotK != 10 {
		t.Errorf("k = %d, want 10", gotK)
	}
}
