package article

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/newsiq/newsengine/internal/db"
	"github.com/newsiq/newsengine/internal/domain"
	domart "github.com/newsiq/newsengine/internal/domain/article"
)

var t0 = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func TestReserve_FirstWriterWins(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.setNXFn = func(_ context.Context, key string, _ []byte) (bool, error) {
		if !strings.HasPrefix(key, "news:article_url:") {
			t.Errorf("unexpected key %q", key)
		}
		return true, nil
	}

	owner, reserved, err := repo.Reserve(context.Background(), "https://x/1", "a1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reserved || owner != "a1" {
		t.Errorf("owner=%q reserved=%v", owner, reserved)
	}
}

func TestReserve_DuplicateReturnsExistingID(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.setNXFn = func(context.Context, string, []byte) (bool, error) { return false, nil }
	ms.getFn = func(context.Context, string) ([]byte, error) { return []byte("a0"), nil }

	owner, reserved, err := repo.Reserve(context.Background(), "https://x/1", "a1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reserved || owner != "a0" {
		t.Errorf("owner=%q reserved=%v, want a0/false", owner, reserved)
	}
}

func TestLookupURL_Missing(t *testing.T) {
	repo, _ := newTestRepo(t)
	_, found, err := repo.LookupURL(context.Background(), "https://x/unknown")
	if err != nil || found {
		t.Errorf("found=%v err=%v", found, err)
	}
}

func TestSaveGet_RoundTrip(t *testing.T) {
	repo, ms := newTestRepo(t)
	stored := map[string]map[string]string{}
	ms.hsetFn = func(_ context.Context, key string, fields map[string]string) error {
		stored[key] = fields
		return nil
	}
	ms.hgetAllFn = func(_ context.Context, key string) (map[string]string, error) {
		if m, ok := stored[key]; ok {
			return m, nil
		}
		return nil, db.ErrKeyNotFound
	}

	sentiment := -0.25
	a, err := domart.New("a1", domart.Draft{
		URL:         "https://example.com/a1",
		Title:       "Title",
		Content:     strings.Repeat("x", 200),
		Author:      "J. Doe",
		Source:      "Wire",
		Credibility: 90,
		PublishedAt: t0,
		Topics:      []string{"economy", "trade"},
		Entities:    domart.Entities{People: []string{"Ada"}},
		Sentiment:   &sentiment,
	}, []float32{0.5, 0.5, 0, 0}, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := repo.Save(context.Background(), &a); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok := stored["news:article:a1"]; !ok {
		t.Fatalf("keys = %v", stored)
	}

	got, err := repo.Get(context.Background(), "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.URL() != a.URL() || got.Author() != "J. Doe" || got.Credibility() != 90 {
		t.Errorf("fields mismatch: %+v", got)
	}
	if !got.PublishedAt().Equal(t0) {
		t.Errorf("published = %v", got.PublishedAt())
	}
	if len(got.Topics()) != 2 || got.Entities().People[0] != "Ada" {
		t.Errorf("topics=%v entities=%+v", got.Topics(), got.Entities())
	}
	if got.Sentiment() == nil || *got.Sentiment() != -0.25 {
		t.Errorf("sentiment = %v", got.Sentiment())
	}
	if e := got.Embedding(); len(e) != 4 || e[0] != 0.5 {
		t.Errorf("embedding = %v", e)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo, _ := newTestRepo(t)
	if _, err := repo.Get(context.Background(), "missing"); !errors.Is(err, domain.ErrArticleNotFound) {
		t.Errorf("expected ErrArticleNotFound, got %v", err)
	}
}

func TestNearest_TieBreakAndExclusion(t *testing.T) {
	repo, ms := newTestRepo(t)
	older := testArticle(t, "b", "S1", t0)
	newer := testArticle(t, "c", "S2", t0.Add(time.Hour))
	sameTimeLowID := testArticle(t, "a", "S3", t0.Add(time.Hour))
	self := testArticle(t, "self", "S1", t0)

	var gotK int
	ms.searchKNNFn = func(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
		gotK = q.K
		return &db.SearchResult{Entries: []db.SearchEntry{
			{Key: "news:article:self", Score: 1, Fields: toHash(&self)},
			{Key: "news:article:b", Score: 0.9, Fields: toHash(&older)},
			{Key: "news:article:c", Score: 0.9, Fields: toHash(&newer)},
			{Key: "news:article:a", Score: 0.9, Fields: toHash(&sameTimeLowID)},
		}}, nil
	}

	got, err := repo.Nearest(context.Background(), []float32{1, 0, 0, 0}, 2, domart.Filter{ExcludeIDs: []string{"self"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotK != 3 {
		t.Errorf("k sent = %d, want 3 (k + excluded)", gotK)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Article.ID() != "a" || got[1].Article.ID() != "c" {
		t.Errorf("order = %s,%s want a,c", got[0].Article.ID(), got[1].Article.ID())
	}
}

func TestNearest_FilterTranslation(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.searchKNNFn = func(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
		if len(q.Filters.Must()) != 1 || len(q.Filters.Should()) != 1 || len(q.Filters.MustNot()) != 2 {
			t.Errorf("filters = must %d should %d must_not %d",
				len(q.Filters.Must()), len(q.Filters.Should()), len(q.Filters.MustNot()))
		}
		if q.IndexName != "news_articles" {
			t.Errorf("index = %q", q.IndexName)
		}
		return &db.SearchResult{}, nil
	}

	_, err := repo.Nearest(context.Background(), []float32{1, 0, 0, 0}, 5, domart.Filter{
		Since:          t0,
		Topics:         []string{"world"},
		ExcludeSources: []string{"Tabloid", "Spam"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRecent_SortedQuery(t *testing.T) {
	repo, ms := newTestRepo(t)
	a := testArticle(t, "a", "S", t0)
	ms.searchListFn = func(_ context.Context, q *db.ListQuery) (*db.SearchResult, error) {
		if q.SortBy != fieldPublishedAt || !q.SortDesc {
			t.Errorf("sort = %s desc=%v", q.SortBy, q.SortDesc)
		}
		return &db.SearchResult{Total: 1, Entries: []db.SearchEntry{{Key: "news:article:a", Fields: toHash(&a)}}}, nil
	}

	got, err := repo.Recent(context.Background(), domart.Filter{}, 0, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID() != "a" {
		t.Errorf("got %v", got)
	}
}

func TestEnsureIndex_SkipsExisting(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.indexExistsFn = func(context.Context, string) (bool, error) { return true, nil }
	ms.createIndexFn = func(context.Context, *db.IndexDefinition) error {
		t.Error("CreateIndex must not be called")
		return nil
	}
	if err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureIndex_CreatesSchema(t *testing.T) {
	repo, ms := newTestRepo(t)
	var def *db.IndexDefinition
	ms.createIndexFn = func(_ context.Context, d *db.IndexDefinition) error {
		def = d
		return db.ErrIndexExists
	}
	if err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def == nil || def.Prefixes[0] != "news:article:" || len(def.Fields) != 5 {
		t.Errorf("definition = %+v", def)
	}
}

func TestGetMany_SkipsMissing(t *testing.T) {
	repo, ms := newTestRepo(t)
	a := testArticle(t, "a", "S", t0)
	ms.hgetAllMultiFn = func(_ context.Context, keys []string) ([]map[string]string, error) {
		return []map[string]string{toHash(&a), nil}, nil
	}
	got, err := repo.GetMany(context.Background(), []string{"a", "gone"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("len = %d, want 1", len(got))
	}
}
