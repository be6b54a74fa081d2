package chi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/newsiq/newsengine/internal/domain"
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

const (
	testSecret   = "test-secret"
	testAdminKey = "admin-key"
)

// --- Mocks ---

type mockFeed struct {
	rankFn      func(ctx context.Context, userID string, page, pageSize int, blind bool) (rankinguc.Page, error)
	bookmarksFn func(ctx context.Context, userID string, page, pageSize int) (rankinguc.Page, error)
	recordFn    func(ctx context.Context, in domuser.Interaction) (string, error)
	updateFn    func(ctx context.Context, userID string, prefs domuser.Preferences) (domuser.Profile, error)
	profileFn   func(ctx context.Context, userID string) (domuser.Profile, error)
}

func (m *mockFeed) Rank(ctx context.Context, userID string, page, pageSize int, blind bool) (rankinguc.Page, error) {
	if m.rankFn != nil {
		return m.rankFn(ctx, userID, page, pageSize, blind)
	}
	return rankinguc.Page{Page: page, PageSize: pageSize}, nil
}

func (m *mockFeed) Bookmarks(ctx context.Context, userID string, page, pageSize int) (rankinguc.Page, error) {
	if m.bookmarksFn != nil {
		return m.bookmarksFn(ctx, userID, page, pageSize)
	}
	return rankinguc.Page{Page: page, PageSize: pageSize, Mode: rankinguc.ModeBookmarks}, nil
}

func (m *mockFeed) RecordInteraction(ctx context.Context, in domuser.Interaction) (string, error) {
	if m.recordFn != nil {
		return m.recordFn(ctx, in)
	}
	return "int-1", nil
}

func (m *mockFeed) UpdatePreferences(ctx context.Context, userID string, prefs domuser.Preferences) (domuser.Profile, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, userID, prefs)
	}
	p := domuser.Default(userID)
	p.Apply(prefs)
	return p, nil
}

func (m *mockFeed) Profile(ctx context.Context, userID string) (domuser.Profile, error) {
	if m.profileFn != nil {
		return m.profileFn(ctx, userID)
	}
	return domuser.Default(userID), nil
}

type mockArticles struct {
	byID  map[string]domart.Article
	count int
	err   error
}

func (m *mockArticles) Get(_ context.Context, id string) (domart.Article, error) {
	a, ok := m.byID[id]
	if !ok {
		return domart.Article{}, domain.ErrArticleNotFound
	}
	return a, nil
}

func (m *mockArticles) Count(_ context.Context, _ domart.Filter) (int, error) {
	return m.count, m.err
}

type mockResearch struct {
	analyzeFn    func(ctx context.Context, id string) (domresearch.Result, error)
	invalidateFn func(ctx context.Context, id string) (bool, error)
	cleaned      int
}

func (m *mockResearch) Analyze(ctx context.Context, id string) (domresearch.Result, error) {
	if m.analyzeFn != nil {
		return m.analyzeFn(ctx, id)
	}
	return domresearch.Result{Analysis: "analysis of " + id}, nil
}

func (m *mockResearch) Invalidate(ctx context.Context, id string) (bool, error) {
	if m.invalidateFn != nil {
		return m.invalidateFn(ctx, id)
	}
	return true, nil
}

func (m *mockResearch) Cleanup(_ context.Context) (int, error) { return m.cleaned, nil }

type mockStories struct {
	clusters  []story.Cluster
	timelines map[string]story.Timeline
	listArgs  struct {
		activeOnly bool
		limit      int
	}
	sweep clusteringuc.SweepResult
}

func (m *mockStories) List(_ context.Context, activeOnly bool, limit int) ([]story.Cluster, int, error) {
	m.listArgs.activeOnly, m.listArgs.limit = activeOnly, limit
	out := m.clusters
	if len(out) > limit {
		out = out[:limit]
	}
	return out, len(m.clusters), nil
}

func (m *mockStories) Timeline(_ context.Context, id string) (story.Timeline, error) {
	t, ok := m.timelines[id]
	if !ok {
		return story.Timeline{}, domain.ErrClusterNotFound
	}
	return t, nil
}

func (m *mockStories) Sweep(_ context.Context) (clusteringuc.SweepResult, error) { return m.sweep, nil }

type mockIngestion struct {
	sources []domsource.Source
	polls   []ingestionuc.PollResult
}

func (m *mockIngestion) Sources(_ context.Context) ([]domsource.Source, error) { return m.sources, nil }

func (m *mockIngestion) Reactivate(_ context.Context, id string) (domsource.Source, error) {
	for _, s := range m.sources {
		if s.ID == id {
			s.Reactivate()
			return s, nil
		}
	}
	return domsource.Source{}, domain.ErrSourceNotFound
}

func (m *mockIngestion) PollAll(_ context.Context) ([]ingestionuc.PollResult, error) { return m.polls, nil }

type mockHealth struct {
	report healthuc.Report
}

func (m *mockHealth) Check(_ context.Context) healthuc.Report { return m.report }

// --- Fixture ---

type fixture struct {
	feed      *mockFeed
	articles  *mockArticles
	research  *mockResearch
	stories   *mockStories
	ingestion *mockIngestion
	health    *mockHealth
	handler   http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		feed:      &mockFeed{},
		articles:  &mockArticles{byID: map[string]domart.Article{}},
		research:  &mockResearch{},
		stories:   &mockStories{timelines: map[string]story.Timeline{}},
		ingestion: &mockIngestion{},
		health:    &mockHealth{report: healthuc.Report{Status: healthuc.Healthy}},
	}
	srv := NewServer(Deps{
		Feed:      f.feed,
		Articles:  f.articles,
		Research:  f.research,
		Stories:   f.stories,
		Ingestion: f.ingestion,
		Health:    f.health,
	}, AuthConfig{JWTSecret: testSecret, AdminKeys: []string{testAdminKey}}, zap.NewNop())
	f.handler = srv.Handler()
	return f
}

// do sends a request. token is sent as a Bearer credential when non-empty.
func (f *fixture) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func signToken(t *testing.T, secret, sub string, ttl time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func mkArticle(t *testing.T, id, source string) domart.Article {
	t.Helper()
	a, err := domart.New(id, domart.Draft{
		URL:         "https://" + source + ".example/" + id,
		Title:       "Title " + id,
		Content:     strings.Repeat("body ", 40),
		Source:      source,
		Credibility: 80,
		PublishedAt: time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC),
		Topics:      []string{"world"},
	}, []float32{1, 0, 0}, time.Date(2026, 7, 1, 13, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("new article: %v", err)
	}
	return a
}
