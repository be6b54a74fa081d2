package ranking

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/newsiq/newsengine/internal/domain"
	domart "github.com/newsiq/newsengine/internal/domain/article"
	"github.com/newsiq/newsengine/internal/domain/story"
	domuser "github.com/newsiq/newsengine/internal/domain/user"
)

var testNow = time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)

var errStoreDown = errors.New("connection refused")

type memUsers struct {
	mu       sync.Mutex
	profiles map[string]domuser.Profile
	sessions map[string]domuser.Session
	engaged  map[string]domuser.Engagement
	saves    int
	fail     error
}

func newMemUsers() *memUsers {
	return &memUsers{
		profiles: map[string]domuser.Profile{},
		sessions: map[string]domuser.Session{},
		engaged:  map[string]domuser.Engagement{},
	}
}

func (m *memUsers) Profile(_ context.Context, id string) (domuser.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return domuser.Profile{}, m.fail
	}
	p, ok := m.profiles[id]
	if !ok {
		return domuser.Default(id), nil
	}
	return p, nil
}

func (m *memUsers) SaveProfile(_ context.Context, p *domuser.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = *p
	m.saves++
	return nil
}

func (m *memUsers) Session(_ context.Context, id string) (domuser.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok, nil
}

func (m *memUsers) SaveSession(_ context.Context, id string, s domuser.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = s
	return nil
}

func (m *memUsers) RecordEngagement(_ context.Context, id, source, clusterID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.engaged[id]
	if !ok {
		e = domuser.Engagement{Sources: map[string]bool{}, Clusters: map[string]bool{}}
	}
	if source != "" {
		e.Sources[source] = true
	}
	if clusterID != "" {
		e.Clusters[clusterID] = true
	}
	m.engaged[id] = e
	return nil
}

func (m *memUsers) Engagement(_ context.Context, id string) (domuser.Engagement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.engaged[id]; ok {
		return e, nil
	}
	return domuser.Engagement{Sources: map[string]bool{}, Clusters: map[string]bool{}}, nil
}

func (m *memUsers) profile(id string) domuser.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profiles[id]
}

type memInteractions struct {
	mu     sync.Mutex
	events []domuser.Interaction
	fail   error
}

func (m *memInteractions) Append(_ context.Context, in *domuser.Interaction) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := fmt.Sprintf("i%d", len(m.events)+1)
	ev := *in
	ev.ID = id
	m.events = append(m.events, ev)
	return id, nil
}

// ArticleIDs replays the log: the latest event per article decides its position.
func (m *memInteractions) ArticleIDs(
	_ context.Context, userID string, t domuser.InteractionType, offset, limit int,
) ([]string, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, 0, m.fail
	}
	var ids []string
	for i := len(m.events) - 1; i >= 0; i-- {
		ev := m.events[i]
		if ev.UserID == userID && ev.Type == t && !slices.Contains(ids, ev.ArticleID) {
			ids = append(ids, ev.ArticleID)
		}
	}
	total := len(ids)
	if offset >= total {
		return nil, total, nil
	}
	ids = ids[offset:]
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, total, nil
}

// memArticles answers neighbor queries by exact cosine over its contents.
type memArticles struct {
	items []domart.Article
}

func (m *memArticles) match(a *domart.Article, f domart.Filter) bool {
	if !f.Since.IsZero() && a.PublishedAt().Before(f.Since) {
		return false
	}
	if slices.Contains(f.ExcludeSources, a.Source()) {
		return false
	}
	if f.Source != "" && a.Source() != f.Source {
		return false
	}
	if len(f.Topics) > 0 && !slices.ContainsFunc(a.Topics(), func(t string) bool { return slices.Contains(f.Topics, t) }) {
		return false
	}
	return !slices.Contains(f.ExcludeIDs, a.ID())
}

func (m *memArticles) Get(_ context.Context, id string) (domart.Article, error) {
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
	var out []domart.Scored
	for i := range m.items {
		if m.match(&m.items[i], f) {
			out = append(out, domart.Scored{Article: m.items[i], Similarity: domain.Cosine(vec, m.items[i].Embedding())})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (m *memArticles) Recent(_ context.Context, f domart.Filter, offset, limit int) ([]domart.Article, error) {
	var out []domart.Article
	for i := range m.items {
		if m.match(&m.items[i], f) {
			out = append(out, m.items[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PublishedAt().After(out[j].PublishedAt()) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memStories struct {
	clusters []story.Cluster
	members  map[string][]story.Link
	primary  map[string]story.Cluster
}

func (m *memStories) Salient(_ context.Context, limit int) ([]story.Cluster, error) {
	out := slices.Clone(m.clusters)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ArticleCount > out[j].ArticleCount })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStories) Members(_ context.Context, id string, limit int) ([]story.Link, error) {
	links := m.members[id]
	if limit > 0 && len(links) > limit {
		links = links[:limit]
	}
	return links, nil
}

func (m *memStories) PrimaryCluster(_ context.Context, articleID string) (story.Cluster, bool, error) {
	c, ok := m.primary[articleID]
	return c, ok, nil
}

// mkArticle builds a valid article published age before testNow.
func mkArticle(t *testing.T, id, source string, credibility int, age time.Duration, vec []float32, topics ...string) domart.Article {
	t.Helper()
	content := ""
	for len(content) < 200 {
		content += "body text for " + id + ". "
	}
	a, err := domart.New(id, domart.Draft{
		URL:         "https://" + source + ".example/" + id,
		Title:       "Title " + id,
		Content:     content,
		Source:      source,
		Credibility: credibility,
		PublishedAt: testNow.Add(-age),
		Topics:      topics,
	}, vec, testNow)
	if err != nil {
		t.Fatalf("article %s: %v", id, err)
	}
	return a
}

type fixture struct {
	svc      *Service
	users    *memUsers
	log      *memInteractions
	articles *memArticles
	stories  *memStories
}

func newFixture(t *testing.T, articles ...domart.Article) *fixture {
	t.Helper()
	f := &fixture{
		users:    newMemUsers(),
		log:      &memInteractions{},
		articles: &memArticles{items: articles},
		stories:  &memStories{members: map[string][]story.Link{}, primary: map[string]story.Cluster{}},
	}
	svc, err := New(f.users, f.log, f.articles, f.stories, Options{}, zap.NewNop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	svc.now = func() time.Time { return testNow }
	f.svc = svc
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return f
}

// addStory registers a cluster whose members are primary links to ids.
func (f *fixture) addStory(id string, count int, ids ...string) {
	c := story.Cluster{ID: id, ArticleCount: count, IsActive: true, Status: story.StatusOngoing}
	f.stories.clusters = append(f.stories.clusters, c)
	for _, aid := range ids {
		f.stories.members[id] = append(f.stories.members[id], story.Link{ClusterID: id, ArticleID: aid, Primary: true, Relevance: 0.9})
		f.stories.primary[aid] = c
	}
}
