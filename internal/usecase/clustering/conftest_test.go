package clustering

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/newsiq/newsengine/internal/domain"
	domart "github.com/newsiq/newsengine/internal/domain/article"
	"github.com/newsiq/newsengine/internal/domain/story"
)

var errLinkWrite = errors.New("link write failed")

// memRepo is an in-memory cluster store with exact cosine search.
type memRepo struct {
	mu       sync.Mutex
	clusters map[string]story.Cluster
	links    map[string]map[string]story.Link // articleID -> clusterID -> link
	saves    int
	failLink int // number of upcoming Link calls that fail
}

func newMemRepo() *memRepo {
	return &memRepo{clusters: map[string]story.Cluster{}, links: map[string]map[string]story.Link{}}
}

func (m *memRepo) Save(_ context.Context, c *story.Cluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	cp.Mean = append([]float32(nil), c.Mean...)
	cp.Centroid = append([]float32(nil), c.Centroid...)
	cp.Recent = append([]time.Time(nil), c.Recent...)
	m.clusters[c.ID] = cp
	m.saves++
	return nil
}

func (m *memRepo) Get(_ context.Context, id string) (story.Cluster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clusters[id]
	if !ok {
		return story.Cluster{}, domain.ErrClusterNotFound
	}
	return c, nil
}

func (m *memRepo) GetMany(ctx context.Context, ids []string) (map[string]story.Cluster, error) {
	out := map[string]story.Cluster{}
	for _, id := range ids {
		if c, err := m.Get(ctx, id); err == nil {
			out[id] = c
		}
	}
	return out, nil
}

func (m *memRepo) Nearest(_ context.Context, vector []float32, k int) ([]story.Scored, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []story.Scored
	for _, c := range m.clusters {
		if !c.IsActive {
			continue
		}
		out = append(out, story.Scored{Cluster: c, Similarity: domain.Cosine(vector, c.Centroid)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Cluster.ID < out[j].Cluster.ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (m *memRepo) List(_ context.Context, activeOnly bool, order story.Order, offset, limit int) ([]story.Cluster, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []story.Cluster
	for _, c := range m.clusters {
		if activeOnly && !c.IsActive {
			continue
		}
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool {
		if order == story.ByArticleCount && all[i].ArticleCount != all[j].ArticleCount {
			return all[i].ArticleCount > all[j].ArticleCount
		}
		if !all[i].LastUpdated.Equal(all[j].LastUpdated) {
			return all[i].LastUpdated.After(all[j].LastUpdated)
		}
		return all[i].ID < all[j].ID
	})
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (m *memRepo) Link(_ context.Context, l story.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLink > 0 {
		m.failLink--
		return errLinkWrite
	}
	if m.links[l.ArticleID] == nil {
		m.links[l.ArticleID] = map[string]story.Link{}
	}
	m.links[l.ArticleID][l.ClusterID] = l
	return nil
}

func (m *memRepo) LinksOf(_ context.Context, articleID string) ([]story.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []story.Link
	for _, l := range m.links[articleID] {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Primary && !out[j].Primary })
	return out, nil
}

func (m *memRepo) Members(_ context.Context, clusterID string) ([]story.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []story.Link
	for _, byCluster := range m.links {
		if l, ok := byCluster[clusterID]; ok {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Relevance != out[j].Relevance {
			return out[i].Relevance > out[j].Relevance
		}
		return out[i].ArticleID < out[j].ArticleID
	})
	return out, nil
}

func (m *memRepo) primaryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, byCluster := range m.links {
		for _, l := range byCluster {
			if l.Primary {
				n++
			}
		}
	}
	return n
}

type memArticles struct {
	byID map[string]domart.Article
}

func (m *memArticles) Get(_ context.Context, id string) (domart.Article, error) {
	a, ok := m.byID[id]
	if !ok {
		return domart.Article{}, domain.ErrArticleNotFound
	}
	return a, nil
}

func (m *memArticles) GetMany(_ context.Context, ids []string) ([]domart.Article, error) {
	var out []domart.Article
	for _, id := range ids {
		if a, ok := m.byID[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memArticles) add(t *testing.T, id, source string, credibility int, published time.Time, e []float32) {
	t.Helper()
	a, err := domart.New(id, domart.Draft{
		URL:         "https://news.example/" + id,
		Title:       "Headline " + id,
		Content:     strings.Repeat("content ", 20),
		Source:      source,
		Credibility: credibility,
		PublishedAt: published,
	}, e, published)
	if err != nil {
		t.Fatalf("domart.New: %v", err)
	}
	m.byID[id] = a
}

var t0 = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	repo  *memRepo
	arts  *memArticles
	clock time.Time
	seq   int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{repo: newMemRepo(), arts: &memArticles{byID: map[string]domart.Article{}}, clock: t0}
	f.svc = New(f.repo, f.arts, zap.NewNop())
	f.svc.now = func() time.Time { return f.clock }
	var idMu sync.Mutex
	f.svc.newID = func() string {
		idMu.Lock()
		defer idMu.Unlock()
		f.seq++
		return fmt.Sprintf("c%d", f.seq)
	}
	return f
}
