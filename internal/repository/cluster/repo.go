// Package cluster persists story clusters, their centroids and article links.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/newsiq/newsengine/internal/db"
	"github.com/newsiq/newsengine/internal/db/filter"
	"github.com/newsiq/newsengine/internal/domain"
	"github.com/newsiq/newsengine/internal/domain/story"
)

// store is the consumer interface for clusters (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchList(ctx context.Context, q *db.ListQuery) (*db.SearchResult, error)
	SearchCount(ctx context.Context, q *db.ListQuery) (int, error)
}

// Repo stores clusters as indexed hashes and links as per-side hashes.
type Repo struct {
	store     store
	prefix    string
	indexName string
	dim       int
}

// New creates a cluster repository.
func New(s store, prefix string, dim int) *Repo {
	return &Repo{store: s, prefix: prefix, indexName: strings.TrimSuffix(prefix, ":") + "_clusters", dim: dim}
}

// EnsureIndex creates the centroid index if missing.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	exists, err := r.store.IndexExists(ctx, r.indexName)
	if err != nil {
		return fmt.Errorf("check index %s: %w", r.indexName, err)
	}
	if exists {
		return nil
	}

	def, err := db.NewIndex(r.indexName, r.clusterKey("")).
		Tag(fieldStatus).
		Numeric(fieldIsActive).
		SortableNumeric(fieldLastUpdated).
		SortableNumeric(fieldArticleCount).
		Vector(r.dim, db.DistanceCosine).
		Build()
	if err != nil {
		return fmt.Errorf("build index %s: %w", r.indexName, err)
	}
	if err := r.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create index %s: %w", r.indexName, err)
	}
	return nil
}

// Save writes every cluster field.
func (r *Repo) Save(ctx context.Context, c *story.Cluster) error {
	if err := r.store.HSet(ctx, r.clusterKey(c.ID), toHash(c)); err != nil {
		return fmt.Errorf("hset cluster %s: %w", c.ID, err)
	}
	return nil
}

// Get loads a cluster by id.
func (r *Repo) Get(ctx context.Context, id string) (story.Cluster, error) {
	m, err := r.store.HGetAll(ctx, r.clusterKey(id))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return story.Cluster{}, domain.ErrClusterNotFound
		}
		return story.Cluster{}, fmt.Errorf("hgetall cluster %s: %w", id, err)
	}
	return fromHash(id, m)
}

// GetMany loads the existing clusters among ids, keyed by id.
func (r *Repo) GetMany(ctx context.Context, ids []string) (map[string]story.Cluster, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.clusterKey(id)
	}
	maps, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("hgetall clusters: %w", err)
	}
	out := make(map[string]story.Cluster, len(ids))
	for i, m := range maps {
		if m == nil {
			continue
		}
		if c, err := fromHash(ids[i], m); err == nil {
			out[c.ID] = c
		}
	}
	return out, nil
}

// Nearest returns up to k active clusters by centroid similarity, nearest first.
func (r *Repo) Nearest(ctx context.Context, vector []float32, k int) ([]story.Scored, error) {
	expr, err := filter.NewBuilder().Equals(fieldIsActive, 1).Build()
	if err != nil {
		return nil, err
	}
	res, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName: r.indexName,
		Filters:   expr,
		Vector:    vector,
		K:         k,
	})
	if err != nil {
		return nil, fmt.Errorf("knn clusters: %w", err)
	}

	out := make([]story.Scored, 0, len(res.Entries))
	for _, e := range res.Entries {
		c, err := fromHash(r.idFromKey(e.Key), e.Fields)
		if err != nil {
			continue
		}
		out = append(out, story.Scored{Cluster: c, Similarity: e.Score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Cluster.ID < out[j].Cluster.ID
	})
	return out, nil
}

// List returns clusters sorted descending by order. activeOnly keeps is_active clusters.
func (r *Repo) List(ctx context.Context, activeOnly bool, order story.Order, offset, limit int) ([]story.Cluster, int, error) {
	b := filter.NewBuilder()
	if activeOnly {
		b.Equals(fieldIsActive, 1)
	}
	expr, err := b.Build()
	if err != nil {
		return nil, 0, err
	}

	sortBy := fieldLastUpdated
	if order == story.ByArticleCount {
		sortBy = fieldArticleCount
	}

	res, err := r.store.SearchList(ctx, &db.ListQuery{
		IndexName: r.indexName,
		Filters:   expr,
		Offset:    offset,
		Limit:     limit,
		SortBy:    sortBy,
		SortDesc:  true,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list clusters: %w", err)
	}

	out := make([]story.Cluster, 0, len(res.Entries))
	for _, e := range res.Entries {
		if c, err := fromHash(r.idFromKey(e.Key), e.Fields); err == nil {
			out = append(out, c)
		}
	}
	return out, res.Total, nil
}

// Link records an article-cluster association on both sides.
func (r *Repo) Link(ctx context.Context, l story.Link) error {
	v := encodeLink(l)
	if err := r.store.HSet(ctx, r.membersKey(l.ClusterID), map[string]string{l.ArticleID: v}); err != nil {
		return fmt.Errorf("link members %s: %w", l.ClusterID, err)
	}
	if err := r.store.HSet(ctx, r.articleLinksKey(l.ArticleID), map[string]string{l.ClusterID: v}); err != nil {
		return fmt.Errorf("link article %s: %w", l.ArticleID, err)
	}
	return nil
}

// LinksOf returns the clusters an article belongs to, primary first then by relevance.
func (r *Repo) LinksOf(ctx context.Context, articleID string) ([]story.Link, error) {
	m, err := r.store.HGetAll(ctx, r.articleLinksKey(articleID))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("article links %s: %w", articleID, err)
	}
	links := make([]story.Link, 0, len(m))
	for clusterID, v := range m {
		if l, err := decodeLink(clusterID, articleID, v); err == nil {
			links = append(links, l)
		}
	}
	sortLinks(links)
	return links, nil
}

// Members returns the links of a cluster ordered by relevance.
func (r *Repo) Members(ctx context.Context, clusterID string) ([]story.Link, error) {
	m, err := r.store.HGetAll(ctx, r.membersKey(clusterID))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("cluster members %s: %w", clusterID, err)
	}
	links := make([]story.Link, 0, len(m))
	for articleID, v := range m {
		if l, err := decodeLink(clusterID, articleID, v); err == nil {
			links = append(links, l)
		}
	}
	sortLinks(links)
	return links, nil
}

func sortLinks(links []story.Link) {
	sort.Slice(links, func(i, j int) bool {
		if links[i].Primary != links[j].Primary {
			return links[i].Primary
		}
		if links[i].Relevance != links[j].Relevance {
			return links[i].Relevance > links[j].Relevance
		}
		if links[i].ClusterID != links[j].ClusterID {
			return links[i].ClusterID < links[j].ClusterID
		}
		return links[i].ArticleID < links[j].ArticleID
	})
}

func (r *Repo) clusterKey(id string) string      { return r.prefix + "cluster:" + id }
func (r *Repo) membersKey(id string) string      { return r.prefix + "cluster_links:" + id }
func (r *Repo) articleLinksKey(id string) string { return r.prefix + "article_clusters:" + id }
func (r *Repo) idFromKey(key string) string      { return strings.TrimPrefix(key, r.clusterKey("")) }
