// Package article persists articles as Redis hashes indexed for vector search.
package article

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/newsiq/newsengine/internal/db"
	"github.com/newsiq/newsengine/internal/db/filter"
	"github.com/newsiq/newsengine/internal/domain"
	domart "github.com/newsiq/newsengine/internal/domain/article"
)

// store is the consumer interface for articles (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetNX(ctx context.Context, key string, value []byte) (bool, error)
	Del(ctx context.Context, key string) error
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchList(ctx context.Context, q *db.ListQuery) (*db.SearchResult, error)
	SearchCount(ctx context.Context, q *db.ListQuery) (int, error)
}

// Repo implements the article store contract on Redis.
type Repo struct {
	store     store
	prefix    string
	indexName string
	dim       int
}

// New creates an article repository. prefix namespaces every key, e.g. "news:".
func New(s store, prefix string, dim int) *Repo {
	return &Repo{store: s, prefix: prefix, indexName: strings.TrimSuffix(prefix, ":") + "_articles", dim: dim}
}

// EnsureIndex creates the article vector index if it does not exist.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	exists, err := r.store.IndexExists(ctx, r.indexName)
	if err != nil {
		return fmt.Errorf("check index %s: %w", r.indexName, err)
	}
	if exists {
		return nil
	}

	def, err := db.NewIndex(r.indexName, r.articleKey("")).
		Tag(fieldSource).
		Tag(fieldTopics).
		SortableNumeric(fieldPublishedAt).
		Numeric(fieldCredibility).
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

// Reserve claims url for id. When another article already owns the url its id is returned
// with reserved=false.
func (r *Repo) Reserve(ctx context.Context, url, id string) (owner string, reserved bool, err error) {
	key := r.urlKey(url)
	ok, err := r.store.SetNX(ctx, key, []byte(id))
	if err != nil {
		return "", false, fmt.Errorf("reserve url: %w", err)
	}
	if ok {
		return id, true, nil
	}
	existing, err := r.store.Get(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("read url owner: %w", err)
	}
	return string(existing), false, nil
}

// Release drops a url reservation after a failed write.
func (r *Repo) Release(ctx context.Context, url string) error {
	if err := r.store.Del(ctx, r.urlKey(url)); err != nil {
		return fmt.Errorf("release url: %w", err)
	}
	return nil
}

// LookupURL returns the id of the article stored under url.
func (r *Repo) LookupURL(ctx context.Context, url string) (string, bool, error) {
	data, err := r.store.Get(ctx, r.urlKey(url))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("lookup url: %w", err)
	}
	return string(data), true, nil
}

// Save writes the article hash.
func (r *Repo) Save(ctx context.Context, a *domart.Article) error {
	if err := r.store.HSet(ctx, r.articleKey(a.ID()), toHash(a)); err != nil {
		return fmt.Errorf("hset article %s: %w", a.ID(), err)
	}
	return nil
}

// Get returns an article by id.
func (r *Repo) Get(ctx context.Context, id string) (domart.Article, error) {
	m, err := r.store.HGetAll(ctx, r.articleKey(id))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domart.Article{}, domain.ErrArticleNotFound
		}
		return domart.Article{}, fmt.Errorf("hgetall article %s: %w", id, err)
	}
	return fromHash(id, m)
}

// GetMany returns the articles that exist among ids, in input order.
func (r *Repo) GetMany(ctx context.Context, ids []string) ([]domart.Article, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.articleKey(id)
	}
	maps, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("hgetall articles: %w", err)
	}

	out := make([]domart.Article, 0, len(ids))
	for i, m := range maps {
		if m == nil {
			continue
		}
		a, err := fromHash(ids[i], m)
		if err != nil {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Nearest returns up to k articles by descending cosine similarity to vector.
// Ties are broken by newer published_at, then by id.
func (r *Repo) Nearest(ctx context.Context, vector []float32, k int, f domart.Filter) ([]domart.Scored, error) {
	expr, err := buildExpression(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}

	res, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName: r.indexName,
		Filters:   expr,
		Vector:    vector,
		K:         k + len(f.ExcludeIDs),
	})
	if err != nil {
		return nil, fmt.Errorf("knn articles: %w", err)
	}

	exclude := toSet(f.ExcludeIDs)
	out := make([]domart.Scored, 0, len(res.Entries))
	for _, e := range res.Entries {
		id := r.idFromKey(e.Key)
		if exclude[id] {
			continue
		}
		a, err := fromHash(id, e.Fields)
		if err != nil {
			continue
		}
		out = append(out, domart.Scored{Article: a, Similarity: e.Score})
	}

	SortScored(out)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Recent returns articles matching f ordered by published_at descending.
func (r *Repo) Recent(ctx context.Context, f domart.Filter, offset, limit int) ([]domart.Article, error) {
	expr, err := buildExpression(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}

	res, err := r.store.SearchList(ctx, &db.ListQuery{
		IndexName: r.indexName,
		Filters:   expr,
		Offset:    offset,
		Limit:     limit + len(f.ExcludeIDs),
		SortBy:    fieldPublishedAt,
		SortDesc:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("list recent articles: %w", err)
	}

	exclude := toSet(f.ExcludeIDs)
	out := make([]domart.Article, 0, len(res.Entries))
	for _, e := range res.Entries {
		id := r.idFromKey(e.Key)
		if exclude[id] {
			continue
		}
		a, err := fromHash(id, e.Fields)
		if err != nil {
			continue
		}
		out = append(out, a)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Count returns the number of articles matching f. ExcludeIDs is ignored.
func (r *Repo) Count(ctx context.Context, f domart.Filter) (int, error) {
	expr, err := buildExpression(f)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	n, err := r.store.SearchCount(ctx, &db.ListQuery{IndexName: r.indexName, Filters: expr})
	if err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return n, nil
}

// SortScored orders by similarity desc, published_at desc, id asc.
func SortScored(s []domart.Scored) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Similarity != s[j].Similarity {
			return s[i].Similarity > s[j].Similarity
		}
		pi, pj := s[i].Article.PublishedAt(), s[j].Article.PublishedAt()
		if !pi.Equal(pj) {
			return pi.After(pj)
		}
		return s[i].Article.ID() < s[j].Article.ID()
	})
}

func buildExpression(f domart.Filter) (filter.Expression, error) {
	b := filter.NewBuilder().
		Since(fieldPublishedAt, f.Since).
		AnyTag(fieldTopics, f.Topics...).
		NotTag(fieldSource, f.ExcludeSources...)
	if f.Source != "" {
		b.Tag(fieldSource, f.Source)
	}
	return b.Build()
}

func (r *Repo) articleKey(id string) string { return r.prefix + "article:" + id }

func (r *Repo) idFromKey(key string) string { return strings.TrimPrefix(key, r.articleKey("")) }

func (r *Repo) urlKey(url string) string {
	h := sha256.Sum256([]byte(url))
	return r.prefix + "article_url:" + hex.EncodeToString(h[:])
}

func toSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}
