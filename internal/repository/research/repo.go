// Package research persists generated analyses keyed by article id.
package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/newsiq/newsengine/internal/db"
	domresearch "github.com/newsiq/newsengine/internal/domain/research"
)

type store interface {
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Del(ctx context.Context, key string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
	Eval(ctx context.Context, script string, keys, args []string) (int64, error)
}

// Writes run as scripts so a save and an invalidation never interleave.
const (
	// ARGV[1] is the expiry in unix ms, the rest are field/value pairs.
	saveScript = `redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
redis.call('PEXPIREAT', KEYS[1], ARGV[1])
return 1`

	// ARGV[1] is the field to set to ARGV[2]; missing entries are left absent.
	setIfExistsScript = `if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1`

	incrIfExistsScript = `if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
return 1`
)

// Repo stores one entry per article. Saving replaces the previous entry.
type Repo struct {
	store  store
	prefix string
}

// New creates a research cache repository.
func New(s store, prefix string) *Repo {
	return &Repo{store: s, prefix: prefix}
}

// Get returns the stored entry, valid or not.
func (r *Repo) Get(ctx context.Context, articleID string) (domresearch.Entry, error) {
	m, err := r.store.HGetAll(ctx, r.key(articleID))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domresearch.Entry{}, domresearch.ErrMiss
		}
		return domresearch.Entry{}, fmt.Errorf("hgetall research %s: %w", articleID, err)
	}
	return fromHash(articleID, m), nil
}

// Save replaces the entry and aligns the key expiry with ExpiresAt.
func (r *Repo) Save(ctx context.Context, e *domresearch.Entry) error {
	fields := toHash(e)
	args := make([]string, 0, 1+2*len(fields))
	args = append(args, strconv.FormatInt(e.ExpiresAt.UnixMilli(), 10))
	for k, v := range fields {
		args = append(args, k, v)
	}
	if _, err := r.store.Eval(ctx, saveScript, []string{r.key(e.ArticleID)}, args); err != nil {
		return fmt.Errorf("save research %s: %w", e.ArticleID, err)
	}
	return nil
}

// IncrementViews bumps the hit counter of an existing entry.
func (r *Repo) IncrementViews(ctx context.Context, articleID string) error {
	if _, err := r.store.Eval(ctx, incrIfExistsScript, []string{r.key(articleID)}, []string{fieldViews}); err != nil {
		return fmt.Errorf("count research view %s: %w", articleID, err)
	}
	return nil
}

// Invalidate marks the entry invalid. It reports false when nothing was cached.
func (r *Repo) Invalidate(ctx context.Context, articleID string) (bool, error) {
	n, err := r.store.Eval(ctx, setIfExistsScript, []string{r.key(articleID)}, []string{fieldInvalidated, "1"})
	if err != nil {
		return false, fmt.Errorf("invalidate research %s: %w", articleID, err)
	}
	return n == 1, nil
}

// Cleanup deletes invalidated and expired entries and returns how many were removed.
func (r *Repo) Cleanup(ctx context.Context, now time.Time) (int, error) {
	keys, err := r.store.Scan(ctx, r.key("*"))
	if err != nil {
		return 0, fmt.Errorf("scan research: %w", err)
	}
	removed := 0
	for _, key := range keys {
		id := strings.TrimPrefix(key, r.key(""))
		e, err := r.Get(ctx, id)
		if errors.Is(err, domresearch.ErrMiss) {
			continue
		}
		if err != nil {
			return removed, err
		}
		if e.Valid(now) {
			continue
		}
		if err := r.store.Del(ctx, key); err != nil {
			return removed, fmt.Errorf("del research %s: %w", id, err)
		}
		removed++
	}
	return removed, nil
}

func (r *Repo) key(articleID string) string { return r.prefix + "research:" + articleID }

const (
	fieldAnalysis    = "analysis"
	fieldRelated     = "related_ids"
	fieldGeneratedAt = "generated_at"
	fieldExpiresAt   = "expires_at"
	fieldViews       = "view_count"
	fieldInvalidated = "invalidated"
)

func toHash(e *domresearch.Entry) map[string]string {
	related, _ := json.Marshal(e.RelatedIDs)
	inv := "0"
	if e.Invalidated {
		inv = "1"
	}
	return map[string]string{
		fieldAnalysis:    e.Analysis,
		fieldRelated:     string(related),
		fieldGeneratedAt: strconv.FormatInt(e.GeneratedAt.UnixMilli(), 10),
		fieldExpiresAt:   strconv.FormatInt(e.ExpiresAt.UnixMilli(), 10),
		fieldViews:       strconv.FormatInt(e.ViewCount, 10),
		fieldInvalidated: inv,
	}
}

func fromHash(articleID string, m map[string]string) domresearch.Entry {
	e := domresearch.Entry{
		ArticleID:   articleID,
		Analysis:    m[fieldAnalysis],
		Invalidated: m[fieldInvalidated] == "1",
	}
	_ = json.Unmarshal([]byte(m[fieldRelated]), &e.RelatedIDs)
	if ms, err := strconv.ParseInt(m[fieldGeneratedAt], 10, 64); err == nil {
		e.GeneratedAt = time.UnixMilli(ms).UTC()
	}
	if ms, err := strconv.ParseInt(m[fieldExpiresAt], 10, 64); err == nil {
		e.ExpiresAt = time.UnixMilli(ms).UTC()
	}
	e.ViewCount, _ = strconv.ParseInt(m[fieldViews], 10, 64)
	return e
}
