// Package source persists feed registrations and their polling health.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/newsiq/newsengine/internal/db"
	"github.com/newsiq/newsengine/internal/domain"
	domsource "github.com/newsiq/newsengine/internal/domain/source"
)

type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	HIncrBy(ctx context.Context, key, field string, val int64) (int64, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// Repo stores one hash per source.
type Repo struct {
	store  store
	prefix string
}

// New creates a source repository.
func New(s store, prefix string) *Repo {
	return &Repo{store: s, prefix: prefix}
}

// Save writes every field of the source.
func (r *Repo) Save(ctx context.Context, s *domsource.Source) error {
	if err := r.store.HSet(ctx, r.key(s.ID), toHash(s)); err != nil {
		return fmt.Errorf("hset source %s: %w", s.ID, err)
	}
	return nil
}

// Get loads a source by id.
func (r *Repo) Get(ctx context.Context, id string) (domsource.Source, error) {
	m, err := r.store.HGetAll(ctx, r.key(id))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domsource.Source{}, fmt.Errorf("source %s: %w", id, domain.ErrSourceNotFound)
		}
		return domsource.Source{}, fmt.Errorf("hgetall source %s: %w", id, err)
	}
	return fromHash(id, m), nil
}

// List returns all sources ordered by name.
func (r *Repo) List(ctx context.Context) ([]domsource.Source, error) {
	keys, err := r.store.Scan(ctx, r.key("*"))
	if err != nil {
		return nil, fmt.Errorf("scan sources: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	hashes, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("hgetall sources: %w", err)
	}

	out := make([]domsource.Source, 0, len(keys))
	for i, m := range hashes {
		if len(m) == 0 {
			continue
		}
		out = append(out, fromHash(keys[i][len(r.key("")):], m))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// AddStored increments the stored-article counter without rewriting the source.
func (r *Repo) AddStored(ctx context.Context, id string, n int64) error {
	if n == 0 {
		return nil
	}
	if _, err := r.store.HIncrBy(ctx, r.key(id), fieldStored, n); err != nil {
		return fmt.Errorf("hincrby source %s: %w", id, err)
	}
	return nil
}

func (r *Repo) key(id string) string { return r.prefix + "source:" + id }

const (
	fieldName          = "name"
	fieldURL           = "url"
	fieldInterval      = "interval_seconds"
	fieldCredibility   = "credibility"
	fieldTopics        = "topics"
	fieldErrorCount    = "error_count"
	fieldConsecutiveOK = "consecutive_ok"
	fieldLastError     = "last_error"
	fieldLastFetched   = "last_fetched_at"
	fieldLastAttempt   = "last_attempt_at"
	fieldActive        = "is_active"
	fieldDeactivated   = "deactivated_at"
	fieldStored        = "articles_stored"
)

func toHash(s *domsource.Source) map[string]string {
	topics, _ := json.Marshal(s.Topics)
	active := "0"
	if s.IsActive {
		active = "1"
	}
	return map[string]string{
		fieldName:          s.Name,
		fieldURL:           s.URL,
		fieldInterval:      strconv.FormatInt(int64(s.Interval/time.Second), 10),
		fieldCredibility:   strconv.Itoa(s.Credibility),
		fieldTopics:        string(topics),
		fieldErrorCount:    strconv.Itoa(s.ErrorCount),
		fieldConsecutiveOK: strconv.Itoa(s.ConsecutiveOK),
		fieldLastError:     s.LastError,
		fieldLastFetched:   unixOrZero(s.LastFetchedAt),
		fieldLastAttempt:   unixOrZero(s.LastAttemptAt),
		fieldActive:        active,
		fieldDeactivated:   unixOrZero(s.DeactivatedAt),
		fieldStored:        strconv.FormatInt(s.ArticlesStored, 10),
	}
}

func fromHash(id string, m map[string]string) domsource.Source {
	s := domsource.Source{
		ID:        id,
		Name:      m[fieldName],
		URL:       m[fieldURL],
		LastError: m[fieldLastError],
		IsActive:  m[fieldActive] == "1",
	}
	if secs, err := strconv.ParseInt(m[fieldInterval], 10, 64); err == nil {
		s.Interval = time.Duration(secs) * time.Second
	}
	s.Credibility, _ = strconv.Atoi(m[fieldCredibility])
	s.ErrorCount, _ = strconv.Atoi(m[fieldErrorCount])
	s.ConsecutiveOK, _ = strconv.Atoi(m[fieldConsecutiveOK])
	s.ArticlesStored, _ = strconv.ParseInt(m[fieldStored], 10, 64)
	_ = json.Unmarshal([]byte(m[fieldTopics]), &s.Topics)
	s.LastFetchedAt = parseUnix(m[fieldLastFetched])
	s.LastAttemptAt = parseUnix(m[fieldLastAttempt])
	s.DeactivatedAt = parseUnix(m[fieldDeactivated])
	return s
}

func unixOrZero(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.Unix(), 10)
}

func parseUnix(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.Unix(n, 0).UTC()
}
