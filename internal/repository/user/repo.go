// Package user persists reader profiles, session vectors and engagement counters.
package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/newsiq/newsengine/internal/db"
	domuser "github.com/newsiq/newsengine/internal/domain/user"
)

// store is the consumer interface for user state (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HIncrBy(ctx context.Context, key, field string, val int64) (int64, error)
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Repo implements profile, session and engagement storage.
type Repo struct {
	store      store
	prefix     string
	sessionTTL time.Duration
}

// New creates a user repository. Sessions expire after sessionTTL of inactivity.
func New(s store, prefix string, sessionTTL time.Duration) *Repo {
	return &Repo{store: s, prefix: prefix, sessionTTL: sessionTTL}
}

// Profile returns the stored profile, or the default profile when none exists.
func (r *Repo) Profile(ctx context.Context, id string) (domuser.Profile, error) {
	m, err := r.store.HGetAll(ctx, r.profileKey(id))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domuser.Default(id), nil
		}
		return domuser.Profile{}, fmt.Errorf("hgetall profile %s: %w", id, err)
	}
	return fromHash(id, m), nil
}

// SaveProfile writes the full profile.
func (r *Repo) SaveProfile(ctx context.Context, p *domuser.Profile) error {
	if err := r.store.HSet(ctx, r.profileKey(p.ID), toHash(p)); err != nil {
		return fmt.Errorf("hset profile %s: %w", p.ID, err)
	}
	return nil
}

// Session returns the live session vector; ok is false when the session expired.
func (r *Repo) Session(ctx context.Context, id string) (domuser.Session, bool, error) {
	data, err := r.store.Get(ctx, r.sessionKey(id))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domuser.Session{}, false, nil
		}
		return domuser.Session{}, false, fmt.Errorf("get session %s: %w", id, err)
	}
	var s domuser.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return domuser.Session{}, false, fmt.Errorf("decode session %s: %w", id, err)
	}
	return s, true, nil
}

// SaveSession writes the session and restarts its inactivity window.
func (r *Repo) SaveSession(ctx context.Context, id string, s domuser.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.store.SetWithTTL(ctx, r.sessionKey(id), data, r.sessionTTL); err != nil {
		return fmt.Errorf("set session %s: %w", id, err)
	}
	return nil
}

// RecordEngagement bumps counters for a source and, when known, a cluster.
func (r *Repo) RecordEngagement(ctx context.Context, id, source, clusterID string) error {
	key := r.engagedKey(id)
	if source != "" {
		if _, err := r.store.HIncrBy(ctx, key, "src:"+source, 1); err != nil {
			return fmt.Errorf("engage source: %w", err)
		}
	}
	if clusterID != "" {
		if _, err := r.store.HIncrBy(ctx, key, "cl:"+clusterID, 1); err != nil {
			return fmt.Errorf("engage cluster: %w", err)
		}
	}
	return nil
}

// Engagement returns what the reader has engaged with so far.
func (r *Repo) Engagement(ctx context.Context, id string) (domuser.Engagement, error) {
	e := domuser.Engagement{Sources: map[string]bool{}, Clusters: map[string]bool{}}
	m, err := r.store.HGetAll(ctx, r.engagedKey(id))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return e, nil
		}
		return e, fmt.Errorf("hgetall engagement %s: %w", id, err)
	}
	for k := range m {
		switch {
		case strings.HasPrefix(k, "src:"):
			e.Sources[strings.TrimPrefix(k, "src:")] = true
		case strings.HasPrefix(k, "cl:"):
			e.Clusters[strings.TrimPrefix(k, "cl:")] = true
		}
	}
	return e, nil
}

func (r *Repo) profileKey(id string) string { return r.prefix + "user:" + id }
func (r *Repo) sessionKey(id string) string { return r.prefix + "session:" + id }
func (r *Repo) engagedKey(id string) string { return r.prefix + "user_engaged:" + id }

const (
	fieldTopics    = "topics"
	fieldMuted     = "muted_sources"
	fieldDiversity = "diversity_level"
	fieldLongTerm  = "long_term"
	fieldUpdatedAt = "updated_at"
)

func toHash(p *domuser.Profile) map[string]string {
	topics, _ := json.Marshal(nonNil(p.Topics))
	muted, _ := json.Marshal(nonNil(p.MutedSources))
	return map[string]string{
		fieldTopics:    string(topics),
		fieldMuted:     string(muted),
		fieldDiversity: string(p.Diversity),
		fieldLongTerm:  db.VectorToBytes(p.LongTerm),
		fieldUpdatedAt: strconv.FormatInt(p.UpdatedAt.Unix(), 10),
	}
}

func fromHash(id string, m map[string]string) domuser.Profile {
	p := domuser.Default(id)
	_ = json.Unmarshal([]byte(m[fieldTopics]), &p.Topics)
	_ = json.Unmarshal([]byte(m[fieldMuted]), &p.MutedSources)
	if d, err := domuser.ParseDiversity(m[fieldDiversity]); err == nil {
		p.Diversity = d
	}
	p.LongTerm = db.BytesToVector(m[fieldLongTerm])
	if n, err := strconv.ParseInt(m[fieldUpdatedAt], 10, 64); err == nil && n > 0 {
		p.UpdatedAt = time.Unix(n, 0).UTC()
	}
	return p
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
