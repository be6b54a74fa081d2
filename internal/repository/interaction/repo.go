// Package interaction appends reader interactions. Records are never updated or
// deleted; a per-reader, per-type index lists the articles acted on, newest first.
package interaction

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	domuser "github.com/newsiq/newsengine/internal/domain/user"
)

type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	ZAdd(ctx context.Context, key, member string, score float64) error
	ZRevRange(ctx context.Context, key string, offset, limit int) ([]string, error)
	ZCard(ctx context.Context, key string) (int, error)
}

// Repo writes interaction events.
type Repo struct {
	store  store
	prefix string
}

// New creates an interaction repository.
func New(s store, prefix string) *Repo {
	return &Repo{store: s, prefix: prefix}
}

// Append stores the event under a fresh id and returns it.
func (r *Repo) Append(ctx context.Context, in *domuser.Interaction) (string, error) {
	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	fields := map[string]string{
		"user_id":    in.UserID,
		"article_id": in.ArticleID,
		"type":       string(in.Type),
		"created_at": strconv.FormatInt(in.CreatedAt.Unix(), 10),
	}
	if in.ReadTimeSeconds != nil {
		fields["read_time_seconds"] = strconv.Itoa(*in.ReadTimeSeconds)
	}
	if in.ScrollDepth != nil {
		fields["scroll_depth_percent"] = strconv.Itoa(*in.ScrollDepth)
	}
	if err := r.store.HSet(ctx, r.prefix+"interaction:"+id, fields); err != nil {
		return "", fmt.Errorf("hset interaction: %w", err)
	}
	// Repeating an action on the same article moves it to the front.
	score := float64(in.CreatedAt.UnixMilli())
	if err := r.store.ZAdd(ctx, r.indexKey(in.UserID, in.Type), in.ArticleID, score); err != nil {
		return id, fmt.Errorf("index interaction: %w", err)
	}
	return id, nil
}

// ArticleIDs pages through the articles a reader acted on with type t, most
// recent first, and returns the total count.
func (r *Repo) ArticleIDs(
	ctx context.Context, userID string, t domuser.InteractionType, offset, limit int,
) ([]string, int, error) {
	key := r.indexKey(userID, t)
	total, err := r.store.ZCard(ctx, key)
	if err != nil {
		return nil, 0, fmt.Errorf("count %s interactions: %w", t, err)
	}
	if offset >= total {
		return nil, total, nil
	}
	ids, err := r.store.ZRevRange(ctx, key, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s interactions: %w", t, err)
	}
	return ids, total, nil
}

func (r *Repo) indexKey(userID string, t domuser.InteractionType) string {
	return r.prefix + "user_interactions:" + userID + ":" + string(t)
}
