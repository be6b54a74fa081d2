package redis

import (
	"context"

	"github.com/redis/rueidis"

	"github.com/newsiq/newsengine/internal/db"
)

// ZAdd inserts member with score or moves an existing member to the new score.
func (s *Store) ZAdd(ctx context.Context, key, member string, score float64) error {
	if err := s.do(ctx, s.b().Zadd().Key(key).ScoreMember().ScoreMember(score, member).Build()).Error(); err != nil {
		return &db.Error{Op: db.OpZAdd, Err: err}
	}
	return nil
}

// ZRevRange pages through a sorted set from the highest score down.
func (s *Store) ZRevRange(ctx context.Context, key string, offset, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	start := int64(max(offset, 0))
	cmd := s.b().Zrevrange().Key(key).Start(start).Stop(start + int64(limit) - 1).Build()
	members, err := s.do(ctx, cmd).AsStrSlice()
	if err != nil {
		return nil, &db.Error{Op: db.OpZRevRange, Err: err}
	}
	return members, nil
}

// ZCard returns the number of members; a missing key has none.
func (s *Store) ZCard(ctx context.Context, key string) (int, error) {
	n, err := s.do(ctx, s.b().Zcard().Key(key).Build()).AsInt64()
	if err != nil {
		return 0, &db.Error{Op: db.OpZCard, Err: err}
	}
	return int(n), nil
}

// Eval runs a Lua script with EVAL.
func (s *Store) Eval(ctx context.Context, script string, keys, args []string) (int64, error) {
	cmd := s.b().Eval().Script(script).Numkeys(int64(len(keys))).Key(keys...).Arg(args...).Build()
	n, err := s.do(ctx, cmd).AsInt64()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return 0, nil
		}
		return 0, &db.Error{Op: db.OpEval, Err: err}
	}
	return n, nil
}
