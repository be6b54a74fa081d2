package db

import (
	"context"
	"time"
)

// Store is everything the Redis backend offers. Repositories depend on the
// narrow interfaces below, never on Store itself.
//
//nolint:interfacebloat // composition root type only
type Store interface {
	Pinger
	HashStore
	KVStore
	SortedSetStore
	Scripter
	IndexManager
	Searcher
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HashSetItem holds a single key+fields pair for pipelined HSET.
type HashSetItem struct {
	Key    string
	Fields map[string]string
}

// HashStore provides hash-based key-value operations.
type HashStore interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HSetMulti(ctx context.Context, items []HashSetItem) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	HIncrBy(ctx context.Context, key, field string, val int64) (int64, error)
	HDel(ctx context.Context, key string, fields ...string) error
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// KVStore provides simple key-value operations.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// SetNX stores value only if key is absent. Returns false when the key already existed.
	SetNX(ctx context.Context, key string, value []byte) (bool, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	IncrBy(ctx context.Context, key string, val int64) error
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
	ExpireAt(ctx context.Context, key string, at time.Time) error
}

// SortedSetStore provides score-ordered secondary indexes.
type SortedSetStore interface {
	// ZAdd inserts member or updates its score.
	ZAdd(ctx context.Context, key, member string, score float64) error
	// ZRevRange returns up to limit members starting at offset, highest score first.
	ZRevRange(ctx context.Context, key string, offset, limit int) ([]string, error)
	ZCard(ctx context.Context, key string) (int, error)
}

// Scripter runs Lua scripts atomically on the server.
type Scripter interface {
	// Eval runs script and returns its integer reply. A nil reply yields 0.
	Eval(ctx context.Context, script string, keys, args []string) (int64, error)
}

// IndexManager provides FT index lifecycle operations.
type IndexManager interface {
	CreateIndex(ctx context.Context, def *IndexDefinition) error
	DropIndex(ctx context.Context, name string) error
	IndexExists(ctx context.Context, name string) (bool, error)
}

// Searcher provides search operations over FT indexes.
type Searcher interface {
	SearchKNN(ctx context.Context, q *KNNQuery) (*SearchResult, error)
	SearchList(ctx context.Context, q *ListQuery) (*SearchResult, error)
	SearchCount(ctx context.Context, q *ListQuery) (int, error)
}
