package source

import (
	"context"
	"path"
	"strconv"

	"github.com/newsiq/newsengine/internal/db"
)

type memStore struct {
	hashes map[string]map[string]string
}

func newMemStore() *memStore {
	return &memStore{hashes: map[string]map[string]string{}}
}

func (m *memStore) HSet(_ context.Context, key string, fields map[string]string) error {
	if m.hashes[key] == nil {
		m.hashes[key] = map[string]string{}
	}
	for k, v := range fields {
		m.hashes[key][k] = v
	}
	return nil
}

func (m *memStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	h, ok := m.hashes[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return h, nil
}

func (m *memStore) HGetAllMulti(_ context.Context, keys []string) ([]map[string]string, error) {
	out := make([]map[string]string, len(keys))
	for i, k := range keys {
		out[i] = m.hashes[k]
	}
	return out, nil
}

func (m *memStore) HIncrBy(_ context.Context, key, field string, val int64) (int64, error) {
	if m.hashes[key] == nil {
		m.hashes[key] = map[string]string{}
	}
	cur, _ := strconv.ParseInt(m.hashes[key][field], 10, 64)
	cur += val
	m.hashes[key][field] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (m *memStore) Scan(_ context.Context, pattern string) ([]string, error) {
	var out []string
	for k := range m.hashes {
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	return out, nil
}
