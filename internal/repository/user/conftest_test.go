package user

import (
	"context"
	"time"

	"github.com/newsiq/newsengine/internal/db"
)

type memStore struct {
	hashes map[string]map[string]string
	kv     map[string][]byte
	ttls   map[string]time.Duration
}

func newMemStore() *memStore {
	return &memStore{
		hashes: map[string]map[string]string{},
		kv:     map[string][]byte{},
		ttls:   map[string]time.Duration{},
	}
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

func (m *memStore) HIncrBy(_ context.Context, key, field string, val int64) (int64, error) {
	if m.hashes[key] == nil {
		m.hashes[key] = map[string]string{}
	}
	m.hashes[key][field] = "1"
	return val, nil
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.kv[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (m *memStore) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.kv[key] = value
	m.ttls[key] = ttl
	return nil
}
