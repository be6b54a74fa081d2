package research

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/newsiq/newsengine/internal/db"
)

// memStore is an in-memory hash store with per-key expiry timestamps. It runs
// the repository scripts under one lock, as the server would.
type memStore struct {
	mu      sync.Mutex
	hashes  map[string]map[string]string
	expires map[string]time.Time
	scanErr error
	evals   []evalCall
}

type evalCall struct {
	script string
	keys   []string
	args   []string
}

func newMemStore() *memStore {
	return &memStore{hashes: map[string]map[string]string{}, expires: map[string]time.Time{}}
}

func (m *memStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hashes, key)
	delete(m.expires, key)
	return nil
}

func (m *memStore) Scan(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	var out []string
	for k := range m.hashes {
		if ok, _ := path.Match(pattern, k); ok {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memStore) Eval(_ context.Context, script string, keys, args []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evals = append(m.evals, evalCall{script: script, keys: keys, args: args})
	key := keys[0]
	_, exists := m.hashes[key]

	switch script {
	case saveScript:
		ms, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bad expiry %q", args[0])
		}
		h := map[string]string{}
		for i := 1; i+1 < len(args); i += 2 {
			h[args[i]] = args[i+1]
		}
		m.hashes[key] = h
		m.expires[key] = time.UnixMilli(ms).UTC()
		return 1, nil
	case setIfExistsScript:
		if !exists {
			return 0, nil
		}
		m.hashes[key][args[0]] = args[1]
		return 1, nil
	case incrIfExistsScript:
		if !exists {
			return 0, nil
		}
		cur, _ := strconv.ParseInt(m.hashes[key][args[0]], 10, 64)
		m.hashes[key][args[0]] = strconv.FormatInt(cur+1, 10)
		return 1, nil
	}
	return 0, fmt.Errorf("unknown script")
}
