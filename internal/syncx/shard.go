package syncx

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
)

// ErrClosed is returned when a task is submitted after Close.
var ErrClosed = errors.New("syncx: pool closed")

// Task is a unit of work run on the shard owning its key.
type Task func(ctx context.Context) error

type job struct {
	task Task
	done chan error
}

// ShardedPool runs tasks on a fixed set of goroutines. Tasks with the same key
// always land on the same shard and run in submission order. Tasks for other
// keys may run in parallel on other shards.
type ShardedPool struct {
	shards []chan job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewShardedPool starts n shard workers, each with a queue of depth buffered tasks.
func NewShardedPool(n, depth int) *ShardedPool {
	if n <= 0 {
		n = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &ShardedPool{shards: make([]chan job, n), ctx: ctx, cancel: cancel}
	for i := range p.shards {
		p.shards[i] = make(chan job, depth)
		p.wg.Add(1)
		go p.run(p.shards[i])
	}
	return p
}

func (p *ShardedPool) run(q chan job) {
	defer p.wg.Done()
	for j := range q {
		err := j.task(p.ctx)
		if j.done != nil {
			j.done <- err
		}
	}
}

// Submit enqueues t on the shard for key without waiting for it to run.
// It blocks only while that shard's queue is full.
func (p *ShardedPool) Submit(ctx context.Context, key string, t Task) error {
	return p.enqueue(ctx, key, job{task: t})
}

// Do enqueues t and waits for its result. A caller whose ctx ends stops
// waiting, but the task still runs.
func (p *ShardedPool) Do(ctx context.Context, key string, t Task) error {
	done := make(chan error, 1)
	if err := p.enqueue(ctx, key, job{task: t, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *ShardedPool) enqueue(ctx context.Context, key string, j job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.shards[p.shardFor(key)] <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *ShardedPool) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.shards)))
}

// Close stops accepting tasks and waits for queued ones to drain or ctx to end.
// Tasks still running when ctx ends observe a cancelled context.
func (p *ShardedPool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, q := range p.shards {
		close(q)
	}
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}
