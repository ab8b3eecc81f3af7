package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/your-org/llmstxt/internal/domain"
)

const (
	defaultShardCount      = 16
	defaultTTL             = 5 * time.Minute
	defaultCleanupInterval = 1 * time.Minute
)

// Options configures a ShardedCache. Zero values fall back to defaults.
type Options struct {
	ShardCount      int
	TTL             time.Duration
	CleanupInterval time.Duration
}

type entry struct {
	value     any
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

type shard struct {
	mu    sync.RWMutex
	items map[string]*entry
}

// ShardedCache is a TTL cache split into independently locked shards
type ShardedCache struct {
	shards          []*shard
	ttl             time.Duration
	cleanupInterval time.Duration

	hits   atomic.Uint64
	misses atomic.Uint64

	workerMu      sync.Mutex
	workerRunning bool
	workerStop    chan struct{}
	workerWg      sync.WaitGroup
}

// New creates a sharded cache
func New(opts Options) *ShardedCache {
	if opts.ShardCount < 1 {
		opts.ShardCount = defaultShardCount
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaultCleanupInterval
	}

	shards := make([]*shard, opts.ShardCount)
	for i := range shards {
		shards[i] = &shard{items: make(map[string]*entry)}
	}

	return &ShardedCache{
		shards:          shards,
		ttl:             opts.TTL,
		cleanupInterval: opts.CleanupInterval,
	}
}

func (c *ShardedCache) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Get returns the cached value for key if it is present and not expired
func (c *ShardedCache) Get(ctx context.Context, key string) (any, bool) {
	if ctx.Err() != nil {
		return nil, false
	}

	s := c.shardFor(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()

	// expired entries stay until the cleanup worker removes them
	if !ok || e.expired(time.Now()) {
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return e.value, true
}

// Set stores value under key for the configured TTL
func (c *ShardedCache) Set(ctx context.Context, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := c.shardFor(key)
	s.mu.Lock()
	s.items[key] = &entry{value: value, expiresAt: time.Now().Add(c.ttl)}
	s.mu.Unlock()
	return nil
}

// Delete removes key
func (c *ShardedCache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := c.shardFor(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

// Flush drops every entry. Used after content is imported or changed.
func (c *ShardedCache) Flush(ctx context.Context) error {
	for _, s := range c.shards {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.mu.Lock()
		s.items = make(map[string]*entry)
		s.mu.Unlock()
	}
	return nil
}

// CleanExpired removes expired entries from every shard
func (c *ShardedCache) CleanExpired(ctx context.Context) error {
	now := time.Now()
	for _, s := range c.shards {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.mu.Lock()
		for key, e := range s.items {
			if e.expired(now) {
				delete(s.items, key)
			}
		}
		s.mu.Unlock()
	}
	return nil
}

// StartCleanupWorker starts the background expiry loop. Calling it twice is a no-op.
func (c *ShardedCache) StartCleanupWorker() {
	c.workerMu.Lock()
	defer c.workerMu.Unlock()

	if c.workerRunning {
		return
	}
	c.workerRunning = true
	c.workerStop = make(chan struct{})

	c.workerWg.Add(1)
	go c.cleanupLoop(c.workerStop)
}

// StopCleanupWorker stops the expiry loop and waits for it to exit
func (c *ShardedCache) StopCleanupWorker() {
	c.workerMu.Lock()
	defer c.workerMu.Unlock()

	if !c.workerRunning {
		return
	}
	close(c.workerStop)
	c.workerWg.Wait()
	c.workerRunning = false
}

func (c *ShardedCache) cleanupLoop(stop <-chan struct{}) {
	defer c.workerWg.Done()

	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.cleanupInterval)
			_ = c.CleanExpired(ctx)
			cancel()
		}
	}
}

// Stats is a point-in-time view of the cache
type Stats struct {
	Shards  int
	Items   int
	Expired int
	Hits    uint64
	Misses  uint64
}

// Stats counts live and expired entries across shards
func (c *ShardedCache) Stats() Stats {
	st := Stats{
		Shards: len(c.shards),
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}

	now := time.Now()
	for _, s := range c.shards {
		s.mu.RLock()
		st.Items += len(s.items)
		for _, e := range s.items {
			if e.expired(now) {
				st.Expired++
			}
		}
		s.mu.RUnlock()
	}
	return st
}

// NonEmptyShards returns how many shards hold at least one entry
func (c *ShardedCache) NonEmptyShards() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		if len(s.items) > 0 {
			n++
		}
		s.mu.RUnlock()
	}
	return n
}

var _ domain.Cache = (*ShardedCache)(nil)
