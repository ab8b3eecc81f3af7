package repositories

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/your-org/llmstxt/internal/domain"
)

// CacheObserver is notified about every cache lookup
type CacheObserver interface {
	CacheLookup(hit bool)
}

// CachedRepository is a cache-aside decorator. Concurrent misses for the same
// key share one upstream call. Cached values are never handed out directly;
// callers always receive copies.
type CachedRepository struct {
	next     domain.ContentRepository
	cache    domain.Cache
	group    singleflight.Group
	logger   *zap.Logger
	observer CacheObserver

	// bumped by Invalidate; fetches from an older generation are not cached
	generation atomic.Uint64
}

// NewCachedRepository wraps next with cache
func NewCachedRepository(next domain.ContentRepository, cache domain.Cache, logger *zap.Logger) *CachedRepository {
	return &CachedRepository{next: next, cache: cache, logger: logger}
}

// WithObserver sets the lookup observer
func (c *CachedRepository) WithObserver(o CacheObserver) *CachedRepository {
	c.observer = o
	return c
}

// Invalidate drops all cached lookups. Called after content changes.
func (c *CachedRepository) Invalidate(ctx context.Context) {
	c.generation.Add(1)
	if err := c.cache.Flush(ctx); err != nil {
		c.logger.Warn("failed to flush content cache", zap.Error(err))
		return
	}
	c.logger.Debug("content cache flushed")
}

// notFoundMarker caches negative lookups so missing paths stay cheap
type notFoundMarker struct{}

func (c *CachedRepository) load(ctx context.Context, key string, fetch func() (any, error)) (any, error) {
	if v, ok := c.cache.Get(ctx, key); ok {
		c.observe(true)
		if _, missing := v.(notFoundMarker); missing {
			return nil, domain.ErrNotFound
		}
		return v, nil
	}
	c.observe(false)

	gen := c.generation.Load()
	flight := key + "@" + strconv.FormatUint(gen, 10)
	v, err, _ := c.group.Do(flight, func() (any, error) {
		v, err := fetch()
		if c.generation.Load() != gen {
			return v, err
		}
		switch {
		case errors.Is(err, domain.ErrNotFound):
			_ = c.cache.Set(ctx, key, notFoundMarker{})
		case err == nil:
			if setErr := c.cache.Set(ctx, key, v); setErr != nil {
				c.logger.Debug("cache set failed", zap.String("key", key), zap.Error(setErr))
			}
		}
		return v, err
	})
	return v, err
}

func (c *CachedRepository) observe(hit bool) {
	if c.observer != nil {
		c.observer.CacheLookup(hit)
	}
}

func (c *CachedRepository) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	v, err := c.load(ctx, "doc:id:"+id, func() (any, error) {
		return c.next.GetDocument(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return cloneDocument(v.(*domain.Document)), nil
}

func (c *CachedRepository) GetDocumentByPath(ctx context.Context, path string) (*domain.Document, error) {
	path = domain.CleanPath(path)
	v, err := c.load(ctx, "doc:path:"+path, func() (any, error) {
		return c.next.GetDocumentByPath(ctx, path)
	})
	if err != nil {
		return nil, err
	}
	return cloneDocument(v.(*domain.Document)), nil
}

func (c *CachedRepository) ListDocuments(ctx context.Context, docType string, limit int) ([]*domain.Document, error) {
	v, err := c.load(ctx, "doc:list:"+docType+":"+strconv.Itoa(limit), func() (any, error) {
		return c.next.ListDocuments(ctx, docType, limit)
	})
	if err != nil {
		return nil, err
	}

	cached := v.([]*domain.Document)
	out := make([]*domain.Document, len(cached))
	for i, d := range cached {
		out[i] = cloneDocument(d)
	}
	return out, nil
}

func (c *CachedRepository) GetScopedDocument(ctx context.Context, id string) (*domain.ScopedDocument, error) {
	v, err := c.load(ctx, "scoped:id:"+id, func() (any, error) {
		return c.next.GetScopedDocument(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return cloneScoped(v.(*domain.ScopedDocument)), nil
}

func (c *CachedRepository) FindScopedDocumentByParent(ctx context.Context, parent string) (*domain.ScopedDocument, error) {
	parent = domain.CleanParent(parent)
	v, err := c.load(ctx, "scoped:parent:"+parent, func() (any, error) {
		return c.next.FindScopedDocumentByParent(ctx, parent)
	})
	if err != nil {
		return nil, err
	}
	return cloneScoped(v.(*domain.ScopedDocument)), nil
}

func (c *CachedRepository) ListScopedDocuments(ctx context.Context) ([]*domain.ScopedDocument, error) {
	v, err := c.load(ctx, "scoped:list", func() (any, error) {
		return c.next.ListScopedDocuments(ctx)
	})
	if err != nil {
		return nil, err
	}

	cached := v.([]*domain.ScopedDocument)
	out := make([]*domain.ScopedDocument, len(cached))
	for i, s := range cached {
		out[i] = cloneScoped(s)
	}
	return out, nil
}

// CheckConnection delegates to the wrapped repository when it supports health checks
func (c *CachedRepository) CheckConnection(ctx context.Context) error {
	if hc, ok := c.next.(domain.HealthChecker); ok {
		return hc.CheckConnection(ctx)
	}
	return nil
}

// EnsureCollections delegates to the wrapped repository when supported
func (c *CachedRepository) EnsureCollections(ctx context.Context) error {
	if hc, ok := c.next.(domain.HealthChecker); ok {
		return hc.EnsureCollections(ctx)
	}
	return nil
}

var (
	_ domain.ContentRepository = (*CachedRepository)(nil)
	_ domain.HealthChecker     = (*CachedRepository)(nil)
)
