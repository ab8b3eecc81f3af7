package repositories

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/your-org/llmstxt/internal/domain"
)

// MemoryRepository keeps content in maps. It backs tests and the file
// repository, which swaps whole snapshots in with Replace.
type MemoryRepository struct {
	mu     sync.RWMutex
	docs   map[string]*domain.Document
	scoped map[string]*domain.ScopedDocument
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		docs:   make(map[string]*domain.Document),
		scoped: make(map[string]*domain.ScopedDocument),
	}
}

// Replace swaps the full content set in one step
func (m *MemoryRepository) Replace(docs []*domain.Document, scoped []*domain.ScopedDocument) {
	nextDocs := make(map[string]*domain.Document, len(docs))
	for _, d := range docs {
		nextDocs[d.ID] = normalizeDocument(d)
	}
	nextScoped := make(map[string]*domain.ScopedDocument, len(scoped))
	for _, s := range scoped {
		nextScoped[s.ID] = normalizeScoped(s)
	}

	m.mu.Lock()
	m.docs, m.scoped = nextDocs, nextScoped
	m.mu.Unlock()
}

// Counts returns the number of stored documents and scoped documents
func (m *MemoryRepository) Counts() (int, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs), len(m.scoped)
}

// Snapshot returns copies of everything stored, published or not, ordered by ID
func (m *MemoryRepository) Snapshot() ([]*domain.Document, []*domain.ScopedDocument) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := make([]*domain.Document, 0, len(m.docs))
	for _, d := range m.docs {
		docs = append(docs, cloneDocument(d))
	}
	scoped := make([]*domain.ScopedDocument, 0, len(m.scoped))
	for _, s := range m.scoped {
		scoped = append(scoped, cloneScoped(s))
	}

	slices.SortFunc(docs, func(a, b *domain.Document) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(scoped, func(a, b *domain.ScopedDocument) int { return cmp.Compare(a.ID, b.ID) })
	return docs, scoped
}

func (m *MemoryRepository) SaveDocument(ctx context.Context, doc *domain.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if doc.ID == "" {
		return fmt.Errorf("save document: empty id")
	}

	m.mu.Lock()
	m.docs[doc.ID] = normalizeDocument(doc)
	m.mu.Unlock()
	return nil
}

func (m *MemoryRepository) SaveScopedDocument(ctx context.Context, doc *domain.ScopedDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if doc.ID == "" {
		return fmt.Errorf("save scoped document: empty id")
	}

	m.mu.Lock()
	m.scoped[doc.ID] = normalizeScoped(doc)
	m.mu.Unlock()
	return nil
}

func (m *MemoryRepository) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.docs[id]
	if !ok || !d.IsPublished() {
		return nil, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	return cloneDocument(d), nil
}

func (m *MemoryRepository) GetDocumentByPath(ctx context.Context, path string) (*domain.Document, error) {
	path = domain.CleanPath(path)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *domain.Document
	for _, d := range m.docs {
		if d.Path == path && d.IsPublished() && (found == nil || newerDocument(d, found) < 0) {
			found = d
		}
	}
	if found == nil {
		return nil, fmt.Errorf("document at %s: %w", path, domain.ErrNotFound)
	}
	return cloneDocument(found), nil
}

func (m *MemoryRepository) ListDocuments(ctx context.Context, docType string, limit int) ([]*domain.Document, error) {
	m.mu.RLock()
	var out []*domain.Document
	for _, d := range m.docs {
		if d.Type == docType && d.IsPublished() {
			out = append(out, cloneDocument(d))
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(out, newerDocument)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) GetScopedDocument(ctx context.Context, id string) (*domain.ScopedDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.scoped[id]
	if !ok || !s.IsPublished() {
		return nil, fmt.Errorf("scoped document %s: %w", id, domain.ErrNotFound)
	}
	return cloneScoped(s), nil
}

func (m *MemoryRepository) FindScopedDocumentByParent(ctx context.Context, parent string) (*domain.ScopedDocument, error) {
	parent = domain.CleanParent(parent)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *domain.ScopedDocument
	for _, s := range m.scoped {
		if s.OutputParent != parent || !s.IsPublished() {
			continue
		}
		if found == nil || newerDocument(&s.Document, &found.Document) < 0 {
			found = s
		}
	}
	if found == nil {
		return nil, fmt.Errorf("scoped document for %q: %w", parent, domain.ErrNotFound)
	}
	return cloneScoped(found), nil
}

func (m *MemoryRepository) ListScopedDocuments(ctx context.Context) ([]*domain.ScopedDocument, error) {
	m.mu.RLock()
	out := make([]*domain.ScopedDocument, 0, len(m.scoped))
	for _, s := range m.scoped {
		if s.IsPublished() {
			out = append(out, cloneScoped(s))
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b *domain.ScopedDocument) int {
		return cmp.Or(cmp.Compare(a.Title, b.Title), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// newerDocument orders by publication date descending, then by ID
func newerDocument(a, b *domain.Document) int {
	if c := b.PublishedAt.Compare(a.PublishedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func normalizeDocument(d *domain.Document) *domain.Document {
	c := cloneDocument(d)
	c.Path = domain.CleanPath(c.Path)
	return c
}

func normalizeScoped(s *domain.ScopedDocument) *domain.ScopedDocument {
	c := cloneScoped(s)
	c.Type = domain.ScopedDocumentType
	c.OutputParent = domain.CleanParent(c.OutputParent)
	return c
}

func cloneDocument(d *domain.Document) *domain.Document {
	c := *d
	return &c
}

func cloneScoped(s *domain.ScopedDocument) *domain.ScopedDocument {
	c := *s
	return &c
}

var (
	_ domain.ContentRepository = (*MemoryRepository)(nil)
	_ domain.ContentStore      = (*MemoryRepository)(nil)
)
