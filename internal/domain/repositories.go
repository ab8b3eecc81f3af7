package domain

import "context"

// ContentRepository is the read side consumed by the resolver and router.
// Only published records are returned; a missing record yields ErrNotFound.
type ContentRepository interface {
	// GetDocument retrieves a document by ID
	GetDocument(ctx context.Context, id string) (*Document, error)

	// GetDocumentByPath retrieves a document by its site-relative path
	GetDocumentByPath(ctx context.Context, path string) (*Document, error)

	// ListDocuments returns at most limit documents of docType, most recent first
	ListDocuments(ctx context.Context, docType string, limit int) ([]*Document, error)

	// GetScopedDocument retrieves a scoped document by ID
	GetScopedDocument(ctx context.Context, id string) (*ScopedDocument, error)

	// FindScopedDocumentByParent returns the first scoped document whose
	// output parent equals parent
	FindScopedDocumentByParent(ctx context.Context, parent string) (*ScopedDocument, error)

	// ListScopedDocuments returns all scoped documents ordered by title
	ListScopedDocuments(ctx context.Context) ([]*ScopedDocument, error)
}

// ContentStore is the write side used by the import command
type ContentStore interface {
	SaveDocument(ctx context.Context, doc *Document) error
	SaveScopedDocument(ctx context.Context, doc *ScopedDocument) error
}

// HealthChecker defines the interface for health checks
type HealthChecker interface {
	// CheckConnection checks if the storage connection is healthy
	CheckConnection(ctx context.Context) error

	// EnsureCollections ensures that required collections/namespaces exist
	EnsureCollections(ctx context.Context) error
}
