package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/your-org/llmstxt/internal/domain"
)

// SQL drivers accepted by OpenBunDB
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type documentModel struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	ID          string    `bun:"id,pk"`
	Type        string    `bun:"type,notnull"`
	Status      string    `bun:"status,notnull"`
	Path        string    `bun:"path,notnull"`
	Title       string    `bun:"title,notnull"`
	Body        string    `bun:"body"`
	AuthorName  string    `bun:"author_name"`
	AuthorLogin string    `bun:"author_login"`
	PublishedAt time.Time `bun:"published_at,nullzero"`
	ModifiedAt  time.Time `bun:"modified_at,nullzero"`
	Permalink   string    `bun:"permalink"`
}

type scopedDocumentModel struct {
	bun.BaseModel `bun:"table:scoped_documents,alias:s"`

	ID             string    `bun:"id,pk"`
	Status         string    `bun:"status,notnull"`
	Title          string    `bun:"title,notnull"`
	Body           string    `bun:"body"`
	AuthorName     string    `bun:"author_name"`
	AuthorLogin    string    `bun:"author_login"`
	PublishedAt    time.Time `bun:"published_at,nullzero"`
	ModifiedAt     time.Time `bun:"modified_at,nullzero"`
	Permalink      string    `bun:"permalink"`
	Scope          string    `bun:"scope"`
	OutputParent   string    `bun:"output_parent"`
	AuthorityLevel string    `bun:"authority_level"`
	ContentType    string    `bun:"content_type"`
}

// OpenBunDB opens a SQL database for BunRepository
func OpenBunDB(driver, dsn string) (*bun.DB, error) {
	switch driver {
	case DriverSQLite:
		sqlDB, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// sqlite serializes writers anyway
		sqlDB.SetMaxOpenConns(1)
		return bun.NewDB(sqlDB, sqlitedialect.New()), nil
	case DriverPostgres:
		sqlDB, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return bun.NewDB(sqlDB, pgdialect.New()), nil
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
}

// BunRepository stores content in a SQL database through bun
type BunRepository struct {
	db *bun.DB
}

// NewBunRepository wraps an open database
func NewBunRepository(db *bun.DB) *BunRepository {
	return &BunRepository{db: db}
}

// EnsureCollections creates the tables when missing
func (r *BunRepository) EnsureCollections(ctx context.Context) error {
	for _, model := range []any{(*documentModel)(nil), (*scopedDocumentModel)(nil)} {
		if _, err := r.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// CheckConnection pings the database
func (r *BunRepository) CheckConnection(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the underlying database
func (r *BunRepository) Close() error {
	return r.db.Close()
}

func (r *BunRepository) SaveDocument(ctx context.Context, doc *domain.Document) error {
	model := documentModel{
		ID:          doc.ID,
		Type:        doc.Type,
		Status:      doc.Status,
		Path:        domain.CleanPath(doc.Path),
		Title:       doc.Title,
		Body:        doc.Body,
		AuthorName:  doc.Author.DisplayName,
		AuthorLogin: doc.Author.Login,
		PublishedAt: doc.PublishedAt.UTC(),
		ModifiedAt:  doc.ModifiedAt.UTC(),
		Permalink:   doc.Permalink,
	}

	_, err := r.db.NewInsert().
		Model(&model).
		On("CONFLICT (id) DO UPDATE").
		Set("type = EXCLUDED.type").
		Set("status = EXCLUDED.status").
		Set("path = EXCLUDED.path").
		Set("title = EXCLUDED.title").
		Set("body = EXCLUDED.body").
		Set("author_name = EXCLUDED.author_name").
		Set("author_login = EXCLUDED.author_login").
		Set("published_at = EXCLUDED.published_at").
		Set("modified_at = EXCLUDED.modified_at").
		Set("permalink = EXCLUDED.permalink").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("save document %s: %w", doc.ID, err)
	}
	return nil
}

func (r *BunRepository) SaveScopedDocument(ctx context.Context, doc *domain.ScopedDocument) error {
	model := scopedDocumentModel{
		ID:             doc.ID,
		Status:         doc.Status,
		Title:          doc.Title,
		Body:           doc.Body,
		AuthorName:     doc.Author.DisplayName,
		AuthorLogin:    doc.Author.Login,
		PublishedAt:    doc.PublishedAt.UTC(),
		ModifiedAt:     doc.ModifiedAt.UTC(),
		Permalink:      doc.Permalink,
		Scope:          doc.Scope,
		OutputParent:   domain.CleanParent(doc.OutputParent),
		AuthorityLevel: doc.AuthorityLevel,
		ContentType:    doc.ContentType,
	}

	_, err := r.db.NewInsert().
		Model(&model).
		On("CONFLICT (id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("title = EXCLUDED.title").
		Set("body = EXCLUDED.body").
		Set("author_name = EXCLUDED.author_name").
		Set("author_login = EXCLUDED.author_login").
		Set("published_at = EXCLUDED.published_at").
		Set("modified_at = EXCLUDED.modified_at").
		Set("permalink = EXCLUDED.permalink").
		Set("scope = EXCLUDED.scope").
		Set("output_parent = EXCLUDED.output_parent").
		Set("authority_level = EXCLUDED.authority_level").
		Set("content_type = EXCLUDED.content_type").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("save scoped document %s: %w", doc.ID, err)
	}
	return nil
}

func (r *BunRepository) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	var model documentModel
	err := r.db.NewSelect().Model(&model).
		Where("id = ?", id).
		Where("status = ?", domain.StatusPublished).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "document "+id)
	}
	return model.toDomain(), nil
}

func (r *BunRepository) GetDocumentByPath(ctx context.Context, path string) (*domain.Document, error) {
	path = domain.CleanPath(path)

	var model documentModel
	err := r.db.NewSelect().Model(&model).
		Where("path = ?", path).
		Where("status = ?", domain.StatusPublished).
		Order("published_at DESC", "id ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "document at "+path)
	}
	return model.toDomain(), nil
}

func (r *BunRepository) ListDocuments(ctx context.Context, docType string, limit int) ([]*domain.Document, error) {
	var models []documentModel
	q := r.db.NewSelect().Model(&models).
		Where("type = ?", docType).
		Where("status = ?", domain.StatusPublished).
		Order("published_at DESC", "id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list documents of type %s: %w", docType, err)
	}

	docs := make([]*domain.Document, len(models))
	for i := range models {
		docs[i] = models[i].toDomain()
	}
	return docs, nil
}

func (r *BunRepository) GetScopedDocument(ctx context.Context, id string) (*domain.ScopedDocument, error) {
	var model scopedDocumentModel
	err := r.db.NewSelect().Model(&model).
		Where("id = ?", id).
		Where("status = ?", domain.StatusPublished).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "scoped document "+id)
	}
	return model.toDomain(), nil
}

func (r *BunRepository) FindScopedDocumentByParent(ctx context.Context, parent string) (*domain.ScopedDocument, error) {
	parent = domain.CleanParent(parent)

	var model scopedDocumentModel
	err := r.db.NewSelect().Model(&model).
		Where("output_parent = ?", parent).
		Where("status = ?", domain.StatusPublished).
		Order("published_at DESC", "id ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("scoped document for %q", parent))
	}
	return model.toDomain(), nil
}

func (r *BunRepository) ListScopedDocuments(ctx context.Context) ([]*domain.ScopedDocument, error) {
	var models []scopedDocumentModel
	err := r.db.NewSelect().Model(&models).
		Where("status = ?", domain.StatusPublished).
		Order("title ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list scoped documents: %w", err)
	}

	docs := make([]*domain.ScopedDocument, len(models))
	for i := range models {
		docs[i] = models[i].toDomain()
	}
	return docs, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (m *documentModel) toDomain() *domain.Document {
	return &domain.Document{
		ID:          m.ID,
		Type:        m.Type,
		Status:      m.Status,
		Title:       m.Title,
		Body:        m.Body,
		Author:      domain.Author{DisplayName: m.AuthorName, Login: m.AuthorLogin},
		PublishedAt: m.PublishedAt,
		ModifiedAt:  m.ModifiedAt,
		Path:        m.Path,
		Permalink:   m.Permalink,
	}
}

func (m *scopedDocumentModel) toDomain() *domain.ScopedDocument {
	return &domain.ScopedDocument{
		Document: domain.Document{
			ID:          m.ID,
			Type:        domain.ScopedDocumentType,
			Status:      m.Status,
			Title:       m.Title,
			Body:        m.Body,
			Author:      domain.Author{DisplayName: m.AuthorName, Login: m.AuthorLogin},
			PublishedAt: m.PublishedAt,
			ModifiedAt:  m.ModifiedAt,
			Permalink:   m.Permalink,
		},
		Scope:          m.Scope,
		OutputParent:   m.OutputParent,
		AuthorityLevel: m.AuthorityLevel,
		ContentType:    m.ContentType,
	}
}

var (
	_ domain.ContentRepository = (*BunRepository)(nil)
	_ domain.ContentStore      = (*BunRepository)(nil)
	_ domain.HealthChecker     = (*BunRepository)(nil)
)
