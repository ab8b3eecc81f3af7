package resolver

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/llmstxt/internal/domain"
)

// MockContentRepository is a mock implementation of ContentRepository
type MockContentRepository struct {
	mock.Mock
}

var _ domain.ContentRepository = (*MockContentRepository)(nil)

func (m *MockContentRepository) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockContentRepository) GetDocumentByPath(ctx context.Context, path string) (*domain.Document, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockContentRepository) ListDocuments(ctx context.Context, docType string, limit int) ([]*domain.Document, error) {
	args := m.Called(ctx, docType, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Document), args.Error(1)
}

func (m *MockContentRepository) GetScopedDocument(ctx context.Context, id string) (*domain.ScopedDocument, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ScopedDocument), args.Error(1)
}

func (m *MockContentRepository) FindScopedDocumentByParent(ctx context.Context, parent string) (*domain.ScopedDocument, error) {
	args := m.Called(ctx, parent)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ScopedDocument), args.Error(1)
}

func (m *MockContentRepository) ListScopedDocuments(ctx context.Context) ([]*domain.ScopedDocument, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ScopedDocument), args.Error(1)
}

const scopeHeader = "## Child Authority References"

func baseConfig(src domain.Source) domain.Configuration {
	return domain.Configuration{
		Source:              src,
		Site:                domain.Site{Name: "Acme", Description: "Widgets Inc.", HomeURL: "https://acme.test"},
		MarkdownEnabled:     true,
		HeaderTemplate:      "# {post_title}\n# Scope: {scope}\n# Canonical URL: {canonical_url}",
		ScopedSectionHeader: scopeHeader,
		CharsPerToken:       4,
	}
}

func scopedDocs() []*domain.ScopedDocument {
	return []*domain.ScopedDocument{
		{Document: domain.Document{Title: "API"}, Scope: "Public API", AuthorityLevel: "canonical", OutputParent: "/api/"},
		{Document: domain.Document{Title: "Home"}, OutputParent: ""},
		{Document: domain.Document{Title: "Support"}, OutputParent: "support"},
	}
}

const wantScopeSection = "\n\n" + scopeHeader + "\n\n" +
	"- API  \n  Scope: Public API  \n  Authority: canonical  \n  URL: https://acme.test/api/llms.txt\n" +
	"\n" +
	"- Support  \n  URL: https://acme.test/support/llms.txt\n" +
	"\n"

func TestResolveCustom(t *testing.T) {
	ctx := context.Background()
	repo := new(MockContentRepository)
	r := New(repo, zaptest.NewLogger(t))

	cfg := baseConfig(domain.CustomSource{Text: "  raw <b>text</b>\n"})
	assert.Equal(t, "  raw <b>text</b>\n", r.Resolve(ctx, cfg, ""))

	cfg.IncludeAllScoped = true
	repo.On("ListScopedDocuments", ctx).Return(scopedDocs(), nil).Once()
	assert.Equal(t, "  raw <b>text</b>\n"+wantScopeSection, r.Resolve(ctx, cfg, ""))

	// nested scopes never get the section
	assert.Equal(t, "  raw <b>text</b>\n", r.Resolve(ctx, cfg, "docs"))
	repo.AssertExpectations(t)
}

func TestResolveAggregateEmptyTypes(t *testing.T) {
	r := New(new(MockContentRepository), zaptest.NewLogger(t))

	cfg := baseConfig(domain.AggregateSource{Limit: 10})
	cfg.MarkdownEnabled = false

	assert.Equal(t, "# Acme\n\nWidgets Inc.\n\n---\n\n", r.Resolve(context.Background(), cfg, ""))

	cfg.Site.Description = ""
	assert.Equal(t, "# Acme\n\n---\n\n", r.Resolve(context.Background(), cfg, ""))
}

func TestResolveAggregateMarkdownListing(t *testing.T) {
	ctx := context.Background()
	repo := new(MockContentRepository)
	r := New(repo, zaptest.NewLogger(t))

	cfg := baseConfig(domain.AggregateSource{Limit: 10})
	cfg.IncludedTypes = []string{"post", "case_study", "page"}
	cfg.TypeLabels = map[string]string{"post": "Posts"}

	repo.On("ListDocuments", ctx, "post", 10).Return([]*domain.Document{
		{Title: "Hello", Permalink: "https://acme.test/hello/"},
	}, nil)
	repo.On("ListDocuments", ctx, "case_study", 10).Return([]*domain.Document{
		{Title: "Big Win", Permalink: "https://acme.test/case/big-win"},
	}, nil)
	repo.On("ListDocuments", ctx, "page", 10).Return([]*domain.Document{}, nil)

	got := r.Resolve(ctx, cfg, "")

	assert.Equal(t, "# Acme\n\nWidgets Inc.\n\n---\n\n"+
		"## Available Content\n\n"+
		"### Posts\n\n* [Hello](https://acme.test/hello.md)\n\n"+
		"### Case Study\n\n* [Big Win](https://acme.test/case/big-win.md)\n\n", got)

	assert.Equal(t, 2, strings.Count(got, "\n### "))
	assert.Equal(t, 2, strings.Count(got, ".md)\n"))
	repo.AssertExpectations(t)
}

func TestResolveAggregateInlineContent(t *testing.T) {
	ctx := context.Background()
	repo := new(MockContentRepository)
	r := New(repo, zaptest.NewLogger(t))

	cfg := baseConfig(domain.AggregateSource{})
	cfg.MarkdownEnabled = false
	cfg.IncludedTypes = []string{"post"}

	repo.On("ListDocuments", ctx, "post", DefaultPostsLimit).Return([]*domain.Document{
		{Title: "One", Body: "<p>first</p>"},
		{Title: "Two", Body: "<p>second</p>"},
	}, nil)

	assert.Equal(t, "# Acme\n\nWidgets Inc.\n\n---\n\n"+
		"# One\n\nfirst\n\n---\n\n"+
		"# Two\n\nsecond\n\n---\n\n", r.Resolve(ctx, cfg, ""))
}

func TestResolveAggregateDegradesOnRepositoryError(t *testing.T) {
	ctx := context.Background()
	repo := new(MockContentRepository)
	r := New(repo, zaptest.NewLogger(t))

	cfg := baseConfig(domain.AggregateSource{Limit: 5})
	cfg.IncludedTypes = []string{"post", "page"}

	repo.On("ListDocuments", ctx, "post", 5).Return(nil, errors.New("connection reset"))
	repo.On("ListDocuments", ctx, "page", 5).Return([]*domain.Document{
		{Title: "About", Permalink: "https://acme.test/about"},
	}, nil)

	assert.Equal(t, "# Acme\n\nWidgets Inc.\n\n---\n\n## Available Content\n\n"+
		"### Page\n\n* [About](https://acme.test/about.md)\n\n", r.Resolve(ctx, cfg, ""))
}

func TestResolveSinglePage(t *testing.T) {
	ctx := context.Background()
	repo := new(MockContentRepository)
	r := New(repo, zaptest.NewLogger(t))

	published := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	repo.On("GetDocument", ctx, "42").Return(&domain.Document{
		Title:       "Guide",
		Body:        "<h2>Start</h2><p>Read this.</p>",
		Author:      domain.Author{DisplayName: "Jane"},
		PublishedAt: published,
	}, nil)
	repo.On("GetDocument", ctx, "gone").Return(nil, domain.ErrNotFound)
	repo.On("ListScopedDocuments", ctx).Return(scopedDocs(), nil)

	cfg := baseConfig(domain.SinglePageSource{DocumentID: "42"})
	cfg.IncludeAllScoped = true
	assert.Equal(t, "# Guide\n\nPublished: 2024-05-01\nAuthor: Jane\n\n## Start\n\nRead this."+wantScopeSection,
		r.Resolve(ctx, cfg, ""))

	cfg.Source = domain.SinglePageSource{DocumentID: "gone"}
	assert.Empty(t, r.Resolve(ctx, cfg, ""))
}

func TestResolveScoped(t *testing.T) {
	ctx := context.Background()
	repo := new(MockContentRepository)
	r := New(repo, zaptest.NewLogger(t))

	docs := &domain.ScopedDocument{
		Document:     domain.Document{ID: "7", Title: "Docs", Body: "<p>kept as is</p>\n- item"},
		Scope:        "Developer docs",
		OutputParent: "docs",
	}
	root := &domain.ScopedDocument{
		Document: domain.Document{ID: "1", Title: "Root", Body: "root body"},
	}

	repo.On("FindScopedDocumentByParent", ctx, "docs").Return(docs, nil)
	repo.On("FindScopedDocumentByParent", ctx, "missing").Return(nil, domain.ErrNotFound)
	repo.On("GetScopedDocument", ctx, "1").Return(root, nil)

	cfg := baseConfig(domain.ScopedSource{ScopedDocumentID: "1"})
	cfg.IncludeAllScoped = true

	t.Run("nested by parent", func(t *testing.T) {
		got := r.Resolve(ctx, cfg, "/docs/")
		assert.Equal(t, "# Docs\n# Scope: Developer docs\n# Canonical URL: https://acme.test/docs/llms.txt\n\n"+
			"<p>kept as is</p>\n- item", got)
	})

	t.Run("root by selection", func(t *testing.T) {
		repo.On("ListScopedDocuments", ctx).Return([]*domain.ScopedDocument{}, nil).Once()
		assert.Equal(t, "# Root\n# Canonical URL: https://acme.test/llms.txt\n\nroot body", r.Resolve(ctx, cfg, ""))
	})

	t.Run("no header template", func(t *testing.T) {
		c := cfg
		c.HeaderTemplate = ""
		assert.Equal(t, "<p>kept as is</p>\n- item", r.Resolve(ctx, c, "docs"))
	})

	t.Run("missing parent", func(t *testing.T) {
		assert.Empty(t, r.Resolve(ctx, cfg, "missing"))
	})

	t.Run("no selection", func(t *testing.T) {
		c := cfg
		c.Source = domain.ScopedSource{}
		assert.Empty(t, r.Resolve(ctx, c, ""))
	})
}

func TestScopeSection(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		r := New(new(MockContentRepository), zaptest.NewLogger(t))
		assert.Empty(t, r.ScopeSection(ctx, baseConfig(nil), ""))
	})

	t.Run("no addressable documents", func(t *testing.T) {
		repo := new(MockContentRepository)
		repo.On("ListScopedDocuments", ctx).Return([]*domain.ScopedDocument{
			{Document: domain.Document{Title: "Home"}, OutputParent: "/"},
		}, nil)
		cfg := baseConfig(nil)
		cfg.IncludeAllScoped = true
		assert.Empty(t, New(repo, zaptest.NewLogger(t)).ScopeSection(ctx, cfg, ""))
	})

	t.Run("without header", func(t *testing.T) {
		repo := new(MockContentRepository)
		repo.On("ListScopedDocuments", ctx).Return(scopedDocs()[2:], nil)
		cfg := baseConfig(nil)
		cfg.IncludeAllScoped = true
		cfg.ScopedSectionHeader = "  \n"
		assert.Equal(t, "\n\n- Support  \n  URL: https://acme.test/support/llms.txt\n\n",
			New(repo, zaptest.NewLogger(t)).ScopeSection(ctx, cfg, ""))
	})

	t.Run("repository error", func(t *testing.T) {
		repo := new(MockContentRepository)
		repo.On("ListScopedDocuments", ctx).Return(nil, errors.New("timeout"))
		cfg := baseConfig(nil)
		cfg.IncludeAllScoped = true
		assert.Empty(t, New(repo, zaptest.NewLogger(t)).ScopeSection(ctx, cfg, ""))
	})
}

func TestTypeLabel(t *testing.T) {
	r := New(new(MockContentRepository), zaptest.NewLogger(t))
	cfg := domain.Configuration{TypeLabels: map[string]string{"post": "Articles"}}

	assert.Equal(t, "Articles", r.TypeLabel(cfg, "post"))
	assert.Equal(t, "Page", r.TypeLabel(cfg, "page"))
	assert.Equal(t, "Product Doc", r.TypeLabel(cfg, "product-doc"))
}

func TestMarkdownURL(t *testing.T) {
	assert.Equal(t, "https://acme.test/about.md", MarkdownURL("https://acme.test/about/"))
	assert.Equal(t, "https://acme.test/about.md", MarkdownURL("https://acme.test/about"))
}
