// Package resolver assembles the body of index documents from the configured
// source and the content repository.
package resolver

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/your-org/llmstxt/internal/domain"
	"github.com/your-org/llmstxt/internal/header"
	"github.com/your-org/llmstxt/internal/markdown"
)

// DefaultPostsLimit applies when an aggregate source carries no positive limit.
const DefaultPostsLimit = 100

// MarkdownSuffix is appended to resource URLs to address their Markdown variant.
const MarkdownSuffix = ".md"

// Resolver builds index documents. It never fails: lookups that do not
// resolve leave their section empty.
type Resolver struct {
	repo   domain.ContentRepository
	logger *zap.Logger
}

// New creates a resolver reading from repo
func New(repo domain.ContentRepository, logger *zap.Logger) *Resolver {
	return &Resolver{
		repo:   repo,
		logger: logger,
	}
}

// Resolve returns the index body for the scope keyed by parent. An empty
// parent is the site root.
func (r *Resolver) Resolve(ctx context.Context, cfg domain.Configuration, parent string) string {
	parent = domain.CleanParent(parent)

	var (
		body string
		ok   bool
	)
	switch src := cfg.Source.(type) {
	case domain.SinglePageSource:
		body, ok = r.singlePage(ctx, src)
	case domain.ScopedSource:
		body, ok = r.scoped(ctx, cfg, src, parent)
	case domain.AggregateSource:
		body, ok = r.aggregate(ctx, cfg, src), true
	case domain.CustomSource:
		body, ok = src.Text, true
	default:
		// a nil source is treated as an empty custom text
		body, ok = "", true
	}

	if !ok {
		return body
	}
	return body + r.ScopeSection(ctx, cfg, parent)
}

func (r *Resolver) singlePage(ctx context.Context, src domain.SinglePageSource) (string, bool) {
	if src.DocumentID == "" {
		return "", false
	}

	doc, err := r.repo.GetDocument(ctx, src.DocumentID)
	if err != nil {
		r.lookupFailed("selected document", src.DocumentID, err)
		return "", false
	}

	return markdown.RenderDocument(doc), true
}

func (r *Resolver) scoped(ctx context.Context, cfg domain.Configuration, src domain.ScopedSource, parent string) (string, bool) {
	var (
		doc *domain.ScopedDocument
		err error
	)
	switch {
	case parent != "":
		doc, err = r.repo.FindScopedDocumentByParent(ctx, parent)
		if err != nil {
			r.lookupFailed("scoped document by parent", parent, err)
			return "", false
		}
	case src.ScopedDocumentID != "":
		doc, err = r.repo.GetScopedDocument(ctx, src.ScopedDocumentID)
		if err != nil {
			r.lookupFailed("selected scoped document", src.ScopedDocumentID, err)
			return "", false
		}
	default:
		return "", false
	}

	var b strings.Builder
	if h := header.Render(cfg.HeaderTemplate, header.ScopedFields(doc, cfg.Site.HomeURL)); h != "" {
		b.WriteString(h)
		b.WriteString("\n\n")
	}
	// scoped bodies are authored in the target format and served as stored
	b.WriteString(doc.Body)

	return b.String(), true
}

func (r *Resolver) aggregate(ctx context.Context, cfg domain.Configuration, src domain.AggregateSource) string {
	var b strings.Builder

	b.WriteString("# " + cfg.Site.Name + "\n\n")
	if cfg.Site.Description != "" {
		b.WriteString(cfg.Site.Description + "\n\n")
	}
	b.WriteString("---\n\n")

	if len(cfg.IncludedTypes) == 0 {
		return b.String()
	}

	limit := src.Limit
	if limit <= 0 {
		limit = DefaultPostsLimit
	}

	if cfg.MarkdownEnabled {
		b.WriteString("## Available Content\n\n")
	}

	for _, docType := range cfg.IncludedTypes {
		docs, err := r.repo.ListDocuments(ctx, docType, limit)
		if err != nil {
			r.lookupFailed("documents of type", docType, err)
			continue
		}
		if len(docs) == 0 {
			continue
		}

		if !cfg.MarkdownEnabled {
			for _, doc := range docs {
				b.WriteString(markdown.RenderDocument(doc))
				b.WriteString("\n\n---\n\n")
			}
			continue
		}

		b.WriteString("### " + r.TypeLabel(cfg, docType) + "\n\n")
		for _, doc := range docs {
			b.WriteString("* [" + doc.Title + "](" + MarkdownURL(doc.Permalink) + ")\n")
		}
		b.WriteString("\n")
	}

	return b.String()
}

// TypeLabel returns the heading used for a document type
func (r *Resolver) TypeLabel(cfg domain.Configuration, docType string) string {
	if label := cfg.TypeLabels[docType]; label != "" {
		return label
	}
	words := strings.NewReplacer("_", " ", "-", " ").Replace(docType)
	// Casers keep state and are not shared between requests
	return cases.Title(language.English).String(words)
}

// MarkdownURL returns the address of the Markdown variant of permalink
func MarkdownURL(permalink string) string {
	return strings.TrimRight(permalink, `/\`) + MarkdownSuffix
}

func (r *Resolver) lookupFailed(what, key string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		r.logger.Debug("lookup did not resolve", zap.String("what", what), zap.String("key", key))
		return
	}
	r.logger.Warn("lookup failed", zap.String("what", what), zap.String("key", key), zap.Error(err))
}
