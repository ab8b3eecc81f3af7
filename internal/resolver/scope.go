package resolver

import (
	"context"
	"strings"

	"github.com/your-org/llmstxt/internal/domain"
	"github.com/your-org/llmstxt/internal/header"
)

// ScopeSection lists every addressable scoped document. It is only produced
// for the site root and only when enabled; nested scopes never recurse.
func (r *Resolver) ScopeSection(ctx context.Context, cfg domain.Configuration, parent string) string {
	if !cfg.IncludeAllScoped || domain.CleanParent(parent) != "" {
		return ""
	}

	docs, err := r.repo.ListScopedDocuments(ctx)
	if err != nil {
		r.lookupFailed("scoped documents", "*", err)
		return ""
	}

	entries := make([]string, 0, len(docs))
	for _, doc := range docs {
		if entry, ok := scopeEntry(doc, cfg.Site.HomeURL); ok {
			entries = append(entries, entry)
		}
	}
	if len(entries) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\n")
	if h := strings.TrimSpace(cfg.ScopedSectionHeader); h != "" {
		b.WriteString(h)
		b.WriteString("\n\n")
	}
	b.WriteString(strings.Join(entries, "\n"))
	b.WriteString("\n")

	return b.String()
}

// scopeEntry renders one list item. Lines end in two spaces so Markdown
// renderers keep the line breaks.
func scopeEntry(doc *domain.ScopedDocument, homeURL string) (string, bool) {
	parent := domain.CleanParent(doc.OutputParent)
	if parent == "" {
		return "", false
	}

	var b strings.Builder
	b.WriteString("- " + doc.Title + "  ")
	if scope := strings.TrimSpace(doc.Scope); scope != "" {
		b.WriteString("\n  Scope: " + scope + "  ")
	}
	if authority := strings.TrimSpace(doc.AuthorityLevel); authority != "" {
		b.WriteString("\n  Authority: " + authority + "  ")
	}
	b.WriteString("\n  URL: " + header.CanonicalURL(homeURL, parent) + "\n")

	return b.String(), true
}
