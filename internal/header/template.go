// Package header renders the placeholder template printed above scoped
// index documents.
package header

import (
	"regexp"
	"strings"

	"github.com/your-org/llmstxt/internal/domain"
)

// Recognized placeholder names
const (
	FieldTitle          = "post_title"
	FieldScope          = "scope"
	FieldCanonicalURL   = "canonical_url"
	FieldAuthor         = "post_author"
	FieldAuthorityLevel = "authority_level"
	FieldContentType    = "content_type"
	FieldLastUpdated    = "last_updated"
)

// IndexFile is the reserved file name of index documents.
const IndexFile = "llms.txt"

const dateLayout = "2006-01-02"

var (
	lineBreak   = regexp.MustCompile(`\r\n|\r|\n`)
	placeholder = regexp.MustCompile(`\{[A-Za-z0-9_]+\}`)
)

// Fields maps placeholder names to values
type Fields map[string]string

// Render substitutes non-empty fields into template. Blank lines and lines
// that still hold a placeholder are dropped.
func Render(template string, fields Fields) string {
	if template == "" {
		return ""
	}

	pairs := make([]string, 0, len(fields)*2)
	for name, value := range fields {
		if value != "" {
			pairs = append(pairs, "{"+name+"}", value)
		}
	}
	if len(pairs) > 0 {
		template = strings.NewReplacer(pairs...).Replace(template)
	}

	var kept []string
	for _, line := range lineBreak.Split(template, -1) {
		line = strings.TrimSpace(line)
		if line == "" || placeholder.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}

	return strings.Join(kept, "\n")
}

// ScopedFields collects the template fields of a scoped document
func ScopedFields(doc *domain.ScopedDocument, homeURL string) Fields {
	f := Fields{
		FieldTitle:          doc.Title,
		FieldScope:          doc.Scope,
		FieldCanonicalURL:   CanonicalURL(homeURL, doc.OutputParent),
		FieldAuthor:         doc.Author.Name(),
		FieldAuthorityLevel: doc.AuthorityLevel,
		FieldContentType:    doc.ContentType,
	}
	if !doc.ModifiedAt.IsZero() {
		f[FieldLastUpdated] = doc.ModifiedAt.Format(dateLayout)
	}
	return f
}

// CanonicalURL returns the address of the index document served under parent.
// An empty parent addresses the site root.
func CanonicalURL(homeURL, parent string) string {
	base := strings.TrimRight(homeURL, "/")
	parent = domain.CleanParent(parent)
	if parent == "" {
		return base + "/" + IndexFile
	}
	return base + "/" + parent + "/" + IndexFile
}
