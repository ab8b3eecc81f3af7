package markdown

import (
	"strings"

	"github.com/your-org/llmstxt/internal/domain"
)

// DateLayout is used for every date printed in generated documents.
const DateLayout = "2006-01-02"

// RenderDocument renders a single resource with its title and meta lines
// followed by the converted body.
func RenderDocument(doc *domain.Document) string {
	var b strings.Builder

	b.WriteString("# ")
	b.WriteString(doc.Title)
	b.WriteString("\n\n")

	if !doc.PublishedAt.IsZero() {
		b.WriteString("Published: ")
		b.WriteString(doc.PublishedAt.Format(DateLayout))
		b.WriteString("\n")
	}
	if name := doc.Author.Name(); name != "" {
		b.WriteString("Author: ")
		b.WriteString(name)
		b.WriteString("\n")
	}
	if !doc.PublishedAt.IsZero() || doc.Author.Name() != "" {
		b.WriteString("\n")
	}

	b.WriteString(Convert(doc.Body))
	return b.String()
}
